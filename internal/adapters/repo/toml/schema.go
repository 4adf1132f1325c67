package toml

import "fmt"

const currentSchemaVersion = 1

type fileSchema struct {
	Version  int             `toml:"version"`
	Accounts []accountSchema `toml:"accounts"`
}

func (s *fileSchema) applyDefaults() {
	if s.Version == 0 {
		s.Version = currentSchemaVersion
	}
}

func (s fileSchema) validateVersion() error {
	if s.Version > currentSchemaVersion {
		return fmt.Errorf("unsupported accounts schema version %d (current %d)", s.Version, currentSchemaVersion)
	}

	return nil
}

type accountSchema struct {
	Key      string `toml:"key"`
	Name     string `toml:"name"`
	Backend  string `toml:"backend"`
	WindowID string `toml:"window_id,omitempty"`
	TableID  string `toml:"table_id,omitempty"`
	Group    string `toml:"group,omitempty"`
}
