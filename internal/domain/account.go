package domain

import (
	"fmt"
	"strings"
)

type AccountKey string

type BackendKind string

const (
	BackendFarm  BackendKind = "farm"
	BackendLocal BackendKind = "local"
)

// Account binds an account key from the record store to the automation
// backend that owns its browser identity.
type Account struct {
	Key       AccountKey
	Name      string
	Backend   BackendKind
	WindowID  string
	TableID   string
	GroupName string
}

func (a Account) Validate() error {
	if strings.TrimSpace(string(a.Key)) == "" {
		return fmt.Errorf("key is required")
	}
	switch a.Backend {
	case BackendFarm:
		if strings.TrimSpace(a.WindowID) == "" {
			return fmt.Errorf("window id is required for farm accounts")
		}
	case BackendLocal:
	default:
		return fmt.Errorf("unsupported backend %q", a.Backend)
	}
	return nil
}
