package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/bnema/redpost/internal/application"
	"github.com/bnema/redpost/internal/domain"
)

const (
	configDirName  = ".redpost"
	configName     = "config"
	configType     = "toml"
	envPrefix      = "REDPOST"
	defaultFarmAPI = "http://127.0.0.1:54345"
)

// Config is the full configuration surface of the engine, loaded from
// ~/.redpost/config.toml with REDPOST_* environment overrides.
type Config struct {
	LogLevel string

	Bitable BitableConfig
	Media   MediaConfig
	Publish PublishConfig
	Farm    FarmConfig
	Local   LocalConfig
	Secrets SecretsConfig
}

type BitableConfig struct {
	AppID     string
	AppSecret string
	AppToken  string
	TableID   string
}

type MediaConfig struct {
	Dir        string
	SourceMode domain.SourceMode
}

type PublishConfig struct {
	SyncInterval       time.Duration
	PublishInterval    time.Duration
	AccountConcurrency int
	RetryBudget        int
	ExpiredPolicy      application.ExpiredPolicy
}

type FarmConfig struct {
	APIURL string
}

type LocalConfig struct {
	ProfileDir string
	LoginWait  time.Duration
}

type SecretsConfig struct {
	Dir string
}

// New builds a viper instance with the engine's defaults bound.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigName(configName)
	v.SetConfigType(configType)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if homeDir, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(homeDir, configDirName))
		v.SetDefault("media.dir", filepath.Join(homeDir, configDirName, "media"))
		v.SetDefault("local.profile_dir", filepath.Join(homeDir, configDirName, "profiles"))
		v.SetDefault("secrets.dir", filepath.Join(homeDir, configDirName, "secrets"))
	}

	v.SetDefault("log_level", "info")
	v.SetDefault("media.source_mode", string(domain.SourceCatalogDirectory))
	v.SetDefault("publish.sync_interval", "5m")
	v.SetDefault("publish.publish_interval", "30s")
	v.SetDefault("publish.account_concurrency", 1)
	v.SetDefault("publish.retry_budget", 3)
	v.SetDefault("publish.expired_policy", string(application.ExpiredSkip))
	v.SetDefault("farm.api_url", defaultFarmAPI)
	v.SetDefault("local.login_wait", "5m")

	return v
}

// Load reads the config file when present and materializes the typed
// configuration.
func Load(v *viper.Viper) (Config, error) {
	if v == nil {
		v = New()
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := Config{
		LogLevel: v.GetString("log_level"),
		Bitable: BitableConfig{
			AppID:     v.GetString("bitable.app_id"),
			AppSecret: v.GetString("bitable.app_secret"),
			AppToken:  v.GetString("bitable.app_token"),
			TableID:   v.GetString("bitable.table_id"),
		},
		Media: MediaConfig{
			Dir:        v.GetString("media.dir"),
			SourceMode: domain.SourceMode(v.GetString("media.source_mode")),
		},
		Publish: PublishConfig{
			SyncInterval:       v.GetDuration("publish.sync_interval"),
			PublishInterval:    v.GetDuration("publish.publish_interval"),
			AccountConcurrency: v.GetInt("publish.account_concurrency"),
			RetryBudget:        v.GetInt("publish.retry_budget"),
			ExpiredPolicy:      application.ExpiredPolicy(v.GetString("publish.expired_policy")),
		},
		Farm: FarmConfig{
			APIURL: v.GetString("farm.api_url"),
		},
		Local: LocalConfig{
			ProfileDir: v.GetString("local.profile_dir"),
			LoginWait:  v.GetDuration("local.login_wait"),
		},
		Secrets: SecretsConfig{
			Dir: v.GetString("secrets.dir"),
		},
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Media.SourceMode {
	case domain.SourceCatalogDirectory, domain.SourceExternalAttachment, domain.SourceGeneratedFromText:
	default:
		return fmt.Errorf("unsupported media source mode %q", c.Media.SourceMode)
	}

	switch c.Publish.ExpiredPolicy {
	case application.ExpiredSkip, application.ExpiredPublish:
	default:
		return fmt.Errorf("unsupported expired task policy %q", c.Publish.ExpiredPolicy)
	}

	if c.Publish.AccountConcurrency < 1 {
		return errors.New("account concurrency must be at least 1")
	}
	if c.Publish.RetryBudget < 1 {
		return errors.New("retry budget must be at least 1")
	}
	return nil
}

// Orchestrator maps the publish section onto the engine's runtime
// configuration.
func (c Config) Orchestrator() application.OrchestratorConfig {
	cfg := application.DefaultOrchestratorConfig()
	cfg.SyncInterval = c.Publish.SyncInterval
	cfg.PublishInterval = c.Publish.PublishInterval
	cfg.AccountConcurrency = c.Publish.AccountConcurrency
	cfg.RetryBudget = c.Publish.RetryBudget
	cfg.SourceMode = c.Media.SourceMode
	cfg.ExpiredPolicy = c.Publish.ExpiredPolicy
	return cfg
}
