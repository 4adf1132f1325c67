package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/bnema/redpost/internal/adapters/browser/farm"
	"github.com/bnema/redpost/internal/adapters/browser/local"
	"github.com/bnema/redpost/internal/adapters/recordstore/bitable"
	"github.com/bnema/redpost/internal/adapters/recordstore/memory"
	statusadapter "github.com/bnema/redpost/internal/adapters/render/status"
	tomlrepo "github.com/bnema/redpost/internal/adapters/repo/toml"
	"github.com/bnema/redpost/internal/adapters/secrets/chain"
	"github.com/bnema/redpost/internal/application"
	"github.com/bnema/redpost/internal/config"
	"github.com/bnema/redpost/internal/domain"
	"github.com/bnema/redpost/internal/observability"
	"github.com/bnema/redpost/internal/ports"
)

// ErrDriverUnattached is returned when a session is requested but no
// automation driver was wired in. The engine governs scheduling,
// retries, and write-back; the page driver itself is pluggable.
var ErrDriverUnattached = errors.New("no automation driver attached")

// bitableSecretKey is where the secret store keeps the bitable app
// secret when bitable.app_secret is absent from the config.
const bitableSecretKey = "redpost/bitable/app_secret"

type app struct {
	cfg            config.Config
	logger         *slog.Logger
	registry       ports.AccountRegistry
	records        ports.RecordStore
	secrets        ports.SecretStore
	connector      ports.Connector
	clock          ports.Clock
	httpClient     *http.Client
	statusRenderer func([]domain.Task, application.BatchStats, statusadapter.RenderOptions) (string, error)
	now            func() time.Time
}

func wireApp() (*app, error) {
	cfg, err := config.Load(config.New())
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	logger := observability.Configure(cfg.LogLevel)

	registry, err := tomlrepo.NewRegistry(viper.New())
	if err != nil {
		return nil, fmt.Errorf("wire account registry: %w", err)
	}

	httpClient := http.DefaultClient
	clock := ports.SystemClock{}

	secrets, err := chain.NewDefault(cfg.Secrets.Dir)
	if err != nil {
		return nil, fmt.Errorf("wire secret store: %w", err)
	}

	var records ports.RecordStore
	if cfg.Bitable.AppID != "" {
		appSecret := cfg.Bitable.AppSecret
		if appSecret == "" {
			appSecret, err = secrets.Get(context.Background(), bitableSecretKey)
			if err != nil {
				// Commands that never touch the record store, secret
				// set included, must still work so the operator can
				// repair this.
				records = unavailableRecordStore{err: fmt.Errorf("bitable app secret is neither configured nor in the secret store: %w", err)}
			}
		}
		if records == nil {
			records, err = newBitableStore(cfg, appSecret, httpClient, clock, logger)
			if err != nil {
				return nil, fmt.Errorf("wire record store: %w", err)
			}
		}
	} else {
		// No record store credentials: commands run against an empty
		// in-memory store so inspection still works.
		records = memory.NewStore()
	}

	return &app{
		cfg:            cfg,
		logger:         logger,
		registry:       registry,
		records:        records,
		secrets:        secrets,
		connector:      unattachedConnector{},
		clock:          clock,
		httpClient:     httpClient,
		statusRenderer: statusadapter.Render,
		now:            time.Now,
	}, nil
}

func newBitableStore(cfg config.Config, appSecret string, httpClient *http.Client, clock ports.Clock, logger *slog.Logger) (ports.RecordStore, error) {
	return bitable.NewClient(bitable.Config{
		AppID:     cfg.Bitable.AppID,
		AppSecret: appSecret,
		AppToken:  cfg.Bitable.AppToken,
		TableID:   cfg.Bitable.TableID,
		MediaDir:  cfg.Media.Dir,
	}, httpClient, afero.NewOsFs(), clock, logger)
}

// unavailableRecordStore defers a wiring failure until a command
// actually needs the record store.
type unavailableRecordStore struct {
	err error
}

var _ ports.RecordStore = unavailableRecordStore{}

func (s unavailableRecordStore) FetchPending(context.Context) ([]domain.Task, error) {
	return nil, s.err
}

func (s unavailableRecordStore) WriteStatus(context.Context, string, domain.TaskStatus, ports.ResultDetail) error {
	return s.err
}

// buildEngine assembles the session backends, publish flow, and
// orchestrator from the app's wiring.
func (a *app) buildEngine() (*application.Orchestrator, *application.TaskStore) {
	openers := map[domain.BackendKind]ports.SessionOpener{
		domain.BackendFarm: farm.NewOpener(farm.Config{APIURL: a.cfg.Farm.APIURL}, a.httpClient, a.connector, a.logger),
		domain.BackendLocal: local.NewOpener(local.Config{
			ProfileDir: a.cfg.Local.ProfileDir,
			LoginWait:  a.cfg.Local.LoginWait,
		}, a.connector, a.clock, a.logger),
	}

	store := application.NewTaskStore(a.clock)
	pool := application.NewSessionPool(openers, a.clock, a.logger)
	resolver := application.NewMediaResolver(afero.NewOsFs(), a.cfg.Media.Dir)
	flow := application.NewPublishFlow(a.clock, a.logger, application.DefaultFlowConfig())

	orch := application.NewOrchestrator(
		a.cfg.Orchestrator(),
		store,
		a.records,
		a.registry,
		pool,
		resolver,
		flow,
		a.clock,
		a.logger,
	)
	return orch, store
}

func (a *app) farmOpener() *farm.Opener {
	return farm.NewOpener(farm.Config{APIURL: a.cfg.Farm.APIURL}, a.httpClient, a.connector, a.logger)
}

type unattachedConnector struct{}

func (unattachedConnector) Connect(context.Context, string) (ports.Session, error) {
	return nil, ErrDriverUnattached
}

func (unattachedConnector) Launch(context.Context, string) (ports.Session, error) {
	return nil, ErrDriverUnattached
}
