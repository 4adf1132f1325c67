package local

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/bnema/redpost/internal/domain"
	"github.com/bnema/redpost/internal/ports"
)

const (
	defaultLoginWait    = 5 * time.Minute
	defaultPollInterval = 2 * time.Second
)

type Config struct {
	ProfileDir   string
	LoginWait    time.Duration
	PollInterval time.Duration
}

// Opener launches a locally managed browser on a per-account
// persistent profile. Cookies survive between runs, so a login
// challenge normally shows up only on the first run for an account.
type Opener struct {
	cfg       Config
	connector ports.Connector
	clock     ports.Clock
	logger    *slog.Logger
}

var _ ports.SessionOpener = (*Opener)(nil)

func NewOpener(cfg Config, connector ports.Connector, clock ports.Clock, logger *slog.Logger) *Opener {
	if cfg.LoginWait <= 0 {
		cfg.LoginWait = defaultLoginWait
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Opener{cfg: cfg, connector: connector, clock: clock, logger: logger}
}

func (o *Opener) OpenSession(ctx context.Context, account domain.Account) (ports.Session, error) {
	profile := filepath.Join(o.cfg.ProfileDir, string(account.Key))

	session, err := o.connector.Launch(ctx, profile)
	if err != nil {
		return nil, fmt.Errorf("launch local browser for account %s: %w", account.Key, err)
	}

	if err := o.awaitLogin(ctx, session, account); err != nil {
		_ = session.Close(ctx)
		return nil, err
	}
	return session, nil
}

// awaitLogin gives the operator time to clear a login challenge by
// hand. The wait is bounded; an account that never logs in fails.
func (o *Opener) awaitLogin(ctx context.Context, session ports.Session, account domain.Account) error {
	obs, err := session.Observe(ctx, ports.Probe{Kind: ports.ProbePresent, Target: ports.AffordanceLoginChallenge})
	if err != nil {
		return fmt.Errorf("probe login state for account %s: %w", account.Key, err)
	}
	if !obs.Present {
		return nil
	}

	o.logger.Warn("login required, waiting for manual login", "account", account.Key, "wait", o.cfg.LoginWait)

	deadline := o.clock.Now().Add(o.cfg.LoginWait)
	for o.clock.Now().Before(deadline) {
		if err := o.clock.Sleep(ctx, o.cfg.PollInterval); err != nil {
			return err
		}

		obs, err := session.Observe(ctx, ports.Probe{Kind: ports.ProbePresent, Target: ports.AffordanceLoginChallenge})
		if err != nil {
			return fmt.Errorf("probe login state for account %s: %w", account.Key, err)
		}
		if !obs.Present {
			o.logger.Info("login completed", "account", account.Key)
			return nil
		}
	}
	return fmt.Errorf("login not completed for account %s within %s", account.Key, o.cfg.LoginWait)
}
