package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bnema/redpost/internal/domain"
	"github.com/bnema/redpost/internal/ports"
)

// SessionPool owns every automation session. It guarantees at most one
// open session per account identity, reuses sessions across tasks for
// the same account, and closes everything on shutdown.
type SessionPool struct {
	openers map[domain.BackendKind]ports.SessionOpener
	clock   ports.Clock
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[domain.AccountKey]*poolEntry
}

type poolEntry struct {
	mu       sync.Mutex
	session  ports.Session
	lastUsed time.Time
}

func NewSessionPool(openers map[domain.BackendKind]ports.SessionOpener, clock ports.Clock, logger *slog.Logger) *SessionPool {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionPool{
		openers: openers,
		clock:   clock,
		logger:  logger,
		entries: make(map[domain.AccountKey]*poolEntry),
	}
}

// Open returns the account's open session, creating one when absent.
// Creation failure is fatal for the account's current batch, so the
// error carries ErrSessionUnavailable.
func (p *SessionPool) Open(ctx context.Context, account domain.Account) (ports.Session, error) {
	entry := p.entry(account.Key)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.session != nil {
		entry.lastUsed = p.clock.Now()
		return entry.session, nil
	}

	opener, ok := p.openers[account.Backend]
	if !ok {
		return nil, fmt.Errorf("no backend %q for account %s: %w", account.Backend, account.Key, domain.ErrSessionUnavailable)
	}

	session, err := opener.OpenSession(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("open %s session for account %s: %w: %w", account.Backend, account.Key, domain.ErrSessionUnavailable, err)
	}

	p.logger.Info("session opened", "account", account.Key, "backend", account.Backend)
	entry.session = session
	entry.lastUsed = p.clock.Now()
	return session, nil
}

// Close ends the account's session if one is open. The next task for
// the account gets a fresh session.
func (p *SessionPool) Close(ctx context.Context, key domain.AccountKey) error {
	entry := p.entry(key)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.session == nil {
		return nil
	}
	err := entry.session.Close(ctx)
	entry.session = nil
	if err != nil {
		return fmt.Errorf("close session for account %s: %w", key, err)
	}
	p.logger.Info("session closed", "account", key)
	return nil
}

func (p *SessionPool) CloseAll(ctx context.Context) {
	p.mu.Lock()
	keys := make([]domain.AccountKey, 0, len(p.entries))
	for key := range p.entries {
		keys = append(keys, key)
	}
	p.mu.Unlock()

	for _, key := range keys {
		if err := p.Close(ctx, key); err != nil {
			p.logger.Warn("close session failed", "account", key, "error", err)
		}
	}
}

func (p *SessionPool) entry(key domain.AccountKey) *poolEntry {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[key]
	if !ok {
		entry = &poolEntry{}
		p.entries[key] = entry
	}
	return entry
}
