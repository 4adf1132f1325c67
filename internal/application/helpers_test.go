package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bnema/redpost/internal/domain"
	"github.com/bnema/redpost/internal/ports"
)

// fakeClock advances instantly on Sleep and records every requested
// duration, so timing-sensitive paths stay deterministic.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	return nil
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) SleepCount(d time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.sleeps {
		if s == d {
			n++
		}
	}
	return n
}

// fakeSession scripts probe responses per observation call and records
// every action the flow takes.
type fakeSession struct {
	mu        sync.Mutex
	actions   []ports.Action
	navigated []string
	calls     map[string]int
	closed    bool

	observeFn func(probe ports.Probe, call int) (ports.Observation, error)
	actFn     func(action ports.Action) error
}

func newFakeSession() *fakeSession {
	return &fakeSession{calls: make(map[string]int)}
}

func (s *fakeSession) Navigate(_ context.Context, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.navigated = append(s.navigated, target)
	return nil
}

func (s *fakeSession) Observe(_ context.Context, probe ports.Probe) (ports.Observation, error) {
	s.mu.Lock()
	key := fmt.Sprintf("%s:%s", probe.Kind, probe.Target)
	s.calls[key]++
	call := s.calls[key]
	fn := s.observeFn
	s.mu.Unlock()

	if fn == nil {
		return ports.Observation{}, nil
	}
	return fn(probe, call)
}

func (s *fakeSession) Act(_ context.Context, action ports.Action) error {
	s.mu.Lock()
	s.actions = append(s.actions, action)
	fn := s.actFn
	s.mu.Unlock()

	if fn != nil {
		return fn(action)
	}
	return nil
}

func (s *fakeSession) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSession) actionsOf(kind ports.ActionKind) []ports.Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ports.Action
	for _, a := range s.actions {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

// fakeOpener hands out a prepared session, or fails every open.
type fakeOpener struct {
	mu      sync.Mutex
	session ports.Session
	err     error
	opens   int
}

func (o *fakeOpener) OpenSession(_ context.Context, _ domain.Account) (ports.Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opens++
	if o.err != nil {
		return nil, o.err
	}
	return o.session, nil
}

// fakeRecordStore serves a fixed pending set and records write-backs.
type fakeRecordStore struct {
	mu      sync.Mutex
	pending []domain.Task
	writes  map[string]writtenStatus
	order   []string
	failFor map[string]int
}

type writtenStatus struct {
	Status domain.TaskStatus
	Detail ports.ResultDetail
}

func newFakeRecordStore(tasks ...domain.Task) *fakeRecordStore {
	return &fakeRecordStore{
		pending: tasks,
		writes:  make(map[string]writtenStatus),
		failFor: make(map[string]int),
	}
}

func (r *fakeRecordStore) FetchPending(context.Context) ([]domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Task, len(r.pending))
	copy(out, r.pending)
	return out, nil
}

func (r *fakeRecordStore) WriteStatus(_ context.Context, id string, status domain.TaskStatus, detail ports.ResultDetail) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := r.failFor[id]; n > 0 {
		r.failFor[id] = n - 1
		return fmt.Errorf("record store timeout")
	}
	if _, seen := r.writes[id]; !seen {
		r.order = append(r.order, id)
	}
	r.writes[id] = writtenStatus{Status: status, Detail: detail}
	return nil
}

func (r *fakeRecordStore) writeOrder() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func (r *fakeRecordStore) written(id string) (writtenStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.writes[id]
	return w, ok
}

type fakeRegistry struct {
	accounts map[domain.AccountKey]domain.Account
}

func (r *fakeRegistry) GetByKey(_ context.Context, key domain.AccountKey) (domain.Account, error) {
	account, ok := r.accounts[key]
	if !ok {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	return account, nil
}

func (r *fakeRegistry) List(context.Context) ([]domain.Account, error) {
	out := make([]domain.Account, 0, len(r.accounts))
	for _, a := range r.accounts {
		out = append(out, a)
	}
	return out, nil
}

func (r *fakeRegistry) Save(_ context.Context, account domain.Account) error {
	r.accounts[account.Key] = account
	return nil
}

func testTask(id string, account domain.AccountKey, scheduledAt time.Time) domain.Task {
	return domain.Task{
		ID:          id,
		Account:     account,
		Title:       "morning field notes",
		Body:        "first light over the ridge #hiking",
		Status:      domain.StatusPending,
		ScheduledAt: scheduledAt,
		CreatedAt:   scheduledAt.Add(-time.Hour),
	}
}

// happyObserve scripts a clean publish: composer and editor come up,
// title reads back intact, confirmation navigates away.
func happyObserve(probe ports.Probe, _ int) (ports.Observation, error) {
	switch probe.Target {
	case ports.AffordanceComposerUpload, ports.AffordanceEditorTitle:
		if probe.Kind == ports.ProbeText {
			return ports.Observation{Present: true, Value: domain.TruncateTitle("morning field notes")}, nil
		}
		return ports.Observation{Present: true}, nil
	case ports.AffordanceSuccessLocation:
		return ports.Observation{Present: true, Value: "https://example.com/explore/abc123"}, nil
	}
	return ports.Observation{}, nil
}

var _ ports.Session = (*fakeSession)(nil)
var _ ports.SessionOpener = (*fakeOpener)(nil)
var _ ports.RecordStore = (*fakeRecordStore)(nil)
var _ ports.AccountRegistry = (*fakeRegistry)(nil)
var _ ports.Clock = (*fakeClock)(nil)
