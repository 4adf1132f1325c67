package application

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bnema/redpost/internal/domain"
	"github.com/bnema/redpost/internal/ports"
)

type TaskEventKind string

const (
	TaskReady   TaskEventKind = "task-ready"
	TaskExpired TaskEventKind = "task-expired"
)

type TaskEvent struct {
	Kind TaskEventKind
	Task domain.Task
}

const (
	defaultTickPeriod  = time.Second
	defaultGraceWindow = time.Minute
)

// TaskStore is the in-memory table of tasks between ingestion and
// terminal write-back. A one-second tick scans pending tasks and emits
// ready/expired events; deduplicating dispatch is the consumer's job,
// via the status check.
type TaskStore struct {
	clock ports.Clock
	tick  time.Duration
	grace time.Duration

	mu      sync.Mutex
	entries map[string]*taskEntry
	seq     int

	events chan TaskEvent
}

type taskEntry struct {
	task domain.Task
	seq  int
}

func NewTaskStore(clock ports.Clock) *TaskStore {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &TaskStore{
		clock:   clock,
		tick:    defaultTickPeriod,
		grace:   defaultGraceWindow,
		entries: make(map[string]*taskEntry),
		events:  make(chan TaskEvent, 16),
	}
}

// Events is the readiness stream. Events repeat on every tick until the
// consumer moves the task out of pending.
func (s *TaskStore) Events() <-chan TaskEvent {
	return s.events
}

// Add ingests a task. Adding an id that is already present is a no-op,
// so periodic syncs can re-offer the same records safely.
func (s *TaskStore) Add(task domain.Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("validate task: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[task.ID]; ok {
		return nil
	}
	s.seq++
	s.entries[task.ID] = &taskEntry{task: task, seq: s.seq}
	return nil
}

func (s *TaskStore) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

func (s *TaskStore) Get(id string) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	return entry.task, nil
}

// List returns all tasks in ingestion order.
func (s *TaskStore) List() []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(func(domain.Task) bool { return true })
}

func (s *TaskStore) ListByStatus(status domain.TaskStatus) []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(func(t domain.Task) bool { return t.Status == status })
}

func (s *TaskStore) snapshotLocked(keep func(domain.Task) bool) []domain.Task {
	entries := make([]*taskEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		if keep(entry.task) {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	tasks := make([]domain.Task, 0, len(entries))
	for _, entry := range entries {
		tasks = append(tasks, entry.task)
	}
	return tasks
}

// SetStatus moves a task along the monotonic status lattice.
func (s *TaskStore) SetStatus(id string, to domain.TaskStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return domain.ErrTaskNotFound
	}
	if !entry.task.Status.CanTransition(to) {
		return fmt.Errorf("transition %s from %s to %s not allowed", id, entry.task.Status, to)
	}
	entry.task.Status = to
	return nil
}

// SetResult records the outcome fields on a task. Status is handled by
// SetStatus; this only mutates the result payload.
func (s *TaskStore) SetResult(id string, resultRef string, publishedAt time.Time, errorReason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return domain.ErrTaskNotFound
	}
	entry.task.ResultRef = resultRef
	entry.task.PublishedAt = publishedAt
	entry.task.ErrorReason = errorReason
	return nil
}

// Run drives the readiness tick until ctx is cancelled.
func (s *TaskStore) Run(ctx context.Context) {
	for {
		if err := s.clock.Sleep(ctx, s.tick); err != nil {
			return
		}
		for _, event := range s.scan() {
			select {
			case s.events <- event:
			case <-ctx.Done():
				return
			}
		}
	}
}

// scan evaluates pending tasks against the clock. Due tasks within the
// grace window are ready; tasks overdue beyond it are expired. Co-ready
// tasks are emitted ascending by scheduled time, ingestion order
// breaking ties, so per-account dispatch order follows arrival order.
func (s *TaskStore) scan() []TaskEvent {
	now := s.clock.Now()

	s.mu.Lock()
	due := make([]*taskEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		if entry.task.Status == domain.StatusPending && !entry.task.ScheduledAt.After(now) {
			due = append(due, entry)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].task.ScheduledAt.Equal(due[j].task.ScheduledAt) {
			return due[i].task.ScheduledAt.Before(due[j].task.ScheduledAt)
		}
		return due[i].seq < due[j].seq
	})

	events := make([]TaskEvent, 0, len(due))
	for _, entry := range due {
		kind := TaskReady
		if now.Sub(entry.task.ScheduledAt) > s.grace {
			kind = TaskExpired
		}
		events = append(events, TaskEvent{Kind: kind, Task: entry.task})
	}
	s.mu.Unlock()

	return events
}
