package memory

import (
	"context"
	"sync"

	"github.com/bnema/redpost/internal/domain"
	"github.com/bnema/redpost/internal/ports"
)

// Store is an in-memory record store for dry runs and local testing.
// Tasks are seeded up front; write-backs update the seeded copies.
type Store struct {
	mu    sync.Mutex
	tasks []domain.Task
}

var _ ports.RecordStore = (*Store)(nil)

func NewStore(tasks ...domain.Task) *Store {
	return &Store{tasks: tasks}
}

func (s *Store) FetchPending(ctx context.Context) ([]domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make([]domain.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		if task.Status == domain.StatusPending {
			pending = append(pending, task)
		}
	}
	return pending, nil
}

func (s *Store) WriteStatus(ctx context.Context, id string, status domain.TaskStatus, detail ports.ResultDetail) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.tasks {
		if s.tasks[i].ID != id {
			continue
		}
		s.tasks[i].Status = status
		s.tasks[i].ResultRef = detail.ArtifactRef
		s.tasks[i].ErrorReason = detail.Reason
		s.tasks[i].PublishedAt = detail.PublishedAt
		return nil
	}
	return domain.ErrTaskNotFound
}

// Snapshot returns a copy of every task with its current status.
func (s *Store) Snapshot() []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Task, len(s.tasks))
	copy(out, s.tasks)
	return out
}
