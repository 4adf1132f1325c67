package ports

import (
	"context"
	"time"

	"github.com/bnema/redpost/internal/domain"
)

// ResultDetail is the write-back payload for one terminal task outcome.
type ResultDetail struct {
	ArtifactRef string
	Reason      string
	PublishedAt time.Time
}

// RecordStore is the external source of truth for publish tasks.
// WriteStatus is called at least once per outcome; the collaborator must
// treat duplicate writes of the same terminal status as idempotent.
type RecordStore interface {
	FetchPending(ctx context.Context) ([]domain.Task, error)
	WriteStatus(ctx context.Context, id string, status domain.TaskStatus, detail ResultDetail) error
}
