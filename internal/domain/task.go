package domain

import (
	"fmt"
	"strings"
	"time"
)

type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusInProgress TaskStatus = "in-progress"
	StatusPublished  TaskStatus = "published"
	StatusFailed     TaskStatus = "failed"
	StatusExpired    TaskStatus = "expired"
)

// Terminal reports whether a task in this status is done and may be
// removed once its result has been written back.
func (s TaskStatus) Terminal() bool {
	switch s {
	case StatusPublished, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// CanTransition enforces the monotonic status lattice. A task never
// re-enters pending; retries happen inside a single in-progress attempt.
func (s TaskStatus) CanTransition(to TaskStatus) bool {
	switch s {
	case StatusPending:
		return to == StatusInProgress || to == StatusExpired
	case StatusInProgress:
		return to == StatusPublished || to == StatusFailed
	}
	return false
}

// Task is one scheduled publish request sourced from the external
// record store.
type Task struct {
	ID            string
	Account       AccountKey
	Title         string
	Body          string
	MediaRefs     []string
	CatalogItemID string
	Status        TaskStatus
	ScheduledAt   time.Time
	CreatedAt     time.Time
	PublishedAt   time.Time
	ResultRef     string
	ErrorReason   string
}

func (t Task) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("id is required")
	}
	if strings.TrimSpace(string(t.Account)) == "" {
		return fmt.Errorf("account is required")
	}
	if t.ScheduledAt.IsZero() {
		return fmt.Errorf("scheduled time is required")
	}
	return nil
}
