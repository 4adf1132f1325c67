package application

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/redpost/internal/domain"
)

func TestTaskStoreAddIsIdempotent(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := NewTaskStore(clock)

	task := testTask("rec-1", "acct-a", clock.Now())
	require.NoError(t, store.Add(task))

	dup := task
	dup.Title = "changed"
	require.NoError(t, store.Add(dup))

	got, err := store.Get("rec-1")
	require.NoError(t, err)
	assert.Equal(t, "morning field notes", got.Title)
	assert.Len(t, store.List(), 1)
}

func TestTaskStoreAddRejectsInvalid(t *testing.T) {
	t.Parallel()

	store := NewTaskStore(newFakeClock())
	err := store.Add(domain.Task{ID: "rec-1"})
	require.Error(t, err)
}

func TestTaskStoreListKeepsIngestionOrder(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := NewTaskStore(clock)

	for _, id := range []string{"rec-c", "rec-a", "rec-b"} {
		require.NoError(t, store.Add(testTask(id, "acct-a", clock.Now())))
	}

	var ids []string
	for _, task := range store.List() {
		ids = append(ids, task.ID)
	}
	assert.Equal(t, []string{"rec-c", "rec-a", "rec-b"}, ids)
}

func TestTaskStoreSetStatusEnforcesLattice(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := NewTaskStore(clock)
	require.NoError(t, store.Add(testTask("rec-1", "acct-a", clock.Now())))

	require.NoError(t, store.SetStatus("rec-1", domain.StatusInProgress))
	require.NoError(t, store.SetStatus("rec-1", domain.StatusPublished))

	err := store.SetStatus("rec-1", domain.StatusPending)
	require.Error(t, err)
	err = store.SetStatus("rec-1", domain.StatusFailed)
	require.Error(t, err)
}

func TestTaskStoreScanEmitsReadyInScheduleOrder(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := NewTaskStore(clock)

	later := testTask("rec-later", "acct-a", clock.Now().Add(10*time.Second))
	sooner := testTask("rec-sooner", "acct-a", clock.Now().Add(2*time.Second))
	future := testTask("rec-future", "acct-a", clock.Now().Add(time.Hour))
	require.NoError(t, store.Add(later))
	require.NoError(t, store.Add(sooner))
	require.NoError(t, store.Add(future))

	assert.Empty(t, store.scan())

	clock.Advance(15 * time.Second)
	events := store.scan()
	require.Len(t, events, 2)
	assert.Equal(t, TaskReady, events[0].Kind)
	assert.Equal(t, "rec-sooner", events[0].Task.ID)
	assert.Equal(t, "rec-later", events[1].Task.ID)
}

func TestTaskStoreScanRepeatsUntilStatusMoves(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := NewTaskStore(clock)
	require.NoError(t, store.Add(testTask("rec-1", "acct-a", clock.Now())))

	require.Len(t, store.scan(), 1)
	require.Len(t, store.scan(), 1)

	require.NoError(t, store.SetStatus("rec-1", domain.StatusInProgress))
	assert.Empty(t, store.scan())
}

func TestTaskStoreScanExpiresBeyondGrace(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := NewTaskStore(clock)
	require.NoError(t, store.Add(testTask("rec-1", "acct-a", clock.Now())))

	clock.Advance(defaultGraceWindow + time.Second)
	events := store.scan()
	require.Len(t, events, 1)
	assert.Equal(t, TaskExpired, events[0].Kind)
}

func TestTaskStoreSetResult(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := NewTaskStore(clock)
	require.NoError(t, store.Add(testTask("rec-1", "acct-a", clock.Now())))

	publishedAt := clock.Now()
	require.NoError(t, store.SetResult("rec-1", "https://example.com/explore/abc", publishedAt, ""))

	got, err := store.Get("rec-1")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/explore/abc", got.ResultRef)
	assert.Equal(t, publishedAt, got.PublishedAt)

	err = store.SetResult("rec-missing", "", time.Time{}, "")
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)
}
