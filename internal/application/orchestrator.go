package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/bnema/redpost/internal/domain"
	"github.com/bnema/redpost/internal/ports"
)

// ExpiredPolicy decides what happens to a task that missed its grace
// window before the engine saw it.
type ExpiredPolicy string

const (
	ExpiredSkip    ExpiredPolicy = "skip"
	ExpiredPublish ExpiredPolicy = "publish"
)

type OrchestratorConfig struct {
	SyncInterval       time.Duration
	PublishInterval    time.Duration
	AccountConcurrency int
	RetryBudget        int
	WriteBackBudget    int
	SourceMode         domain.SourceMode
	ExpiredPolicy      ExpiredPolicy
}

func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		SyncInterval:       5 * time.Minute,
		PublishInterval:    30 * time.Second,
		AccountConcurrency: 1,
		RetryBudget:        3,
		WriteBackBudget:    3,
		SourceMode:         domain.SourceCatalogDirectory,
		ExpiredPolicy:      ExpiredSkip,
	}
}

// BatchStats counts terminal outcomes since the engine started.
type BatchStats struct {
	Succeeded int
	Failed    int
	Expired   int
}

func (s BatchStats) Total() int { return s.Succeeded + s.Failed + s.Expired }

// Orchestrator is the engine: it syncs tasks from the record store,
// queues them per account, and drains the queues through the publish
// flow. Accounts drain serially within themselves; across accounts the
// configured concurrency bound applies.
type Orchestrator struct {
	cfg      OrchestratorConfig
	store    *TaskStore
	records  ports.RecordStore
	accounts ports.AccountRegistry
	pool     *SessionPool
	resolver *MediaResolver
	flow     *PublishFlow
	clock    ports.Clock
	logger   *slog.Logger

	sem *semaphore.Weighted

	paused  atomic.Bool
	stopped atomic.Bool

	mu     sync.Mutex
	queues map[domain.AccountKey]*accountQueue
	queued map[string]struct{}
	stats  BatchStats

	wg sync.WaitGroup
}

type accountQueue struct {
	tasks    []domain.Task
	draining bool
}

func NewOrchestrator(
	cfg OrchestratorConfig,
	store *TaskStore,
	records ports.RecordStore,
	accounts ports.AccountRegistry,
	pool *SessionPool,
	resolver *MediaResolver,
	flow *PublishFlow,
	clock ports.Clock,
	logger *slog.Logger,
) *Orchestrator {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AccountConcurrency < 1 {
		cfg.AccountConcurrency = 1
	}
	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		records:  records,
		accounts: accounts,
		pool:     pool,
		resolver: resolver,
		flow:     flow,
		clock:    clock,
		logger:   logger,
		sem:      semaphore.NewWeighted(int64(cfg.AccountConcurrency)),
		queues:   make(map[domain.AccountKey]*accountQueue),
		queued:   make(map[string]struct{}),
	}
}

// Pause holds back new dispatches. In-flight attempts finish.
func (o *Orchestrator) Pause() {
	o.paused.Store(true)
	o.logger.Info("orchestrator paused")
}

func (o *Orchestrator) Resume() {
	o.paused.Store(false)
	o.logger.Info("orchestrator resumed")
}

func (o *Orchestrator) Paused() bool { return o.paused.Load() }

// Stop ends the run cooperatively: the current attempt finishes, queued
// tasks stay pending. Run returns once in-flight work drains.
func (o *Orchestrator) Stop() {
	o.stopped.Store(true)
	o.logger.Info("orchestrator stopping")
}

func (o *Orchestrator) Stats() BatchStats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stats
}

// Run blocks until ctx is cancelled or Stop is called, then waits for
// in-flight attempts and closes every session.
func (o *Orchestrator) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go o.store.Run(runCtx)
	go o.syncLoop(runCtx)

	if err := o.syncOnce(runCtx); err != nil {
		o.logger.Warn("initial sync failed", "error", err)
	}

	for {
		if o.stopped.Load() {
			break
		}
		select {
		case <-runCtx.Done():
			o.stopped.Store(true)
		case event := <-o.store.Events():
			o.handleEvent(runCtx, event)
		case <-o.clockTick(runCtx):
		}
		if o.stopped.Load() {
			break
		}
	}

	cancel()
	o.wg.Wait()
	o.pool.CloseAll(context.Background())
	o.logger.Info("orchestrator stopped", "succeeded", o.Stats().Succeeded, "failed", o.Stats().Failed, "expired", o.Stats().Expired)
	return nil
}

// clockTick lets the event loop notice Stop even when no task events
// arrive.
func (o *Orchestrator) clockTick(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{}, 1)
	go func() {
		_ = o.clock.Sleep(ctx, time.Second)
		ch <- struct{}{}
	}()
	return ch
}

func (o *Orchestrator) syncLoop(ctx context.Context) {
	for {
		if err := o.clock.Sleep(ctx, o.cfg.SyncInterval); err != nil {
			return
		}
		if o.stopped.Load() {
			return
		}
		if err := o.syncOnce(ctx); err != nil {
			o.logger.Warn("sync failed", "error", err)
		}
	}
}

// syncOnce pulls pending records into the store and retries the
// write-back of any terminal task a previous pass failed to flush.
func (o *Orchestrator) syncOnce(ctx context.Context) error {
	tasks, err := o.records.FetchPending(ctx)
	if err != nil {
		return fmt.Errorf("fetch pending records: %w", err)
	}
	for _, task := range tasks {
		if err := o.store.Add(task); err != nil {
			o.logger.Warn("task rejected at sync", "task", task.ID, "error", err)
		}
	}
	o.logger.Info("sync complete", "fetched", len(tasks))

	o.flushTerminal(ctx)
	return nil
}

// flushTerminal retries write-back for terminal tasks still held in the
// store. Success removes them.
func (o *Orchestrator) flushTerminal(ctx context.Context) {
	for _, status := range []domain.TaskStatus{domain.StatusPublished, domain.StatusFailed, domain.StatusExpired} {
		for _, task := range o.store.ListByStatus(status) {
			if err := o.writeBack(ctx, task); err != nil {
				o.logger.Warn("write-back retry failed", "task", task.ID, "error", err)
				continue
			}
			o.store.Remove(task.ID)
		}
	}
}

func (o *Orchestrator) handleEvent(ctx context.Context, event TaskEvent) {
	task := event.Task

	o.mu.Lock()
	if _, ok := o.queued[task.ID]; ok {
		// Already claimed by an account queue. A task waiting out the
		// inter-publish delay can drift past the grace window; it
		// belongs to the dispatcher, not the expiry path.
		o.mu.Unlock()
		return
	}

	if event.Kind == TaskExpired && o.cfg.ExpiredPolicy == ExpiredSkip {
		o.mu.Unlock()
		o.expireTask(ctx, task)
		return
	}

	o.queued[task.ID] = struct{}{}

	queue, ok := o.queues[task.Account]
	if !ok {
		queue = &accountQueue{}
		o.queues[task.Account] = queue
	}
	queue.tasks = append(queue.tasks, task)

	start := !queue.draining
	if start {
		queue.draining = true
	}
	o.mu.Unlock()

	if start {
		o.wg.Add(1)
		go o.drainAccount(ctx, task.Account)
	}
}

func (o *Orchestrator) expireTask(ctx context.Context, task domain.Task) {
	if err := o.store.SetStatus(task.ID, domain.StatusExpired); err != nil {
		return
	}
	o.logger.Info("task expired", "task", task.ID, "scheduled_at", task.ScheduledAt)
	_ = o.store.SetResult(task.ID, "", time.Time{}, "missed schedule window")

	o.mu.Lock()
	o.stats.Expired++
	delete(o.queued, task.ID)
	o.mu.Unlock()

	o.finishTask(ctx, task.ID)
}

// drainAccount processes the account's queue serially. The concurrency
// permit is held for the whole drain, so at most AccountConcurrency
// accounts publish at once.
func (o *Orchestrator) drainAccount(ctx context.Context, key domain.AccountKey) {
	defer o.wg.Done()

	if err := o.sem.Acquire(ctx, 1); err != nil {
		o.abandonQueue(key)
		return
	}
	defer o.sem.Release(1)

	first := true
	for {
		if !o.awaitDispatchable(ctx) {
			o.abandonQueue(key)
			return
		}

		task, ok := o.popTask(key)
		if !ok {
			return
		}

		if !first {
			if err := o.clock.Sleep(ctx, o.cfg.PublishInterval); err != nil {
				o.requeueFront(key, task)
				o.abandonQueue(key)
				return
			}
			if o.stopped.Load() {
				o.requeueFront(key, task)
				o.abandonQueue(key)
				return
			}
		}
		first = false

		if err := o.processTask(ctx, task); errors.Is(err, domain.ErrSessionUnavailable) {
			// No session means nothing else on this account can run
			// either; fail the rest of the queue in one pass.
			o.failRemaining(ctx, key, err)
			return
		}
	}
}

// awaitDispatchable blocks while paused. It reports false when the run
// is stopping or the context died.
func (o *Orchestrator) awaitDispatchable(ctx context.Context) bool {
	for {
		if o.stopped.Load() || ctx.Err() != nil {
			return false
		}
		if !o.paused.Load() {
			return true
		}
		if err := o.clock.Sleep(ctx, time.Second); err != nil {
			return false
		}
	}
}

func (o *Orchestrator) popTask(key domain.AccountKey) (domain.Task, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	queue := o.queues[key]
	if queue == nil || len(queue.tasks) == 0 {
		if queue != nil {
			queue.draining = false
		}
		return domain.Task{}, false
	}
	task := queue.tasks[0]
	queue.tasks = queue.tasks[1:]
	return task, true
}

func (o *Orchestrator) requeueFront(key domain.AccountKey, task domain.Task) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if queue := o.queues[key]; queue != nil {
		queue.tasks = append([]domain.Task{task}, queue.tasks...)
	}
}

// abandonQueue leaves queued tasks pending for a later run and clears
// their dedup marks so a restart re-offers them.
func (o *Orchestrator) abandonQueue(key domain.AccountKey) {
	o.mu.Lock()
	defer o.mu.Unlock()

	queue := o.queues[key]
	if queue == nil {
		return
	}
	for _, task := range queue.tasks {
		delete(o.queued, task.ID)
	}
	queue.tasks = nil
	queue.draining = false
}

func (o *Orchestrator) failRemaining(ctx context.Context, key domain.AccountKey, cause error) {
	o.mu.Lock()
	queue := o.queues[key]
	var rest []domain.Task
	if queue != nil {
		rest = queue.tasks
		queue.tasks = nil
		queue.draining = false
	}
	o.mu.Unlock()

	reason := domain.RedactReason(cause)
	for _, task := range rest {
		if err := o.store.SetStatus(task.ID, domain.StatusInProgress); err == nil {
			_ = o.store.SetStatus(task.ID, domain.StatusFailed)
			_ = o.store.SetResult(task.ID, "", time.Time{}, reason)
			o.mu.Lock()
			o.stats.Failed++
			o.mu.Unlock()
			o.finishTask(ctx, task.ID)
		}
		o.mu.Lock()
		delete(o.queued, task.ID)
		o.mu.Unlock()
	}
}

// processTask runs one task end to end: media resolution, session
// acquisition, the retried publish flow, and outcome recording.
func (o *Orchestrator) processTask(ctx context.Context, task domain.Task) error {
	if err := o.store.SetStatus(task.ID, domain.StatusInProgress); err != nil {
		o.logger.Warn("task not dispatchable", "task", task.ID, "error", err)
		o.dropQueued(task.ID)
		return nil
	}

	media, err := o.resolveMedia(task)
	if err != nil {
		o.recordFailure(ctx, task, domain.AttemptResult{TaskID: task.ID}, err)
		return nil
	}

	account, err := o.accounts.GetByKey(ctx, task.Account)
	if err != nil {
		err = fmt.Errorf("account %s: %w: %w", task.Account, domain.ErrSessionUnavailable, err)
		o.recordFailure(ctx, task, domain.AttemptResult{TaskID: task.ID}, err)
		return err
	}

	session, err := o.pool.Open(ctx, account)
	if err != nil {
		o.recordFailure(ctx, task, domain.AttemptResult{TaskID: task.ID}, err)
		return err
	}

	var result domain.AttemptResult
	attempts, err := RetryWithBackoff(ctx, o.clock, o.cfg.RetryBudget, func(ctx context.Context) error {
		var flowErr error
		result, flowErr = o.flow.Run(ctx, session, task, media)
		if flowErr == nil {
			return nil
		}
		if domain.Classify(flowErr) == domain.ErrorFatal {
			return Permanent(flowErr)
		}
		return flowErr
	})
	result.Attempts = attempts

	if err != nil {
		o.recordFailure(ctx, task, result, err)
		if domain.Classify(err) == domain.ErrorFatal {
			// Fatal faults are session-level (expired login, policy
			// block); drop the session so the account's next task
			// opens a fresh one.
			if closeErr := o.pool.Close(ctx, task.Account); closeErr != nil {
				o.logger.Warn("session close after fatal failure", "account", task.Account, "error", closeErr)
			}
		}
		return nil
	}

	o.recordSuccess(ctx, task, result)
	return nil
}

// resolveMedia applies the fallback chain the engine owns: an empty
// attachment set degrades to generation, anything else unresolved is
// final.
func (o *Orchestrator) resolveMedia(task domain.Task) (domain.MediaSet, error) {
	media, err := o.resolver.Resolve(task, o.cfg.SourceMode)
	if err == nil {
		return media, nil
	}
	if o.cfg.SourceMode == domain.SourceExternalAttachment && errors.Is(err, domain.ErrNoAttachments) {
		o.logger.Info("no attachments, falling back to generation", "task", task.ID)
		return o.resolver.Resolve(task, domain.SourceGeneratedFromText)
	}
	return domain.MediaSet{}, err
}

func (o *Orchestrator) recordSuccess(ctx context.Context, task domain.Task, result domain.AttemptResult) {
	now := o.clock.Now()
	reason := ""
	if result.Confirmation == domain.ConfirmationAmbiguous {
		// Confirmation budget ran out without a denial; count it as
		// published but keep the uncertainty visible in the record.
		reason = "published with low confidence"
		o.logger.Warn("ambiguous confirmation treated as success", "task", task.ID, "attempt", result.AttemptID)
	}

	_ = o.store.SetStatus(task.ID, domain.StatusPublished)
	_ = o.store.SetResult(task.ID, result.ArtifactRef, now, reason)

	o.mu.Lock()
	o.stats.Succeeded++
	o.mu.Unlock()

	o.logger.Info("task published",
		"task", task.ID,
		"account", task.Account,
		"attempt", result.AttemptID,
		"attempts", result.Attempts,
		"duration", result.Duration,
		"confirmation", result.Confirmation,
		"title_mismatch", result.TitleMismatch,
	)

	o.finishTask(ctx, task.ID)
}

func (o *Orchestrator) recordFailure(ctx context.Context, task domain.Task, result domain.AttemptResult, cause error) {
	reason := domain.RedactReason(cause)

	_ = o.store.SetStatus(task.ID, domain.StatusFailed)
	_ = o.store.SetResult(task.ID, "", time.Time{}, reason)

	o.mu.Lock()
	o.stats.Failed++
	o.mu.Unlock()

	o.logger.Error("task failed",
		"task", task.ID,
		"account", task.Account,
		"attempts", result.Attempts,
		"class", domain.Classify(cause),
		"reason", reason,
	)

	o.finishTask(ctx, task.ID)
}

// finishTask writes the terminal outcome back to the record store and,
// on success, drops the task from the in-memory table. Write-back
// failure keeps the task so the next sync pass retries it.
func (o *Orchestrator) finishTask(ctx context.Context, id string) {
	o.dropQueued(id)

	task, err := o.store.Get(id)
	if err != nil {
		return
	}
	if err := o.writeBack(ctx, task); err != nil {
		o.logger.Warn("write-back failed, will retry at next sync", "task", id, "error", err)
		return
	}
	o.store.Remove(id)
}

func (o *Orchestrator) writeBack(ctx context.Context, task domain.Task) error {
	detail := ports.ResultDetail{
		ArtifactRef: task.ResultRef,
		Reason:      task.ErrorReason,
		PublishedAt: task.PublishedAt,
	}
	_, err := RetryWithBackoff(ctx, o.clock, o.cfg.WriteBackBudget, func(ctx context.Context) error {
		return o.records.WriteStatus(ctx, task.ID, task.Status, detail)
	})
	if err != nil {
		return fmt.Errorf("write status for %s: %w", task.ID, err)
	}
	return nil
}

func (o *Orchestrator) dropQueued(id string) {
	o.mu.Lock()
	delete(o.queued, id)
	o.mu.Unlock()
}
