package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/wingie/webagent/internal/aids"
	"github.com/wingie/webagent/pubsub"
)

// ExecutorConfig wires the executor's collaborators and tunables. Store,
// Queue, Broker, and ErrorLogger are required; zero-valued tunables take the
// documented defaults.
type ExecutorConfig struct {
	// Workers is the dispatch parallelism N (default 4).
	Workers int

	// DefaultTimeout caps a task's RUNNING time when the submission doesn't
	// choose its own (default 5 minutes).
	DefaultTimeout time.Duration

	// StuckThreshold is how long a task may sit in RUNNING before the stuck
	// sweep forces it to TIMEOUT (default 30 minutes).
	StuckThreshold time.Duration

	// StuckSweepInterval is how often the stuck sweep runs (default 5 minutes).
	StuckSweepInterval time.Duration

	// Retention is how long terminal tasks stay in the in-memory map and the
	// broker's latest-event cache (default 7 days). Persistence keeps them.
	Retention time.Duration

	// CleanupInterval is how often the retention sweep runs (default 1 hour).
	CleanupInterval time.Duration

	Store  Store
	Queue  Queue
	Broker pubsub.Broker

	// ErrorLogger receives collaborator failures and processor panics.
	ErrorLogger *slog.Logger

	// ExecutionLogger, when non-nil, gets one line per task lifecycle event.
	ExecutionLogger *slog.Logger
}

// Executor runs submitted tasks on a bounded worker pool. Its in-memory map
// is the authority for task state; every transition is mirrored to the Store
// and announced on the Broker, both best-effort.
type Executor struct {
	config ExecutorConfig
	ctx    context.Context // server lifetime; cancels workers and housekeeping

	mu    sync.RWMutex
	tasks map[string]*taskEntry

	procMu     sync.RWMutex
	processors map[string]Processor
}

// taskEntry pairs an Execution with its per-task lock and cancellation token.
// The lock serialises mutations and is never held across I/O.
type taskEntry struct {
	mu              sync.Mutex
	exec            Execution
	cancelRequested atomic.Bool
	cancelRun       context.CancelFunc // set while a worker runs the task
}

// Stats is the executor's metrics view.
type Stats struct {
	QueueDepth int            `json:"queueDepth"`
	ByStatus   map[Status]int `json:"tasksByStatus"`
}

// NewExecutor starts the worker pool and the housekeeping goroutine; both
// stop when ctx is cancelled.
func NewExecutor(ctx context.Context, config ExecutorConfig) *Executor {
	aids.Assert(config.Store != nil, "ExecutorConfig.Store is required")
	aids.Assert(config.Queue != nil, "ExecutorConfig.Queue is required")
	aids.Assert(config.Broker != nil, "ExecutorConfig.Broker is required")
	aids.Assert(config.ErrorLogger != nil, "ExecutorConfig.ErrorLogger is required")
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = 5 * time.Minute
	}
	if config.StuckThreshold <= 0 {
		config.StuckThreshold = 30 * time.Minute
	}
	if config.StuckSweepInterval <= 0 {
		config.StuckSweepInterval = 5 * time.Minute
	}
	if config.Retention <= 0 {
		config.Retention = 7 * 24 * time.Hour
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Hour
	}

	ex := &Executor{
		config:     config,
		ctx:        ctx,
		tasks:      map[string]*taskEntry{},
		processors: map[string]Processor{},
	}
	for range config.Workers {
		go ex.worker()
	}
	go ex.housekeeping()
	return ex
}

// RegisterProcessor binds a task type to its sub-processor. Later
// registrations for the same type replace earlier ones.
func (ex *Executor) RegisterProcessor(taskType string, p Processor) {
	ex.procMu.Lock()
	defer ex.procMu.Unlock()
	ex.processors[taskType] = p
}

func (ex *Executor) processorFor(taskType string) Processor {
	ex.procMu.RLock()
	defer ex.procMu.RUnlock()
	return ex.processors[taskType]
}

// Submit records a new task in QUEUED and enqueues it for dispatch. When the
// queue is bounded and full it returns ErrQueueFull and no task record
// survives. The returned id is the handle for Get/Cancel.
func (ex *Executor) Submit(ctx context.Context, taskType, query string, opts SubmitOptions) (string, error) {
	if taskType == "" {
		return "", fmt.Errorf("task type required")
	}
	timeout := opts.TimeoutSeconds
	if timeout <= 0 {
		timeout = int(ex.config.DefaultTimeout.Seconds())
	}
	now := time.Now().UTC()
	e := Execution{
		TaskID:         uuid.NewString(),
		TaskType:       taskType,
		OriginalQuery:  query,
		RequesterID:    opts.RequesterID,
		Status:         StatusQueued,
		Created:        now,
		Updated:        now,
		MaxRetries:     opts.MaxRetries,
		TimeoutSeconds: timeout,
	}

	ex.mu.Lock()
	ex.tasks[e.TaskID] = &taskEntry{exec: e}
	ex.mu.Unlock()

	if err := ex.config.Queue.Enqueue(ctx, e.TaskID); err != nil {
		ex.mu.Lock()
		delete(ex.tasks, e.TaskID)
		ex.mu.Unlock()
		return "", err
	}
	ex.mirror(&e)
	ex.logExecution("Task submitted", e.TaskID, slog.String("taskType", taskType))
	return e.TaskID, nil
}

// Get returns a copy of the task's current record. Tasks evicted from memory
// by the retention sweep are served from the persistence mirror.
func (ex *Executor) Get(ctx context.Context, taskID string) (Execution, error) {
	if snap, ok := ex.snapshot(taskID); ok {
		return snap, nil
	}
	if e, err := ex.config.Store.FindByID(ctx, taskID); err == nil {
		return e.Copy(), nil
	}
	return Execution{}, ErrNotFound
}

// Cancel sets the task's cancellation token and interrupts its run context.
// It is idempotent, returns without waiting for the worker to observe the
// token, and reports ErrNotFound only for ids the executor has never seen.
func (ex *Executor) Cancel(ctx context.Context, taskID string) error {
	entry := ex.entry(taskID)
	if entry == nil {
		if _, err := ex.config.Store.FindByID(ctx, taskID); err == nil {
			return nil // evicted terminal task; cancelling it is a no-op
		}
		return ErrNotFound
	}
	entry.cancelRequested.Store(true)
	entry.mu.Lock()
	cancelRun := entry.cancelRun
	entry.mu.Unlock()
	if cancelRun != nil {
		cancelRun()
	}
	ex.logExecution("Task cancel requested", taskID)
	return nil
}

// Stats reports the dispatch queue depth and a status histogram of every
// task still in memory.
func (ex *Executor) Stats(ctx context.Context) Stats {
	s := Stats{ByStatus: map[Status]int{}}
	for _, st := range Statuses {
		s.ByStatus[st] = 0
	}
	ex.mu.RLock()
	for _, entry := range ex.tasks {
		entry.mu.Lock()
		s.ByStatus[entry.exec.Status]++
		entry.mu.Unlock()
	}
	ex.mu.RUnlock()

	depth, err := ex.config.Queue.Len(ctx)
	if err != nil {
		ex.config.ErrorLogger.LogAttrs(ex.ctx, slog.LevelWarn, "Queue depth unavailable", slog.String("error", err.Error()))
		depth = -1
	}
	s.QueueDepth = depth
	return s
}

func (ex *Executor) entry(taskID string) *taskEntry {
	ex.mu.RLock()
	defer ex.mu.RUnlock()
	return ex.tasks[taskID]
}

func (ex *Executor) snapshot(taskID string) (Execution, bool) {
	entry := ex.entry(taskID)
	if entry == nil {
		return Execution{}, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.exec.Copy(), true
}

func (ex *Executor) cancelRequested(taskID string) bool {
	entry := ex.entry(taskID)
	return entry != nil && entry.cancelRequested.Load()
}

// update applies fn to the task's record under its lock and returns a copy of
// the result. It refuses (returning ok=false) for unknown ids, for tasks
// already in a terminal state, and when fn itself declines. Mirroring and
// publishing are the caller's job, outside the lock.
func (ex *Executor) update(taskID string, fn func(e *Execution) bool) (Execution, bool) {
	entry := ex.entry(taskID)
	if entry == nil {
		return Execution{}, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.exec.Status.Terminal() {
		return Execution{}, false
	}
	if !fn(&entry.exec) {
		return Execution{}, false
	}
	entry.exec.Updated = time.Now().UTC()
	return entry.exec.Copy(), true
}

// worker pulls task ids in submission order and dispatches them until the
// executor's context ends.
func (ex *Executor) worker() {
	for {
		taskID, err := ex.config.Queue.Dequeue(ex.ctx)
		if err != nil {
			return // shutdown (or a dead queue; either way this worker is done)
		}
		ex.dispatch(taskID)
	}
}

func (ex *Executor) dispatch(taskID string) {
	entry := ex.entry(taskID)
	if entry == nil {
		ex.config.ErrorLogger.LogAttrs(ex.ctx, slog.LevelWarn, "Dequeued unknown task", slog.String("taskId", taskID))
		return
	}

	// Token check before routing: a task cancelled while queued ends
	// CANCELLED without ever entering RUNNING.
	if entry.cancelRequested.Load() {
		ex.finish(taskID, StatusCancelled, "Cancelled before start", "")
		return
	}

	snap, ok := ex.update(taskID, func(e *Execution) bool {
		if e.Status != StatusQueued {
			return false
		}
		now := time.Now().UTC()
		e.Status = StatusRunning
		e.StartedAt = &now // fresh on every dispatch, including retries
		return true
	})
	if !ok {
		return // lost a race with cancellation or a sweep
	}
	ex.mirror(&snap)
	ex.publish(snap, nil)
	ex.logExecution("Task running", taskID, slog.String("taskType", snap.TaskType), slog.Int("retry", snap.RetryCount))

	proc := ex.processorFor(snap.TaskType)
	if proc == nil {
		ex.finish(taskID, StatusFailed, "", "Unknown task type: "+snap.TaskType)
		return
	}

	runCtx, cancelRun := context.WithTimeout(ex.ctx, time.Duration(snap.TimeoutSeconds)*time.Second)
	defer cancelRun()
	entry.mu.Lock()
	entry.cancelRun = cancelRun
	entry.mu.Unlock()
	if entry.cancelRequested.Load() { // Cancel may have raced the handoff above
		cancelRun()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if v := recover(); v != nil {
				stack := &strings.Builder{}
				fmt.Fprintf(stack, "Error: %v\n", v)
				aids.WriteStack(stack, aids.ParseStack(2))
				ex.config.ErrorLogger.LogAttrs(ex.ctx, slog.LevelError, "Processor panic",
					slog.String("taskId", taskID), slog.String("stack", stack.String()))
				done <- fmt.Errorf("processor panic: %v", v)
			}
		}()
		done <- proc.Process(runCtx, &Run{ex: ex, ctx: runCtx, taskID: taskID})
	}()

	select {
	case err := <-done:
		ex.settle(entry, taskID, err)
	case <-runCtx.Done():
		// The worker moves on without waiting for the processor; abandoned
		// progress calls are dropped by the terminal-state check.
		if ex.ctx.Err() != nil {
			return // shutting down; leave the record as-is
		}
		if entry.cancelRequested.Load() {
			ex.finish(taskID, StatusCancelled, "Cancelled", "")
		} else {
			ex.finish(taskID, StatusTimeout, "", fmt.Sprintf("Task exceeded its timeout of %ds", snap.TimeoutSeconds))
		}
	}
}

// settle classifies a processor's return: the cancellation token wins, then
// deadline errors, then the retry policy, then success.
func (ex *Executor) settle(entry *taskEntry, taskID string, err error) {
	if entry.cancelRequested.Load() {
		ex.finish(taskID, StatusCancelled, "Cancelled", "")
		return
	}
	if err == nil {
		ex.finish(taskID, StatusCompleted, "Completed", "")
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		ex.finish(taskID, StatusTimeout, "", err.Error())
		return
	}
	ex.failOrRetry(taskID, err)
}

// failOrRetry re-queues a FAILED task while retries remain, otherwise makes
// the failure terminal. Retries preserve timestamps; StartedAt refreshes on
// the next dispatch.
func (ex *Executor) failOrRetry(taskID string, cause error) {
	snap, ok := ex.update(taskID, func(e *Execution) bool {
		e.ErrorDetails = cause.Error()
		if e.RetryCount < e.MaxRetries {
			e.RetryCount++
			e.Status = StatusQueued
			return true
		}
		now := time.Now().UTC()
		e.Status = StatusFailed
		e.CompletedAt = &now
		if e.StartedAt != nil {
			e.ActualDurationSeconds = now.Sub(*e.StartedAt).Seconds()
		}
		return true
	})
	if !ok {
		return
	}
	ex.mirror(&snap)
	ex.publish(snap, nil)

	if snap.Status == StatusQueued {
		ex.logExecution("Task retrying", taskID, slog.Int("retry", snap.RetryCount), slog.String("error", cause.Error()))
		if err := ex.config.Queue.Enqueue(ex.ctx, taskID); err != nil {
			ex.finish(taskID, StatusFailed, "", fmt.Sprintf("retry enqueue failed: %s (after: %s)", err, cause))
		}
		return
	}
	ex.logExecution("Task failed", taskID, slog.String("error", cause.Error()))
}

// finish moves a task to a terminal state, stamps CompletedAt and the actual
// duration, mirrors, and publishes. Already-terminal tasks are left alone.
func (ex *Executor) finish(taskID string, status Status, message, errorDetails string) {
	snap, ok := ex.update(taskID, func(e *Execution) bool {
		now := time.Now().UTC()
		e.Status = status
		e.CompletedAt = &now
		if message != "" {
			e.ProgressMessage = message
		}
		if errorDetails != "" {
			e.ErrorDetails = errorDetails
		}
		if status == StatusCompleted {
			e.ProgressPercent = 100
		}
		if e.StartedAt != nil {
			e.ActualDurationSeconds = now.Sub(*e.StartedAt).Seconds()
		}
		return true
	})
	if !ok {
		return
	}
	ex.mirror(&snap)
	ex.publish(snap, nil)
	ex.logExecution("Task "+strings.ToLower(string(status)), taskID)
}

// progress applies a sub-processor progress callback. Percent is clamped to
// 0..99; only completion itself reaches 100.
func (ex *Executor) progress(_ context.Context, taskID string, percent int, message string) {
	percent = min(max(percent, 0), 99)
	snap, ok := ex.update(taskID, func(e *Execution) bool {
		e.ProgressPercent = percent
		e.ProgressMessage = message
		return true
	})
	if !ok || ex.nowTerminal(taskID) {
		return // terminal; silently dropped
	}
	ex.mirror(&snap)
	ex.publish(snap, nil)
}

// screenshot appends a screenshot reference and announces it. The reference
// survives a concurrent terminal transition (cancelled tasks keep their
// screenshots) but the announcement is suppressed.
func (ex *Executor) screenshot(_ context.Context, taskID string, ref string) {
	snap, ok := ex.update(taskID, func(e *Execution) bool {
		e.Screenshots = append(e.Screenshots, ref)
		return true
	})
	if !ok {
		return
	}
	if ex.nowTerminal(taskID) {
		return
	}
	ex.mirror(&snap)
	ex.publish(snap, &ref)
}

// nowTerminal re-reads the task's status right before a progress mirror or
// publish. A worker can drive the task terminal between the update above and
// the I/O below; re-checking shrinks the window in which a stale RUNNING
// event could land after the terminal one. The window cannot close entirely
// without holding the task lock across I/O, which the locking rules forbid;
// the sweeps and the terminal publish's store write repair any stragglers.
func (ex *Executor) nowTerminal(taskID string) bool {
	snap, ok := ex.snapshot(taskID)
	return ok && snap.Status.Terminal()
}

// setResults records the sub-processor's extracted output. Results are
// mirrored but not published; the progress payload doesn't carry them.
func (ex *Executor) setResults(taskID string, results string) {
	snap, ok := ex.update(taskID, func(e *Execution) bool {
		e.ExtractedResults = results
		return true
	})
	if !ok {
		return
	}
	ex.mirror(&snap)
}

// mirror writes the record through to the persistence collaborator. Failures
// never affect the in-memory transition.
func (ex *Executor) mirror(e *Execution) {
	if err := ex.config.Store.Save(ex.ctx, e); err != nil {
		ex.config.ErrorLogger.LogAttrs(ex.ctx, slog.LevelWarn, "Persistence mirror failed",
			slog.String("taskId", e.TaskID), slog.String("error", err.Error()))
	}
}

// publish announces the record on the progress topic. Failures are logged
// and ignored.
func (ex *Executor) publish(e Execution, newScreenshot *string) {
	event := pubsub.ProgressEvent{
		TaskID:          e.TaskID,
		Status:          string(e.Status),
		Message:         e.ProgressMessage,
		ProgressPercent: e.ProgressPercent,
		Screenshots:     e.Screenshots,
		Timestamp:       e.Updated,
		NewScreenshot:   newScreenshot,
	}
	if err := ex.config.Broker.Publish(ex.ctx, pubsub.TopicTaskProgress, event); err != nil {
		ex.config.ErrorLogger.LogAttrs(ex.ctx, slog.LevelWarn, "Progress publish failed",
			slog.String("taskId", e.TaskID), slog.String("error", err.Error()))
	}
}

func (ex *Executor) logExecution(msg, taskID string, attrs ...slog.Attr) {
	if l := ex.config.ExecutionLogger; l != nil {
		l.LogAttrs(ex.ctx, slog.LevelInfo, msg, append([]slog.Attr{slog.String("taskId", taskID)}, attrs...)...)
	}
}

// housekeeping runs the two periodic sweeps: stuck RUNNING tasks are forced
// to TIMEOUT, and aged terminal tasks are evicted from memory and the
// broker's latest cache (persistence keeps them for audit).
func (ex *Executor) housekeeping() {
	stuck := time.NewTicker(ex.config.StuckSweepInterval)
	defer stuck.Stop()
	cleanup := time.NewTicker(ex.config.CleanupInterval)
	defer cleanup.Stop()
	for {
		select {
		case <-ex.ctx.Done():
			return
		case <-stuck.C:
			ex.sweepStuck(time.Now().UTC().Add(-ex.config.StuckThreshold))
		case <-cleanup.C:
			ex.sweepRetention(time.Now().UTC().Add(-ex.config.Retention))
		}
	}
}

// sweepStuck forces every RUNNING task whose StartedAt predates threshold to
// TIMEOUT, whether or not its processor noticed anything.
func (ex *Executor) sweepStuck(threshold time.Time) {
	var stuck []string
	ex.mu.RLock()
	for id, entry := range ex.tasks {
		entry.mu.Lock()
		if entry.exec.Status == StatusRunning && entry.exec.StartedAt != nil && entry.exec.StartedAt.Before(threshold) {
			stuck = append(stuck, id)
		}
		entry.mu.Unlock()
	}
	ex.mu.RUnlock()

	for _, id := range stuck {
		ex.finish(id, StatusTimeout, "", fmt.Sprintf("Task stuck in RUNNING since %s; forced to TIMEOUT",
			threshold.Format(time.RFC3339)))
	}

	// Repair mirrored records from a previous process life: they are not in
	// the map, so the loop above cannot see them.
	mirrored, err := ex.config.Store.FindTimedOutTasks(ex.ctx, threshold)
	if err != nil {
		ex.config.ErrorLogger.LogAttrs(ex.ctx, slog.LevelWarn, "Stuck sweep store scan failed", slog.String("error", err.Error()))
		return
	}
	for _, e := range mirrored {
		if ex.entry(e.TaskID) != nil {
			continue // live task; handled above
		}
		now := time.Now().UTC()
		e.Status = StatusTimeout
		e.ErrorDetails = "Task stuck in RUNNING from a previous server run; forced to TIMEOUT"
		e.CompletedAt = &now
		e.Updated = now
		ex.mirror(e)
	}
}

// sweepRetention evicts aged terminal tasks from the in-memory map and the
// broker's latest cache. The persistence mirror is left intact.
func (ex *Executor) sweepRetention(cutoff time.Time) {
	var evict []string
	ex.mu.RLock()
	for id, entry := range ex.tasks {
		entry.mu.Lock()
		if entry.exec.Status.Terminal() && entry.exec.CompletedAt != nil && entry.exec.CompletedAt.Before(cutoff) {
			evict = append(evict, id)
		}
		entry.mu.Unlock()
	}
	ex.mu.RUnlock()

	for _, id := range evict {
		ex.mu.Lock()
		delete(ex.tasks, id)
		ex.mu.Unlock()
		if err := ex.config.Broker.Forget(ex.ctx, id); err != nil {
			ex.config.ErrorLogger.LogAttrs(ex.ctx, slog.LevelWarn, "Broker forget failed",
				slog.String("taskId", id), slog.String("error", err.Error()))
		}
	}
	if len(evict) > 0 {
		ex.logExecution("Retention sweep evicted tasks", "", slog.Int("count", len(evict)))
	}
}
