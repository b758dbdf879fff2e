package task

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wingie/webagent/pubsub"
)

var ctx = context.Background()

// memStore is an in-memory Store double; the localtask implementation is not
// usable here without an import cycle.
type memStore struct {
	mu   sync.Mutex
	data map[string]Execution
}

func newMemStore() *memStore { return &memStore{data: map[string]Execution{}} }

func (s *memStore) Save(_ context.Context, e *Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[e.TaskID] = e.Copy()
	return nil
}

func (s *memStore) FindByID(_ context.Context, taskID string) (*Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.data[taskID]; ok {
		cp := e.Copy()
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (s *memStore) FindTimedOutTasks(_ context.Context, threshold time.Time) ([]*Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Execution
	for _, e := range s.data {
		if e.Status == StatusRunning && e.StartedAt != nil && e.StartedAt.Before(threshold) {
			cp := e.Copy()
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) FindForCleanup(_ context.Context, cutoff time.Time) ([]*Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Execution
	for _, e := range s.data {
		if e.Status.Terminal() && e.CompletedAt != nil && e.CompletedAt.Before(cutoff) {
			cp := e.Copy()
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) CountByStatus(context.Context) (map[Status]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[Status]int{}
	for _, e := range s.data {
		counts[e.Status]++
	}
	return counts, nil
}

// memQueue is a channel-backed Queue double. fail makes every Enqueue error,
// for exercising the retry re-queue failure path.
type memQueue struct {
	ch   chan string
	fail atomic.Bool
}

func newMemQueue(capacity int) *memQueue { return &memQueue{ch: make(chan string, capacity)} }

func (q *memQueue) Enqueue(_ context.Context, taskID string) error {
	if q.fail.Load() {
		return errors.New("queue backend offline")
	}
	select {
	case q.ch <- taskID:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *memQueue) Dequeue(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case taskID := <-q.ch:
		return taskID, nil
	}
}

func (q *memQueue) Len(context.Context) (int, error) { return len(q.ch), nil }

type rig struct {
	ex     *Executor
	store  *memStore
	queue  *memQueue
	broker *pubsub.Memory
}

func newRig(t *testing.T, mutate func(*ExecutorConfig)) *rig {
	t.Helper()
	exCtx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	r := &rig{store: newMemStore(), queue: newMemQueue(1024), broker: pubsub.NewMemory()}
	config := ExecutorConfig{
		Workers:     2,
		Store:       r.store,
		Queue:       r.queue,
		Broker:      r.broker,
		ErrorLogger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if mutate != nil {
		mutate(&config)
	}
	r.ex = NewExecutor(exCtx, config)
	return r
}

func waitForStatus(t *testing.T, ex *Executor, taskID string, want Status) Execution {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if e, err := ex.Get(ctx, taskID); err == nil && e.Status == want {
			return e
		}
		time.Sleep(2 * time.Millisecond)
	}
	e, _ := ex.Get(ctx, taskID)
	t.Fatalf("task %s stuck in %s, want %s", taskID, e.Status, want)
	return Execution{}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("timed out waiting for " + what)
}

// gate builds processors that park in RUNNING until the test releases them.
type gate struct {
	started chan string
	release chan struct{}
}

func newGate() *gate {
	return &gate{started: make(chan string, 16), release: make(chan struct{})}
}

// processor reports the task as started, then waits for open (returning
// result) or cancellation (returning the context error).
func (g *gate) processor(result error) ProcessorFunc {
	return func(pctx context.Context, run *Run) error {
		g.started <- run.TaskID()
		select {
		case <-pctx.Done():
			return pctx.Err()
		case <-g.release:
			return result
		}
	}
}

func (g *gate) waitStarted(t *testing.T) string {
	t.Helper()
	select {
	case id := <-g.started:
		return id
	case <-time.After(5 * time.Second):
		t.Fatal("no task entered the processor")
		return ""
	}
}

func (g *gate) open() { close(g.release) }

func TestTaskRunsToCompletion(t *testing.T) {
	r := newRig(t, nil)
	r.ex.RegisterProcessor("research", ProcessorFunc(func(_ context.Context, run *Run) error {
		run.Progress(50, "halfway")
		run.SetResults("the answer")
		return nil
	}))

	id, err := r.ex.Submit(ctx, "research", "find the answer", SubmitOptions{RequesterID: "tester"})
	if err != nil {
		t.Fatal(err)
	}

	e := waitForStatus(t, r.ex, id, StatusCompleted)
	if e.ProgressPercent != 100 {
		t.Errorf("ProgressPercent = %d, want 100", e.ProgressPercent)
	}
	if e.ProgressMessage != "Completed" {
		t.Errorf("ProgressMessage = %q", e.ProgressMessage)
	}
	if e.ExtractedResults != "the answer" {
		t.Errorf("ExtractedResults = %q", e.ExtractedResults)
	}
	if e.StartedAt == nil || e.CompletedAt == nil {
		t.Error("StartedAt/CompletedAt not stamped")
	}
	if e.RequesterID != "tester" || e.OriginalQuery != "find the answer" {
		t.Errorf("submission fields lost: %+v", e)
	}

	// The terminal record is mirrored to persistence and retained as the
	// broker's latest event.
	stored, err := r.store.FindByID(ctx, id)
	if err != nil || stored.Status != StatusCompleted {
		t.Errorf("store holds %v, %v", stored, err)
	}
	latest, ok := r.broker.Latest(ctx, id)
	if !ok || latest.Status != string(StatusCompleted) || latest.ProgressPercent != 100 {
		t.Errorf("broker latest = %+v, %v", latest, ok)
	}
}

func TestSubmitAndLookupErrors(t *testing.T) {
	r := newRig(t, nil)

	if _, err := r.ex.Submit(ctx, "", "query", SubmitOptions{}); err == nil {
		t.Error("empty task type accepted")
	}
	if _, err := r.ex.Get(ctx, "never-seen"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(unknown) = %v, want ErrNotFound", err)
	}
	if err := r.ex.Cancel(ctx, "never-seen"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Cancel(unknown) = %v, want ErrNotFound", err)
	}
}

func TestUnknownTaskTypeFailsWithoutRetry(t *testing.T) {
	r := newRig(t, nil)
	id, err := r.ex.Submit(ctx, "no-such-type", "q", SubmitOptions{MaxRetries: 3})
	if err != nil {
		t.Fatal(err)
	}
	e := waitForStatus(t, r.ex, id, StatusFailed)
	if !strings.Contains(e.ErrorDetails, "Unknown task type") {
		t.Errorf("ErrorDetails = %q", e.ErrorDetails)
	}
	if e.RetryCount != 0 {
		t.Errorf("RetryCount = %d; unknown types must not be retried", e.RetryCount)
	}
}

func TestCancelWhileRunning(t *testing.T) {
	r := newRig(t, nil)
	g := newGate()
	r.ex.RegisterProcessor("long", g.processor(nil))

	id, err := r.ex.Submit(ctx, "long", "q", SubmitOptions{})
	if err != nil {
		t.Fatal(err)
	}
	g.waitStarted(t)

	sub, err := r.broker.Subscribe(ctx, pubsub.TopicTaskProgress)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	if err := r.ex.Cancel(ctx, id); err != nil {
		t.Fatal(err)
	}
	e := waitForStatus(t, r.ex, id, StatusCancelled)
	if e.CompletedAt == nil {
		t.Error("CompletedAt not stamped on cancellation")
	}
	if e.ProgressMessage != "Cancelled" {
		t.Errorf("ProgressMessage = %q", e.ProgressMessage)
	}

	// Cancelling again is an idempotent no-op.
	if err := r.ex.Cancel(ctx, id); err != nil {
		t.Errorf("second Cancel = %v", err)
	}

	// The CANCELLED event is the last one on the feed.
	select {
	case ev := <-sub.Events():
		if ev.Status != string(StatusCancelled) {
			t.Fatalf("event after cancel = %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no cancellation event published")
	}
	select {
	case ev := <-sub.Events():
		t.Errorf("event published after terminal state: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCancelWhileQueued(t *testing.T) {
	r := newRig(t, nil) // 2 workers
	g := newGate()
	r.ex.RegisterProcessor("long", g.processor(nil))

	// Occupy both workers, then park a third task in the queue.
	for range 2 {
		if _, err := r.ex.Submit(ctx, "long", "q", SubmitOptions{}); err != nil {
			t.Fatal(err)
		}
	}
	g.waitStarted(t)
	g.waitStarted(t)
	queued, err := r.ex.Submit(ctx, "long", "q", SubmitOptions{})
	if err != nil {
		t.Fatal(err)
	}

	if e, _ := r.ex.Get(ctx, queued); e.Status != StatusQueued {
		t.Fatalf("third task is %s, want QUEUED", e.Status)
	}
	if err := r.ex.Cancel(ctx, queued); err != nil {
		t.Fatal(err)
	}
	g.open()

	e := waitForStatus(t, r.ex, queued, StatusCancelled)
	if e.StartedAt != nil {
		t.Error("cancelled-while-queued task entered RUNNING")
	}
	if e.ProgressMessage != "Cancelled before start" {
		t.Errorf("ProgressMessage = %q", e.ProgressMessage)
	}
}

func TestParallelismBound(t *testing.T) {
	r := newRig(t, nil) // 2 workers
	g := newGate()
	var running, peak atomic.Int32
	r.ex.RegisterProcessor("bounded", ProcessorFunc(func(pctx context.Context, run *Run) error {
		cur := running.Add(1)
		defer running.Add(-1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		g.started <- run.TaskID()
		select {
		case <-pctx.Done():
			return pctx.Err()
		case <-g.release:
			return nil
		}
	}))

	ids := make([]string, 0, 10)
	for range 10 {
		id, err := r.ex.Submit(ctx, "bounded", "q", SubmitOptions{})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}

	g.waitStarted(t)
	g.waitStarted(t)
	waitFor(t, "2 running / 8 queued", func() bool {
		s := r.ex.Stats(ctx)
		return s.ByStatus[StatusRunning] == 2 && s.ByStatus[StatusQueued] == 8
	})
	if s := r.ex.Stats(ctx); s.QueueDepth != 8 {
		t.Errorf("QueueDepth = %d, want 8", s.QueueDepth)
	}

	g.open()
	for _, id := range ids {
		waitForStatus(t, r.ex, id, StatusCompleted)
	}
	if p := peak.Load(); p != 2 {
		t.Errorf("peak concurrent processors = %d, want 2", p)
	}
}

func TestDispatchPreservesSubmissionOrder(t *testing.T) {
	var mu sync.Mutex
	var processed []string
	r := newRig(t, func(c *ExecutorConfig) { c.Workers = 1 })
	r.ex.RegisterProcessor("ordered", ProcessorFunc(func(_ context.Context, run *Run) error {
		mu.Lock()
		processed = append(processed, run.TaskID())
		mu.Unlock()
		return nil
	}))

	ids := make([]string, 0, 10)
	for range 10 {
		id, err := r.ex.Submit(ctx, "ordered", "q", SubmitOptions{})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}
	for _, id := range ids {
		waitForStatus(t, r.ex, id, StatusCompleted)
	}

	mu.Lock()
	defer mu.Unlock()
	for i, id := range ids {
		if processed[i] != id {
			t.Fatalf("dispatch order %v, want %v", processed, ids)
		}
	}
}

func TestRetryUntilSuccess(t *testing.T) {
	r := newRig(t, nil)
	var attempts atomic.Int32
	r.ex.RegisterProcessor("flaky", ProcessorFunc(func(context.Context, *Run) error {
		if attempts.Add(1) <= 2 {
			return errors.New("flaky backend")
		}
		return nil
	}))

	id, err := r.ex.Submit(ctx, "flaky", "q", SubmitOptions{MaxRetries: 3})
	if err != nil {
		t.Fatal(err)
	}
	e := waitForStatus(t, r.ex, id, StatusCompleted)
	if e.RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", e.RetryCount)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("processor ran %d times, want 3", got)
	}
}

func TestRetriesExhausted(t *testing.T) {
	r := newRig(t, nil)
	r.ex.RegisterProcessor("doomed", ProcessorFunc(func(context.Context, *Run) error {
		return errors.New("flaky backend")
	}))

	id, err := r.ex.Submit(ctx, "doomed", "q", SubmitOptions{MaxRetries: 2})
	if err != nil {
		t.Fatal(err)
	}
	e := waitForStatus(t, r.ex, id, StatusFailed)
	if e.RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", e.RetryCount)
	}
	if e.ErrorDetails != "flaky backend" {
		t.Errorf("ErrorDetails = %q", e.ErrorDetails)
	}
	if e.CompletedAt == nil {
		t.Error("CompletedAt not stamped on terminal failure")
	}
}

func TestRetryEnqueueFailureIsTerminal(t *testing.T) {
	r := newRig(t, nil)
	g := newGate()
	r.ex.RegisterProcessor("flaky", g.processor(errors.New("flaky backend")))

	id, err := r.ex.Submit(ctx, "flaky", "q", SubmitOptions{MaxRetries: 2})
	if err != nil {
		t.Fatal(err)
	}
	g.waitStarted(t)
	r.queue.fail.Store(true) // the retry re-queue will fail
	g.open()

	e := waitForStatus(t, r.ex, id, StatusFailed)
	if !strings.Contains(e.ErrorDetails, "retry enqueue failed") {
		t.Errorf("ErrorDetails = %q", e.ErrorDetails)
	}
}

func TestTimeout(t *testing.T) {
	t.Run("cooperative processor", func(t *testing.T) {
		r := newRig(t, nil)
		g := newGate()
		r.ex.RegisterProcessor("slow", g.processor(nil))

		id, err := r.ex.Submit(ctx, "slow", "q", SubmitOptions{TimeoutSeconds: 1, MaxRetries: 2})
		if err != nil {
			t.Fatal(err)
		}
		e := waitForStatus(t, r.ex, id, StatusTimeout)
		if e.CompletedAt == nil {
			t.Error("CompletedAt not stamped on timeout")
		}
		if e.RetryCount != 0 {
			t.Errorf("RetryCount = %d; timeouts must not be retried", e.RetryCount)
		}
	})

	t.Run("processor that ignores cancellation", func(t *testing.T) {
		r := newRig(t, nil)
		hang := make(chan struct{})
		defer close(hang)
		r.ex.RegisterProcessor("stubborn", ProcessorFunc(func(context.Context, *Run) error {
			<-hang
			return nil
		}))

		id, err := r.ex.Submit(ctx, "stubborn", "q", SubmitOptions{TimeoutSeconds: 1})
		if err != nil {
			t.Fatal(err)
		}
		e := waitForStatus(t, r.ex, id, StatusTimeout)
		if !strings.Contains(e.ErrorDetails, "exceeded its timeout") {
			t.Errorf("ErrorDetails = %q", e.ErrorDetails)
		}
	})
}

func TestProcessorPanicFailsTask(t *testing.T) {
	r := newRig(t, nil)
	r.ex.RegisterProcessor("bomb", ProcessorFunc(func(context.Context, *Run) error {
		panic("kaboom")
	}))
	r.ex.RegisterProcessor("fine", ProcessorFunc(func(context.Context, *Run) error {
		return nil
	}))

	id, err := r.ex.Submit(ctx, "bomb", "q", SubmitOptions{})
	if err != nil {
		t.Fatal(err)
	}
	e := waitForStatus(t, r.ex, id, StatusFailed)
	if !strings.Contains(e.ErrorDetails, "processor panic: kaboom") {
		t.Errorf("ErrorDetails = %q", e.ErrorDetails)
	}

	// The worker survives the panic.
	id, err = r.ex.Submit(ctx, "fine", "q", SubmitOptions{})
	if err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, r.ex, id, StatusCompleted)
}

func TestProgressClampAndEventOrder(t *testing.T) {
	r := newRig(t, nil)
	sub, err := r.broker.Subscribe(ctx, pubsub.TopicTaskProgress)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	r.ex.RegisterProcessor("chatty", ProcessorFunc(func(_ context.Context, run *Run) error {
		run.Progress(150, "over")
		run.Progress(-5, "under")
		return nil
	}))
	id, err := r.ex.Submit(ctx, "chatty", "q", SubmitOptions{})
	if err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, r.ex, id, StatusCompleted)

	want := []struct {
		status  string
		percent int
	}{
		{"RUNNING", 0},
		{"RUNNING", 99}, // clamped down from 150
		{"RUNNING", 0},  // clamped up from -5
		{"COMPLETED", 100},
	}
	for i, w := range want {
		select {
		case ev := <-sub.Events():
			if ev.Status != w.status || ev.ProgressPercent != w.percent {
				t.Errorf("event[%d] = %s/%d, want %s/%d", i, ev.Status, ev.ProgressPercent, w.status, w.percent)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("event[%d] never arrived", i)
		}
	}
}

func TestScreenshotsAccumulateAndAnnounce(t *testing.T) {
	r := newRig(t, nil)
	sub, err := r.broker.Subscribe(ctx, pubsub.TopicTaskProgress)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	r.ex.RegisterProcessor("shooter", ProcessorFunc(func(_ context.Context, run *Run) error {
		run.Screenshot("https://shots/1.png")
		run.Screenshot("https://shots/2.png")
		return nil
	}))
	id, err := r.ex.Submit(ctx, "shooter", "q", SubmitOptions{})
	if err != nil {
		t.Fatal(err)
	}
	e := waitForStatus(t, r.ex, id, StatusCompleted)
	if len(e.Screenshots) != 2 || e.Screenshots[1] != "https://shots/2.png" {
		t.Errorf("Screenshots = %v", e.Screenshots)
	}

	// Get hands out copies; mutating one must not touch the record.
	e.Screenshots[0] = "tampered"
	if again, _ := r.ex.Get(ctx, id); again.Screenshots[0] != "https://shots/1.png" {
		t.Error("Get returned a shared slice")
	}

	var announced []string
	for range 4 { // RUNNING, shot 1, shot 2, COMPLETED
		select {
		case ev := <-sub.Events():
			if ev.NewScreenshot != nil {
				announced = append(announced, *ev.NewScreenshot)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("progress feed dried up")
		}
	}
	if len(announced) != 2 || announced[0] != "https://shots/1.png" || announced[1] != "https://shots/2.png" {
		t.Errorf("announced screenshots = %v", announced)
	}
}

func TestQueueBound(t *testing.T) {
	r := newRig(t, func(c *ExecutorConfig) {
		c.Workers = 1
		c.Queue = newMemQueue(2)
	})
	g := newGate()
	r.ex.RegisterProcessor("long", g.processor(nil))

	first, err := r.ex.Submit(ctx, "long", "q", SubmitOptions{})
	if err != nil {
		t.Fatal(err)
	}
	g.waitStarted(t) // the worker holds task 1; capacity 2 remains

	ids := []string{first}
	for range 2 {
		id, err := r.ex.Submit(ctx, "long", "q", SubmitOptions{})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}

	if _, err := r.ex.Submit(ctx, "long", "q", SubmitOptions{}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("fourth submission = %v, want ErrQueueFull", err)
	}
	// The rejected submission left no record behind.
	total := 0
	for _, n := range r.ex.Stats(ctx).ByStatus {
		total += n
	}
	if total != 3 {
		t.Errorf("executor tracks %d tasks, want 3", total)
	}

	g.open()
	for _, id := range ids {
		waitForStatus(t, r.ex, id, StatusCompleted)
	}
}

func TestSweepStuck(t *testing.T) {
	r := newRig(t, nil)
	g := newGate()
	r.ex.RegisterProcessor("long", g.processor(nil))

	id, err := r.ex.Submit(ctx, "long", "q", SubmitOptions{})
	if err != nil {
		t.Fatal(err)
	}
	g.waitStarted(t)

	// Any RUNNING task started before the threshold is forced out.
	r.ex.sweepStuck(time.Now().UTC().Add(time.Minute))
	e := waitForStatus(t, r.ex, id, StatusTimeout)
	if !strings.Contains(e.ErrorDetails, "forced to TIMEOUT") {
		t.Errorf("ErrorDetails = %q", e.ErrorDetails)
	}

	// The late processor return must not move the task off its terminal state.
	g.open()
	time.Sleep(20 * time.Millisecond)
	if again, _ := r.ex.Get(ctx, id); again.Status != StatusTimeout {
		t.Errorf("terminal state overwritten: %s", again.Status)
	}
}

func TestSweepStuckRepairsMirroredOrphans(t *testing.T) {
	r := newRig(t, nil)

	// A RUNNING record in the store but not in memory is a leftover from a
	// previous process life.
	old := time.Now().UTC().Add(-2 * time.Hour)
	orphan := &Execution{TaskID: "orphan-1", TaskType: "web_browse", Status: StatusRunning, StartedAt: &old, Created: old, Updated: old}
	if err := r.store.Save(ctx, orphan); err != nil {
		t.Fatal(err)
	}

	r.ex.sweepStuck(time.Now().UTC().Add(-time.Hour))

	repaired, err := r.store.FindByID(ctx, "orphan-1")
	if err != nil {
		t.Fatal(err)
	}
	if repaired.Status != StatusTimeout {
		t.Errorf("orphan status = %s, want TIMEOUT", repaired.Status)
	}
	if !strings.Contains(repaired.ErrorDetails, "previous server run") {
		t.Errorf("ErrorDetails = %q", repaired.ErrorDetails)
	}
	if repaired.CompletedAt == nil {
		t.Error("CompletedAt not stamped")
	}
}

func TestSweepRetention(t *testing.T) {
	r := newRig(t, nil)
	g := newGate()
	r.ex.RegisterProcessor("quick", ProcessorFunc(func(context.Context, *Run) error { return nil }))
	r.ex.RegisterProcessor("long", g.processor(nil))

	done, err := r.ex.Submit(ctx, "quick", "q", SubmitOptions{})
	if err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, r.ex, done, StatusCompleted)
	live, err := r.ex.Submit(ctx, "long", "q", SubmitOptions{})
	if err != nil {
		t.Fatal(err)
	}
	g.waitStarted(t)

	r.ex.sweepRetention(time.Now().UTC().Add(time.Minute))

	// The terminal task left memory and the broker's latest cache, but the
	// persistence mirror still serves reads.
	if _, ok := r.broker.Latest(ctx, done); ok {
		t.Error("broker still retains the evicted task")
	}
	s := r.ex.Stats(ctx)
	if s.ByStatus[StatusCompleted] != 0 {
		t.Errorf("evicted task still counted: %v", s.ByStatus)
	}
	if s.ByStatus[StatusRunning] != 1 {
		t.Errorf("live task swept: %v", s.ByStatus)
	}
	e, err := r.ex.Get(ctx, done)
	if err != nil || e.Status != StatusCompleted {
		t.Errorf("Get after eviction = %+v, %v", e, err)
	}
	// Cancelling an evicted terminal task is a no-op, not a 404.
	if err := r.ex.Cancel(ctx, done); err != nil {
		t.Errorf("Cancel after eviction = %v", err)
	}

	g.open()
	waitForStatus(t, r.ex, live, StatusCompleted)
}
