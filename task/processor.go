package task

import "context"

// Processor executes one task type. Process runs on a worker goroutine with a
// context that carries the task's deadline and is cancelled when the task is
// cancelled. Processors should call run.Cancelled between their own
// suspension points and return promptly when it reports true; returning
// ctx.Err() after a cancellation or deadline is also handled correctly.
type Processor interface {
	Process(ctx context.Context, run *Run) error
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, run *Run) error

func (f ProcessorFunc) Process(ctx context.Context, run *Run) error { return f(ctx, run) }

// Run is a processor's view of its task: a snapshot accessor plus the
// progress callbacks. Progress and Screenshot update the execution in place,
// mirror it to persistence, and publish on the progress topic; both are
// silently dropped once the task is in a terminal state.
type Run struct {
	ex     *Executor
	ctx    context.Context
	taskID string
}

// TaskID returns the id of the task being processed.
func (r *Run) TaskID() string { return r.taskID }

// Execution returns a point-in-time copy of the task's record.
func (r *Run) Execution() (Execution, bool) { return r.ex.snapshot(r.taskID) }

// Progress reports percent (clamped to 0..99; completion alone reaches 100)
// and a human-readable message.
func (r *Run) Progress(percent int, message string) {
	r.ex.progress(r.ctx, r.taskID, percent, message)
}

// Screenshot appends a captured screenshot reference (URL or path) to the
// task and announces it to subscribers.
func (r *Run) Screenshot(ref string) {
	r.ex.screenshot(r.ctx, r.taskID, ref)
}

// SetResults records the run's extracted output on the task record. Call it
// before returning nil; completion then carries these results.
func (r *Run) SetResults(results string) {
	r.ex.setResults(r.taskID, results)
}

// Cancelled reports whether Cancel has been called for this task. Processors
// poll this between suspension points; the run context is cancelled too.
func (r *Run) Cancelled() bool { return r.ex.cancelRequested(r.taskID) }
