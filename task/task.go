// Package task is the async task executor: it accepts task submissions, runs
// a bounded number of them concurrently, streams progress to the pub/sub
// broker, honours cooperative cancellation and timeouts, applies the retry
// policy, and periodically sweeps stuck and aged tasks. The executor's
// in-memory map is the authority for task state; the persistence collaborator
// is a write-through mirror kept for audit.
package task

import (
	"errors"
	"slices"
	"time"
)

// Status is a task's lifecycle state. Terminal statuses are sticky: once a
// task completes, fails, times out, or is cancelled it never transitions again.
type Status string

const (
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusTimeout   Status = "TIMEOUT"
	StatusCancelled Status = "CANCELLED"
)

// Statuses lists every status, useful for counting loops.
var Statuses = []Status{StatusQueued, StatusRunning, StatusCompleted, StatusFailed, StatusTimeout, StatusCancelled}

// Terminal reports whether s is an end state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout, StatusCancelled:
		return true
	}
	return false
}

var (
	// ErrNotFound is returned for task ids the executor has never seen (or
	// has evicted and the persistence mirror no longer holds).
	ErrNotFound = errors.New("task not found")

	// ErrQueueFull is returned by Submit when the dispatch queue is bounded
	// and at capacity. No task record survives a rejected submission.
	ErrQueueFull = errors.New("task queue full")
)

// Execution is the runtime record of one long-running job.
type Execution struct {
	TaskID          string   `json:"taskId"`
	TaskType        string   `json:"taskType"`
	OriginalQuery   string   `json:"originalQuery"`
	RequesterID     string   `json:"requesterId,omitempty"`
	Status          Status   `json:"status"`
	ProgressPercent int      `json:"progressPercent"`
	ProgressMessage string   `json:"progressMessage,omitempty"`
	Screenshots     []string `json:"screenshots,omitempty"`

	// ExtractedResults is whatever the sub-processor produced, already
	// rendered for the caller (text or JSON).
	ExtractedResults string `json:"extractedResults,omitempty"`
	ErrorDetails     string `json:"errorDetails,omitempty"`

	Created     time.Time  `json:"created"`
	Updated     time.Time  `json:"updated"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`   // first entry to RUNNING
	CompletedAt *time.Time `json:"completedAt,omitempty"` // entry to a terminal state

	RetryCount            int     `json:"retryCount"`
	MaxRetries            int     `json:"maxRetries"`
	TimeoutSeconds        int     `json:"timeoutSeconds"`
	ActualDurationSeconds float64 `json:"actualDurationSeconds,omitempty"`
}

// Copy returns a deep copy of e; callers can mutate it freely without
// affecting the executor's record.
func (e *Execution) Copy() Execution {
	cp := *e
	cp.Screenshots = slices.Clone(e.Screenshots)
	if e.StartedAt != nil {
		t := *e.StartedAt
		cp.StartedAt = &t
	}
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		cp.CompletedAt = &t
	}
	return cp
}

// SubmitOptions tunes one submission. Zero values take the executor defaults.
type SubmitOptions struct {
	// TimeoutSeconds caps the task's RUNNING time; 0 means the configured default.
	TimeoutSeconds int `json:"timeoutSeconds,omitempty"`

	// MaxRetries is how many times a FAILED task is re-queued before the
	// failure sticks. Cancelled and timed-out tasks are never retried.
	MaxRetries int `json:"maxRetries,omitempty"`

	// RequesterID tags the submission for auditing.
	RequesterID string `json:"requesterId,omitempty"`
}
