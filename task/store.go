package task

import (
	"context"
	"time"
)

// Store is the write-through persistence mirror for task executions. The
// executor stays correct when any of these operations transiently fail: a
// mirror failure is logged and the in-memory transition proceeds.
//
// Implementations must return eagerly-loaded copies from the Find methods;
// callers may mutate what they get back.
type Store interface {
	// Save creates or replaces the stored record for e.TaskID.
	Save(ctx context.Context, e *Execution) error

	// FindByID returns the stored record or ErrNotFound.
	FindByID(ctx context.Context, taskID string) (*Execution, error)

	// FindTimedOutTasks returns RUNNING records whose StartedAt is before threshold.
	FindTimedOutTasks(ctx context.Context, threshold time.Time) ([]*Execution, error)

	// FindForCleanup returns terminal records whose CompletedAt is before cutoff.
	FindForCleanup(ctx context.Context, cutoff time.Time) ([]*Execution, error)

	// CountByStatus returns a histogram of stored records by status.
	CountByStatus(ctx context.Context) (map[Status]int, error)
}
