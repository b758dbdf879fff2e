package task

import "context"

// Queue is the dispatch queue between Submit and the worker pool. It is FIFO
// per submitter; the local implementation is FIFO globally.
type Queue interface {
	// Enqueue adds a task id. A bounded queue at capacity returns ErrQueueFull.
	Enqueue(ctx context.Context, taskID string) error

	// Dequeue blocks until a task id is available or ctx is done, in which
	// case it returns ctx.Err().
	Dequeue(ctx context.Context) (string, error)

	// Len is the current queue depth, for the metrics endpoint. Distributed
	// implementations may return an approximation.
	Len(ctx context.Context) (int, error)
}
