package localtask

import (
	"context"
	"sync"

	"github.com/wingie/webagent/task"
)

// localQueue is an in-process FIFO [task.Queue]. A maxDepth of 0 means
// unbounded; otherwise Enqueue rejects with [task.ErrQueueFull] at the bound.
type localQueue struct {
	maxDepth int
	mu       sync.Mutex
	ids      []string
	wake     chan struct{} // 1-buffered; nudges one blocked Dequeue
}

// NewQueue creates an in-process FIFO [task.Queue].
func NewQueue(maxDepth int) task.Queue {
	return &localQueue{maxDepth: maxDepth, wake: make(chan struct{}, 1)}
}

func (q *localQueue) Enqueue(_ context.Context, taskID string) error {
	q.mu.Lock()
	if q.maxDepth > 0 && len(q.ids) >= q.maxDepth {
		q.mu.Unlock()
		return task.ErrQueueFull
	}
	q.ids = append(q.ids, taskID)
	q.mu.Unlock()
	q.nudge()
	return nil
}

func (q *localQueue) Dequeue(ctx context.Context) (string, error) {
	for {
		q.mu.Lock()
		if len(q.ids) > 0 {
			taskID := q.ids[0]
			q.ids = q.ids[1:]
			if len(q.ids) > 0 {
				q.nudge() // chain the wakeup for the next waiter
			}
			q.mu.Unlock()
			return taskID, nil
		}
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-q.wake:
		}
	}
}

func (q *localQueue) Len(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids), nil
}

func (q *localQueue) nudge() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
