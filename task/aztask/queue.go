package aztask

import (
	"context"
	"log/slog"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/wingie/webagent/internal/aids"
	"github.com/wingie/webagent/task"
)

const (
	// pollInterval paces the dequeue loop when the queue is idle.
	pollInterval = 200 * time.Millisecond

	// dequeueVisibility hides a message for the dequeue-then-delete window.
	dequeueVisibility = 30 * time.Second

	// poisonDequeueCount is the delivery count beyond which a message is
	// considered poison and discarded.
	poisonDequeueCount = 3
)

// azQueue is a [task.Queue] over Azure Queue Storage. Messages are deleted
// at dequeue (at-most-once): the executor's map is the authority, and a task
// lost to a crashed worker is rescued by the stuck sweep.
type azQueue struct {
	client      *azqueue.QueueClient
	errorLogger *slog.Logger
}

// NewQueue creates the queue if needed and returns a [task.Queue] over it.
func NewQueue(ctx context.Context, client *azqueue.QueueClient, errorLogger *slog.Logger) (task.Queue, error) {
	if _, err := client.Create(ctx, nil); aids.IsError(err) { // Make sure the queue exists
		return nil, err
	}
	return &azQueue{client: client, errorLogger: errorLogger}, nil
}

func (q *azQueue) Enqueue(ctx context.Context, taskID string) error {
	_, err := q.client.EnqueueMessage(ctx, taskID, nil)
	return err
}

func (q *azQueue) Dequeue(ctx context.Context) (string, error) {
	o := &azqueue.DequeueMessagesOptions{
		NumberOfMessages:  aids.New(int32(1)),
		VisibilityTimeout: aids.New(int32(dequeueVisibility.Seconds())),
	}
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(pollInterval):
		}
		resp, err := q.client.DequeueMessages(ctx, o)
		if aids.IsError(err) {
			// Service hiccup; the poll pacing doubles as the backoff
			q.errorLogger.LogAttrs(ctx, slog.LevelWarn, "DequeueMessages failed", slog.String("error", err.Error()))
			continue
		}
		for _, m := range resp.Messages {
			if *m.DequeueCount > poisonDequeueCount { // Poison message
				q.errorLogger.Error("PoisonMessage", slog.String("messageID", *m.MessageID))
				q.client.DeleteMessage(ctx, *m.MessageID, *m.PopReceipt, nil) // Ignore any failure
				continue
			}
			q.client.DeleteMessage(ctx, *m.MessageID, *m.PopReceipt, nil) // Ignore any failure
			return *m.MessageText, nil
		}
	}
}

func (q *azQueue) Len(ctx context.Context) (int, error) {
	props, err := q.client.GetProperties(ctx, nil)
	if aids.IsError(err) {
		return 0, err
	}
	if props.ApproximateMessagesCount == nil {
		return 0, nil
	}
	return int(*props.ApproximateMessagesCount), nil
}
