// Package pubsub carries task progress to external observers: the executor
// publishes one event per progress change on the "task:progress" topic, and
// any number of independent consumers subscribe. Brokers also retain the
// latest event per task so late subscribers (and the admin dashboard) can
// render current state without replaying history.
package pubsub

import (
	"context"
	"time"
)

// TopicTaskProgress is the topic every task progress event is published under.
const TopicTaskProgress = "task:progress"

// ProgressEvent is the wire payload for one progress change.
type ProgressEvent struct {
	TaskID          string    `json:"taskId"`
	Status          string    `json:"status"`
	Message         string    `json:"message,omitempty"`
	ProgressPercent int       `json:"progressPercent"`
	Screenshots     []string  `json:"screenshots,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
	NewScreenshot   *string   `json:"newScreenshot,omitempty"`
}

// Subscription is one consumer's feed. Events arrive in publish order per
// task. Close releases the feed; the Events channel is closed afterwards.
type Subscription interface {
	Events() <-chan ProgressEvent
	Close() error
}

// Broker is the progress pub/sub collaborator. Publish failures must never
// block or abort a task transition; callers log and continue.
type Broker interface {
	// Publish delivers event to current topic subscribers and retains it as
	// the task's latest event.
	Publish(ctx context.Context, topic string, event ProgressEvent) error

	// Subscribe opens a feed of events published to topic after this call.
	Subscribe(ctx context.Context, topic string) (Subscription, error)

	// Latest returns the retained latest event for a task, or false.
	Latest(ctx context.Context, taskID string) (ProgressEvent, bool)

	// Forget drops the retained state for a task. Used by retention cleanup.
	Forget(ctx context.Context, taskID string) error
}
