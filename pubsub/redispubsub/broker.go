// Package redispubsub carries task progress over Redis Pub/Sub so every
// server instance sees every update. The latest event per task is also kept
// in a plain key (with a TTL) for catch-up reads after the live event is gone.
package redispubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wingie/webagent/pubsub"
)

// subscriberBuffer caps undelivered events per subscription before the
// decode loop drops them.
const subscriberBuffer = 64

// BrokerConfig tunes the Redis broker. ErrorLogger is required.
type BrokerConfig struct {
	// LatestTTL bounds how long a task's latest event survives without
	// updates (default 7 days, matching the executor's retention window).
	LatestTTL time.Duration

	ErrorLogger *slog.Logger
}

type broker struct {
	rdb    *redis.Client
	config BrokerConfig
}

// NewBroker wraps an existing Redis client as a [pubsub.Broker].
func NewBroker(rdb *redis.Client, config BrokerConfig) pubsub.Broker {
	if config.LatestTTL <= 0 {
		config.LatestTTL = 7 * 24 * time.Hour
	}
	return &broker{rdb: rdb, config: config}
}

// keyForLatest returns the Redis key retaining a task's latest event.
func keyForLatest(taskID string) string {
	return fmt.Sprintf("webagent:task-progress:%s", taskID)
}

func (b *broker) Publish(ctx context.Context, topic string, event pubsub.ProgressEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, topic, payload).Err(); err != nil {
		return err
	}
	// Retention is best-effort: a lost latest key only degrades catch-up reads.
	if topic == pubsub.TopicTaskProgress && event.TaskID != "" {
		if err := b.rdb.Set(ctx, keyForLatest(event.TaskID), payload, b.config.LatestTTL).Err(); err != nil {
			b.config.ErrorLogger.LogAttrs(ctx, slog.LevelWarn, "Latest-event retention failed",
				slog.String("taskId", event.TaskID), slog.String("error", err.Error()))
		}
	}
	return nil
}

func (b *broker) Subscribe(ctx context.Context, topic string) (pubsub.Subscription, error) {
	ps := b.rdb.Subscribe(ctx, topic)
	// Force the subscription onto the wire before returning so events
	// published after this call are not missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	sub := &redisSub{ps: ps, events: make(chan pubsub.ProgressEvent, subscriberBuffer)}
	go sub.decode(ctx, b.config.ErrorLogger)
	return sub, nil
}

func (b *broker) Latest(ctx context.Context, taskID string) (pubsub.ProgressEvent, bool) {
	payload, err := b.rdb.Get(ctx, keyForLatest(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return pubsub.ProgressEvent{}, false
	}
	if err != nil {
		b.config.ErrorLogger.LogAttrs(ctx, slog.LevelWarn, "Latest-event read failed",
			slog.String("taskId", taskID), slog.String("error", err.Error()))
		return pubsub.ProgressEvent{}, false
	}
	var event pubsub.ProgressEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return pubsub.ProgressEvent{}, false
	}
	return event, true
}

func (b *broker) Forget(ctx context.Context, taskID string) error {
	return b.rdb.Del(ctx, keyForLatest(taskID)).Err()
}

type redisSub struct {
	ps        *redis.PubSub
	events    chan pubsub.ProgressEvent
	closeOnce sync.Once
}

func (s *redisSub) Events() <-chan pubsub.ProgressEvent { return s.events }

func (s *redisSub) Close() error {
	var err error
	s.closeOnce.Do(func() { err = s.ps.Close() })
	return err
}

// decode pumps raw Redis messages into typed events until the subscription
// closes. Slow consumers lose events rather than stalling the pump.
func (s *redisSub) decode(ctx context.Context, errorLogger *slog.Logger) {
	defer close(s.events)
	for m := range s.ps.Channel() {
		var event pubsub.ProgressEvent
		if err := json.Unmarshal([]byte(m.Payload), &event); err != nil {
			errorLogger.LogAttrs(ctx, slog.LevelWarn, "Undecodable progress event",
				slog.String("channel", m.Channel), slog.String("error", err.Error()))
			continue
		}
		select {
		case s.events <- event:
		default:
		}
	}
}
