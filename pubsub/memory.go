package pubsub

import (
	"context"
	"sync"
)

// subscriberBuffer is the per-subscriber channel capacity. A subscriber that
// falls further behind than this loses events rather than stalling publishers.
const subscriberBuffer = 64

// Memory is the in-process Broker used by Local deployments and tests.
type Memory struct {
	mu     sync.RWMutex
	subs   map[string][]*memorySub  // topic -> subscribers
	latest map[string]ProgressEvent // taskID -> last published event
}

var _ Broker = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{subs: map[string][]*memorySub{}, latest: map[string]ProgressEvent{}}
}

type memorySub struct {
	broker *Memory
	topic  string
	ch     chan ProgressEvent
	once   sync.Once
}

func (s *memorySub) Events() <-chan ProgressEvent { return s.ch }

func (s *memorySub) Close() error {
	s.once.Do(func() {
		b, topic := s.broker, s.topic
		b.mu.Lock()
		subs := b.subs[topic]
		for i, sub := range subs {
			if sub == s {
				b.subs[topic] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(s.ch) // under b.mu so no Publish send can race the close
		b.mu.Unlock()
	})
	return nil
}

func (b *Memory) Publish(_ context.Context, topic string, event ProgressEvent) error {
	b.mu.Lock()
	b.latest[event.TaskID] = event
	b.mu.Unlock()

	// Sends are non-blocking, so holding the read lock here is cheap and keeps
	// Close (which closes s.ch under the write lock) from racing a send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs[topic] {
		select {
		case s.ch <- event: // Per-task order holds: one publisher goroutine per task
		default: // Slow subscriber; drop rather than stall the executor
		}
	}
	return nil
}

func (b *Memory) Subscribe(_ context.Context, topic string) (Subscription, error) {
	s := &memorySub{broker: b, topic: topic, ch: make(chan ProgressEvent, subscriberBuffer)}
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], s)
	b.mu.Unlock()
	return s, nil
}

func (b *Memory) Latest(_ context.Context, taskID string) (ProgressEvent, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.latest[taskID]
	return e, ok
}

func (b *Memory) Forget(_ context.Context, taskID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.latest, taskID)
	return nil
}
