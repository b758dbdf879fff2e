// Package localtask provides in-memory task persistence and dispatch for
// single-process deployments. Semantics match the aztask equivalents so the
// executor behaves identically under either wiring.
package localtask

import (
	"context"
	"sync"
	"time"

	"github.com/wingie/webagent/task"
)

// localStore is an in-memory [task.Store] with the same semantics as the
// Azure blob store.
type localStore struct {
	data map[string]*task.Execution
	mu   *sync.RWMutex
}

// NewStore creates an in-memory [task.Store].
func NewStore() task.Store {
	return &localStore{data: map[string]*task.Execution{}, mu: &sync.RWMutex{}}
}

func (s *localStore) Save(_ context.Context, e *task.Execution) error {
	copy := e.Copy()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[e.TaskID] = &copy
	return nil
}

func (s *localStore) FindByID(_ context.Context, taskID string) (*task.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[taskID]
	if !ok {
		return nil, task.ErrNotFound
	}
	copy := e.Copy()
	return &copy, nil
}

func (s *localStore) FindTimedOutTasks(_ context.Context, threshold time.Time) ([]*task.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stuck []*task.Execution
	for _, e := range s.data {
		if e.Status == task.StatusRunning && e.StartedAt != nil && e.StartedAt.Before(threshold) {
			copy := e.Copy()
			stuck = append(stuck, &copy)
		}
	}
	return stuck, nil
}

func (s *localStore) FindForCleanup(_ context.Context, cutoff time.Time) ([]*task.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var aged []*task.Execution
	for _, e := range s.data {
		if e.Status.Terminal() && e.CompletedAt != nil && e.CompletedAt.Before(cutoff) {
			copy := e.Copy()
			aged = append(aged, &copy)
		}
	}
	return aged, nil
}

func (s *localStore) CountByStatus(_ context.Context) (map[task.Status]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := map[task.Status]int{}
	for _, e := range s.data {
		counts[e.Status]++
	}
	return counts, nil
}
