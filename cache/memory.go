package cache

import (
	"context"
	"sync"
)

// Memory is an in-process Descriptions provider with the same semantics as the
// Redis-backed one; it backs tests and single-process deployments.
type Memory struct {
	mu   sync.RWMutex
	data map[string]*Description // key = providerModel + "\x00" + toolName
}

var _ Descriptions = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{data: map[string]*Description{}}
}

func key(toolName, providerModel string) string { return providerModel + "\x00" + toolName }

func (m *Memory) Get(_ context.Context, toolName, providerModel string) (*Description, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.data[key(toolName, providerModel)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d // copying prevents the caller mutating stored data
	return &cp, nil
}

func (m *Memory) Put(_ context.Context, d *Description) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.data[key(d.ToolName, d.ProviderModel)] = &cp
	return nil
}

func (m *Memory) IncrementUsage(_ context.Context, toolName, providerModel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.data[key(toolName, providerModel)]; ok {
		d.UsageCount++
	}
	return nil
}

func (m *Memory) Statistics(context.Context) (Statistics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Statistics{Entries: len(m.data)}
	for _, d := range m.data {
		s.TotalUsage += d.UsageCount
		s.TotalCostUSD += d.CostUSD
	}
	return s, nil
}

func (m *Memory) Clear(_ context.Context, providerModel string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k, d := range m.data {
		if d.ProviderModel == providerModel {
			delete(m.data, k)
			removed++
		}
	}
	return removed, nil
}
