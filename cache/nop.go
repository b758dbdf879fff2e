package cache

import "context"

// Nop is the do-nothing Descriptions provider: every Get misses, Put and
// IncrementUsage are discarded, Statistics is empty. Used when caching is
// disabled (the "none" cache provider).
type Nop struct{}

var _ Descriptions = Nop{}

func (Nop) Get(context.Context, string, string) (*Description, error) { return nil, ErrNotFound }
func (Nop) Put(context.Context, *Description) error                   { return nil }
func (Nop) IncrementUsage(context.Context, string, string) error      { return nil }
func (Nop) Statistics(context.Context) (Statistics, error)            { return Statistics{}, nil }
func (Nop) Clear(context.Context, string) (int, error)                { return 0, nil }
