package tool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wingie/webagent/cache"
)

// RegistryConfig configures optional registry collaborators. The zero value
// gives a registry with no description cache and no discovery logging.
type RegistryConfig struct {
	// Descriptions, when non-nil, is consulted at registration: a cached
	// enriched description for (tool, ProviderModel) replaces the declared one
	// and bumps the entry's usage counter. Misses keep the declared text.
	Descriptions  cache.Descriptions
	ProviderModel string

	// DiscoveryLogger, when non-nil, gets one line per registered tool.
	DiscoveryLogger *slog.Logger
}

// Registry is the in-memory map from tool name to (descriptor, handler).
// Registration is atomic: a bad batch leaves the registry exactly as it was.
// After a successful RegisterAll the registry is read-only, so lookups take
// no lock.
type Registry struct {
	config RegistryConfig

	mu       sync.RWMutex
	byName   map[string]*Registration
	ordered  []*Registration // insertion order, drives List
	initTime atomic.Int64    // milliseconds; 0 until MarkInitialized
	ready    atomic.Bool
}

// Stats is the registry's health/metrics view.
type Stats struct {
	ToolCount    int   `json:"toolCount"`
	HandlerCount int   `json:"handlerCount"`
	Initialized  bool  `json:"initialized"`
	InitTimeMs   int64 `json:"initializationTimeMs"`
}

func NewRegistry(config RegistryConfig) *Registry {
	return &Registry{config: config, byName: map[string]*Registration{}}
}

// RegisterAll validates and records a batch of tools atomically. Every
// registration must carry a uniquely-named descriptor and a non-nil handler;
// each descriptor's schema must build. Any violation rejects the whole batch
// and the registry keeps its prior state.
func (r *Registry) RegisterAll(ctx context.Context, regs []Registration) error {
	if len(regs) == 0 {
		return fmt.Errorf("no tools to register")
	}

	// Validate and compile into a staging area before touching live state.
	staged := make([]*Registration, 0, len(regs))
	stagedNames := map[string]bool{}
	for i := range regs {
		reg := regs[i] // copy; compile mutates the descriptor
		if reg.Handler == nil {
			return fmt.Errorf("tool %q has no handler", reg.Descriptor.Name)
		}
		if err := reg.Descriptor.compile(); err != nil {
			return err
		}
		name := reg.Descriptor.Name
		if stagedNames[name] {
			return fmt.Errorf("duplicate tool %q", name)
		}
		stagedNames[name] = true
		staged = append(staged, &reg)
	}

	// Cache I/O happens after validation and outside the lock; a batch that
	// fails below never touched the cache either.
	r.mu.RLock()
	for _, reg := range staged {
		if _, exists := r.byName[reg.Descriptor.Name]; exists {
			r.mu.RUnlock()
			return fmt.Errorf("tool %q already registered", reg.Descriptor.Name)
		}
	}
	r.mu.RUnlock()
	for _, reg := range staged {
		r.enrichDescription(ctx, &reg.Descriptor)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, reg := range staged {
		if _, exists := r.byName[reg.Descriptor.Name]; exists {
			return fmt.Errorf("tool %q already registered", reg.Descriptor.Name)
		}
	}
	for _, reg := range staged {
		r.byName[reg.Descriptor.Name] = reg
		r.ordered = append(r.ordered, reg)
		if l := r.config.DiscoveryLogger; l != nil {
			l.LogAttrs(ctx, slog.LevelInfo, "Tool registered", slog.String("tool", reg.Descriptor.Name),
				slog.Int("params", len(reg.Descriptor.Params)), slog.Bool("async", reg.Descriptor.Async))
		}
	}
	return nil
}

// enrichDescription substitutes a cached pre-generated description when one
// exists for (tool, providerModel). Cache failures are ignored; the declared
// description always works.
func (r *Registry) enrichDescription(ctx context.Context, d *Descriptor) {
	c := r.config.Descriptions
	if c == nil {
		return
	}
	cached, err := c.Get(ctx, d.Name, r.config.ProviderModel)
	if err != nil || cached == nil || cached.Description == "" {
		return
	}
	d.Description = cached.Description
	_ = c.IncrementUsage(ctx, d.Name, r.config.ProviderModel)
}

// Lookup returns the named tool's descriptor, or nil if unregistered.
func (r *Registry) Lookup(name string) *Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if reg, ok := r.byName[name]; ok {
		return &reg.Descriptor
	}
	return nil
}

// HandlerFor returns the named tool's handler, or nil if unregistered.
func (r *Registry) HandlerFor(name string) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if reg, ok := r.byName[name]; ok {
		return reg.Handler
	}
	return nil
}

// List returns descriptors in registration order.
func (r *Registry) List() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ds := make([]*Descriptor, 0, len(r.ordered))
	for _, reg := range r.ordered {
		ds = append(ds, &reg.Descriptor)
	}
	return ds
}

// MarkInitialized records that startup registration finished and how long it took.
func (r *Registry) MarkInitialized(elapsed time.Duration) {
	r.initTime.Store(elapsed.Milliseconds())
	r.ready.Store(true)
}

// Initialized reports whether MarkInitialized has been called.
func (r *Registry) Initialized() bool { return r.ready.Load() }

// Stats returns the registry's counters. ToolCount always equals HandlerCount;
// every registration carries both.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{
		ToolCount:    len(r.ordered),
		HandlerCount: len(r.ordered),
		Initialized:  r.ready.Load(),
		InitTimeMs:   r.initTime.Load(),
	}
}
