// Package cache holds the pluggable tool-description cache: pre-generated,
// human-readable tool descriptions keyed by (toolName, providerModel), with
// the generation cost and a usage counter per entry. The server works with the
// no-op provider; caching is an optimization, never a requirement.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when no description is cached for the key.
var ErrNotFound = errors.New("description not cached")

// Description is one cached entry. ToolName+ProviderModel form the key.
type Description struct {
	ToolName      string    `json:"toolName"`
	ProviderModel string    `json:"providerModel"`
	Description   string    `json:"description"`
	Generated     time.Time `json:"generated"`
	CostUSD       float64   `json:"costUsd"`
	UsageCount    int64     `json:"usageCount"`
}

// Statistics summarizes the cache for the metrics endpoint.
type Statistics struct {
	Entries      int     `json:"entries"`
	TotalUsage   int64   `json:"totalUsage"`
	TotalCostUSD float64 `json:"totalCostUsd"`
}

// Descriptions is the description-cache collaborator. Implementations must be
// safe for concurrent use.
type Descriptions interface {
	// Get returns the cached description for (toolName, providerModel) or ErrNotFound.
	Get(ctx context.Context, toolName, providerModel string) (*Description, error)

	// Put stores (or replaces) d under (d.ToolName, d.ProviderModel).
	Put(ctx context.Context, d *Description) error

	// IncrementUsage bumps the usage counter for (toolName, providerModel).
	// Incrementing a missing entry is not an error.
	IncrementUsage(ctx context.Context, toolName, providerModel string) error

	// Statistics reports entry count, total usage, and total generation cost.
	Statistics(ctx context.Context) (Statistics, error)

	// Clear removes every entry for providerModel and returns how many were removed.
	Clear(ctx context.Context, providerModel string) (int, error)
}
