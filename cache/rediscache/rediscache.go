// Package rediscache stores tool descriptions in Redis hashes, one hash per
// (providerModel, toolName) entry, so multiple server instances share one
// cache and usage counters survive restarts.
package rediscache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wingie/webagent/cache"
)

const (
	fieldDescription = "description"
	fieldGenerated   = "generated"
	fieldCostUSD     = "costUsd"
	fieldUsageCount  = "usageCount"
)

type descriptions struct {
	rdb *redis.Client
}

// New wraps an existing Redis client as a [cache.Descriptions].
func New(rdb *redis.Client) cache.Descriptions {
	return &descriptions{rdb: rdb}
}

// keyFor returns the hash key for one cached description.
func keyFor(toolName, providerModel string) string {
	return fmt.Sprintf("webagent:tool-description:%s:%s", providerModel, toolName)
}

// keyPatternFor matches every description key for a provider model.
func keyPatternFor(providerModel string) string {
	return fmt.Sprintf("webagent:tool-description:%s:*", providerModel)
}

func (d *descriptions) Get(ctx context.Context, toolName, providerModel string) (*cache.Description, error) {
	fields, err := d.rdb.HGetAll(ctx, keyFor(toolName, providerModel)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 { // HGetAll reports a missing key as an empty map
		return nil, cache.ErrNotFound
	}
	entry := &cache.Description{
		ToolName:      toolName,
		ProviderModel: providerModel,
		Description:   fields[fieldDescription],
	}
	if v, err := time.Parse(time.RFC3339Nano, fields[fieldGenerated]); err == nil {
		entry.Generated = v
	}
	if v, err := strconv.ParseFloat(fields[fieldCostUSD], 64); err == nil {
		entry.CostUSD = v
	}
	if v, err := strconv.ParseInt(fields[fieldUsageCount], 10, 64); err == nil {
		entry.UsageCount = v
	}
	return entry, nil
}

func (d *descriptions) Put(ctx context.Context, entry *cache.Description) error {
	return d.rdb.HSet(ctx, keyFor(entry.ToolName, entry.ProviderModel),
		fieldDescription, entry.Description,
		fieldGenerated, entry.Generated.UTC().Format(time.RFC3339Nano),
		fieldCostUSD, strconv.FormatFloat(entry.CostUSD, 'f', -1, 64),
		fieldUsageCount, strconv.FormatInt(entry.UsageCount, 10),
	).Err()
}

func (d *descriptions) IncrementUsage(ctx context.Context, toolName, providerModel string) error {
	// HIncrBy on a missing key would create a stub entry; skip those.
	key := keyFor(toolName, providerModel)
	exists, err := d.rdb.Exists(ctx, key).Result()
	if err != nil || exists == 0 {
		return err
	}
	return d.rdb.HIncrBy(ctx, key, fieldUsageCount, 1).Err()
}

func (d *descriptions) Statistics(ctx context.Context) (cache.Statistics, error) {
	stats := cache.Statistics{}
	err := d.forEachKey(ctx, keyPatternFor("*"), func(key string) error {
		fields, err := d.rdb.HGetAll(ctx, key).Result()
		if errors.Is(err, redis.Nil) || len(fields) == 0 {
			return nil // expired between scan and read
		}
		if err != nil {
			return err
		}
		stats.Entries++
		if v, err := strconv.ParseInt(fields[fieldUsageCount], 10, 64); err == nil {
			stats.TotalUsage += v
		}
		if v, err := strconv.ParseFloat(fields[fieldCostUSD], 64); err == nil {
			stats.TotalCostUSD += v
		}
		return nil
	})
	return stats, err
}

func (d *descriptions) Clear(ctx context.Context, providerModel string) (int, error) {
	removed := 0
	err := d.forEachKey(ctx, keyPatternFor(providerModel), func(key string) error {
		if err := d.rdb.Del(ctx, key).Err(); err != nil {
			return err
		}
		removed++
		return nil
	})
	return removed, err
}

// forEachKey SCANs keys matching pattern and applies fn to each.
func (d *descriptions) forEachKey(ctx context.Context, pattern string, fn func(key string) error) error {
	var cursor uint64
	for {
		keys, next, err := d.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return err
		}
		for _, key := range keys {
			if err := fn(key); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
