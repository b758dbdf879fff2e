// Package config loads the runtime's settings from WEBAGENT_-prefixed
// environment variables, once, at first use.
package config

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/caarlos0/env/v11"
)

// Cloud selects how the task store, queue, broker, and cache are wired.
type Cloud string

const (
	CloudLocal   Cloud = "Local"   // in-memory store, queue, and broker
	CloudAzurite Cloud = "Azurite" // Azure Storage against the Azurite emulator
	CloudAzure   Cloud = "Azure"   // Azure Storage with DefaultAzureCredential
)

type Config struct {
	// ScanPackages narrows discovery logging to these package prefixes
	// (comma-separated; empty means all).
	ScanPackages []string `env:"SCAN_PACKAGES"`

	DefaultTimeoutMs        int64 `env:"DEFAULT_TIMEOUT_MS" envDefault:"10000"`
	MaxInitializationTimeMs int64 `env:"MAX_INITIALIZATION_TIME_MS" envDefault:"5000"`

	WorkerParallelism         int `env:"WORKER_PARALLELISM" envDefault:"4"`
	StuckTaskThresholdMinutes int `env:"STUCK_TASK_THRESHOLD_MINUTES" envDefault:"30"`
	RetentionDays             int `env:"RETENTION_DAYS" envDefault:"7"`
	TaskQueueBound            int `env:"TASK_QUEUE_BOUND" envDefault:"0"`
	TaskTimeoutSeconds        int `env:"TASK_TIMEOUT_SECONDS" envDefault:"300"`

	AsyncEnabled bool `env:"ASYNC_ENABLED" envDefault:"true"`

	LogToolDiscovery      bool `env:"LOG_TOOL_DISCOVERY" envDefault:"false"`
	LogToolExecution      bool `env:"LOG_TOOL_EXECUTION" envDefault:"false"`
	LogPerformanceMetrics bool `env:"LOG_PERFORMANCE_METRICS" envDefault:"false"`

	// CacheProvider chooses the description cache: "none" or "persistent"
	// (persistent requires RedisURL).
	CacheProvider string `env:"CACHE_PROVIDER" envDefault:"none"`
	ProviderModel string `env:"PROVIDER_MODEL" envDefault:"default"`

	Port                 int    `env:"PORT" envDefault:"4044"`
	SharedKey            string `env:"SHARED_KEY"`
	MaxRequestsPerSecond int    `env:"MAX_REQUESTS_PER_SECOND" envDefault:"100"`

	Cloud         Cloud  `env:"CLOUD" envDefault:"Local"`
	AzureBlobURL  string `env:"AZURE_BLOB_URL"`
	AzureQueueURL string `env:"AZURE_QUEUE_URL"`

	// RedisURL (host:port) upgrades the progress broker (and, with
	// CacheProvider "persistent", the description cache) to Redis.
	RedisURL      string `env:"REDIS_URL"`
	RedisPassword string `env:"REDIS_PASSWORD"`
}

func (c *Config) validate() error {
	switch c.Cloud {
	case CloudLocal:
	case CloudAzurite, CloudAzure:
		if c.AzureBlobURL == "" {
			return errors.New("no Azure Blob URL specified")
		}
		if c.AzureQueueURL == "" {
			return errors.New("no Azure Queue URL specified")
		}
	default:
		return fmt.Errorf("unrecognized cloud %q (want Local, Azurite, or Azure)", c.Cloud)
	}
	switch c.CacheProvider {
	case "none":
	case "persistent":
		if c.RedisURL == "" {
			return errors.New("cache provider 'persistent' requires a Redis URL")
		}
	default:
		return fmt.Errorf("unrecognized cache provider %q (want none or persistent)", c.CacheProvider)
	}
	if c.DefaultTimeoutMs <= 0 {
		return errors.New("default timeout must be positive")
	}
	if c.WorkerParallelism <= 0 {
		return errors.New("worker parallelism must be positive")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	return nil
}

var Get = sync.OnceValue(func() *Config {
	cfg := &Config{}
	err := env.ParseWithOptions(cfg, env.Options{Prefix: "WEBAGENT_"})
	if err == nil {
		err = cfg.validate()
	}
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	return cfg
})
