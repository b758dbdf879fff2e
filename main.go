package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/redis/go-redis/v9"
	"github.com/wingie/webagent/browser"
	"github.com/wingie/webagent/cache"
	"github.com/wingie/webagent/cache/rediscache"
	"github.com/wingie/webagent/config"
	"github.com/wingie/webagent/dispatch"
	"github.com/wingie/webagent/internal/aids"
	"github.com/wingie/webagent/pubsub"
	"github.com/wingie/webagent/pubsub/redispubsub"
	"github.com/wingie/webagent/svrcore"
	"github.com/wingie/webagent/svrcore/policies"
	"github.com/wingie/webagent/task"
	"github.com/wingie/webagent/task/aztask"
	"github.com/wingie/webagent/task/localtask"
	"github.com/wingie/webagent/tool"
)

const version = "1.0.0"

// taskContainerName is the blob container holding mirrored task records.
const taskContainerName = "tasks"

// Azurite's well-known development storage credentials.
const (
	azuriteAccount = "devstoreaccount1"
	azuriteKey     = "Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw=="
)

var (
	errorLogger   = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	metricsLogger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	shutdownMgr   = policies.NewShutdownMgr(policies.ShutdownMgrConfig{ErrorLogger: errorLogger, HealthProbeDelay: time.Second * 2, CancellationDelay: time.Second * 3})
)

func main() {
	c := config.Get()

	// Task store + queue per cloud mode
	var store task.Store
	var queue task.Queue
	switch c.Cloud {
	case config.CloudLocal:
		store = localtask.NewStore()
		queue = localtask.NewQueue(c.TaskQueueBound)

	case config.CloudAzurite:
		blobCred := aids.Must(azblob.NewSharedKeyCredential(azuriteAccount, azuriteKey))
		blobClient := aids.Must(azblob.NewClientWithSharedKeyCredential(c.AzureBlobURL, blobCred, nil))
		queueCred := aids.Must(azqueue.NewSharedKeyCredential(azuriteAccount, azuriteKey))
		queueClient := aids.Must(azqueue.NewQueueClientWithSharedKeyCredential(c.AzureQueueURL, queueCred, nil))
		store = aztask.NewStore(blobClient, taskContainerName, errorLogger)
		queue = aids.Must(aztask.NewQueue(shutdownMgr.Context, queueClient, errorLogger))

	case config.CloudAzure:
		cred := aids.Must(azidentity.NewDefaultAzureCredential(nil))
		blobClient := aids.Must(azblob.NewClient(c.AzureBlobURL, cred, nil))
		queueClient := aids.Must(azqueue.NewQueueClient(c.AzureQueueURL, cred, nil))
		store = aztask.NewStore(blobClient, taskContainerName, errorLogger)
		queue = aids.Must(aztask.NewQueue(shutdownMgr.Context, queueClient, errorLogger))
	}

	// Progress broker + description cache; Redis upgrades both
	var broker pubsub.Broker = pubsub.NewMemory()
	var descriptions cache.Descriptions = cache.Nop{}
	if c.RedisURL != "" {
		rdb := redis.NewClient(&redis.Options{Addr: c.RedisURL, Password: c.RedisPassword})
		broker = redispubsub.NewBroker(rdb, redispubsub.BrokerConfig{
			ErrorLogger: errorLogger,
			LatestTTL:   time.Duration(c.RetentionDays) * 24 * time.Hour,
		})
		if c.CacheProvider == "persistent" {
			descriptions = rediscache.New(rdb)
		}
	}

	executor := task.NewExecutor(shutdownMgr.Context, task.ExecutorConfig{
		Workers:         c.WorkerParallelism,
		DefaultTimeout:  time.Duration(c.TaskTimeoutSeconds) * time.Second,
		StuckThreshold:  time.Duration(c.StuckTaskThresholdMinutes) * time.Minute,
		Retention:       time.Duration(c.RetentionDays) * 24 * time.Hour,
		Store:           store,
		Queue:           queue,
		Broker:          broker,
		ErrorLogger:     errorLogger,
		ExecutionLogger: aids.Iif(c.LogToolExecution, errorLogger, nil),
	})

	registry := tool.NewRegistry(tool.RegistryConfig{
		Descriptions:    descriptions,
		ProviderModel:   c.ProviderModel,
		DiscoveryLogger: aids.Iif(c.LogToolDiscovery, errorLogger, nil),
	})

	automator := browser.Canned{}
	executor.RegisterProcessor("web_browse", newWebBrowseProcessor(automator))
	executor.RegisterProcessor("travel_research", newTravelResearchProcessor(automator))

	start := time.Now()
	if c.LogToolDiscovery && len(c.ScanPackages) > 0 {
		errorLogger.Info("Tool discovery", "packages", c.ScanPackages)
	}
	aids.Must0(registry.RegisterAll(shutdownMgr.Context, deploymentTools(automator)))
	elapsed := time.Since(start)
	if elapsed.Milliseconds() > c.MaxInitializationTimeMs {
		errorLogger.Warn("Tool registration exceeded its time budget",
			"elapsedMs", elapsed.Milliseconds(), "budgetMs", c.MaxInitializationTimeMs)
	}
	registry.MarkInitialized(elapsed)

	dispatcher := dispatch.NewDispatcher(dispatch.Config{
		Registry:          registry,
		Serializer:        tool.Serializer{Logger: aids.Iif(c.LogToolExecution, errorLogger, nil)},
		Executor:          executor,
		AsyncEnabled:      c.AsyncEnabled,
		DefaultTimeoutMs:  c.DefaultTimeoutMs,
		ExecutionLogger:   aids.Iif(c.LogToolExecution, errorLogger, nil),
		PerformanceLogger: aids.Iif(c.LogPerformanceMetrics, metricsLogger, nil),
	})

	ops := &httpOps{
		errorLogger:  errorLogger,
		config:       c,
		registry:     registry,
		dispatcher:   dispatcher,
		executor:     executor,
		broker:       broker,
		descriptions: descriptions,
	}

	policyChain := []svrcore.Policy{
		shutdownMgr.NewPolicy(),
		policies.NewMetricsPolicy(metricsLogger),
		policies.NewThrottlingPolicy(int64(c.MaxRequestsPerSecond)),
		policies.NewSharedKeyPolicy(c.SharedKey),
	}

	s := &http.Server{
		Handler: svrcore.BuildHandler(svrcore.BuildHandlerConfig{
			Policies: policyChain,
			Routes:   ops.routes(),
			Logger:   slog.New(slog.NewTextHandler(os.Stdout, nil)),
		}),
		DisableGeneralOptionsHandler: true,
		MaxHeaderBytes:               http.DefaultMaxHeaderBytes,
		BaseContext:                  func(_ net.Listener) context.Context { return shutdownMgr.Context },
		ReadHeaderTimeout:            5 * time.Second,
		ReadTimeout:                  30 * time.Second,
		WriteTimeout:                 30 * time.Second,
	}

	ln := aids.Must(net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(c.Port))))
	fmt.Printf("Listening on port: %d\n", c.Port)
	os.Stdout.Sync()

	if err := s.Serve(ln); aids.IsError(err) && !errors.Is(err, http.ErrServerClosed) {
		panic(err)
	}
}
