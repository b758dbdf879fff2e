// Package policies holds the cross-cutting HTTP policies every route runs
// before its own terminal policy: graceful shutdown, metrics, throttling,
// and shared-key authorization.
package policies

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/wingie/webagent/svrcore"
)

type ShutdownMgr struct {
	// Context is canceled HealthProbeDelay after a shutdown signal arrives,
	// giving the load balancer time to take this node out of rotation first.
	context.Context
	shuttingDown     atomic.Bool
	inflightRequests sync.WaitGroup          // Not waited on unboundedly; a wedged request must not hang shutdown forever
	ctxCancel        context.CancelCauseFunc // Cancels Context
}

// ShuttingDown returns true after this process receives a signal to shut down.
func (sm *ShutdownMgr) ShuttingDown() bool { return sm.shuttingDown.Load() }

// ShutdownMgrConfig holds the configuration for the shutdown policy.
type ShutdownMgrConfig struct {
	ErrorLogger *slog.Logger
	// HealthProbeDelay is the time the load balancer takes to stop sending traffic to the process.
	// After this delay, all operations using ShutdownMgr's Context are canceled.
	HealthProbeDelay time.Duration
	// CancellationDelay is the time to wait after Context is canceled before forcefully terminating the process.
	CancellationDelay time.Duration
}

// NewShutdownMgr creates a new ShutdownMgr using the passed-in config.
// Set http.Server's BaseContext to `func(net.Listener) context.Context { return sm.Context }`.
func NewShutdownMgr(c ShutdownMgrConfig) *ShutdownMgr {
	sm := &ShutdownMgr{shuttingDown: atomic.Bool{}, inflightRequests: sync.WaitGroup{}}
	sm.Context, sm.ctxCancel = context.WithCancelCause(context.Background())

	go func() {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM) // SIGINT is Ctrl-C, SIGTERM is default termination signal
		sig := <-sigs                                        // Block until a signal is received
		c.ErrorLogger.Info("Signal " + sig.String() + ": service instance shutting down")

		// 1. Set the flag so the health endpoint tells the load balancer to take this node out of rotation
		sm.shuttingDown.Store(true) // All future requests immediately get http.StatusServiceUnavailable via this policy

		// 2. Give the health probe/load balancer time to stop sending traffic to this node
		time.Sleep(c.HealthProbeDelay)

		// 3. Cancel remaining in-flight requests and give them time to unwind
		sm.ctxCancel(errors.New("shutdown requested"))
		time.Sleep(c.CancellationDelay)

		// 4. No more time given, force node shutdown
		c.ErrorLogger.Info("Service instance shutting down now")
		os.Exit(1)
	}()
	return sm
}

// NewPolicy creates the shutdown policy: 503-ServiceUnavailable while shutting
// down; otherwise the request is processed normally and counted as in-flight.
func (sm *ShutdownMgr) NewPolicy() svrcore.Policy {
	return func(ctx context.Context, r *svrcore.ReqRes) bool {
		if sm.ShuttingDown() {
			return r.WriteError(http.StatusServiceUnavailable, nil, nil, "ServerUnavailable", "This server instance is shutting down. Please try again.")
		}
		sm.inflightRequests.Add(1)
		defer sm.inflightRequests.Done()
		return r.Next(ctx)
	}
}
