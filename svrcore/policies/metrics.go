package policies

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/wingie/webagent/svrcore"
)

// NewMetricsPolicy tracks the four golden signals (traffic, latency, errors,
// saturation) and logs a rollup to logger about once a minute.
func NewMetricsPolicy(logger *slog.Logger) svrcore.Policy {
	requestCountPerMinute := newRateCounter(time.Minute)
	requestLatencyPerMinute := newRateCounter(time.Minute)
	requestServiceFailuresPerMinute := newRateCounter(time.Minute)
	lastUpdate := time.Now()

	return func(ctx context.Context, r *svrcore.ReqRes) bool {
		requestCountPerMinute.Add(1) // Traffic: the rate at which new work comes into the system
		start := time.Now()
		stop := r.Next(ctx)
		duration := time.Since(start) // Latency: the time it takes to process a unit of work
		requestLatencyPerMinute.Add(duration.Milliseconds())
		if sc := r.RW.StatusCode; sc >= 500 && sc < 600 {
			requestServiceFailuresPerMinute.Add(1) // Errors: the rate of unexpected service failures (5xx)
		}

		// Saturation: how much load the system is under relative to its capacity
		if time.Since(lastUpdate) > 1*time.Minute {
			lastUpdate = time.Now()
			var memStats runtime.MemStats
			runtime.ReadMemStats(&memStats)
			logger.Info("Server Stats", "Alloc", memStats.Alloc, "TotalAlloc", memStats.TotalAlloc, "Sys", memStats.Sys, "NumGC", memStats.NumGC, "NumGoroutine", runtime.NumGoroutine())
			logger.Info("Request Stats", "requests/minute", requestCountPerMinute.Rate(), "request ms/minute", requestLatencyPerMinute.Rate(), "5xx/minute", requestServiceFailuresPerMinute.Rate())
		}
		return stop
	}
}
