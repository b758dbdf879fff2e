package policies

import (
	"context"
	"net/http"
	"time"

	"github.com/wingie/webagent/svrcore"
)

// NewThrottlingPolicy rejects requests with 429-TooManyRequests once the
// per-second request rate reaches maxRequestsPerSecond.
func NewThrottlingPolicy(maxRequestsPerSecond int64) svrcore.Policy {
	requestsPerSecond := newRateCounter(time.Second)
	return func(ctx context.Context, r *svrcore.ReqRes) bool {
		if requestsPerSecond.Rate() >= maxRequestsPerSecond {
			return r.WriteError(http.StatusTooManyRequests, nil, nil, "TooManyRequests", "Too many requests")
		}
		requestsPerSecond.Add(1)
		return r.Next(ctx)
	}
}
