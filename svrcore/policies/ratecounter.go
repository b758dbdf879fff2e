package policies

import (
	"sync"
	"time"
)

// rateCounter tracks a count within a rolling window of the configured duration.
type rateCounter struct {
	duration    time.Duration // immutable
	mu          sync.Mutex
	windowStart time.Time
	count       int64
}

func newRateCounter(d time.Duration) *rateCounter {
	return &rateCounter{duration: d, windowStart: time.Now()}
}

// Add increments the count, resetting first if the window has rolled over.
func (rc *rateCounter) Add(delta int64) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if now := time.Now(); now.Sub(rc.windowStart) >= rc.duration {
		rc.count, rc.windowStart = 0, now
	}
	rc.count += delta
}

// Rate returns the count in the current time window.
func (rc *rateCounter) Rate() int64 {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if now := time.Now(); now.Sub(rc.windowStart) >= rc.duration {
		rc.count, rc.windowStart = 0, now
	}
	return rc.count
}
