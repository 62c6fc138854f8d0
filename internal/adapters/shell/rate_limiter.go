package shell

import (
	"sync"
	"time"

	"github.com/dkeye/LiveView/internal/core"
)

// OpenRateLimiter is a sliding-window limit on opens per client token.
type OpenRateLimiter struct {
	mu       sync.Mutex
	history  map[core.ClientToken][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

func NewOpenRateLimiter(limit int, interval time.Duration) *OpenRateLimiter {
	return &OpenRateLimiter{
		history:  make(map[core.ClientToken][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

func (rl *OpenRateLimiter) Allow(token core.ClientToken) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[token]
	fresh := make([]time.Time, 0, len(attempts)+1)
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[token] = fresh
		return false
	}

	rl.history[token] = append(fresh, now)
	return true
}
