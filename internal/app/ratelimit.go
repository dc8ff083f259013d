package app

import (
	"sync"
	"time"

	"github.com/medrelay/telecall/internal/domain"
)

// DialRateLimiter bounds repeated dial attempts per remote party within
// a sliding window.
type DialRateLimiter struct {
	mu       sync.Mutex
	history  map[domain.UserID][]time.Time
	limit    int
	interval time.Duration
}

func NewDialRateLimiter(limit int, interval time.Duration) *DialRateLimiter {
	return &DialRateLimiter{
		history:  make(map[domain.UserID][]time.Time),
		limit:    limit,
		interval: interval,
	}
}

func (rl *DialRateLimiter) Allow(target domain.UserID) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[target]
	fresh := make([]time.Time, 0, len(attempts))
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		return false
	}

	fresh = append(fresh, now)
	rl.history[target] = fresh
	return true
}
