package chatserver

import (
	"sync"
	"time"
)

// DefaultMessagesPerMinute is the per-client message budget when none is configured.
const DefaultMessagesPerMinute = 60

// MessageRateLimiter implements a sliding one-minute window per client.
type MessageRateLimiter struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	now      func() time.Time
	accepted []time.Time
}

// NewMessageRateLimiter creates a limiter allowing perMinute messages in any trailing minute.
// A non-positive perMinute disables limiting.
func NewMessageRateLimiter(perMinute int) *MessageRateLimiter {
	return &MessageRateLimiter{
		limit:  perMinute,
		window: time.Minute,
		now:    time.Now,
	}
}

// Allow records a message and reports whether it fits in the window.
// Rejected messages are not counted.
func (r *MessageRateLimiter) Allow() bool {
	if r.limit <= 0 {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.prune(now)

	if len(r.accepted) >= r.limit {
		return false
	}
	r.accepted = append(r.accepted, now)
	return true
}

// InWindow returns the number of messages accepted in the trailing window.
func (r *MessageRateLimiter) InWindow() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prune(r.now())
	return len(r.accepted)
}

func (r *MessageRateLimiter) prune(now time.Time) {
	cutoff := now.Add(-r.window)
	keep := r.accepted[:0]
	for _, at := range r.accepted {
		if at.After(cutoff) {
			keep = append(keep, at)
		}
	}
	r.accepted = keep
}
