package store

import "time"

const (
	// DefaultRetryDelay is the base backoff applied when FailJob is called
	// with a non-positive baseDelay.
	DefaultRetryDelay = 30 * time.Second
	// MaxRetryDelay caps the exponential schedule.
	MaxRetryDelay = time.Hour
)

// RetryBackoff returns the delay before attempt+1 becomes eligible:
// base doubled per prior attempt, capped at MaxRetryDelay. No jitter — the
// schedule is part of the queue's observable contract (30s, 60s, 120s, ...
// for the default base), and claim contention is already smoothed by the
// claim path itself.
func RetryBackoff(attempts int, base time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= MaxRetryDelay {
			return MaxRetryDelay
		}
	}
	if delay > MaxRetryDelay {
		return MaxRetryDelay
	}
	return delay
}
