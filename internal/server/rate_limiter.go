// Package server implements per-connection throttling that protects the
// router from chatty clients.
package server

import (
	"time"

	"golang.org/x/time/rate"
)

// newRateLimiter allows bursts of capacity frames, refilled evenly over
// interval.
func newRateLimiter(capacity int, interval time.Duration) *rate.Limiter {
	if capacity <= 0 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	every := rate.Every(interval / time.Duration(capacity))
	return rate.NewLimiter(every, capacity)
}
