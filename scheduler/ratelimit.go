package scheduler

import (
	"math/rand"
	"time"
)

// RateLimiter spaces outbound provider calls by a fixed delay plus a random
// jitter, so repeated runs do not hammer the provider in synchronized bursts.
// Wait must be called immediately before every provider call, retries included.
type RateLimiter struct {
	delay  time.Duration
	jitter time.Duration
	sleep  func(time.Duration)
	randFn func() float64
}

// NewRateLimiter creates a rate limiter with the given base delay and jitter bound.
func NewRateLimiter(delay, jitter time.Duration) *RateLimiter {
	return &RateLimiter{
		delay:  delay,
		jitter: jitter,
		sleep:  time.Sleep,
		randFn: rand.Float64,
	}
}

// Wait pauses the caller for delay + uniform(0, jitter).
func (r *RateLimiter) Wait() {
	pause := r.delay
	if r.jitter > 0 {
		pause += time.Duration(r.randFn() * float64(r.jitter))
	}
	if pause > 0 {
		r.sleep(pause)
	}
}
