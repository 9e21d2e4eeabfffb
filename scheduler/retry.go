package scheduler

import (
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retrier bounds a fallible operation to maxRetries+1 attempts with a fixed
// delay between them. It does not rate-limit: operations are expected to call
// RateLimiter.Wait themselves before contacting the provider.
type Retrier struct {
	maxRetries int
	delay      time.Duration
}

// NewRetrier creates a retrier performing at most maxRetries retries after
// the initial attempt, waiting delay between attempts.
func NewRetrier(maxRetries int, delay time.Duration) *Retrier {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Retrier{maxRetries: maxRetries, delay: delay}
}

// Execute runs op until it succeeds or the attempt budget is exhausted.
// Intermediate failures are logged and swallowed; the final failure is
// returned wrapped with the attempt count.
func (r *Retrier) Execute(label string, op func() error) error {
	bo := backoff.WithMaxRetries(backoff.NewConstantBackOff(r.delay), uint64(r.maxRetries))

	err := backoff.RetryNotify(op, bo, func(err error, next time.Duration) {
		log.Printf("Attempt failed for %s, retrying in %s: %v", label, next, err)
	})
	if err != nil {
		return fmt.Errorf("%s failed after %d attempts: %w", label, r.maxRetries+1, err)
	}
	return nil
}
