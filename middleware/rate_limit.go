package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// clientWindow tracks request counts from one IP inside the current window.
type clientWindow struct {
	Count   int
	FirstAt time.Time
}

// RateLimiter applies a fixed-window request limit per client IP. It protects
// the read endpoints from scraping bursts; the scheduler's own outbound
// pacing is handled separately.
type RateLimiter struct {
	mu           sync.Mutex
	windows      map[string]*clientWindow
	maxRequests  int
	windowPeriod time.Duration
}

// NewRateLimiter creates a rate limiter allowing maxRequests per windowPeriod.
func NewRateLimiter(maxRequests int, windowPeriod time.Duration) *RateLimiter {
	rl := &RateLimiter{
		windows:      make(map[string]*clientWindow),
		maxRequests:  maxRequests,
		windowPeriod: windowPeriod,
	}
	go rl.startCleanup()
	return rl
}

// startCleanup periodically removes expired windows.
func (rl *RateLimiter) startCleanup() {
	ticker := time.NewTicker(10 * time.Minute)
	for range ticker.C {
		rl.mu.Lock()
		now := time.Now()
		for ip, window := range rl.windows {
			if now.Sub(window.FirstAt) > rl.windowPeriod {
				delete(rl.windows, ip)
			}
		}
		rl.mu.Unlock()
	}
}

// Allow records a request from ip and reports whether it is within the
// limit, along with the remaining budget and the time until the window resets.
func (rl *RateLimiter) Allow(ip string) (bool, int, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	window, exists := rl.windows[ip]

	if !exists || now.Sub(window.FirstAt) > rl.windowPeriod {
		rl.windows[ip] = &clientWindow{Count: 1, FirstAt: now}
		return true, rl.maxRequests - 1, rl.windowPeriod
	}

	window.Count++
	remaining := rl.maxRequests - window.Count
	retryAfter := rl.windowPeriod - now.Sub(window.FirstAt)
	if remaining < 0 {
		return false, 0, retryAfter
	}
	return true, remaining, retryAfter
}

// RequestRateLimit creates a middleware enforcing the limiter on each request.
func RequestRateLimit(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		allowed, remaining, retryAfter := rl.Allow(ip)

		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))

		if !allowed {
			c.Header("Retry-After", fmt.Sprintf("%d", int(retryAfter.Seconds())))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limited",
				"message": fmt.Sprintf("Too many requests. Please try again in %d second(s).", int(retryAfter.Seconds())),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
