package middleware

import (
	"net"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// RateLimiter is a fixed-window request counter. Authenticated callers
// are bucketed by API token so a whole office behind one NAT does not
// share a budget; anonymous requests fall back to the client IP.
type RateLimiter struct {
	mu           sync.Mutex
	requestCount map[string]int
	limit        int
	window       time.Duration
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		requestCount: make(map[string]int),
		limit:        limit,
		window:       window,
	}

	// Periodically clean up old entries
	go func() {
		for {
			time.Sleep(window)
			rl.mu.Lock()
			rl.requestCount = make(map[string]int)
			rl.mu.Unlock()
		}
	}()

	return rl
}

func (rl *RateLimiter) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-Api-Token")
		if key == "" {
			ip, _, err := net.SplitHostPort(c.Request.RemoteAddr)
			if err != nil {
				ip = c.ClientIP()
			}
			key = ip
		}

		rl.mu.Lock()
		defer rl.mu.Unlock()

		rl.requestCount[key]++
		if rl.requestCount[key] > rl.limit {
			c.JSON(429, gin.H{
				"error":   "Too Many Requests",
				"message": "Rate limit exceeded. Please wait before making more requests.",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// Global rate limiter instances for different endpoint groups
var (
	GlobalRateLimiter = NewRateLimiter(300, 1*time.Minute) // general API traffic
	BulkRateLimiter   = NewRateLimiter(10, 1*time.Minute)  // bulk apply and spreadsheet import/export
	AdminRateLimiter  = NewRateLimiter(30, 1*time.Minute)  // client/team/template administration
)
