package monitor

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is a token bucket that can be queried before a request and
// charged afterwards
type RateLimiter struct {
	limiter *rate.Limiter

	mu       sync.Mutex
	requests map[string]int
	failures map[string]int
}

// NewRateLimiter allows rps requests per second with the given burst
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if rps <= 0 {
		rps = 20
	}
	if burst <= 0 {
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	return &RateLimiter{
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		requests: make(map[string]int),
		failures: make(map[string]int),
	}
}

// CanMakeRequest reports whether a token is available now
func (r *RateLimiter) CanMakeRequest() bool {
	return r.limiter.Tokens() >= 1
}

// WaitTime returns how long until a token is available
func (r *RateLimiter) WaitTime() time.Duration {
	now := time.Now()
	res := r.limiter.ReserveN(now, 1)
	if !res.OK() {
		return 0
	}
	delay := res.DelayFrom(now)
	res.CancelAt(now)
	return delay
}

// RecordRequest charges one token and counts the outcome for endpoint. The
// charge is taken even from an empty bucket, so callers that passed
// CanMakeRequest together all push the next token further out.
func (r *RateLimiter) RecordRequest(endpoint string, success bool) {
	r.limiter.ReserveN(time.Now(), 1)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests[endpoint]++
	if !success {
		r.failures[endpoint]++
	}
}

// EndpointStats returns the request and failure counts for endpoint
func (r *RateLimiter) EndpointStats(endpoint string) (requests, failures int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests[endpoint], r.failures[endpoint]
}
