package auth

// ratelimit.go implements the per-IP failed-authentication rate limiter used
// by the dashboard server. Five failed token comparisons from one address
// trigger a 60 second block; a successful comparison clears the counter.

import (
	"sync"
	"time"
)

const (
	// maxFailures is the number of failed attempts before an IP is blocked.
	maxFailures = 5

	// blockDuration is how long an IP stays blocked after exceeding the limit.
	blockDuration = 60 * time.Second
)

// limiterEntry tracks failed attempts for a single client IP.
type limiterEntry struct {
	failures     int
	blockedUntil time.Time
}

// RateLimiter tracks failed authentication attempts per client IP.
// All methods are safe for concurrent use.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry

	// timeNow is replaceable in tests.
	timeNow func() time.Time
}

// NewRateLimiter creates an empty rate limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		entries: make(map[string]*limiterEntry),
		timeNow: time.Now,
	}
}

// IsBlocked reports whether the IP is currently blocked. Expired blocks are
// garbage-collected on this probe rather than by a background sweeper.
func (rl *RateLimiter) IsBlocked(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.entries[ip]
	if !ok {
		return false
	}

	if entry.blockedUntil.IsZero() {
		return false
	}

	if rl.timeNow().After(entry.blockedUntil) {
		// Block expired; drop the entry so the map doesn't grow unbounded.
		delete(rl.entries, ip)
		return false
	}
	return true
}

// RecordFailure counts a failed token comparison for the IP. The fifth
// failure arms a 60 second block.
func (rl *RateLimiter) RecordFailure(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.entries[ip]
	if !ok {
		entry = &limiterEntry{}
		rl.entries[ip] = entry
	}

	entry.failures++
	if entry.failures >= maxFailures {
		entry.blockedUntil = rl.timeNow().Add(blockDuration)
	}
}

// RecordSuccess clears the IP's failure counter after a valid token.
func (rl *RateLimiter) RecordSuccess(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.entries, ip)
}
