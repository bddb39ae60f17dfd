// Package server implements a token bucket rate limiter shared by all
// connections of one user.
package server

import (
	"sync"
	"time"
)

// rateLimiter is a token bucket. Tokens refill continuously at
// capacity/interval per second.
type rateLimiter struct {
	mu        sync.Mutex
	tokens    float64
	capacity  float64
	rate      float64
	lastCheck time.Time
	now       func() time.Time
}

func newRateLimiter(capacity int, interval time.Duration, now func() time.Time) *rateLimiter {
	if capacity <= 0 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	if now == nil {
		now = time.Now
	}

	rate := float64(capacity) / interval.Seconds()
	if rate <= 0 {
		rate = float64(capacity)
	}

	return &rateLimiter{
		tokens:    float64(capacity),
		capacity:  float64(capacity),
		rate:      rate,
		lastCheck: now(),
		now:       now,
	}
}

func (rl *rateLimiter) allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	elapsed := now.Sub(rl.lastCheck).Seconds()
	rl.lastCheck = now

	if elapsed > 0 {
		rl.tokens += elapsed * rl.rate
		if rl.tokens > rl.capacity {
			rl.tokens = rl.capacity
		}
	}

	if rl.tokens < 1 {
		return false
	}

	rl.tokens--
	return true
}

// userLimiters shares one bucket per user across all of that user's
// connections, so opening more sockets does not raise the limit.
type userLimiters struct {
	mu      sync.Mutex
	cfg     RateLimitConfig
	now     func() time.Time
	buckets map[string]*rateLimiter
}

func newUserLimiters(cfg RateLimitConfig, now func() time.Time) *userLimiters {
	return &userLimiters{
		cfg:     cfg,
		now:     now,
		buckets: make(map[string]*rateLimiter),
	}
}

func (u *userLimiters) allow(username string) bool {
	u.mu.Lock()
	bucket, ok := u.buckets[username]
	if !ok {
		bucket = newRateLimiter(u.cfg.Burst, u.cfg.RefillInterval, u.now)
		u.buckets[username] = bucket
	}
	u.mu.Unlock()
	return bucket.allow()
}
