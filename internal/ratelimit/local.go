package ratelimit

import (
	"context"
	"sync"
	"time"
)

type bucket struct {
	tokens    float64
	window    time.Duration
	lastCheck time.Time
}

// LocalLimiter is a token bucket per (rule, identifier): each bucket holds up
// to rule.Limit tokens and refills at Limit per Window.
type LocalLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	now       func() time.Time
	lastSweep time.Time
}

// NewLocalLimiter creates an empty LocalLimiter.
func NewLocalLimiter() *LocalLimiter {
	return &LocalLimiter{
		buckets:   make(map[string]*bucket),
		now:       time.Now,
		lastSweep: time.Now(),
	}
}

// Allow takes one token from the identifier's bucket. It never errors.
func (l *LocalLimiter) Allow(_ context.Context, identifier string, rule Rule) (bool, error) {
	limit := rule.Limit
	if limit <= 0 {
		limit = 1
	}
	window := rule.Window
	if window <= 0 {
		window = time.Second
	}
	rate := float64(limit) / window.Seconds()

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweepLocked(now)

	key := rule.Key + identifier
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(limit), window: window, lastCheck: now}
		l.buckets[key] = b
	}

	if elapsed := now.Sub(b.lastCheck).Seconds(); elapsed > 0 {
		b.tokens += elapsed * rate
		if b.tokens > float64(limit) {
			b.tokens = float64(limit)
		}
	}
	b.lastCheck = now

	if b.tokens < 1 {
		return false, nil
	}
	b.tokens--
	return true, nil
}

// sweepLocked drops buckets idle long enough to have refilled completely,
// which is equivalent to never having seen the identifier.
func (l *LocalLimiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < time.Minute {
		return
	}
	l.lastSweep = now
	for key, b := range l.buckets {
		if now.Sub(b.lastCheck) >= b.window {
			delete(l.buckets, key)
		}
	}
}

// Len returns the number of tracked buckets.
func (l *LocalLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
