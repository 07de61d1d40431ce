package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// bucket is the token state for a single key.
type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// Limiter is a token-bucket rate limiter keyed by arbitrary string
// identifiers (client IP, user ID). Each key may spend limit requests per
// window; tokens refill continuously.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   int
	window  time.Duration
	now     func() time.Time // injectable clock for testing
}

// New creates a Limiter that allows limit requests per window. A limit of
// zero or less disables limiting.
func New(limit int, window time.Duration) *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

func (l *Limiter) disabled() bool {
	return l == nil || l.limit <= 0 || l.window <= 0
}

// getBucket returns the bucket for key, creating a full one if needed.
// Must be called with l.mu held.
func (l *Limiter) getBucket(key string, now time.Time) *bucket {
	b, ok := l.buckets[key]
	if !ok {
		every := rate.Limit(float64(l.limit) / l.window.Seconds())
		b = &bucket{lim: rate.NewLimiter(every, l.limit)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b
}

// Allow reports whether a request identified by key is permitted, consuming
// one token when it is.
func (l *Limiter) Allow(key string) bool {
	if l.disabled() {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	return l.getBucket(key, now).lim.AllowN(now, 1)
}

// Status returns the current state for key: the bucket size, the whole
// tokens left, and when the bucket will be full again.
func (l *Limiter) Status(key string) (limit int, remaining int, resetAt time.Time) {
	if l.disabled() {
		return 0, 0, time.Time{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b := l.getBucket(key, now)
	tokens := b.lim.TokensAt(now)

	limit = l.limit
	remaining = int(tokens)
	if remaining < 0 {
		remaining = 0
	}

	deficit := float64(limit) - tokens
	if deficit <= 0 {
		resetAt = now
	} else {
		perSecond := float64(limit) / l.window.Seconds()
		resetAt = now.Add(time.Duration(deficit / perSecond * float64(time.Second)))
	}
	return
}

// Sweep drops buckets not used for longer than idle and returns how many it
// removed. A dropped key starts again with a full bucket.
func (l *Limiter) Sweep(idle time.Duration) int {
	if l.disabled() {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-idle)
	removed := 0
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}
