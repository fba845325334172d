// Package ratelimit enforces per-user turn rates with token buckets.
//
// Each user gets a bucket of capacity rate that refills linearly, rate
// tokens per window. Buckets are created on first use and dropped by
// [Limiter.GC] once idle for two windows.
package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

type bucket struct {
	lim      *rate.Limiter
	lastSeen atomic.Int64 // unix nanos
}

// Limiter is a set of per-user buckets. It is safe for concurrent use.
type Limiter struct {
	limit  rate.Limit
	burst  int
	window time.Duration
	now    func() time.Time

	mu      sync.RWMutex
	buckets map[string]*bucket
}

// New creates a limiter allowing n requests per window per user. A
// non-positive n or window disables limiting.
func New(n int, window time.Duration) *Limiter {
	l := &Limiter{
		limit:   rate.Inf,
		burst:   n,
		window:  window,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
	if n > 0 && window > 0 {
		l.limit = rate.Limit(float64(n) / window.Seconds())
	}
	return l
}

// take records use at t and consumes one token if available.
func (b *bucket) take(t time.Time) bool {
	b.lastSeen.Store(t.UnixNano())
	return b.lim.AllowN(t, 1)
}

// Allow consumes one token for uid if available.
func (l *Limiter) Allow(uid string) bool {
	return l.AllowAt(uid, l.now())
}

// AllowAt is Allow evaluated at t. The token is taken while the map lock
// is held so GC cannot drop a bucket between lookup and use.
func (l *Limiter) AllowAt(uid string, t time.Time) bool {
	l.mu.RLock()
	if b, ok := l.buckets[uid]; ok {
		defer l.mu.RUnlock()
		return b.take(t)
	}
	l.mu.RUnlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[uid]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[uid] = b
	}
	return b.take(t)
}

// RetryAfter reports how long uid must wait for the next token. It does
// not consume a token.
func (l *Limiter) RetryAfter(uid string) time.Duration {
	if l.limit == rate.Inf {
		return 0
	}
	now := l.now()
	l.mu.RLock()
	b, ok := l.buckets[uid]
	l.mu.RUnlock()
	if !ok {
		return 0
	}
	tokens := b.lim.TokensAt(now)
	if tokens >= 1 {
		return 0
	}
	secs := (1 - tokens) / float64(l.limit)
	return time.Duration(secs * float64(time.Second))
}

// GC drops buckets idle for more than two windows and returns how many
// were removed. A dropped bucket would have refilled completely, so
// recreating it later is indistinguishable.
func (l *Limiter) GC() int {
	cutoff := l.now().Add(-2 * l.window).UnixNano()
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for uid, b := range l.buckets {
		if b.lastSeen.Load() < cutoff {
			delete(l.buckets, uid)
			n++
		}
	}
	return n
}

// Len returns the number of tracked users.
func (l *Limiter) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.buckets)
}
