// Package ratelimit throttles rule edits per user with token buckets.
package ratelimit

import (
	"strings"
	"sync"
	"time"
)

type Limiter struct {
	mu      sync.Mutex
	rps     float64
	burst   float64
	buckets map[string]*bucket
}

type bucket struct {
	tokens float64
	last   time.Time
}

// New returns a limiter refilling rps tokens per second up to burst.
// A non-positive rps or burst disables limiting.
func New(rps float64, burst int) *Limiter {
	return &Limiter{rps: rps, burst: float64(burst), buckets: make(map[string]*bucket)}
}

// Key folds a user handle so "@Alice" and "alice" share a bucket.
func Key(user string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(user), "@"))
}

// Allow takes one token from the user's bucket. It returns false when the
// bucket is empty. A nil limiter allows everything.
func (l *Limiter) Allow(user string, now time.Time) bool {
	if l == nil || l.rps <= 0 || l.burst <= 0 {
		return true
	}
	key := Key(user)

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.burst, last: now}
		l.buckets[key] = b
	}

	elapsed := now.Sub(b.last).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	b.tokens += elapsed * l.rps
	if b.tokens > l.burst {
		b.tokens = l.burst
	}
	b.last = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// RetryAfter is how long the user waits for the next token.
func (l *Limiter) RetryAfter(user string, now time.Time) time.Duration {
	if l == nil || l.rps <= 0 {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[Key(user)]
	if !ok {
		return 0
	}
	tokens := b.tokens + now.Sub(b.last).Seconds()*l.rps
	if tokens >= 1 {
		return 0
	}
	return time.Duration((1 - tokens) / l.rps * float64(time.Second))
}

// Prune drops buckets idle for longer than idle; a full bucket carries no state.
func (l *Limiter) Prune(now time.Time, idle time.Duration) int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for key, b := range l.buckets {
		if now.Sub(b.last) > idle {
			delete(l.buckets, key)
			n++
		}
	}
	return n
}
