package ratelimit

import (
	"sync"
	"time"
)

type bucket struct {
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	last       time.Time
}

// sweepInterval is how often idle buckets are dropped.
const sweepInterval = time.Minute

// Limiter keeps one token bucket per key. Buckets that have refilled to
// capacity are dropped on a periodic sweep; a fresh bucket starts full.
type Limiter struct {
	mu        sync.Mutex
	m         map[string]*bucket
	now       func() time.Time
	lastSweep time.Time
}

func New() *Limiter { return NewWithClock(time.Now) }

func NewWithClock(now func() time.Time) *Limiter {
	return &Limiter{m: make(map[string]*bucket), now: now, lastSweep: now()}
}

// Len reports the number of tracked buckets.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}

// Allow returns true if one token can be consumed for key.
func (l *Limiter) Allow(key string, capacity, refillPerSec float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.refill(key, capacity, refillPerSec)
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Tokens reports the tokens currently available for key.
func (l *Limiter) Tokens(key string, capacity, refillPerSec float64) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refill(key, capacity, refillPerSec).tokens
}

func (l *Limiter) refill(key string, capacity, refillPerSec float64) *bucket {
	now := l.now()
	if now.Sub(l.lastSweep) >= sweepInterval {
		l.sweep(now)
	}
	b, ok := l.m[key]
	if !ok {
		b = &bucket{tokens: capacity, capacity: capacity, refillRate: refillPerSec, last: now}
		l.m[key] = b
	}
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens = min(b.capacity, b.tokens+elapsed*b.refillRate)
		b.last = now
	}
	return b
}

func (l *Limiter) sweep(now time.Time) {
	for key, b := range l.m {
		if b.refillRate <= 0 {
			continue
		}
		if b.tokens+now.Sub(b.last).Seconds()*b.refillRate >= b.capacity {
			delete(l.m, key)
		}
	}
	l.lastSweep = now
}
