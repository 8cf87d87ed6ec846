package sms

import (
	"sync"
	"time"
)

// TokenBucket allows bursts up to capacity and refills at refillRate tokens
// per second.
type TokenBucket struct {
	capacity   float64
	tokens     float64
	refillRate float64
	lastRefill time.Time
	now        func() time.Time
	mu         sync.Mutex
}

func NewTokenBucket(capacity float64, refillRate float64, now func() time.Time) *TokenBucket {
	if now == nil {
		now = time.Now
	}
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		lastRefill: now(),
		now:        now,
	}
}

func (tb *TokenBucket) Take() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	elapsed := now.Sub(tb.lastRefill)
	tb.tokens = min(tb.capacity, tb.tokens+(elapsed.Seconds()*tb.refillRate))
	tb.lastRefill = now

	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

// SubmitLimiter keeps one bucket per configuration so a slow SMSC link does
// not eat into another's allowance.
type SubmitLimiter struct {
	rate    float64
	burst   int
	now     func() time.Time
	buckets map[string]*TokenBucket
	mu      sync.Mutex
}

// NewSubmitLimiter returns nil when rate is not positive; a nil limiter
// allows everything.
func NewSubmitLimiter(rate float64, burst int, now func() time.Time) *SubmitLimiter {
	if rate <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &SubmitLimiter{
		rate:    rate,
		burst:   burst,
		now:     now,
		buckets: make(map[string]*TokenBucket),
	}
}

// Allow takes a token from the bucket for configName.
func (l *SubmitLimiter) Allow(configName string) bool {
	if l == nil {
		return true
	}
	return l.bucket(configName).Take()
}

func (l *SubmitLimiter) bucket(configName string) *TokenBucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets[configName]; ok {
		return b
	}
	b := NewTokenBucket(float64(l.burst), l.rate, l.now)
	l.buckets[configName] = b
	return b
}
