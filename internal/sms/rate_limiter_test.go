package sms

import (
	"testing"
	"time"
)

func TestTokenBucketRefills(t *testing.T) {
	clock := &testClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	tb := NewTokenBucket(2, 1, clock.Now)

	if !tb.Take() || !tb.Take() {
		t.Fatal("Burst of 2 should be allowed")
	}
	if tb.Take() {
		t.Fatal("Third take should be refused")
	}
	clock.Advance(500 * time.Millisecond)
	if tb.Take() {
		t.Fatal("Half a token is not enough")
	}
	clock.Advance(500 * time.Millisecond)
	if !tb.Take() {
		t.Fatal("Bucket should have refilled one token")
	}
	clock.Advance(time.Hour)
	if !tb.Take() || !tb.Take() || tb.Take() {
		t.Error("Refill must be capped at capacity")
	}
}

func TestSubmitLimiterPerConfiguration(t *testing.T) {
	clock := &testClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewSubmitLimiter(1, 1, clock.Now)

	if !l.Allow("a") || l.Allow("a") {
		t.Fatal("Expected one submit per second on a")
	}
	if !l.Allow("b") {
		t.Error("Configuration b has its own bucket")
	}
}

func TestSubmitLimiterDisabled(t *testing.T) {
	l := NewSubmitLimiter(0, 10, nil)
	if l != nil {
		t.Fatal("A zero rate should disable limiting")
	}
	for i := 0; i < 1000; i++ {
		if !l.Allow("a") {
			t.Fatal("Nil limiter must allow everything")
		}
	}
}
