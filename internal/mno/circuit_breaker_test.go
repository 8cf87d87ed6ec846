package mno

import (
	"testing"
	"time"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "primary", FailureThreshold: 3, Timeout: time.Minute, Now: clock.Now})

	for i := 0; i < 2; i++ {
		cb.RecordFailure()
		if !cb.Allow() {
			t.Fatalf("failure %d: breaker opened too early", i+1)
		}
	}
	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatalf("Expected open, got %s", cb.State())
	}
	if cb.Allow() {
		t.Error("Open breaker must refuse requests")
	}
}

func TestCircuitBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2})

	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	if cb.State() != CircuitClosed {
		t.Errorf("Non-consecutive failures must not open the breaker, got %s", cb.State())
	}
}

func TestCircuitBreakerHalfOpenProbe(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, Timeout: 30 * time.Second, Now: clock.Now})

	cb.RecordFailure()
	clock.Advance(29 * time.Second)
	if cb.Allow() {
		t.Fatal("Breaker allowed a request before the timeout")
	}

	clock.Advance(time.Second)
	if !cb.Allow() {
		t.Fatal("Breaker should let a probe through after the timeout")
	}
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("Expected half-open, got %s", cb.State())
	}

	// A failed probe reopens and restarts the timer.
	cb.RecordFailure()
	if cb.State() != CircuitOpen || cb.Allow() {
		t.Fatalf("Expected open after failed probe, got %s", cb.State())
	}

	clock.Advance(30 * time.Second)
	cb.Allow()
	cb.RecordSuccess()
	if cb.State() != CircuitClosed {
		t.Errorf("Expected closed after successful probe, got %s", cb.State())
	}
}

func TestCircuitBreakerStats(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 5, Now: clock.Now})

	cb.RecordFailure()
	cb.RecordFailure()
	st := cb.Stats()
	if st.State != "closed" || st.FailureCount != 2 || !st.LastFailure.Equal(clock.now) {
		t.Errorf("Unexpected stats: %+v", st)
	}

	cb.Reset()
	if cb.Stats().FailureCount != 0 {
		t.Error("Reset should clear the failure count")
	}
}
