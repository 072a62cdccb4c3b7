package resilience

import (
	"errors"
	"testing"
	"time"

	"orderbot_backend/platform/apperr"
)

func TestBreakerOpensAtThresholdAndFailsFast(t *testing.T) {
	now := time.Now()
	b := NewBreaker(3, time.Minute, 2)
	b.now = func() time.Time { return now }

	failure := errors.New("connection refused")
	for i := 0; i < 3; i++ {
		if err := b.Allow(); err != nil {
			t.Fatalf("expected closed breaker to allow call %d, got %v", i, err)
		}
		b.RecordFailure(failure)
	}

	if b.State() != StateOpen {
		t.Fatalf("expected open after threshold, got %s", b.State())
	}

	err := b.Allow()
	if err == nil {
		t.Fatal("expected open breaker to fail fast")
	}
	if !apperr.Is(err, apperr.KindUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}

func TestBreakerHalfOpenProbesThenCloses(t *testing.T) {
	now := time.Now()
	b := NewBreaker(1, time.Minute, 2)
	b.now = func() time.Time { return now }

	b.RecordFailure(errors.New("timeout"))
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	// Cooldown elapses: exactly two probes are admitted.
	now = now.Add(61 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("expected first probe allowed, got %v", err)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half-open, got %s", b.State())
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("expected second probe allowed, got %v", err)
	}
	if err := b.Allow(); err == nil {
		t.Fatal("expected third call to be rejected while probes are in flight")
	}

	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Fatalf("expected closed after probe success, got %s", b.State())
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("expected closed breaker to allow calls, got %v", err)
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	b := NewBreaker(1, time.Minute, 1)
	b.now = func() time.Time { return now }

	b.RecordFailure(errors.New("timeout"))
	now = now.Add(2 * time.Minute)
	if err := b.Allow(); err != nil {
		t.Fatalf("expected probe allowed after cooldown, got %v", err)
	}

	b.RecordFailure(errors.New("still down"))
	if b.State() != StateOpen {
		t.Fatalf("expected reopen after failed probe, got %s", b.State())
	}
	if err := b.Allow(); err == nil {
		t.Fatal("expected reopened breaker to fail fast before a new cooldown")
	}
}

func TestBreakerCountsErrorsByType(t *testing.T) {
	b := NewBreaker(10, time.Minute, 1)

	b.RecordFailure(&StatusError{StatusCode: 503})
	b.RecordFailure(&StatusError{StatusCode: 429})
	b.RecordFailure(errors.New("read timeout"))

	snap := b.Snapshot()
	if snap.ConsecutiveFailures != 3 {
		t.Fatalf("expected 3 consecutive failures, got %d", snap.ConsecutiveFailures)
	}
	if snap.ErrorsByType["server_error"] != 1 {
		t.Fatalf("expected one server_error, got %d", snap.ErrorsByType["server_error"])
	}
	if snap.ErrorsByType["rate_limit"] != 1 {
		t.Fatalf("expected one rate_limit, got %d", snap.ErrorsByType["rate_limit"])
	}
	if snap.ErrorsByType["timeout"] != 1 {
		t.Fatalf("expected one timeout, got %d", snap.ErrorsByType["timeout"])
	}
	if snap.LastError == "" {
		t.Fatal("expected last error to be recorded")
	}
}
