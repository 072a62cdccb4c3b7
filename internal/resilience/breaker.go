package resilience

import (
	"sync"
	"time"

	"orderbot_backend/platform/apperr"
)

// BreakerState is the circuit breaker state.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateHalfOpen BreakerState = "half-open"
	StateOpen     BreakerState = "open"
)

// BreakerSnapshot is a read-only view of breaker state for the status endpoint.
type BreakerSnapshot struct {
	State               BreakerState   `json:"state"`
	ConsecutiveFailures int            `json:"consecutiveFailures"`
	ErrorsByType        map[string]int `json:"errorsByType"`
	LastError           string         `json:"lastError,omitempty"`
}

// Breaker is a circuit breaker shared by all calls of one operation class.
// After threshold consecutive failures it opens and fails fast for the
// cooldown, then allows a limited number of half-open probes before fully
// closing on success or re-opening on any failure.
type Breaker struct {
	mu sync.Mutex

	state               BreakerState
	consecutiveFailures int
	errorsByType        map[string]int
	lastError           error

	threshold      int
	cooldown       time.Duration
	halfOpenProbes int

	openedAt      time.Time
	probesAllowed int

	now func() time.Time
}

// NewBreaker creates a closed breaker with the given policy.
func NewBreaker(threshold int, cooldown time.Duration, halfOpenProbes int) *Breaker {
	if threshold < 1 {
		threshold = 1
	}
	if halfOpenProbes < 1 {
		halfOpenProbes = 1
	}
	return &Breaker{
		state:          StateClosed,
		errorsByType:   make(map[string]int),
		threshold:      threshold,
		cooldown:       cooldown,
		halfOpenProbes: halfOpenProbes,
		now:            time.Now,
	}
}

// Allow reports whether a call may proceed. When the breaker is open and the
// cooldown has not elapsed it returns a typed unavailable error so callers
// fail fast instead of cascading timeouts.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return apperr.Unavailable("service temporarily unavailable").WithOp("breaker")
		}
		// Cooldown elapsed: move to half-open and admit a probe.
		b.state = StateHalfOpen
		b.probesAllowed = b.halfOpenProbes
		b.probesAllowed--
		return nil
	case StateHalfOpen:
		if b.probesAllowed <= 0 {
			return apperr.Unavailable("service temporarily unavailable").WithOp("breaker")
		}
		b.probesAllowed--
		return nil
	}
	return nil
}

// RecordSuccess resets the breaker to closed.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.consecutiveFailures = 0
	b.lastError = nil
}

// RecordFailure counts a failure and opens the breaker at the threshold.
// A failed half-open probe re-opens immediately.
func (b *Breaker) RecordFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	b.errorsByType[errorType(err)]++
	b.lastError = err

	if b.state == StateHalfOpen {
		b.state = StateOpen
		b.openedAt = b.now()
		return
	}

	if b.consecutiveFailures >= b.threshold {
		b.state = StateOpen
		b.openedAt = b.now()
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns a copy of the breaker state for observability.
func (b *Breaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	byType := make(map[string]int, len(b.errorsByType))
	for k, v := range b.errorsByType {
		byType[k] = v
	}

	snap := BreakerSnapshot{
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		ErrorsByType:        byType,
	}
	if b.lastError != nil {
		snap.LastError = b.lastError.Error()
	}
	return snap
}
