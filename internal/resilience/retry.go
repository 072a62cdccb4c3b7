package resilience

import (
	"context"
	"math/rand"
	"time"

	"orderbot_backend/platform/logger"
)

// Retryer retries transient failures with exponential backoff and jitter.
type Retryer struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	log         *logger.Logger

	// sleep is swapped out in tests to avoid real waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryer creates a retryer with the given policy.
func NewRetryer(maxAttempts int, baseDelay, maxDelay time.Duration, log *logger.Logger) *Retryer {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Retryer{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
		log:         log,
		sleep:       sleepCtx,
	}
}

// Do runs fn, retrying transient errors up to the attempt ceiling.
// Non-retryable errors propagate immediately.
func (r *Retryer) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == r.maxAttempts {
			break
		}

		delay := r.delayFor(attempt)
		r.log.Debug("retrying operation",
			"operation", op,
			"attempt", attempt,
			"delay", delay.String(),
			"error", lastErr.Error(),
		)
		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return lastErr
}

// delayFor computes base*2^(attempt-1) capped at maxDelay, with ±10% jitter.
func (r *Retryer) delayFor(attempt int) time.Duration {
	delay := r.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= r.maxDelay {
			delay = r.maxDelay
			break
		}
	}
	if delay > r.maxDelay {
		delay = r.maxDelay
	}

	jitter := 1 + (rand.Float64()*0.2 - 0.1)
	return time.Duration(float64(delay) * jitter)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
