package resilience

import (
	"context"
	"time"

	"orderbot_backend/platform/logger"
)

// Config is the subset of application configuration the layer needs.
type Config interface {
	GetRetryMaxAttempts() int
	GetRetryBaseDelay() time.Duration
	GetRetryMaxDelay() time.Duration
	GetBreakerThreshold() int
	GetBreakerCooldown() time.Duration
	GetBreakerHalfOpenProbes() int
}

// Executor combines the retryer and a class-wide circuit breaker. One
// Executor exists per operation class (spreadsheet source, chat client) so
// consecutive failures are tracked across every call of that class.
type Executor struct {
	class   string
	retryer *Retryer
	breaker *Breaker
	gate    func() error
	log     *logger.Logger
}

// NewExecutor creates an executor for one operation class.
func NewExecutor(class string, cfg Config, log *logger.Logger) *Executor {
	return &Executor{
		class:   class,
		retryer: NewRetryer(cfg.GetRetryMaxAttempts(), cfg.GetRetryBaseDelay(), cfg.GetRetryMaxDelay(), log),
		breaker: NewBreaker(cfg.GetBreakerThreshold(), cfg.GetBreakerCooldown(), cfg.GetBreakerHalfOpenProbes()),
		log:     log,
	}
}

// WithGate installs a pre-call check, used by chat-client executors to fail
// fast while the connection is down instead of burning retry attempts.
func (e *Executor) WithGate(gate func() error) *Executor {
	e.gate = gate
	return e
}

// Do executes fn behind the breaker with retry on transient failures.
// When the breaker is open the wrapped operation is never reached.
func (e *Executor) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if err := e.breaker.Allow(); err != nil {
		e.log.Debug("breaker open, failing fast", "class", e.class, "operation", op)
		return err
	}
	if e.gate != nil {
		if err := e.gate(); err != nil {
			return err
		}
	}

	err := e.retryer.Do(ctx, op, fn)
	if err != nil {
		e.breaker.RecordFailure(err)
		return err
	}
	e.breaker.RecordSuccess()
	return nil
}

// Breaker exposes the underlying breaker for status reporting.
func (e *Executor) Breaker() *Breaker {
	return e.breaker
}
