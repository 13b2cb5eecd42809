package provider

import (
	"context"
	"time"

	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

// Executor wraps outbound provider calls with bounded exponential backoff.
// Only failures classified as transient are retried; everything else is
// surfaced immediately. Retried operations are assumed idempotent-unsafe by
// default, so callers of Place must supply a provider-honored idempotency key.
type Executor struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	logger     *zap.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates a retry executor with the given policy
func NewExecutor(maxRetries int, baseDelay, maxDelay time.Duration) *Executor {
	return &Executor{
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		logger:     util.GetLogger(),
		sleep:      sleepCtx,
	}
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

// Delay returns the backoff delay applied after the given failed attempt
// (1-based): baseDelay doubled per attempt, capped at maxDelay.
func (e *Executor) Delay(attempt int) time.Duration {
	d := e.baseDelay << uint(attempt-1)
	if d > e.maxDelay || d <= 0 {
		d = e.maxDelay
	}
	return d
}

// Do runs fn, retrying transient failures up to maxRetries times
func (e *Executor) Do(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !IsTransient(err) || attempt > e.maxRetries {
			return err
		}

		delay := e.Delay(attempt)
		e.logger.Warn("Transient provider failure, retrying",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		util.ProviderRetriesTotal.WithLabelValues(operation).Inc()

		if sleepErr := e.sleep(ctx, delay); sleepErr != nil {
			return err
		}
	}
}
