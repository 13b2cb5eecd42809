package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestExecutor returns an executor whose sleeps are recorded, not taken
func newTestExecutor(maxRetries int) (*Executor, *[]time.Duration) {
	e := NewExecutor(maxRetries, time.Second, 10*time.Second)
	delays := &[]time.Duration{}
	e.sleep = func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
	return e, delays
}

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	e, delays := newTestExecutor(3)

	attempts := 0
	err := e.Do(context.Background(), "test.place", func(ctx context.Context) error {
		attempts++
		if attempts <= 2 {
			return &Error{Kind: KindUnreachable, Message: "connection refused"}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *delays)
}

func TestDoNonTransientNotRetried(t *testing.T) {
	e, delays := newTestExecutor(3)

	attempts := 0
	err := e.Do(context.Background(), "test.place", func(ctx context.Context) error {
		attempts++
		return &Error{Kind: KindAuthExpired, Status: 401}
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Empty(t, *delays)
	assert.Equal(t, KindAuthExpired, KindOf(err))
}

func TestDoExhaustsRetries(t *testing.T) {
	e, delays := newTestExecutor(3)

	attempts := 0
	err := e.Do(context.Background(), "test.place", func(ctx context.Context) error {
		attempts++
		return &Error{Kind: KindUnreachable}
	})

	require.Error(t, err)
	assert.Equal(t, 4, attempts) // 1 initial + 3 retries
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, *delays)
}

func TestDelaySchedule(t *testing.T) {
	e := NewExecutor(3, time.Second, 10*time.Second)

	assert.Equal(t, 1*time.Second, e.Delay(1))
	assert.Equal(t, 2*time.Second, e.Delay(2))
	assert.Equal(t, 4*time.Second, e.Delay(3))
	assert.Equal(t, 8*time.Second, e.Delay(4))
	// capped at the maximum regardless of attempt count
	assert.Equal(t, 10*time.Second, e.Delay(5))
	assert.Equal(t, 10*time.Second, e.Delay(12))
}

func TestDoPlainErrorsNotRetried(t *testing.T) {
	e, _ := newTestExecutor(3)

	attempts := 0
	sentinel := errors.New("not a provider failure")
	err := e.Do(context.Background(), "test.op", func(ctx context.Context) error {
		attempts++
		return sentinel
	})

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, attempts)
}

func TestDoStopsWhenContextCancelledDuringBackoff(t *testing.T) {
	e := NewExecutor(3, time.Second, 10*time.Second)
	e.sleep = func(ctx context.Context, d time.Duration) error {
		return context.Canceled
	}

	attempts := 0
	err := e.Do(context.Background(), "test.op", func(ctx context.Context) error {
		attempts++
		return &Error{Kind: KindUnreachable}
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	// the transient failure, not the cancellation, is surfaced
	assert.Equal(t, KindUnreachable, KindOf(err))
}
