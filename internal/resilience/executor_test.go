package resilience_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/readlater/readlater/internal/resilience"
)

func fastConfig(name string) resilience.ExecutorConfig {
	cb := resilience.DefaultCircuitBreakerConfig(name)
	cb.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.Requests >= 100
	}
	return resilience.ExecutorConfig{
		Name:            name,
		MaxRetries:      5,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		CircuitBreaker:  &cb,
	}
}

func TestExecutor_Success(t *testing.T) {
	e := resilience.NewExecutor(fastConfig("ok"))

	var calls atomic.Int32
	err := e.Run(context.Background(), func(context.Context) error {
		calls.Add(1)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "ok", e.Name())
}

func TestExecutor_RetriesTransientFailures(t *testing.T) {
	e := resilience.NewExecutor(fastConfig("retry"))

	var calls atomic.Int32
	err := e.Run(context.Background(), func(context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("temporary")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load(), "should have retried until success")
}

func TestExecutor_PermanentNotRetried(t *testing.T) {
	e := resilience.NewExecutor(fastConfig("permanent"))
	boom := errors.New("bad input")

	var calls atomic.Int32
	err := e.Run(context.Background(), func(context.Context) error {
		calls.Add(1)
		return resilience.Permanent(boom)
	})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, int32(1), calls.Load())
}

func TestExecutor_GivesUpAfterMaxRetries(t *testing.T) {
	cfg := fastConfig("exhaust")
	cfg.MaxRetries = 2
	e := resilience.NewExecutor(cfg)

	var calls atomic.Int32
	err := e.Run(context.Background(), func(context.Context) error {
		calls.Add(1)
		return errors.New("still down")
	})

	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load(), "first call plus two retries")
}

func TestExecutor_CircuitOpens(t *testing.T) {
	cb := resilience.CircuitBreakerConfig{
		Name:        "trip",
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	e := resilience.NewExecutor(resilience.ExecutorConfig{
		Name:            "trip",
		MaxRetries:      1,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
		CircuitBreaker:  &cb,
	})

	failing := func(context.Context) error { return errors.New("down") }
	for i := 0; i < 2; i++ {
		_ = e.Run(context.Background(), failing)
	}

	assert.Equal(t, gobreaker.StateOpen, e.CircuitBreakerState())

	var called bool
	err := e.Run(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.False(t, called)
}

func TestExecutor_ContextCanceled(t *testing.T) {
	cfg := fastConfig("cancel")
	cfg.InitialInterval = 50 * time.Millisecond
	cfg.MaxInterval = 50 * time.Millisecond
	e := resilience.NewExecutor(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := e.Run(ctx, func(context.Context) error { return errors.New("down") })
	assert.Error(t, err)
}
