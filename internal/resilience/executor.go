package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"
)

// Predefined errors for resilient operations.
var (
	// ErrCircuitOpen is returned when the circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// ExecutorConfig holds configuration for an Executor.
type ExecutorConfig struct {
	// Name identifies the protected dependency (e.g. "s3", "pubsub").
	Name string

	// MaxRetries is the maximum number of retry attempts after the first call.
	// Default: 3
	MaxRetries uint64

	// InitialInterval is the initial retry backoff interval.
	// Default: 200ms
	InitialInterval time.Duration

	// MaxInterval is the maximum retry backoff interval.
	// Default: 5 seconds
	MaxInterval time.Duration

	// CircuitBreaker is the circuit breaker configuration.
	// If nil, uses DefaultCircuitBreakerConfig.
	CircuitBreaker *CircuitBreakerConfig

	// Registry, if set, receives success/failure bookkeeping for health reporting.
	Registry *Registry
}

// DefaultExecutorConfig returns sensible defaults for the named dependency.
func DefaultExecutorConfig(name string) ExecutorConfig {
	cb := DefaultCircuitBreakerConfig(name)
	return ExecutorConfig{
		Name:            name,
		MaxRetries:      3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		CircuitBreaker:  &cb,
	}
}

// Executor runs operations through a circuit breaker with retries.
type Executor struct {
	breaker  *gobreaker.CircuitBreaker[struct{}]
	config   ExecutorConfig
	registry *Registry
}

// NewExecutor creates a new Executor.
func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = 200 * time.Millisecond
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = 5 * time.Second
	}

	cbConfig := DefaultCircuitBreakerConfig(cfg.Name)
	if cfg.CircuitBreaker != nil {
		cbConfig = *cfg.CircuitBreaker
	}

	e := &Executor{
		breaker:  NewCircuitBreaker[struct{}](cbConfig),
		config:   cfg,
		registry: cfg.Registry,
	}
	if e.registry != nil {
		e.registry.Register(cfg.Name, e)
	}
	return e
}

// Name returns the dependency name.
func (e *Executor) Name() string {
	return e.config.Name
}

// Run executes op, retrying transient failures with exponential backoff.
// Errors wrapped with Permanent are returned without retrying.
// Returns ErrCircuitOpen without calling op if the circuit is open.
func (e *Executor) Run(ctx context.Context, op func(ctx context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.config.InitialInterval
	bo.MaxInterval = e.config.MaxInterval
	bo.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, e.config.MaxRetries), ctx)

	err := backoff.Retry(func() error {
		_, err := e.breaker.Execute(func() (struct{}, error) {
			return struct{}{}, op(ctx)
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(ErrCircuitOpen)
		}
		return err
	}, policy)

	if e.registry != nil {
		if err != nil {
			e.registry.RecordFailure(e.config.Name, err)
		} else {
			e.registry.RecordSuccess(e.config.Name)
		}
	}
	return err
}

// Permanent marks err as not retryable.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// CircuitBreakerState returns the current state of the circuit breaker.
func (e *Executor) CircuitBreakerState() gobreaker.State {
	return e.breaker.State()
}

// CircuitBreakerCounts returns the current counts of the circuit breaker.
func (e *Executor) CircuitBreakerCounts() gobreaker.Counts {
	return e.breaker.Counts()
}
