// Package retry provides retry logic with exponential backoff for
// operations against remote backends.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/containerfs/containerfs/pkg/errors"
)

// Config defines retry behavior.
type Config struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int `yaml:"max_attempts"`

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration `yaml:"initial_delay"`

	// MaxDelay caps the delay between retries.
	MaxDelay time.Duration `yaml:"max_delay"`

	// Multiplier is the factor by which delay grows after each retry.
	Multiplier float64 `yaml:"multiplier"`

	// Jitter adds randomness to delay to prevent thundering herd.
	Jitter bool `yaml:"jitter"`

	// RetryableCodes lists the error codes worth retrying. Anything
	// else fails immediately.
	RetryableCodes []errors.ErrorCode `yaml:"-"`

	// OnRetry is called before each retry attempt.
	OnRetry func(attempt int, err error, delay time.Duration) `yaml:"-"`
}

// DefaultConfig returns a configuration retrying only backend I/O
// failures. The structural codes (NotFound, PathConflict, ReadOnly,
// InvalidConfiguration) never heal by waiting.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    5,
		InitialDelay:   100 * time.Millisecond,
		MaxDelay:       30 * time.Second,
		Multiplier:     2.0,
		Jitter:         true,
		RetryableCodes: []errors.ErrorCode{errors.ErrCodeBackendIO},
	}
}

// Retryer handles retry logic with exponential backoff.
type Retryer struct {
	config Config
}

// New creates a Retryer, applying defaults for zero values.
func New(config Config) *Retryer {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}
	return &Retryer{config: config}
}

// Do executes fn until it succeeds, fails with a non-retryable error,
// the attempt budget runs out, or the context is canceled.
func (r *Retryer) Do(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("operation canceled: %w", ctx.Err())
		default:
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !r.retryable(err) {
			return err
		}
		if attempt == r.config.MaxAttempts {
			break
		}

		delay := r.calculateDelay(attempt)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("operation canceled after %d attempts: %w", attempt, ctx.Err())
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("max retry attempts (%d) exceeded: %w", r.config.MaxAttempts, lastErr)
}

func (r *Retryer) retryable(err error) bool {
	code := errors.CodeOf(err)
	for _, c := range r.config.RetryableCodes {
		if code == c {
			return true
		}
	}
	return false
}

func (r *Retryer) calculateDelay(attempt int) time.Duration {
	delay := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))
	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}
	if r.config.Jitter {
		// ±20% to spread simultaneous retriers.
		delay += delay * 0.2 * (rand.Float64()*2 - 1)
	}
	return time.Duration(delay)
}
