package retry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/containerfs/containerfs/pkg/errors"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.InitialDelay = time.Microsecond
	cfg.MaxDelay = time.Millisecond
	cfg.Jitter = false
	return cfg
}

func TestSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := New(fastConfig()).Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.BackendIO("/f", fmt.Errorf("transient"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestNonRetryableFailsImmediately(t *testing.T) {
	calls := 0
	err := New(fastConfig()).Do(context.Background(), func(context.Context) error {
		calls++
		return errors.NotFound("/f")
	})
	if !errors.IsCode(err, errors.ErrCodeNotFound) {
		t.Errorf("err = %v, want NOT_FOUND", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestAttemptBudgetExhausted(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxAttempts = 3
	calls := 0

	err := New(cfg).Do(context.Background(), func(context.Context) error {
		calls++
		return errors.BackendIO("/f", fmt.Errorf("still down"))
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	// The original failure stays reachable through the wrap chain.
	if !errors.IsCode(err, errors.ErrCodeBackendIO) {
		t.Errorf("cause lost: %v", err)
	}
}

func TestContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := New(fastConfig()).Do(ctx, func(context.Context) error {
		t.Fatal("fn called with canceled context")
		return nil
	})
	if err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestOnRetryCallback(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxAttempts = 2
	var attempts []int
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
	}

	_ = New(cfg).Do(context.Background(), func(context.Context) error {
		return errors.BackendIO("/f", fmt.Errorf("down"))
	})
	if len(attempts) != 1 || attempts[0] != 1 {
		t.Errorf("OnRetry attempts = %v", attempts)
	}
}

func TestCalculateDelayCapped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialDelay = time.Second
	cfg.MaxDelay = 4 * time.Second
	cfg.Jitter = false
	r := New(cfg)

	if d := r.calculateDelay(1); d != time.Second {
		t.Errorf("delay(1) = %v", d)
	}
	if d := r.calculateDelay(2); d != 2*time.Second {
		t.Errorf("delay(2) = %v", d)
	}
	if d := r.calculateDelay(10); d != 4*time.Second {
		t.Errorf("delay(10) = %v, want cap", d)
	}
}
