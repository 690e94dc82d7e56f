package util

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryErr(t *testing.T) {
	tests := []struct {
		name      string
		maxTries  int
		failUntil int
		wantErr   bool
		wantCalls int
	}{
		{
			name:      "succeeds first try",
			maxTries:  3,
			failUntil: 0,
			wantErr:   false,
			wantCalls: 1,
		},
		{
			name:      "succeeds on last try",
			maxTries:  3,
			failUntil: 2,
			wantErr:   false,
			wantCalls: 3,
		},
		{
			name:      "all tries fail",
			maxTries:  3,
			failUntil: 5,
			wantErr:   true,
			wantCalls: 3,
		},
		{
			name:      "zero maxTries defaults to one",
			maxTries:  0,
			failUntil: 0,
			wantErr:   false,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := RetryErr(tt.maxTries, func() error {
				calls++
				if calls <= tt.failUntil {
					return errors.New("transient")
				}
				return nil
			})
			if (err != nil) != tt.wantErr {
				t.Errorf("RetryErr() error = %v, wantErr %v", err, tt.wantErr)
			}
			if calls != tt.wantCalls {
				t.Errorf("RetryErr() calls = %d, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestRetryErrWithContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := RetryErrWithContext(ctx, 3, func(context.Context) error {
		calls++
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("RetryErrWithContext() error = %v, want context.Canceled", err)
	}
	if calls != 0 {
		t.Errorf("RetryErrWithContext() calls = %d, want 0", calls)
	}
}

func TestRetryErrWithContextStopsOnContextError(t *testing.T) {
	calls := 0
	err := RetryErrWithContext(context.Background(), 5, func(context.Context) error {
		calls++
		return context.DeadlineExceeded
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("RetryErrWithContext() error = %v, want context.DeadlineExceeded", err)
	}
	if calls != 1 {
		t.Errorf("RetryErrWithContext() calls = %d, want 1", calls)
	}
}

func TestRetryErrWithBackoff(t *testing.T) {
	calls := 0
	start := time.Now()
	err := RetryErrWithBackoff(context.Background(), 3, time.Millisecond, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Errorf("RetryErrWithBackoff() error = %v, want nil", err)
	}
	if calls != 3 {
		t.Errorf("RetryErrWithBackoff() calls = %d, want 3", calls)
	}
	// 1ms + 2ms of backoff at minimum.
	if elapsed := time.Since(start); elapsed < 3*time.Millisecond {
		t.Errorf("RetryErrWithBackoff() elapsed = %v, want >= 3ms", elapsed)
	}
}

func TestRetryWithContextReturnsValue(t *testing.T) {
	calls := 0
	got, err := RetryWithContext(context.Background(), 3, func(context.Context) (int, error) {
		calls++
		if calls < 2 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	if err != nil {
		t.Errorf("RetryWithContext() error = %v, want nil", err)
	}
	if got != 42 {
		t.Errorf("RetryWithContext() = %d, want 42", got)
	}
}
