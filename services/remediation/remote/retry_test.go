// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package remote

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetryConfig(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2.0,
	}
}

func TestRetry(t *testing.T) {
	t.Run("succeeds first try without retrying", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), fastRetryConfig(3), func(ctx context.Context) error {
			calls++
			return nil
		})
		if err != nil {
			t.Fatalf("Retry failed: %v", err)
		}
		if calls != 1 {
			t.Errorf("expected 1 call, got %d", calls)
		}
	})

	t.Run("retries throttling until success", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), fastRetryConfig(3), func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return &RateLimitedError{}
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Retry failed: %v", err)
		}
		if calls != 3 {
			t.Errorf("expected 3 calls, got %d", calls)
		}
	})

	t.Run("exhausts attempts and returns the last error", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), fastRetryConfig(3), func(ctx context.Context) error {
			calls++
			return &RateLimitedError{}
		})
		if !errors.Is(err, ErrRateLimited) {
			t.Fatalf("expected ErrRateLimited, got %v", err)
		}
		if calls != 3 {
			t.Errorf("expected 3 calls, got %d", calls)
		}
	})

	t.Run("does not retry non-retryable errors", func(t *testing.T) {
		calls := 0
		boom := errors.New("boom")
		err := Retry(context.Background(), fastRetryConfig(3), func(ctx context.Context) error {
			calls++
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
		if calls != 1 {
			t.Errorf("expected 1 call, got %d", calls)
		}
	})

	t.Run("stops on context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := Retry(ctx, RetryConfig{
			MaxAttempts:    5,
			InitialBackoff: time.Hour, // cancellation must interrupt the wait
			MaxBackoff:     time.Hour,
			BackoffFactor:  2.0,
		}, func(ctx context.Context) error {
			calls++
			cancel()
			return &RateLimitedError{}
		})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if calls != 1 {
			t.Errorf("expected 1 call, got %d", calls)
		}
	})

	t.Run("zero config still attempts once", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), RetryConfig{}, func(ctx context.Context) error {
			calls++
			return nil
		})
		if err != nil || calls != 1 {
			t.Fatalf("expected one successful call, got calls=%d err=%v", calls, err)
		}
	})
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(&RateLimitedError{RetryAfter: time.Second}) {
		t.Error("RateLimitedError should be retryable")
	}
	if IsRetryable(errors.New("boom")) {
		t.Error("generic error should not be retryable")
	}
	if IsRetryable(ErrNotFound) {
		t.Error("ErrNotFound should not be retryable")
	}
	if IsRetryable(nil) {
		t.Error("nil should not be retryable")
	}
}

func TestNextBackoff(t *testing.T) {
	for _, tt := range []struct {
		current time.Duration
		factor  float64
		max     time.Duration
		want    time.Duration
	}{
		{time.Second, 2.0, 30 * time.Second, 2 * time.Second},
		{20 * time.Second, 2.0, 30 * time.Second, 30 * time.Second},
		{30 * time.Second, 2.0, 30 * time.Second, 30 * time.Second},
	} {
		if got := nextBackoff(tt.current, tt.factor, tt.max); got != tt.want {
			t.Errorf("nextBackoff(%v, %v, %v) = %v, want %v",
				tt.current, tt.factor, tt.max, got, tt.want)
		}
	}
}

func TestWithJitter(t *testing.T) {
	base := 100 * time.Millisecond
	for i := 0; i < 50; i++ {
		got := withJitter(base, 0.2)
		if got < 80*time.Millisecond || got > 120*time.Millisecond {
			t.Fatalf("jittered value %v outside [80ms, 120ms]", got)
		}
	}
	if got := withJitter(base, 0); got != base {
		t.Errorf("zero jitter should return base, got %v", got)
	}
}
