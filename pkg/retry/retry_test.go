// SPDX-License-Identifier: MPL-2.0

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xec-sh/xec/pkg/command"
)

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	result, err := Do(context.Background(), Policy{MaxAttempts: 3}, func(context.Context) (command.Result, error) {
		calls++
		ok := 0
		return command.NewResult(command.AdapterLocal, "ok", nil, nil, &ok, "", time.Time{}, time.Time{}, ""), nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if !result.OK() {
		t.Fatal("Do() result should be OK")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	var retried []int

	policy := Policy{
		MaxAttempts:  4,
		InitialDelay: time.Millisecond,
		OnRetry: func(attempt int, lastResult command.Result, lastErr error, delay time.Duration) {
			retried = append(retried, attempt)
		},
	}

	result, err := Do(context.Background(), policy, func(context.Context) (command.Result, error) {
		calls++
		if calls < 3 {
			return command.Result{}, errors.New("transient failure")
		}
		ok := 0
		return command.NewResult(command.AdapterLocal, "ok", nil, nil, &ok, "", time.Time{}, time.Time{}, ""), nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(retried) != 2 {
		t.Errorf("OnRetry called %d times, want 2", len(retried))
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	wantErr := errors.New("permanent failure")

	policy := Policy{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
	}

	_, err := Do(context.Background(), policy, func(context.Context) (command.Result, error) {
		calls++
		return command.Result{}, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Do() error = %v, want %v", err, wantErr)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDo_NonZeroExitResultIsRetryableByDefault(t *testing.T) {
	calls := 0

	policy := Policy{
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
	}

	failCode := 1
	result, err := Do(context.Background(), policy, func(context.Context) (command.Result, error) {
		calls++
		return command.NewResult(command.AdapterLocal, "fail", nil, nil, &failCode, "", time.Time{}, time.Time{}, ""), nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if result.OK() {
		t.Fatal("Do() result should not be OK")
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestDo_CustomIsRetryableStopsEarly(t *testing.T) {
	calls := 0
	policy := Policy{
		MaxAttempts: 5,
		IsRetryable: func(result command.Result, err error) bool { return false },
	}

	failCode := 1
	_, err := Do(context.Background(), policy, func(context.Context) (command.Result, error) {
		calls++
		return command.NewResult(command.AdapterLocal, "fail", nil, nil, &failCode, "", time.Time{}, time.Time{}, ""), nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (IsRetryable always false)", calls)
	}
}

func TestDo_ContextCancelledStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	policy := Policy{
		MaxAttempts:  5,
		InitialDelay: time.Hour,
		OnRetry: func(int, command.Result, error, time.Duration) {
			cancel()
		},
	}

	_, err := Do(ctx, policy, func(context.Context) (command.Result, error) {
		calls++
		return command.Result{}, errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do() error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_MaxAttemptsZeroMeansOne(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Policy{}, func(context.Context) (command.Result, error) {
		calls++
		return command.Result{}, errors.New("fail")
	})
	if err == nil {
		t.Fatal("Do() expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
