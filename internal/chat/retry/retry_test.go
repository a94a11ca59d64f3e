package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRunSucceedsFirstAttempt(t *testing.T) {
	outcome := Run(context.Background(), DefaultPolicy(), func(ctx context.Context) (string, error) {
		return "ok", nil
	})

	if !outcome.OK() {
		t.Fatalf("expected success, got err=%v cancelled=%v", outcome.Err, outcome.Cancelled)
	}
	if outcome.Value != "ok" {
		t.Errorf("value = %q, want %q", outcome.Value, "ok")
	}
	if outcome.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", outcome.Attempts)
	}
}

func TestRunBackoffLadder(t *testing.T) {
	policy := Policy{
		MaxAttempts:  3,
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       false,
	}

	// Delays are computed, not slept, so the test can assert exact values.
	if got := policy.Delay(1); got != 2*time.Second {
		t.Errorf("Delay(1) = %v, want 2s", got)
	}
	if got := policy.Delay(2); got != 4*time.Second {
		t.Errorf("Delay(2) = %v, want 4s", got)
	}

	var delays []time.Duration
	calls := 0
	outcome := Run(context.Background(),
		Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Second, Multiplier: 2.0},
		func(ctx context.Context) (int, error) {
			calls++
			return 0, errors.New("connection refused")
		},
		WithOnRetry(func(attempt int, err error, delay time.Duration) {
			delays = append(delays, delay)
		}),
	)

	if outcome.Err == nil {
		t.Fatal("expected failure outcome")
	}
	if outcome.Cancelled {
		t.Fatal("failure must not be reported as cancelled")
	}
	if outcome.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", outcome.Attempts)
	}
	if calls != 3 {
		t.Errorf("operation ran %d times, want 3", calls)
	}
	if len(delays) != 2 {
		t.Fatalf("onRetry fired %d times, want 2", len(delays))
	}
	if delays[0] != time.Millisecond || delays[1] != 2*time.Millisecond {
		t.Errorf("delays = %v, want [1ms 2ms]", delays)
	}
}

func TestRunDelayCappedAtMax(t *testing.T) {
	policy := Policy{MaxAttempts: 10, InitialDelay: 2 * time.Second, MaxDelay: 5 * time.Second, Multiplier: 2.0}
	if got := policy.Delay(5); got != 5*time.Second {
		t.Errorf("Delay(5) = %v, want cap of 5s", got)
	}
}

func TestRunJitterStaysWithinBounds(t *testing.T) {
	policy := Policy{MaxAttempts: 3, InitialDelay: 4 * time.Second, MaxDelay: time.Minute, Multiplier: 2.0, Jitter: true}
	for i := 0; i < 50; i++ {
		d := policy.Delay(1)
		if d < 3*time.Second || d > 5*time.Second {
			t.Fatalf("jittered delay %v outside ±25%% of 4s", d)
		}
	}
}

func TestRunNonRetryableStopsImmediately(t *testing.T) {
	calls := 0
	outcome := Run(context.Background(), DefaultPolicy(), func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("401 unauthorized")
	})

	if calls != 1 {
		t.Errorf("operation ran %d times, want 1", calls)
	}
	if outcome.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", outcome.Attempts)
	}
	if outcome.Cancelled {
		t.Error("non-retryable failure must not be cancelled")
	}
}

func TestRunCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	outcome := Run(ctx,
		Policy{MaxAttempts: 3, InitialDelay: time.Minute, MaxDelay: time.Minute, Multiplier: 2.0},
		func(ctx context.Context) (int, error) {
			cancel()
			return 0, errors.New("timeout")
		},
	)

	if !outcome.Cancelled {
		t.Fatal("expected cancelled outcome")
	}
	if !errors.Is(outcome.Err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", outcome.Err)
	}
}

func TestRunCustomClassifier(t *testing.T) {
	calls := 0
	outcome := Run(context.Background(),
		Policy{MaxAttempts: 2, InitialDelay: time.Millisecond, Multiplier: 2.0},
		func(ctx context.Context) (int, error) {
			calls++
			return 0, errors.New("weird transient failure")
		},
		WithClassifier(func(err error) bool { return true }),
	)

	if calls != 2 {
		t.Errorf("operation ran %d times, want 2", calls)
	}
	if outcome.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", outcome.Attempts)
	}
}

func TestRetryableClassifier(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("request timed out"), true},
		{errors.New("503 service unavailable"), true},
		{errors.New("overloaded_error"), true},
		{context.DeadlineExceeded, true},
		{errors.New("401 unauthorized"), false},
		{errors.New("invalid api key"), false},
		{errors.New("failed to decode response"), false},
		{context.Canceled, false},
		{nil, false},
	}

	for _, tc := range cases {
		if got := Retryable(tc.err); got != tc.want {
			t.Errorf("Retryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
