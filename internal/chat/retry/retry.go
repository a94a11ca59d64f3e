// Package retry provides a generic exponential-backoff runner for
// asynchronous operations. It knows nothing about chat semantics.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"strings"
	"time"
)

// Policy defines a backoff strategy. A fresh Policy value governs each
// retryable call; there is no shared state between invocations.
type Policy struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	Jitter       bool          `yaml:"jitter"`
}

// DefaultPolicy returns a sensible default policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Delay computes the backoff delay before the given attempt (1-based, i.e.
// the delay slept after attempt N failed). Jitter perturbs by ±25%.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	delay := time.Duration(float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1)))
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	if p.Jitter && delay > 0 {
		jitter := time.Duration(rand.Int63n(int64(delay) / 2))
		delay = delay - delay/4 + jitter
	}

	return delay
}

// Outcome is the result of a Run call.
type Outcome[T any] struct {
	Value     T
	Err       error
	Attempts  int
	Cancelled bool
}

// OK reports whether the operation eventually succeeded.
func (o Outcome[T]) OK() bool {
	return o.Err == nil && !o.Cancelled
}

// Classifier decides whether an error is worth retrying.
type Classifier func(error) bool

// OnRetryFunc is invoked before each backoff sleep, for observability.
type OnRetryFunc func(attempt int, err error, delay time.Duration)

// Option configures a Run call.
type Option func(*runConfig)

type runConfig struct {
	classify Classifier
	onRetry  OnRetryFunc
}

// WithClassifier overrides the built-in retryability classifier.
func WithClassifier(c Classifier) Option {
	return func(cfg *runConfig) {
		cfg.classify = c
	}
}

// WithOnRetry registers a callback invoked with the attempt number, the
// error that triggered the retry, and the computed delay.
func WithOnRetry(fn OnRetryFunc) Option {
	return func(cfg *runConfig) {
		cfg.onRetry = fn
	}
}

// Run executes op, retrying on retryable failures per the policy. It
// terminates with a failure Outcome on the final attempt or on a
// non-retryable error, and with a cancelled Outcome if ctx is done while
// waiting to retry.
func Run[T any](ctx context.Context, policy Policy, op func(context.Context) (T, error), opts ...Option) Outcome[T] {
	cfg := runConfig{classify: Retryable}
	for _, opt := range opts {
		opt(&cfg)
	}

	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	var zero T
	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Outcome[T]{Err: err, Attempts: attempt - 1, Cancelled: true}
		}

		value, err := op(ctx)
		if err == nil {
			return Outcome[T]{Value: value, Attempts: attempt}
		}
		lastErr = err

		if !cfg.classify(err) || attempt == policy.MaxAttempts {
			return Outcome[T]{Value: zero, Err: err, Attempts: attempt}
		}

		delay := policy.Delay(attempt)
		if cfg.onRetry != nil {
			cfg.onRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Outcome[T]{Err: ctx.Err(), Attempts: attempt, Cancelled: true}
		case <-timer.C:
		}
	}

	return Outcome[T]{Value: zero, Err: lastErr, Attempts: policy.MaxAttempts}
}

// Retryable is the built-in classifier: connectivity loss, timeouts, and
// 5xx-style server errors retry; auth and validation errors do not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())

	nonRetryable := []string{
		"401", "403", "unauthorized", "forbidden", "invalid api key",
		"authentication", "invalid request", "validation", "decode", "unmarshal",
	}
	for _, kw := range nonRetryable {
		if strings.Contains(msg, kw) {
			return false
		}
	}

	retryable := []string{
		"timeout", "timed out", "deadline exceeded",
		"connection refused", "connection reset", "broken pipe", "no such host",
		"network is unreachable", "temporarily unavailable",
		"500", "502", "503", "504", "529", "overloaded", "server error",
	}
	for _, kw := range retryable {
		if strings.Contains(msg, kw) {
			return true
		}
	}

	return false
}
