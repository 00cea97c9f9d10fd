// Package retry runs a single provider call under a fixed-attempt, fixed-delay policy.
package retry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/temirov/autoreel/internal/failure"
)

const (
	DefaultMaxAttempts = 3
	DefaultDelay       = 3000 * time.Millisecond
)

// Policy describes how often and how long to wait between attempts.
// The delay never grows between attempts.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	ShouldRetry func(error) bool
	Sleep       func(ctx context.Context, delay time.Duration) error
	Logger      *zap.Logger
}

// NewPolicy returns the policy used by every stage: three attempts, three seconds apart.
func NewPolicy(logger *zap.Logger) Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		Delay:       DefaultDelay,
		ShouldRetry: failure.ShouldRetry,
		Sleep:       SleepContext,
		Logger:      logger,
	}
}

// SleepContext waits for delay or until ctx is done.
func SleepContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do invokes call until it succeeds, fails with a non-retryable error, or the
// attempt cap is reached. The error of the last attempt is returned unchanged.
func Do[T any](ctx context.Context, policy Policy, operation string, call func(context.Context) (T, error)) (T, error) {
	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	shouldRetry := policy.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = failure.ShouldRetry
	}
	sleep := policy.Sleep
	if sleep == nil {
		sleep = SleepContext
	}
	logger := policy.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var zero T
	for attempt := 1; ; attempt++ {
		result, callErr := call(ctx)
		if callErr == nil {
			return result, nil
		}
		if attempt >= maxAttempts || !shouldRetry(callErr) {
			return zero, callErr
		}
		logger.Warn("retrying provider call",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Duration("delay", policy.Delay),
			zap.Error(callErr),
		)
		if sleepErr := sleep(ctx, policy.Delay); sleepErr != nil {
			return zero, callErr
		}
	}
}
