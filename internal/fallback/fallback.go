// Package fallback chooses between alternative ways of invoking the same provider operation.
package fallback

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/temirov/autoreel/internal/failure"
)

// ErrStrategyUnavailable marks a failure caused by the call form itself rather
// than by the provider rejecting the request. Only this failure advances the
// selector to the next strategy.
var ErrStrategyUnavailable = errors.New("invocation strategy unavailable")

const (
	unavailableErrorFormat     = "%s: %s: %w"
	noStrategiesMessage        = "no invocation strategy configured"
	exhaustedStrategiesMessage = "no invocation strategy is available"
)

// Unavailable builds an error that lets the selector try the next strategy.
func Unavailable(strategy string, reason string) error {
	return fmt.Errorf(unavailableErrorFormat, strategy, reason, ErrStrategyUnavailable)
}

// MarkUnavailable keeps cause in the chain while flagging it as a call-form failure.
func MarkUnavailable(cause error) error {
	return fmt.Errorf("%w: %w", ErrStrategyUnavailable, cause)
}

// Strategy is one way of invoking an operation.
type Strategy[In any, Out any] struct {
	Name   string
	Invoke func(ctx context.Context, input In) (Out, error)
}

// Select tries strategies in order with the same input.
func Select[In any, Out any](ctx context.Context, logger *zap.Logger, input In, strategies []Strategy[In, Out]) (Out, error) {
	var zero Out
	if len(strategies) == 0 {
		return zero, failure.New(failure.KindProvider, noStrategiesMessage)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var lastErr error
	for index, strategy := range strategies {
		output, invokeErr := strategy.Invoke(ctx, input)
		if invokeErr == nil {
			return output, nil
		}
		if !errors.Is(invokeErr, ErrStrategyUnavailable) {
			return zero, invokeErr
		}
		lastErr = invokeErr
		if index+1 < len(strategies) {
			logger.Info("invocation strategy unavailable, falling back",
				zap.String("strategy", strategy.Name),
				zap.String("next_strategy", strategies[index+1].Name),
				zap.Error(invokeErr),
			)
		}
	}
	return zero, failure.Wrap(failure.KindProvider, exhaustedStrategiesMessage, lastErr)
}
