package models

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds surfaced by the risk core. Callers match them with errors.Is;
// implementations wrap them with context via fmt.Errorf("...: %w").
var (
	ErrInsufficientData   = errors.New("insufficient data")
	ErrDegenerateVariance = errors.New("degenerate variance")
	ErrNoHistoricalData   = errors.New("no historical data")
	ErrMissingMetric      = errors.New("missing metric")
	ErrTimeout            = errors.New("computation timed out")
	ErrStaleData          = errors.New("stale data")

	ErrInvalidScenario  = errors.New("invalid scenario")
	ErrScenarioNotFound = errors.New("scenario not found")
	ErrInvalidRule      = errors.New("invalid monitoring rule")
	ErrRuleNotFound     = errors.New("monitoring rule not found")
	ErrUnknownMethod    = errors.New("unknown var method")
	ErrAccountNotFound  = errors.New("account not found")
	ErrInvalidInput     = errors.New("invalid input")
)

// ErrorKind maps an error to a short label for metrics and API responses.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInsufficientData):
		return "insufficient_data"
	case errors.Is(err, ErrDegenerateVariance):
		return "degenerate_variance"
	case errors.Is(err, ErrNoHistoricalData):
		return "no_historical_data"
	case errors.Is(err, ErrMissingMetric):
		return "missing_metric"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrStaleData):
		return "stale_data"
	case errors.Is(err, ErrInvalidScenario), errors.Is(err, ErrInvalidRule), errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrScenarioNotFound), errors.Is(err, ErrAccountNotFound), errors.Is(err, ErrRuleNotFound):
		return "not_found"
	case errors.Is(err, ErrUnknownMethod):
		return "unknown_method"
	}
	return "internal"
}

// AsTimeout converts a passed deadline into ErrTimeout. Cancellation stays
// context.Canceled; other errors are returned as is.
func AsTimeout(err error, op string) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w: %v", op, ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w", op, err)
	}
	return err
}
