package ohsome

import (
	"errors"
	"fmt"

	"github.com/sells-group/ohsome-cli/internal/model"
	"github.com/sells-group/ohsome-cli/internal/resilience"
)

// TransientFetchError is a network, timeout or 408/429/5xx failure. The
// caller may retry it with backoff.
type TransientFetchError struct {
	CellID     int64
	Interval   model.TimeInterval
	Kind       model.MetricKind
	StatusCode int
	Err        error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("ohsome: transient failure for cell %d %s %s (status %d): %v",
		e.CellID, e.Kind, e.Interval, e.StatusCode, e.Err)
}

// Unwrap exposes a resilience.TransientError so the generic retry helpers
// classify this error as retryable.
func (e *TransientFetchError) Unwrap() error {
	return resilience.NewTransientError(e.Err, e.StatusCode)
}

// FatalFetchError is a 4xx, malformed response or parse failure. It is never retried.
type FatalFetchError struct {
	CellID     int64
	Interval   model.TimeInterval
	Kind       model.MetricKind
	StatusCode int
	Message    string
	Err        error
}

func (e *FatalFetchError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("ohsome: fatal failure for cell %d %s %s (status %d): %s",
		e.CellID, e.Kind, e.Interval, e.StatusCode, msg)
}

func (e *FatalFetchError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err carries a FatalFetchError.
func IsFatal(err error) bool {
	var fe *FatalFetchError
	return errors.As(err, &fe)
}

// IsUnreachable reports whether err means the endpoint could not be reached:
// retries ran out on transient failures or the circuit breaker is open.
func IsUnreachable(err error) bool {
	if err == nil {
		return false
	}
	return resilience.IsExhausted(err) || errors.Is(err, resilience.ErrCircuitOpen) || resilience.IsTransient(err)
}
