package gateway

import (
	"errors"
	"fmt"
	"time"
)

// ErrBudgetExceeded indicates the cost tracker cannot cover the declared call cost.
var ErrBudgetExceeded = errors.New("budget exceeded")

// ErrAllProvidersFailed indicates every backend exhausted every attempt.
var ErrAllProvidersFailed = errors.New("all providers failed")

// ErrAttemptTimeout indicates a backend attempt outlived its per-attempt timer.
var ErrAttemptTimeout = errors.New("attempt timed out")

// ErrUnknownBackend indicates no backend with the requested name is configured.
var ErrUnknownBackend = errors.New("unknown backend")

// ErrNoBackends indicates the gateway was built with an empty chain.
var ErrNoBackends = errors.New("no backends configured")

// AttemptRecord is one failed backend attempt.
type AttemptRecord struct {
	Backend  string
	Attempt  int
	Err      error
	Duration time.Duration
}

// AllProvidersFailedError aggregates the attempt history of a failed call.
type AllProvidersFailedError struct {
	Attempts int
	LastErr  error
	History  []AttemptRecord
}

func (e *AllProvidersFailedError) Error() string {
	return fmt.Sprintf("all providers failed after %d attempts: %v", e.Attempts, e.LastErr)
}

// Is makes errors.Is(err, ErrAllProvidersFailed) succeed.
func (e *AllProvidersFailedError) Is(target error) bool {
	return target == ErrAllProvidersFailed
}

// Unwrap exposes the last backend error.
func (e *AllProvidersFailedError) Unwrap() error {
	return e.LastErr
}
