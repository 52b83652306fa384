package models

import (
	"errors"
	"fmt"
)

// ErrMalformedCommand indicates a command or selector is missing required fields.
var ErrMalformedCommand = errors.New("malformed command")

// ErrInvalidTransition indicates an illegal task status change.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrInvalidSubtask indicates a subtask failed construction checks.
var ErrInvalidSubtask = errors.New("invalid subtask")

// TransitionError reports the attempted from→to pair of a rejected transition.
type TransitionError struct {
	From TaskStatus
	To   TaskStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition: %s -> %s", e.From, e.To)
}

// Is makes errors.Is(err, ErrInvalidTransition) succeed.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
