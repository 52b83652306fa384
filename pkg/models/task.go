package models

import (
	"fmt"
	"strings"
	"time"
)

// now is the clock used by state transitions. Tests replace it.
var now = time.Now

// TaskStatus represents the current state of a subtask.
type TaskStatus string

const (
	// TaskStatusPending indicates the subtask has not started.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusInProgress indicates the subtask's commands are executing.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusCompleted indicates every command succeeded.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates execution failed and was not repaired.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusBlocked indicates the subtask cannot run yet.
	TaskStatusBlocked TaskStatus = "blocked"
)

// transitions is the legal state table. Terminal states have no entry.
var transitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending:    {TaskStatusInProgress, TaskStatusBlocked},
	TaskStatusInProgress: {TaskStatusCompleted, TaskStatusFailed},
	TaskStatusBlocked:    {TaskStatusInProgress},
}

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted, TaskStatusFailed, TaskStatusBlocked:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is possible.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// CanTransitionTo reports whether s -> to is in the legal table.
func (s TaskStatus) CanTransitionTo(to TaskStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Subtask is one decomposed, executable unit of commands with its own lifecycle.
type Subtask struct {
	// ID is the unique identifier for this subtask.
	ID string `json:"id"`
	// Description is the instruction the commands were generated from.
	Description string `json:"description"`
	// Commands run in order; each depends on DOM state left by the previous one.
	Commands []Command `json:"commands"`
	// Dependencies lists subtask IDs that must complete first.
	Dependencies []string `json:"dependencies,omitempty"`
	// Status is the current lifecycle state.
	Status TaskStatus `json:"status"`
	// Result is set on the last transition.
	Result *ExecutionResult `json:"result,omitempty"`

	startedAt time.Time
}

// NewSubtask validates and builds a pending subtask. Duplicate dependencies are dropped.
func NewSubtask(id, description string, commands []Command, dependencies ...string) (*Subtask, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: empty id", ErrInvalidSubtask)
	}
	if strings.TrimSpace(description) == "" {
		return nil, fmt.Errorf("%w: subtask %s has an empty description", ErrInvalidSubtask, id)
	}
	if len(commands) == 0 {
		return nil, fmt.Errorf("%w: subtask %s has no commands", ErrInvalidSubtask, id)
	}
	for i, c := range commands {
		if c.IsZero() {
			return nil, fmt.Errorf("%w: subtask %s command %d is empty", ErrInvalidSubtask, id, i)
		}
	}
	return &Subtask{
		ID:           id,
		Description:  description,
		Commands:     CloneCommands(commands),
		Dependencies: dedupe(dependencies),
		Status:       TaskStatusPending,
	}, nil
}

// MarkInProgress moves the subtask to in_progress and starts the duration clock.
func (s *Subtask) MarkInProgress() error {
	if err := s.transition(TaskStatusInProgress); err != nil {
		return err
	}
	t := now()
	s.startedAt = t
	s.Result = &ExecutionResult{Timestamp: t}
	return nil
}

// MarkCompleted moves the subtask to completed.
func (s *Subtask) MarkCompleted(output string) error {
	return s.MarkFinished(ExecutionResult{Success: true, Output: output})
}

// MarkFailed moves the subtask to failed.
func (s *Subtask) MarkFailed(errText string) error {
	return s.MarkFinished(ExecutionResult{Success: false, Error: errText})
}

// MarkFinished attaches a collaborator-produced result. Its Success flag selects
// completed or failed; Timestamp and Duration are restamped.
func (s *Subtask) MarkFinished(result ExecutionResult) error {
	to := TaskStatusFailed
	if result.Success {
		to = TaskStatusCompleted
	}
	if err := s.transition(to); err != nil {
		return err
	}
	t := now()
	r := result.Clone()
	r.Timestamp = t
	if !s.startedAt.IsZero() {
		r.Duration = t.Sub(s.startedAt)
	}
	s.Result = &r
	return nil
}

// MarkBlocked moves the subtask to blocked and records why.
func (s *Subtask) MarkBlocked(reason string) error {
	if err := s.transition(TaskStatusBlocked); err != nil {
		return err
	}
	s.Result = &ExecutionResult{
		Success:   false,
		Error:     "blocked: " + reason,
		Timestamp: now(),
	}
	return nil
}

// WithCommands returns a pending copy carrying a replaced command list.
func (s *Subtask) WithCommands(commands []Command) (*Subtask, error) {
	return NewSubtask(s.ID, s.Description, commands, s.Dependencies...)
}

// Clone returns a deep copy including lifecycle state.
func (s *Subtask) Clone() *Subtask {
	c := &Subtask{
		ID:          s.ID,
		Description: s.Description,
		Commands:    CloneCommands(s.Commands),
		Status:      s.Status,
		startedAt:   s.startedAt,
	}
	if s.Dependencies != nil {
		c.Dependencies = append([]string(nil), s.Dependencies...)
	}
	if s.Result != nil {
		r := s.Result.Clone()
		c.Result = &r
	}
	return c
}

// StartedAt returns when MarkInProgress last succeeded.
func (s *Subtask) StartedAt() time.Time { return s.startedAt }

func (s *Subtask) transition(to TaskStatus) error {
	if !s.Status.CanTransitionTo(to) {
		return &TransitionError{From: s.Status, To: to}
	}
	s.Status = to
	return nil
}

func dedupe(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
