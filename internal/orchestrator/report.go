package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/ShayCichocki/mender/internal/heal"
	"github.com/ShayCichocki/mender/pkg/models"
)

// Outcome is what happened to one subtask during a run.
type Outcome struct {
	Subtask *models.Subtask
	Status  models.TaskStatus
	// HealAttempts counts executions made by the healer, the first included.
	HealAttempts int
	Healed       bool
	LLMCalls     int
	// History lists the healer's failed attempts, healed or not.
	History []heal.Attempt
	Err     error
}

// Report summarizes a run. Outcomes are in the order subtasks finished.
type Report struct {
	Outcomes  []Outcome
	Completed int
	Failed    int
	Blocked   int
	Healed    int
	Duration  time.Duration
}

// Success reports whether every subtask completed.
func (r *Report) Success() bool {
	return r.Failed == 0 && r.Blocked == 0 && r.Completed > 0
}

// Total returns the number of subtasks with an outcome.
func (r *Report) Total() int { return len(r.Outcomes) }

func (r *Report) add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
	switch o.Status {
	case models.TaskStatusCompleted:
		r.Completed++
	case models.TaskStatusFailed:
		r.Failed++
	case models.TaskStatusBlocked:
		r.Blocked++
	}
	if o.Healed {
		r.Healed++
	}
}

// Summarize folds per-command results into the subtask's result. It succeeds
// only if every command ran and succeeded.
func Summarize(results []models.ExecutionResult, commands int) models.ExecutionResult {
	sum := models.ExecutionResult{
		Success:  len(results) == commands && models.FirstFailure(results) < 0,
		Metadata: map[string]string{"commands_run": fmt.Sprint(len(results))},
	}
	var outputs []string
	for i, r := range results {
		sum.Duration += r.Duration
		sum.Screenshots = append(sum.Screenshots, r.Screenshots...)
		if r.Output != "" {
			outputs = append(outputs, r.Output)
		}
		if !r.Success && sum.Error == "" {
			sum.Error = fmt.Sprintf("command %d failed: %s", i+1, r.Error)
			if cmd := r.Metadata["command"]; cmd != "" {
				sum.Metadata["failed_command"] = cmd
			}
		}
	}
	if !sum.Success && sum.Error == "" {
		sum.Error = fmt.Sprintf("only %d of %d commands ran", len(results), commands)
	}
	sum.Output = strings.Join(outputs, "\n")
	return sum
}
