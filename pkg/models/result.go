package models

import (
	"encoding/json"
	"time"
)

// ExecutionResult is the outcome of running one command or a whole subtask.
type ExecutionResult struct {
	Success     bool
	Output      string
	Error       string
	Screenshots []string
	Duration    time.Duration
	Timestamp   time.Time
	Metadata    map[string]string
}

// Clone returns a deep copy.
func (r ExecutionResult) Clone() ExecutionResult {
	out := r
	if r.Screenshots != nil {
		out.Screenshots = append([]string(nil), r.Screenshots...)
	}
	if r.Metadata != nil {
		out.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

type resultJSON struct {
	Success     bool              `json:"success"`
	Output      string            `json:"output,omitempty"`
	Error       string            `json:"error,omitempty"`
	Screenshots []string          `json:"screenshots,omitempty"`
	DurationMS  int64             `json:"duration_ms"`
	Timestamp   time.Time         `json:"timestamp"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// MarshalJSON writes Duration as whole milliseconds.
func (r ExecutionResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(resultJSON{
		Success:     r.Success,
		Output:      r.Output,
		Error:       r.Error,
		Screenshots: r.Screenshots,
		DurationMS:  r.Duration.Milliseconds(),
		Timestamp:   r.Timestamp,
		Metadata:    r.Metadata,
	})
}

// UnmarshalJSON reads Duration from whole milliseconds.
func (r *ExecutionResult) UnmarshalJSON(data []byte) error {
	var raw resultJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = ExecutionResult{
		Success:     raw.Success,
		Output:      raw.Output,
		Error:       raw.Error,
		Screenshots: raw.Screenshots,
		Duration:    time.Duration(raw.DurationMS) * time.Millisecond,
		Timestamp:   raw.Timestamp,
		Metadata:    raw.Metadata,
	}
	return nil
}

// FirstFailure returns the index of the first unsuccessful result, or -1.
func FirstFailure(results []ExecutionResult) int {
	for i, r := range results {
		if !r.Success {
			return i
		}
	}
	return -1
}
