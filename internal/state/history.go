package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ShayCichocki/mender/internal/dsl"
	"github.com/ShayCichocki/mender/internal/gateway"
	"github.com/ShayCichocki/mender/pkg/models"
)

// RunStatus represents the status of a run.
type RunStatus string

const (
	RunRunning  RunStatus = "running"
	RunPassed   RunStatus = "passed"
	RunFailed   RunStatus = "failed"
	RunCanceled RunStatus = "canceled"
)

// Run is one execution of an intents file or instruction.
type Run struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Source     string     `json:"source"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
	Status     RunStatus  `json:"status"`
	Completed  int        `json:"completed"`
	Failed     int        `json:"failed"`
	Blocked    int        `json:"blocked"`
	Healed     int        `json:"healed"`
}

// SubtaskRecord is the stored outcome of one subtask.
type SubtaskRecord struct {
	RunID        string        `json:"run_id"`
	SubtaskID    string        `json:"subtask_id"`
	Description  string        `json:"description"`
	Status       string        `json:"status"`
	Commands     string        `json:"commands"`
	Error        string        `json:"error"`
	HealAttempts int           `json:"heal_attempts"`
	Duration     time.Duration `json:"duration"`
	Screenshots  []string      `json:"screenshots"`
	FinishedAt   time.Time     `json:"finished_at"`
}

// CostEntry is one charged model call.
type CostEntry struct {
	RunID        string            `json:"run_id"`
	Provider     string            `json:"provider"`
	Model        string            `json:"model"`
	InputTokens  int64             `json:"input_tokens"`
	OutputTokens int64             `json:"output_tokens"`
	CachedTokens int64             `json:"cached_tokens"`
	Cost         float64           `json:"cost"`
	Latency      time.Duration     `json:"latency"`
	Tags         map[string]string `json:"tags"`
	RecordedAt   time.Time         `json:"recorded_at"`
}

// NewSubtaskRecord captures a subtask after it reached a final state.
func NewSubtaskRecord(runID string, st *models.Subtask, healAttempts int) *SubtaskRecord {
	rec := &SubtaskRecord{
		RunID:        runID,
		SubtaskID:    st.ID,
		Description:  st.Description,
		Status:       string(st.Status),
		Commands:     dsl.FormatScript(st.Commands),
		HealAttempts: healAttempts,
		FinishedAt:   time.Now(),
	}
	if st.Result != nil {
		rec.Error = st.Result.Error
		rec.Duration = st.Result.Duration
		rec.Screenshots = st.Result.Screenshots
		if !st.Result.Timestamp.IsZero() {
			rec.FinishedAt = st.Result.Timestamp
		}
	}
	return rec
}

// NewCostEntry converts a gateway cost record.
func NewCostEntry(runID string, r gateway.CostRecord) *CostEntry {
	return &CostEntry{
		RunID:        runID,
		Provider:     r.Provider,
		Model:        r.Model,
		InputTokens:  r.InputTokens,
		OutputTokens: r.OutputTokens,
		CachedTokens: r.CachedTokens,
		Cost:         r.Cost,
		Latency:      r.Latency,
		Tags:         r.Tags,
		RecordedAt:   r.Timestamp,
	}
}

// Run CRUD operations

// CreateRun creates a new run.
func (db *DB) CreateRun(r *Run) error {
	_, err := db.Exec(`
		INSERT INTO runs (id, name, source, started_at, status)
		VALUES (?, ?, ?, ?, ?)
	`, r.ID, r.Name, r.Source, formatTime(r.StartedAt), string(r.Status))
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID. It returns nil, nil if the run does not exist.
func (db *DB) GetRun(id string) (*Run, error) {
	row := db.QueryRow(`
		SELECT id, name, source, started_at, finished_at, status, completed, failed, blocked, healed
		FROM runs WHERE id = ?
	`, id)

	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// UpdateRun stores a run's status, counters and finish time.
func (db *DB) UpdateRun(r *Run) error {
	var finished interface{}
	if r.FinishedAt != nil {
		finished = formatTime(*r.FinishedAt)
	}
	_, err := db.Exec(`
		UPDATE runs SET status = ?, finished_at = ?, completed = ?, failed = ?, blocked = ?, healed = ?
		WHERE id = ?
	`, string(r.Status), finished, r.Completed, r.Failed, r.Blocked, r.Healed, r.ID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (db *DB) RecentRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(`
		SELECT id, name, source, started_at, finished_at, status, completed, failed, blocked, healed
		FROM runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (*Run, error) {
	var (
		r         Run
		source    sql.NullString
		startedAt string
		finished  sql.NullString
	)
	if err := s.Scan(&r.ID, &r.Name, &source, &startedAt, &finished, &r.Status,
		&r.Completed, &r.Failed, &r.Blocked, &r.Healed); err != nil {
		return nil, err
	}
	r.Source = source.String
	r.StartedAt, _ = parseTime(startedAt)
	r.FinishedAt = parseNullableTime(finished)
	return &r, nil
}

// Subtask results

// SaveSubtask inserts or replaces a subtask outcome.
func (db *DB) SaveSubtask(rec *SubtaskRecord) error {
	shots, err := json.Marshal(rec.Screenshots)
	if err != nil {
		return fmt.Errorf("marshal screenshots: %w", err)
	}
	_, err = db.Exec(`
		INSERT OR REPLACE INTO subtask_results
			(run_id, subtask_id, description, status, commands, error, heal_attempts, duration_ms, screenshots, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.RunID, rec.SubtaskID, rec.Description, rec.Status, rec.Commands, rec.Error,
		rec.HealAttempts, rec.Duration.Milliseconds(), string(shots), formatTime(rec.FinishedAt))
	if err != nil {
		return fmt.Errorf("save subtask %s: %w", rec.SubtaskID, err)
	}
	return nil
}

// ListSubtasks returns a run's subtask outcomes in the order they finished.
func (db *DB) ListSubtasks(runID string) ([]SubtaskRecord, error) {
	rows, err := db.Query(`
		SELECT run_id, subtask_id, description, status, commands, error, heal_attempts, duration_ms, screenshots, finished_at
		FROM subtask_results WHERE run_id = ? ORDER BY finished_at
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list subtasks: %w", err)
	}
	defer rows.Close()

	var out []SubtaskRecord
	for rows.Next() {
		var (
			rec        SubtaskRecord
			errText    sql.NullString
			durationMS int64
			shots      sql.NullString
			finishedAt string
		)
		if err := rows.Scan(&rec.RunID, &rec.SubtaskID, &rec.Description, &rec.Status, &rec.Commands,
			&errText, &rec.HealAttempts, &durationMS, &shots, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan subtask: %w", err)
		}
		rec.Error = errText.String
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		if shots.Valid && shots.String != "" {
			if err := json.Unmarshal([]byte(shots.String), &rec.Screenshots); err != nil {
				return nil, fmt.Errorf("unmarshal screenshots: %w", err)
			}
		}
		rec.FinishedAt, _ = parseTime(finishedAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Cost records

// SaveCost appends a cost entry. An empty RunID stores it unattached.
func (db *DB) SaveCost(c *CostEntry) error {
	var tags interface{}
	if len(c.Tags) > 0 {
		data, err := json.Marshal(c.Tags)
		if err != nil {
			return fmt.Errorf("marshal tags: %w", err)
		}
		tags = string(data)
	}
	var runID interface{}
	if c.RunID != "" {
		runID = c.RunID
	}
	recorded := c.RecordedAt
	if recorded.IsZero() {
		recorded = time.Now()
	}
	_, err := db.Exec(`
		INSERT INTO cost_records
			(run_id, provider, model, input_tokens, output_tokens, cached_tokens, cost, latency_ms, tags, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, c.Provider, c.Model, c.InputTokens, c.OutputTokens, c.CachedTokens,
		c.Cost, c.Latency.Milliseconds(), tags, formatTime(recorded))
	if err != nil {
		return fmt.Errorf("save cost: %w", err)
	}
	return nil
}

// RunCost returns the total cost charged to a run.
func (db *DB) RunCost(runID string) (float64, error) {
	var total float64
	if err := db.QueryRow(`SELECT COALESCE(SUM(cost), 0) FROM cost_records WHERE run_id = ?`, runID).Scan(&total); err != nil {
		return 0, fmt.Errorf("run cost: %w", err)
	}
	return total, nil
}

// TotalCost returns the cost of every recorded call.
func (db *DB) TotalCost() (float64, error) {
	var total float64
	if err := db.QueryRow(`SELECT COALESCE(SUM(cost), 0) FROM cost_records`).Scan(&total); err != nil {
		return 0, fmt.Errorf("total cost: %w", err)
	}
	return total, nil
}
