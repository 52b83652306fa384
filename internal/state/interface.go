package state

import "io"

// RunStore handles run persistence.
type RunStore interface {
	CreateRun(r *Run) error
	GetRun(id string) (*Run, error)
	UpdateRun(r *Run) error
	RecentRuns(limit int) ([]Run, error)
}

// SubtaskStore handles per-subtask outcomes.
type SubtaskStore interface {
	SaveSubtask(rec *SubtaskRecord) error
	ListSubtasks(runID string) ([]SubtaskRecord, error)
}

// CostStore handles model call accounting.
type CostStore interface {
	SaveCost(c *CostEntry) error
	RunCost(runID string) (float64, error)
	TotalCost() (float64, error)
}

// Migrator handles database schema migrations.
type Migrator interface {
	Migrate() error
}

// HistoryStore is everything the CLI persists about runs.
type HistoryStore interface {
	io.Closer
	Migrator
	RunStore
	SubtaskStore
	CostStore
}

var (
	_ HistoryStore = (*DB)(nil)
	_ RunStore     = (*DB)(nil)
	_ SubtaskStore = (*DB)(nil)
	_ CostStore    = (*DB)(nil)
)
