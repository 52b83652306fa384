package state

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/ShayCichocki/mender/internal/gateway"
	"github.com/ShayCichocki/mender/pkg/models"
)

// tempDBPath returns a path to a temp database file.
func tempDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.db")
}

// setupTestDB opens a temporary database closed at cleanup.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func createRun(t *testing.T, db *DB, id string, started time.Time) *Run {
	t.Helper()
	r := &Run{ID: id, Name: "login suite", Source: "intents.yaml", StartedAt: started, Status: RunRunning}
	if err := db.CreateRun(r); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	return r
}

func TestOpen(t *testing.T) {
	path := tempDBPath(t)
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("database file does not exist at %s", path)
	}
}

func TestOpen_CreatesParentDirectories(t *testing.T) {
	nested := filepath.Join(t.TempDir(), "a", "b", "c")

	db, err := Open(filepath.Join(nested, "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(nested); os.IsNotExist(err) {
		t.Errorf("parent directories not created: %s", nested)
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	// files cannot be created under /proc
	if _, err := Open("/proc/nonexistent/test.db"); err == nil {
		t.Error("expected error opening db at invalid path")
	}
}

func TestOpen_Migrates(t *testing.T) {
	root := t.TempDir()
	db, err := Open(ProjectDBPath(root))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if db.Path() != filepath.Join(root, ".mender", "history.db") {
		t.Errorf("Path() = %q", db.Path())
	}
	if v, err := db.SchemaVersion(); err != nil || v != len(migrations) {
		t.Errorf("SchemaVersion() = %d, %v; want %d", v, err, len(migrations))
	}
}

func TestClose(t *testing.T) {
	db, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if _, err := db.Query("SELECT 1"); err == nil {
		t.Error("expected error after close, got nil")
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	for i := 0; i < 3; i++ {
		if err := db.Migrate(); err != nil {
			t.Fatalf("Migrate (iteration %d) failed: %v", i, err)
		}
	}

	for _, table := range []string{"schema_version", "runs", "subtask_results", "cost_records"} {
		var count int
		row := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table)
		if err := row.Scan(&count); err != nil || count != 1 {
			t.Errorf("table %s missing (count=%d, err=%v)", table, count, err)
		}
	}
	if v, _ := db.SchemaVersion(); v != len(migrations) {
		t.Errorf("schema version = %d, want %d", v, len(migrations))
	}
}

func TestRun_RoundTrip(t *testing.T) {
	db := setupTestDB(t)
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	r := createRun(t, db, "run-1", started)

	got, err := db.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Name != r.Name || got.Source != r.Source || !got.StartedAt.Equal(started) || got.Status != RunRunning || got.FinishedAt != nil {
		t.Errorf("GetRun() = %+v", got)
	}

	finished := started.Add(90 * time.Second)
	r.FinishedAt = &finished
	r.Status = RunFailed
	r.Completed, r.Failed, r.Blocked, r.Healed = 2, 1, 1, 1
	if err := db.UpdateRun(r); err != nil {
		t.Fatalf("UpdateRun failed: %v", err)
	}

	got, _ = db.GetRun("run-1")
	if got.Status != RunFailed || got.FinishedAt == nil || !got.FinishedAt.Equal(finished) ||
		got.Completed != 2 || got.Failed != 1 || got.Blocked != 1 || got.Healed != 1 {
		t.Errorf("after update: %+v", got)
	}

	missing, err := db.GetRun("nope")
	if err != nil || missing != nil {
		t.Errorf("GetRun(missing) = %+v, %v; want nil, nil", missing, err)
	}
}

func TestRecentRuns(t *testing.T) {
	db := setupTestDB(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		createRun(t, db, id, base.Add(time.Duration(i)*time.Hour))
	}

	runs, err := db.RecentRuns(2)
	if err != nil {
		t.Fatalf("RecentRuns failed: %v", err)
	}
	var ids []string
	for _, r := range runs {
		ids = append(ids, r.ID)
	}
	if !reflect.DeepEqual(ids, []string{"c", "b"}) {
		t.Errorf("RecentRuns(2) = %v, want [c b]", ids)
	}
}

func TestSubtasks(t *testing.T) {
	db := setupTestDB(t)
	createRun(t, db, "run-1", time.Now())

	cmd := models.MustCommand(models.ActionNavigate, map[string]string{models.ParamURL: "https://example.com"}, nil)
	st, err := models.NewSubtask("st-1", "open the site", []models.Command{cmd})
	if err != nil {
		t.Fatal(err)
	}
	if err := st.MarkInProgress(); err != nil {
		t.Fatal(err)
	}
	if err := st.MarkFinished(models.ExecutionResult{Error: "navigation failed", Screenshots: []string{"/tmp/a.png"}}); err != nil {
		t.Fatal(err)
	}

	rec := NewSubtaskRecord("run-1", st, 2)
	if err := db.SaveSubtask(rec); err != nil {
		t.Fatalf("SaveSubtask failed: %v", err)
	}
	// saving again replaces
	if err := db.SaveSubtask(rec); err != nil {
		t.Fatalf("SaveSubtask (replace) failed: %v", err)
	}

	got, err := db.ListSubtasks("run-1")
	if err != nil {
		t.Fatalf("ListSubtasks failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d records, want 1", len(got))
	}
	g := got[0]
	if g.Status != "failed" || g.Error != "navigation failed" || g.HealAttempts != 2 ||
		g.Commands != "navigate url=https://example.com" || !reflect.DeepEqual(g.Screenshots, []string{"/tmp/a.png"}) {
		t.Errorf("record = %+v", g)
	}
}

func TestSubtasks_RequireRun(t *testing.T) {
	db := setupTestDB(t)
	err := db.SaveSubtask(&SubtaskRecord{RunID: "ghost", SubtaskID: "x", Description: "d", Status: "failed", FinishedAt: time.Now()})
	if err == nil {
		t.Error("expected foreign key violation for unknown run")
	}
}

func TestCosts(t *testing.T) {
	db := setupTestDB(t)
	createRun(t, db, "run-1", time.Now())

	records := []gateway.CostRecord{
		{Provider: "anthropic", Model: "claude-sonnet-4", InputTokens: 1000, OutputTokens: 200, Cost: 0.25, Latency: time.Second, Tags: map[string]string{"phase": "plan"}},
		{Provider: "openai", Model: "gpt-4o", InputTokens: 500, OutputTokens: 50, CachedTokens: 100, Cost: 0.5},
	}
	for _, r := range records {
		if err := db.SaveCost(NewCostEntry("run-1", r)); err != nil {
			t.Fatalf("SaveCost failed: %v", err)
		}
	}
	if err := db.SaveCost(&CostEntry{Provider: "openai", Model: "gpt-4o", Cost: 1}); err != nil {
		t.Fatalf("SaveCost (unattached) failed: %v", err)
	}

	if got, err := db.RunCost("run-1"); err != nil || got != 0.75 {
		t.Errorf("RunCost() = %v, %v; want 0.75", got, err)
	}
	if got, err := db.TotalCost(); err != nil || got != 1.75 {
		t.Errorf("TotalCost() = %v, %v; want 1.75", got, err)
	}
}

func TestPurgeOldRuns(t *testing.T) {
	db := setupTestDB(t)
	createRun(t, db, "old", time.Now().Add(-48*time.Hour))
	createRun(t, db, "new", time.Now())
	if err := db.SaveCost(&CostEntry{RunID: "old", Provider: "p", Model: "m", Cost: 1}); err != nil {
		t.Fatal(err)
	}
	// unattached costs from decompose follow the same cutoff
	if err := db.SaveCost(&CostEntry{Provider: "p", Model: "m", Cost: 2, RecordedAt: time.Now().Add(-48 * time.Hour)}); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveCost(&CostEntry{Provider: "p", Model: "m", Cost: 4}); err != nil {
		t.Fatal(err)
	}

	n, err := db.PurgeOldRuns(24 * time.Hour)
	if err != nil || n != 1 {
		t.Fatalf("PurgeOldRuns() = %d, %v; want 1", n, err)
	}
	if r, _ := db.GetRun("old"); r != nil {
		t.Error("old run still present")
	}
	if total, _ := db.TotalCost(); total != 4 {
		t.Errorf("TotalCost() after purge = %v, want 4", total)
	}
}

func TestTransaction_Rollback(t *testing.T) {
	db := setupTestDB(t)
	boom := errors.New("boom")

	err := db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO runs (id, name, started_at) VALUES ('tx', 'n', ?)`, formatTime(time.Now())); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Transaction() = %v, want boom", err)
	}
	if r, _ := db.GetRun("tx"); r != nil {
		t.Error("rolled back insert is visible")
	}
}
