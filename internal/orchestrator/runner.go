package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/mender/internal/graph"
	"github.com/ShayCichocki/mender/internal/heal"
	"github.com/ShayCichocki/mender/pkg/models"
)

// Healer repairs a failing subtask. *heal.Healer implements it.
type Healer interface {
	Run(ctx context.Context, st *models.Subtask) *heal.Result
}

// Runner executes subtasks in dependency order.
type Runner struct {
	exec        heal.Executor
	healer      Healer
	maxParallel int
	logger      *DebugLogger
	onFinish    func(Outcome)

	mu     sync.Mutex
	report *Report
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithHealer repairs failing subtasks. Without one a failure is final.
func WithHealer(h Healer) RunnerOption {
	return func(r *Runner) { r.healer = h }
}

// WithMaxParallel bounds concurrently executing subtasks. Values below 2 run
// sequentially.
func WithMaxParallel(n int) RunnerOption {
	return func(r *Runner) { r.maxParallel = n }
}

// WithLogger sets the debug logger.
func WithLogger(l *DebugLogger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithOnFinish registers a callback invoked once per subtask outcome. Calls
// are serialized.
func WithOnFinish(fn func(Outcome)) RunnerOption {
	return func(r *Runner) { r.onFinish = fn }
}

// New creates a Runner over an executor.
func New(exec heal.Executor, opts ...RunnerOption) *Runner {
	r := &Runner{
		exec:        exec,
		maxParallel: 1,
		logger:      NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes subtasks and reports their outcomes. It fails only if the
// dependency graph cannot be built or ctx is cancelled; failing subtasks are
// reported, not returned as errors. Subtasks must be pending.
func (r *Runner) Run(ctx context.Context, subtasks []*models.Subtask) (*Report, error) {
	start := time.Now()
	g, err := graph.FromSubtasks(subtasks)
	if err != nil {
		return nil, fmt.Errorf("build task graph: %w", err)
	}
	g.SetDebugLog(r.logger.Log)

	byID := make(map[string]*models.Subtask, len(subtasks))
	for _, st := range subtasks {
		byID[st.ID] = st
	}

	r.mu.Lock()
	r.report = &Report{}
	r.mu.Unlock()

	if r.maxParallel > 1 {
		err = r.runParallel(ctx, g, byID)
	} else {
		err = r.runSequential(ctx, g, byID)
	}

	r.mu.Lock()
	report := r.report
	report.Duration = time.Since(start)
	r.mu.Unlock()

	r.logger.Log("[runner] done: %d completed, %d failed, %d blocked, %d healed in %s",
		report.Completed, report.Failed, report.Blocked, report.Healed, report.Duration)
	return report, err
}

func (r *Runner) runSequential(ctx context.Context, g *graph.DAG, byID map[string]*models.Subtask) error {
	order, err := g.TopologicalSort()
	if err != nil {
		return fmt.Errorf("order subtasks: %w", err)
	}
	for _, id := range order {
		if err := ctx.Err(); err != nil {
			return err
		}
		st := byID[id]
		if reason := blockedReason(g, id, byID); reason != "" {
			r.block(st, reason)
			continue
		}
		r.record(r.execute(ctx, st))
	}
	return nil
}

// runParallel dispatches every ready subtask, up to maxParallel at a time.
// Completions are read on this goroutine before the ready set is recomputed,
// so a dependent is never dispatched before its dependencies have finished.
func (r *Runner) runParallel(ctx context.Context, g *graph.DAG, byID map[string]*models.Subtask) error {
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(r.maxParallel)

	doneCh := make(chan string, len(byID))
	done := make(map[string]bool, len(byID))
	inflight := make(map[string]bool)

	for len(done) < len(byID) {
		progressed := false
		for _, id := range g.ExecutableNodes(done) {
			if inflight[id] {
				continue
			}
			st := byID[id]
			progressed = true
			if reason := blockedReason(g, id, byID); reason != "" {
				r.block(st, reason)
				done[id] = true
				continue
			}
			inflight[id] = true
			r.logger.Log("[runner] dispatching %s (%d in flight)", id, len(inflight))
			eg.Go(func() error {
				r.record(r.execute(egCtx, st))
				doneCh <- st.ID
				return nil
			})
		}

		if len(inflight) == 0 {
			if !progressed {
				// unreachable for an acyclic graph
				break
			}
			continue
		}

		select {
		case id := <-doneCh:
			delete(inflight, id)
			done[id] = true
		case <-ctx.Done():
			_ = eg.Wait()
			return ctx.Err()
		}
	}
	return eg.Wait()
}

// blockedReason names the first dependency of id that did not complete, or
// returns "" if all did.
func blockedReason(g *graph.DAG, id string, byID map[string]*models.Subtask) string {
	var bad []string
	for _, dep := range g.Dependencies(id) {
		if st := byID[dep]; st.Status != models.TaskStatusCompleted {
			bad = append(bad, fmt.Sprintf("%s is %s", dep, st.Status))
		}
	}
	if len(bad) == 0 {
		return ""
	}
	return "dependency " + strings.Join(bad, ", ")
}

func (r *Runner) block(st *models.Subtask, reason string) {
	out := Outcome{Subtask: st, Status: models.TaskStatusBlocked}
	if err := st.MarkBlocked(reason); err != nil {
		out.Status = st.Status
		out.Err = err
	}
	r.logger.Log("[runner] %s blocked: %s", st.ID, reason)
	r.record(out)
}

// execute drives one subtask from pending to a terminal state.
func (r *Runner) execute(ctx context.Context, st *models.Subtask) Outcome {
	out := Outcome{Subtask: st}
	if err := st.MarkInProgress(); err != nil {
		out.Status = st.Status
		out.Err = err
		return out
	}
	r.logger.Log("[runner] %s started: %d commands", st.ID, len(st.Commands))

	var results []models.ExecutionResult
	commands := len(st.Commands)
	if r.healer != nil {
		hr := r.healer.Run(ctx, st)
		results = hr.Results
		commands = len(hr.Commands)
		out.HealAttempts = hr.Attempts
		out.LLMCalls = hr.LLMCalls
		out.History = hr.History
		out.Healed = hr.Success && hr.Attempts > 1
		if out.Healed {
			st.Commands = hr.Commands
		}
		out.Err = hr.Err()
	} else {
		results = r.exec.ExecuteAll(ctx, st.Commands)
	}

	summary := Summarize(results, commands)
	if out.HealAttempts > 0 {
		summary.Metadata["heal_attempts"] = fmt.Sprint(out.HealAttempts)
	}
	if out.Err != nil && !summary.Success {
		summary.Error = out.Err.Error()
	}
	if err := st.MarkFinished(summary); err != nil {
		out.Err = err
	}
	out.Status = st.Status
	r.logger.Log("[runner] %s %s", st.ID, st.Status)
	return out
}

func (r *Runner) record(o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.add(o)
	if r.onFinish != nil {
		r.onFinish(o)
	}
}
