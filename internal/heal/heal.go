package heal

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/ShayCichocki/mender/internal/browser"
	"github.com/ShayCichocki/mender/internal/dsl"
	"github.com/ShayCichocki/mender/internal/gateway"
	"github.com/ShayCichocki/mender/internal/retry"
	"github.com/ShayCichocki/mender/pkg/models"
)

// ErrSelfHealExhausted is returned when a subtask still fails after every
// healing attempt.
var ErrSelfHealExhausted = errors.New("self-heal exhausted")

// ErrCallBudgetExhausted ends healing when the per-failure LLM call budget
// is spent.
var ErrCallBudgetExhausted = errors.New("llm call budget exhausted")

// ExhaustedError describes a subtask that could not be healed.
type ExhaustedError struct {
	Attempts  int
	LastError string
	Category  Category
	// History holds every failed attempt in order.
	History []Attempt
	// Cause is set when healing stopped early, e.g. on a gateway failure.
	Cause error
}

func (e *ExhaustedError) Error() string {
	msg := fmt.Sprintf("self-heal exhausted after %d attempts (%s): %s", e.Attempts, e.Category, e.LastError)
	if e.Cause != nil {
		msg += fmt.Sprintf(" (stopped early: %v)", e.Cause)
	}
	return msg
}

// Is reports whether target is ErrSelfHealExhausted.
func (e *ExhaustedError) Is(target error) bool { return target == ErrSelfHealExhausted }

func (e *ExhaustedError) Unwrap() error { return e.Cause }

// Generator produces text for a request. *gateway.Gateway implements it.
type Generator interface {
	Generate(ctx context.Context, req gateway.Request) (*gateway.Result, error)
}

// Executor runs commands in order and stops at the first failure.
type Executor interface {
	ExecuteAll(ctx context.Context, cmds []models.Command) []models.ExecutionResult
}

// PageInspector exposes the page a failure happened on.
type PageInspector interface {
	HTML(ctx context.Context) (string, error)
	URL() string
}

// Repair names how an attempt's commands were corrected.
type Repair string

const (
	RepairNone     Repair = "none"
	RepairSelector Repair = "selector"
	RepairSequence Repair = "sequence"
)

const (
	DefaultMaxAttempts   = 3
	defaultSelectorHints = 40
	maxHistoryError      = 200
)

// Failure is the context handed to the model when asking for a correction.
type Failure struct {
	Description  string
	Commands     []models.Command
	Error        string
	CommandIndex int
	URL          string
	Selectors    []models.SelectorFallback
	Category     Category
	Snapshot     string

	rawHTML string
}

// Command returns the command that failed.
func (f *Failure) Command() (models.Command, bool) {
	if f.CommandIndex < 0 || f.CommandIndex >= len(f.Commands) {
		return models.Command{}, false
	}
	return f.Commands[f.CommandIndex], true
}

// Attempt records one failed execution.
type Attempt struct {
	Number       int
	Commands     []models.Command
	CommandIndex int
	Error        string
	Category     Category
	// Repair is how the next candidate was produced.
	Repair Repair
}

// Result is the outcome of healing a subtask.
type Result struct {
	Success bool
	// Attempts counts executions, the first one included.
	Attempts int
	// Commands are the last executed commands, corrected or not.
	Commands []models.Command
	// Results are the per-command results of the last execution.
	Results   []models.ExecutionResult
	LastError string
	Category  Category
	History   []Attempt
	LLMCalls  int
	// Cause is set when healing stopped before its attempts ran out.
	Cause error
}

// Err returns nil on success, otherwise an *ExhaustedError.
func (r *Result) Err() error {
	if r == nil || r.Success {
		return nil
	}
	return &ExhaustedError{
		Attempts:  r.Attempts,
		LastError: r.LastError,
		Category:  r.Category,
		History:   append([]Attempt(nil), r.History...),
		Cause:     r.Cause,
	}
}

// Healer executes subtasks and repairs them when they fail.
type Healer struct {
	gen           Generator
	exec          Executor
	pages         PageInspector
	policy        retry.Policy
	maxCalls      int
	snapshotChars int
	maxCallCost   float64
	refiner       *SelectorRefiner
	debugLog      func(format string, args ...interface{})
}

// Option configures a Healer.
type Option func(*Healer)

// WithPolicy bounds attempts and spaces them.
func WithPolicy(p retry.Policy) Option {
	return func(h *Healer) { h.policy = p }
}

// WithPageInspector enables page context in prompts and selector-only
// refinement.
func WithPageInspector(p PageInspector) Option {
	return func(h *Healer) { h.pages = p }
}

// WithMaxLLMCalls caps model calls per healed subtask, shared by selector
// refinement and full corrections. Zero means twice the attempt count; a
// negative value removes the cap.
func WithMaxLLMCalls(n int) Option {
	return func(h *Healer) { h.maxCalls = n }
}

// WithSnapshotChars sets the page snapshot budget embedded in prompts.
func WithSnapshotChars(n int) Option {
	return func(h *Healer) { h.snapshotChars = n }
}

// WithMaxCallCost sets the worst-case cost declared on each correction
// request.
func WithMaxCallCost(usd float64) Option {
	return func(h *Healer) { h.maxCallCost = usd }
}

// WithDebugLog sets a debug logging function.
func WithDebugLog(fn func(format string, args ...interface{})) Option {
	return func(h *Healer) {
		if fn != nil {
			h.debugLog = fn
		}
	}
}

// New creates a Healer.
func New(gen Generator, exec Executor, opts ...Option) *Healer {
	h := &Healer{
		gen:           gen,
		exec:          exec,
		policy:        retry.Policy{MaxAttempts: DefaultMaxAttempts},
		snapshotChars: browser.DefaultSnapshotChars,
		debugLog:      func(string, ...interface{}) {},
	}
	for _, opt := range opts {
		opt(h)
	}
	h.refiner = NewSelectorRefiner(gen, h.snapshotChars)
	h.refiner.maxCallCost = h.maxCallCost
	return h
}

// MaxAttempts returns the configured attempt ceiling.
func (h *Healer) MaxAttempts() int { return h.policy.Attempts() }

func (h *Healer) callLimit() int {
	switch {
	case h.maxCalls < 0:
		return 0
	case h.maxCalls == 0:
		return 2 * h.policy.Attempts()
	default:
		return h.maxCalls
	}
}

// Run executes st's commands and, on failure, requests corrections and
// executes again until they succeed or attempts run out. The subtask itself
// is not modified.
func (h *Healer) Run(ctx context.Context, st *models.Subtask) *Result {
	res := &Result{Commands: models.CloneCommands(st.Commands)}
	calls := retry.NewBudget(h.callLimit())
	defer func() { res.LLMCalls = calls.Used() }()

	maxAttempts := h.policy.Attempts()
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res.Attempts = attempt
		results := h.exec.ExecuteAll(ctx, res.Commands)
		idx := models.FirstFailure(results)
		if idx < 0 && len(results) < len(res.Commands) {
			// A command with no result never ran.
			idx = len(results)
			results = append(results[:idx:idx], models.ExecutionResult{
				Error: fmt.Sprintf("executor returned %d results for %d commands", idx, len(res.Commands)),
			})
		}
		res.Results = results
		if idx < 0 {
			res.Success = true
			res.LastError = ""
			res.Category = ""
			h.debugLog("[heal] %s succeeded on attempt %d", st.ID, attempt)
			return res
		}

		f := h.failure(ctx, st.Description, res.Commands, idx, results[idx].Error)
		res.LastError = f.Error
		res.Category = f.Category
		rec := Attempt{
			Number:       attempt,
			Commands:     models.CloneCommands(res.Commands),
			CommandIndex: idx,
			Error:        f.Error,
			Category:     f.Category,
		}
		h.debugLog("[heal] %s attempt %d failed at command %d (%s): %s", st.ID, attempt, idx, f.Category, f.Error)

		if attempt == maxAttempts {
			res.History = append(res.History, rec)
			break
		}
		if err := ctx.Err(); err != nil {
			res.History = append(res.History, rec)
			res.Cause = err
			break
		}

		next, repair, err := h.correct(ctx, f, res.History, calls)
		rec.Repair = repair
		res.History = append(res.History, rec)
		if err != nil {
			log.Printf("[heal] WARNING: %s: stopping after attempt %d: %v", st.ID, attempt, err)
			res.Cause = err
			break
		}
		res.Commands = next

		if err := h.policy.Wait(ctx, attempt-1); err != nil {
			res.Cause = err
			break
		}
	}
	return res
}

// failure gathers the context for a correction prompt.
func (h *Healer) failure(ctx context.Context, description string, cmds []models.Command, idx int, errText string) *Failure {
	f := &Failure{
		Description:  description,
		Commands:     cmds,
		Error:        errText,
		CommandIndex: idx,
		URL:          "(unknown)",
		Category:     Classify(errText),
	}
	if h.pages == nil {
		return f
	}
	if u := h.pages.URL(); u != "" {
		f.URL = u
	}
	raw, err := h.pages.HTML(ctx)
	if err != nil {
		log.Printf("[heal] WARNING: could not read page at failure: %v", err)
		return f
	}
	f.rawHTML = raw
	if snap, err := browser.Simplify(raw, h.snapshotChars); err == nil {
		f.Snapshot = snap.HTML
	}
	if doc, err := browser.ParseDocument(raw); err == nil {
		f.Selectors = doc.Selectors(defaultSelectorHints)
	}
	return f
}

// correct produces the next candidate. Selector failures first try a
// selector-only refinement of the failing command; anything else, or a
// refinement that cannot be used, asks for the full sequence.
func (h *Healer) correct(ctx context.Context, f *Failure, history []Attempt, calls *retry.Budget) ([]models.Command, Repair, error) {
	if cmd, ok := f.Command(); ok && f.Category.SelectorRelated() && f.rawHTML != "" && cmd.HasSelector() {
		if !calls.Take() {
			return nil, RepairNone, ErrCallBudgetExhausted
		}
		fixed, err := h.refineSelector(ctx, cmd, f)
		if err == nil {
			next := models.CloneCommands(f.Commands)
			next[f.CommandIndex] = fixed
			h.debugLog("[heal] selector refined: %s", dsl.Format(fixed))
			return next, RepairSelector, nil
		}
		log.Printf("[heal] WARNING: selector refinement failed, requesting full correction: %v", err)
	}

	if !calls.Take() {
		return nil, RepairNone, ErrCallBudgetExhausted
	}
	res, err := h.gen.Generate(ctx, gateway.Request{
		System: fmt.Sprintf(correctionSystem, dsl.Reference()),
		Prompt: buildCorrectionPrompt(f, history),
		Tags:       map[string]string{"phase": "heal", "category": string(f.Category)},
		MaxCostUSD: h.maxCallCost,
	})
	if err != nil {
		return nil, RepairNone, fmt.Errorf("request correction: %w", err)
	}

	cmds, failures := dsl.ExtractScript(res.Content())
	for _, pf := range failures {
		log.Printf("[heal] WARNING: skipping unparseable correction line: %v", &pf)
	}
	if len(cmds) == 0 {
		log.Printf("[heal] WARNING: correction contained no commands, keeping previous candidate")
		return models.CloneCommands(f.Commands), RepairNone, nil
	}
	return cmds, RepairSequence, nil
}

func (h *Healer) refineSelector(ctx context.Context, cmd models.Command, f *Failure) (models.Command, error) {
	corr, err := h.refiner.Refine(ctx, cmd, f.Error, f.rawHTML)
	if err != nil {
		return models.Command{}, err
	}
	h.debugLog("[heal] selector correction confidence %.2f: %s", corr.Confidence, corr.Reasoning)
	return corr.Apply(cmd)
}

func buildCorrectionPrompt(f *Failure, history []Attempt) string {
	failed := "(none)"
	if cmd, ok := f.Command(); ok {
		failed = dsl.Format(cmd)
	}

	sels := "(none)"
	if len(f.Selectors) > 0 {
		lines := make([]string, len(f.Selectors))
		for i, s := range f.Selectors {
			lines[i] = "- " + dsl.FormatPair(s.Strategy, s.Value)
		}
		sels = strings.Join(lines, "\n")
	}

	var hist string
	if len(history) > 0 {
		hist = fmt.Sprintf(historySection, condenseHistory(history))
	}

	snapshot := f.Snapshot
	if snapshot == "" {
		snapshot = "(unavailable)"
	}

	return fmt.Sprintf(correctionPrompt,
		f.Description, f.Category, f.Category.Hint(),
		f.CommandIndex+1, failed, f.Error, f.URL, sels, hist,
		dsl.FormatScript(f.Commands), snapshot)
}

func condenseHistory(history []Attempt) string {
	lines := make([]string, 0, len(history))
	for _, a := range history {
		failed := "?"
		if a.CommandIndex >= 0 && a.CommandIndex < len(a.Commands) {
			failed = dsl.Format(a.Commands[a.CommandIndex])
		}
		errText := a.Error
		if len(errText) > maxHistoryError {
			errText = errText[:maxHistoryError] + "..."
		}
		lines = append(lines, fmt.Sprintf("- attempt %d: %s failed (%s): %s", a.Number, failed, a.Category, errText))
	}
	return strings.Join(lines, "\n")
}
