// Package decompose turns natural-language test instructions into ordered
// browser commands: a planning pass splits the instruction into steps, then
// each step is generated, validated against the page and refined.
package decompose

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/ShayCichocki/mender/internal/browser"
	"github.com/ShayCichocki/mender/internal/dsl"
	"github.com/ShayCichocki/mender/internal/gateway"
	"github.com/ShayCichocki/mender/internal/retry"
	"github.com/ShayCichocki/mender/pkg/models"
)

// ErrDecompositionFailed is returned when a page snapshot or a model call
// fails during decomposition.
var ErrDecompositionFailed = errors.New("decomposition failed")

// Error carries the stage that failed and the underlying cause.
type Error struct {
	Stage string
	Step  int
	Err   error
}

func (e *Error) Error() string {
	if e.Step > 0 {
		return fmt.Sprintf("decomposition failed at %s (step %d): %v", e.Stage, e.Step, e.Err)
	}
	return fmt.Sprintf("decomposition failed at %s: %v", e.Stage, e.Err)
}

// Is reports whether target is ErrDecompositionFailed.
func (e *Error) Is(target error) bool { return target == ErrDecompositionFailed }

func (e *Error) Unwrap() error { return e.Err }

// Generator produces text for a request. *gateway.Gateway implements it.
type Generator interface {
	Generate(ctx context.Context, req gateway.Request) (*gateway.Result, error)
}

// Defaults used by New.
const (
	DefaultRefineRounds  = 3
	DefaultSelectorHints = 40
	DefaultMaxIterations = 20
)

// Decomposer breaks instructions down into subtasks of browser commands.
type Decomposer struct {
	gen           Generator
	pages         browser.PageSource
	refine        retry.Policy
	snapshotChars int
	selectorHints int
	maxCallCost   float64
	newID         func() string
	debugLog      func(format string, args ...interface{})
}

// Option configures a Decomposer.
type Option func(*Decomposer)

// WithRefinePolicy bounds the refinement rounds per step.
func WithRefinePolicy(p retry.Policy) Option {
	return func(d *Decomposer) { d.refine = p }
}

// WithSnapshotChars sets the page snapshot budget embedded in prompts.
func WithSnapshotChars(n int) Option {
	return func(d *Decomposer) { d.snapshotChars = n }
}

// WithMaxCallCost makes every model call declare usd as its worst-case
// cost, so the gateway refuses it when less than that is left of the budget.
func WithMaxCallCost(usd float64) Option {
	return func(d *Decomposer) { d.maxCallCost = usd }
}

// WithDebugLog sets a debug logging function.
func WithDebugLog(fn func(format string, args ...interface{})) Option {
	return func(d *Decomposer) {
		if fn != nil {
			d.debugLog = fn
		}
	}
}

// WithIDFunc overrides subtask id generation.
func WithIDFunc(fn func() string) Option {
	return func(d *Decomposer) {
		if fn != nil {
			d.newID = fn
		}
	}
}

// New creates a Decomposer. pages may be nil when no page is available; the
// prompts then carry no snapshot and validation is structural only.
func New(gen Generator, pages browser.PageSource, opts ...Option) *Decomposer {
	d := &Decomposer{
		gen:           gen,
		pages:         pages,
		refine:        retry.Policy{MaxAttempts: DefaultRefineRounds},
		snapshotChars: browser.DefaultSnapshotChars,
		selectorHints: DefaultSelectorHints,
		newID:         uuid.NewString,
		debugLog:      func(string, ...interface{}) {},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// pageContext is the page state captured once per decomposition.
type pageContext struct {
	url      string
	snapshot string
	hints    string
	doc      *browser.Document
}

func (d *Decomposer) capture(ctx context.Context) (*pageContext, error) {
	pc := &pageContext{url: "(none)", snapshot: "(no page loaded)", hints: "(none)"}
	if d.pages == nil {
		return pc, nil
	}
	snap, doc, err := browser.Capture(ctx, d.pages, d.snapshotChars)
	if err != nil {
		return nil, &Error{Stage: "page snapshot", Err: err}
	}
	if u := d.pages.URL(); u != "" {
		pc.url = u
	}
	pc.snapshot = snap.HTML
	pc.doc = doc
	if hints := doc.Selectors(d.selectorHints); len(hints) > 0 {
		lines := make([]string, len(hints))
		for i, h := range hints {
			lines[i] = "- " + dsl.FormatPair(h.Strategy, h.Value)
		}
		pc.hints = strings.Join(lines, "\n")
	}
	return pc, nil
}

// Decompose plans the instruction, generates one validated command per step
// and returns them as a pending subtask, in plan order.
func (d *Decomposer) Decompose(ctx context.Context, instruction string) (*models.Subtask, error) {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return nil, &Error{Stage: "input", Err: errors.New("empty instruction")}
	}

	pc, err := d.capture(ctx)
	if err != nil {
		return nil, err
	}

	steps, err := d.plan(ctx, instruction, pc)
	if err != nil {
		return nil, err
	}
	d.debugLog("[decompose] planned %d steps", len(steps))

	commands := make([]models.Command, 0, len(steps))
	for i, step := range steps {
		cmd, err := d.generateStep(ctx, i+1, step, instruction, pc)
		if err != nil {
			return nil, err
		}
		commands = append(commands, cmd)
	}

	return models.NewSubtask(d.newID(), instruction, commands)
}

// Plan runs only the planning pass and returns the step descriptions.
func (d *Decomposer) Plan(ctx context.Context, instruction string) ([]string, error) {
	pc, err := d.capture(ctx)
	if err != nil {
		return nil, err
	}
	return d.plan(ctx, instruction, pc)
}

func (d *Decomposer) plan(ctx context.Context, instruction string, pc *pageContext) ([]string, error) {
	res, err := d.generate(ctx, gateway.Request{
		Prompt: fmt.Sprintf(planPrompt, instruction, pc.url, pc.snapshot),
		Tags:   map[string]string{"phase": "plan"},
	})
	if err != nil {
		return nil, &Error{Stage: "planning", Err: err}
	}
	return ParsePlan(res.Content(), instruction), nil
}

func (d *Decomposer) generate(ctx context.Context, req gateway.Request) (*gateway.Result, error) {
	req.MaxCostUSD = d.maxCallCost
	return d.gen.Generate(ctx, req)
}

// planItem matches "1. step", "2) step", "- step" and "* step".
var planItem = regexp.MustCompile(`^\s*(?:\d+[.)]|[-*•])\s+(.+?)\s*$`)

// ParsePlan extracts step descriptions from a planning response. Numbered or
// bulleted lines win; otherwise every non-trivial line that is not a header is
// a step; if nothing qualifies the whole instruction is the only step.
func ParsePlan(response, instruction string) []string {
	body := dsl.StripCodeFences(response)
	lines := strings.Split(body, "\n")

	var steps []string
	for _, line := range lines {
		if m := planItem.FindStringSubmatch(line); m != nil {
			steps = append(steps, m[1])
		}
	}
	if len(steps) > 0 {
		return steps
	}

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if len(line) < 3 || strings.HasPrefix(line, "#") || strings.HasSuffix(line, ":") {
			continue
		}
		steps = append(steps, line)
	}
	if len(steps) > 0 {
		return steps
	}
	return []string{strings.TrimSpace(instruction)}
}

// generateStep produces one command for a step, refining it until it
// validates or the refinement rounds run out.
func (d *Decomposer) generateStep(ctx context.Context, n int, step, instruction string, pc *pageContext) (models.Command, error) {
	res, err := d.generate(ctx, gateway.Request{
		System: fmt.Sprintf(generateSystem, dsl.Reference()),
		Prompt: fmt.Sprintf(generatePrompt, step, instruction, pc.url, pc.hints, pc.snapshot),
		Tags:   map[string]string{"phase": "generate"},
	})
	if err != nil {
		return models.Command{}, &Error{Stage: "generation", Step: n, Err: err}
	}
	cmd := d.parseOrNoop(n, res.Content())

	validator := NewValidator(pc.doc)
	for round := 0; ; round++ {
		vr := validator.Validate(cmd)
		if vr.Valid {
			return cmd, nil
		}
		if round >= d.refine.Attempts() {
			log.Printf("[decompose] WARNING: step %d still invalid after %d refinement rounds, accepting %q: %s",
				n, round, dsl.Format(cmd), strings.Join(vr.Issues, "; "))
			return cmd, nil
		}
		d.debugLog("[decompose] step %d round %d issues: %s", n, round+1, strings.Join(vr.Issues, "; "))

		if err := d.refine.Wait(ctx, round); err != nil {
			return models.Command{}, &Error{Stage: "refinement", Step: n, Err: err}
		}
		res, err := d.generate(ctx, gateway.Request{
			System: fmt.Sprintf(generateSystem, dsl.Reference()),
			Prompt: fmt.Sprintf(refinePrompt, step, dsl.Format(cmd), bulletList(vr.Issues), pc.hints, pc.snapshot),
			Tags:   map[string]string{"phase": "refine"},
		})
		if err != nil {
			return models.Command{}, &Error{Stage: "refinement", Step: n, Err: err}
		}
		if parsed := dsl.ExtractCommand(res.Content()); parsed.OK() {
			cmd = parsed.Command
		} else {
			log.Printf("[decompose] WARNING: step %d refinement unparseable, keeping previous command: %v", n, parsed.Failure)
		}
	}
}

func (d *Decomposer) parseOrNoop(n int, response string) models.Command {
	parsed := dsl.ExtractCommand(response)
	if parsed.OK() {
		return parsed.Command
	}
	log.Printf("[decompose] WARNING: step %d: %v; using no-op", n, parsed.Failure)
	return models.NoopCommand()
}

// doneToken matches a completion signal from the model.
var doneToken = regexp.MustCompile(`(?i)\b(complete|completed|done)\b`)

// DecomposeIterative asks for one command at a time, carrying the
// conversation forward, until the model signals completion or maxIterations
// is reached. It never returns an empty subtask: with no commands the result
// holds a single no-op.
func (d *Decomposer) DecomposeIterative(ctx context.Context, instruction string, maxIterations int) (*models.Subtask, error) {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return nil, &Error{Stage: "input", Err: errors.New("empty instruction")}
	}

	pc, err := d.capture(ctx)
	if err != nil {
		return nil, err
	}

	var (
		commands []models.Command
		history  []gateway.Message
		prompt   = fmt.Sprintf(iterativePrompt, instruction, pc.url, pc.hints, pc.snapshot)
		system   = fmt.Sprintf(iterativeSystem, dsl.Reference())
	)
	for i := 0; i < maxIterations; i++ {
		res, err := d.generate(ctx, gateway.Request{
			System:  system,
			Context: history,
			Prompt:  prompt,
			Tags:    map[string]string{"phase": "iterate"},
		})
		if err != nil {
			return nil, &Error{Stage: "iteration", Step: i + 1, Err: err}
		}
		content := res.Content()
		history = append(history,
			gateway.Message{Role: gateway.RoleUser, Content: prompt},
			gateway.Message{Role: gateway.RoleAssistant, Content: content},
		)

		parsed := dsl.ExtractCommand(content)
		if !parsed.OK() && doneToken.MatchString(content) {
			d.debugLog("[decompose] model signalled completion after %d commands", len(commands))
			break
		}

		var outcome string
		if parsed.OK() {
			cmd := parsed.Command
			if vr := NewValidator(pc.doc).Validate(cmd); !vr.Valid {
				outcome = "Accepted, with warnings: " + strings.Join(vr.Issues, "; ")
			} else {
				outcome = "Accepted: " + dsl.Format(cmd)
			}
			commands = append(commands, cmd)
		} else {
			log.Printf("[decompose] WARNING: iteration %d: %v; using no-op", i+1, parsed.Failure)
			commands = append(commands, models.NoopCommand())
			outcome = "That was not a valid command: " + parsed.Failure.Reason
		}
		prompt = fmt.Sprintf(iterativeNextPrompt, outcome)
	}

	if len(commands) == 0 {
		commands = []models.Command{models.NoopCommand()}
	}
	return models.NewSubtask(d.newID(), instruction, commands)
}

func bulletList(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	return "- " + strings.Join(items, "\n- ")
}
