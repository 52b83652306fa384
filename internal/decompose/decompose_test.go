package decompose

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/ShayCichocki/mender/internal/browser"
	"github.com/ShayCichocki/mender/internal/gateway"
	"github.com/ShayCichocki/mender/pkg/models"
)

const testPage = `<html><body>
<a href="/login" data-testid="login-link">Log in</a>
<form>
  <label for="email">Email</label><input id="email" name="email">
  <label for="password">Password</label><input id="password" type="password">
  <button type="submit" class="btn" data-testid="submit">Sign in</button>
  <button type="button" class="btn">Cancel</button>
</form>
</body></html>`

// fakeGenerator returns scripted responses in order and records requests.
type fakeGenerator struct {
	mu        sync.Mutex
	responses []string
	err       error
	errAt     int
	requests  []gateway.Request
}

func (f *fakeGenerator) Generate(ctx context.Context, req gateway.Request) (*gateway.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	i := len(f.requests) - 1
	if f.err != nil && i >= f.errAt {
		return nil, f.err
	}
	if i >= len(f.responses) {
		return nil, fmt.Errorf("unexpected request %d", i)
	}
	return &gateway.Result{Response: &gateway.Response{Content: f.responses[i]}}, nil
}

type failingPage struct{}

func (failingPage) HTML(context.Context) (string, error) { return "", errors.New("page crashed") }
func (failingPage) URL() string                          { return "" }

func newTestDecomposer(gen Generator) *Decomposer {
	page := browser.StaticPage{Content: testPage, PageURL: "https://example.com/"}
	return New(gen, page, WithIDFunc(func() string { return "subtask-1" }))
}

func TestDecompose_ThreeStepPlan(t *testing.T) {
	gen := &fakeGenerator{responses: []string{
		"1. click login\n2. fill email with a@b.com\n3. fill password with secret",
		"click testid=login-link",
		"```\nfill css=#email value=a@b.com\n```",
		"Here you go:\nfill label=Password value=secret",
	}}
	d := newTestDecomposer(gen)

	st, err := d.Decompose(context.Background(), "log in as a@b.com")
	if err != nil {
		t.Fatalf("Decompose() error = %v", err)
	}
	if st.ID != "subtask-1" || st.Description != "log in as a@b.com" || st.Status != models.TaskStatusPending {
		t.Errorf("subtask = %+v", st)
	}

	wantActions := []models.ActionType{models.ActionClick, models.ActionFill, models.ActionFill}
	if len(st.Commands) != len(wantActions) {
		t.Fatalf("got %d commands, want %d", len(st.Commands), len(wantActions))
	}
	doc, _ := browser.ParseDocument(testPage)
	v := NewValidator(doc)
	for i, cmd := range st.Commands {
		if cmd.Action() != wantActions[i] {
			t.Errorf("command %d action = %s, want %s", i, cmd.Action(), wantActions[i])
		}
		if vr := v.Validate(cmd); !vr.Valid || vr.MatchCount != 1 {
			t.Errorf("command %d is not specific: %+v", i, vr)
		}
	}
	if len(gen.requests) != 4 {
		t.Errorf("made %d model calls, want 4 (no refinement)", len(gen.requests))
	}
	if !strings.Contains(gen.requests[1].Prompt, "testid=login-link") {
		t.Error("generation prompt should list unique selectors")
	}
}

func TestDecompose_RefinesGenericSelector(t *testing.T) {
	gen := &fakeGenerator{responses: []string{
		"1. click sign in",
		"click css=button",
		"click css=.btn",
		"click testid=submit",
	}}
	d := newTestDecomposer(gen)

	st, err := d.Decompose(context.Background(), "sign in")
	if err != nil {
		t.Fatalf("Decompose() error = %v", err)
	}
	sel, _ := st.Commands[0].Selector()
	if sel.Strategy != models.StrategyTestID || sel.Value != "submit" {
		t.Errorf("selector = %s, want testid=submit", sel)
	}
	if len(gen.requests) != 4 {
		t.Fatalf("made %d model calls, want 4", len(gen.requests))
	}
	first := gen.requests[2].Prompt
	if !strings.Contains(first, "too generic") || !strings.Contains(first, "matches 2 elements") {
		t.Errorf("refinement prompt lacks the issues:\n%s", first)
	}
	if !strings.Contains(gen.requests[3].Prompt, "click css=.btn") {
		t.Error("second refinement should carry the previous candidate")
	}
}

func TestDecompose_DeclaresMaxCallCost(t *testing.T) {
	page := browser.StaticPage{Content: testPage, PageURL: "https://example.com/"}

	gen := &fakeGenerator{responses: []string{"1. click sign in", "click css=button", "click testid=submit"}}
	d := New(gen, page, WithMaxCallCost(0.02))
	if _, err := d.Decompose(context.Background(), "sign in"); err != nil {
		t.Fatal(err)
	}

	iter := &fakeGenerator{responses: []string{"click testid=submit", "done"}}
	d = New(iter, page, WithMaxCallCost(0.02))
	if _, err := d.DecomposeIterative(context.Background(), "sign in", 5); err != nil {
		t.Fatal(err)
	}

	phases := map[string]bool{}
	for _, req := range append(gen.requests, iter.requests...) {
		phases[req.Tags["phase"]] = true
		if req.MaxCostUSD != 0.02 {
			t.Errorf("%s request MaxCostUSD = %v, want 0.02", req.Tags["phase"], req.MaxCostUSD)
		}
	}
	for _, phase := range []string{"plan", "generate", "refine", "iterate"} {
		if !phases[phase] {
			t.Errorf("no %s request made", phase)
		}
	}

	plain := &fakeGenerator{responses: []string{"1. click", "click testid=submit"}}
	if _, err := newTestDecomposer(plain).Decompose(context.Background(), "click"); err != nil {
		t.Fatal(err)
	}
	if plain.requests[0].MaxCostUSD != 0 {
		t.Errorf("MaxCostUSD = %v without the option, want 0", plain.requests[0].MaxCostUSD)
	}
}

func TestDecompose_QuotedAttributeSelectors(t *testing.T) {
	gen := &fakeGenerator{responses: []string{
		"1. open the login link\n2. type the email",
		`click css=a[href="/login"]`,
		`fill css=input[name=email]:not([type="password"]) value=a@b.com`,
	}}
	d := newTestDecomposer(gen)

	st, err := d.Decompose(context.Background(), "log in")
	if err != nil {
		t.Fatalf("Decompose() error = %v", err)
	}
	if len(gen.requests) != 3 {
		t.Errorf("made %d model calls, want 3 (no refinement)", len(gen.requests))
	}
	sel, _ := st.Commands[0].Selector()
	if sel.Value != `a[href="/login"]` {
		t.Errorf("selector value = %s, want the quotes kept", sel.Value)
	}
}

func TestDecompose_AcceptsLastCandidateAfterExhaustion(t *testing.T) {
	gen := &fakeGenerator{responses: []string{
		"1. click a button",
		"click css=button",
		"click css=button",
		"not a command",
		"click css=.btn",
	}}
	d := newTestDecomposer(gen)

	st, err := d.Decompose(context.Background(), "click a button")
	if err != nil {
		t.Fatalf("Decompose() error = %v", err)
	}
	if len(gen.requests) != 2+DefaultRefineRounds {
		t.Errorf("made %d model calls, want %d", len(gen.requests), 2+DefaultRefineRounds)
	}
	sel, _ := st.Commands[0].Selector()
	if sel.Value != ".btn" {
		t.Errorf("accepted selector = %s, want the last candidate css=.btn", sel)
	}
}

func TestDecompose_UnparseableStepBecomesNoop(t *testing.T) {
	gen := &fakeGenerator{responses: []string{
		"1. do something odd",
		"I am not sure what to do here.",
	}}
	d := newTestDecomposer(gen)

	st, err := d.Decompose(context.Background(), "do something odd")
	if err != nil {
		t.Fatalf("Decompose() error = %v", err)
	}
	if len(st.Commands) != 1 || !st.Commands[0].Equal(models.NoopCommand()) {
		t.Errorf("commands = %v, want a single no-op", st.Commands)
	}
}

func TestDecompose_Errors(t *testing.T) {
	cause := errors.New("all providers down")

	tests := []struct {
		name  string
		d     *Decomposer
		instr string
		cause error
	}{
		{"planning fails", newTestDecomposer(&fakeGenerator{err: cause}), "log in", cause},
		{"generation fails", newTestDecomposer(&fakeGenerator{responses: []string{"1. a"}, err: cause, errAt: 1}), "log in", cause},
		{"snapshot fails", New(&fakeGenerator{}, failingPage{}), "log in", nil},
		{"empty instruction", newTestDecomposer(&fakeGenerator{}), "   ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.d.Decompose(context.Background(), tt.instr)
			if !errors.Is(err, ErrDecompositionFailed) {
				t.Fatalf("error = %v, want ErrDecompositionFailed", err)
			}
			if tt.cause != nil && !errors.Is(err, tt.cause) {
				t.Errorf("error = %v, should wrap %v", err, tt.cause)
			}
		})
	}
}

func TestDecompose_NoPage(t *testing.T) {
	gen := &fakeGenerator{responses: []string{"1. open site", "navigate url=https://example.com"}}
	d := New(gen, nil)

	st, err := d.Decompose(context.Background(), "open site")
	if err != nil {
		t.Fatalf("Decompose() error = %v", err)
	}
	if st.ID == "" {
		t.Error("expected a generated id")
	}
	if !strings.Contains(gen.requests[0].Prompt, "(no page loaded)") {
		t.Error("plan prompt should note the missing page")
	}
}

func TestParsePlan(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     []string
	}{
		{"numbered", "1. open login\n2. fill email\n3. submit", []string{"open login", "fill email", "submit"}},
		{"paren numbered", "1) open login\n2) submit", []string{"open login", "submit"}},
		{"bullets with prose", "Sure, here is the plan:\n- open login\n* submit\nThanks!", []string{"open login", "submit"}},
		{"fenced", "```\n1. open login\n```", []string{"open login"}},
		{"plain lines", "Steps:\n# Plan\nopen login\nok\nsubmit the form", []string{"open login", "submit the form"}},
		{"nothing usable", "Steps:\nok", []string{"the instruction"}},
		{"empty", "", []string{"the instruction"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParsePlan(tt.response, "the instruction")
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParsePlan() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDecomposeIterative(t *testing.T) {
	t.Run("stops on done", func(t *testing.T) {
		gen := &fakeGenerator{responses: []string{
			"navigate url=https://example.com/login",
			"click testid=submit",
			"Done.",
		}}
		d := newTestDecomposer(gen)

		st, err := d.DecomposeIterative(context.Background(), "submit the login form", 10)
		if err != nil {
			t.Fatalf("DecomposeIterative() error = %v", err)
		}
		if len(st.Commands) != 2 {
			t.Fatalf("got %d commands, want 2", len(st.Commands))
		}
		if len(gen.requests) != 3 {
			t.Errorf("made %d calls, want 3", len(gen.requests))
		}
		if n := len(gen.requests[2].Context); n != 4 {
			t.Errorf("third request carries %d history messages, want 4", n)
		}
		if gen.requests[1].Context[1].Role != gateway.RoleAssistant {
			t.Error("history should alternate user/assistant")
		}
	})

	t.Run("a command mentioning done is not a stop", func(t *testing.T) {
		gen := &fakeGenerator{responses: []string{`click text=Done`, "COMPLETE"}}
		d := newTestDecomposer(gen)

		st, err := d.DecomposeIterative(context.Background(), "press done", 5)
		if err != nil {
			t.Fatal(err)
		}
		if len(st.Commands) != 1 || st.Commands[0].Action() != models.ActionClick {
			t.Errorf("commands = %v", st.Commands)
		}
	})

	t.Run("caps at max iterations", func(t *testing.T) {
		gen := &fakeGenerator{responses: []string{"wait ms=1", "wait ms=2", "wait ms=3"}}
		d := newTestDecomposer(gen)

		st, err := d.DecomposeIterative(context.Background(), "wait around", 2)
		if err != nil {
			t.Fatal(err)
		}
		if len(st.Commands) != 2 || len(gen.requests) != 2 {
			t.Errorf("commands = %d, calls = %d; want 2 and 2", len(st.Commands), len(gen.requests))
		}
	})

	t.Run("zero iterations yields a no-op", func(t *testing.T) {
		gen := &fakeGenerator{}
		d := newTestDecomposer(gen)

		st, err := d.DecomposeIterative(context.Background(), "anything", 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(st.Commands) != 1 || !st.Commands[0].Equal(models.NoopCommand()) {
			t.Errorf("commands = %v, want one no-op", st.Commands)
		}
		if len(gen.requests) != 0 {
			t.Errorf("made %d calls, want 0", len(gen.requests))
		}
	})

	t.Run("gateway error", func(t *testing.T) {
		gen := &fakeGenerator{err: gateway.ErrAllProvidersFailed}
		d := newTestDecomposer(gen)

		_, err := d.DecomposeIterative(context.Background(), "anything", 3)
		if !errors.Is(err, ErrDecompositionFailed) || !errors.Is(err, gateway.ErrAllProvidersFailed) {
			t.Errorf("error = %v", err)
		}
	})
}

func TestValidator(t *testing.T) {
	doc, err := browser.ParseDocument(testPage)
	if err != nil {
		t.Fatal(err)
	}
	sel := func(s models.Strategy, v string) *models.Selector {
		out, err := models.NewSelector(s, v)
		if err != nil {
			t.Fatal(err)
		}
		return &out
	}

	tests := []struct {
		name      string
		cmd       models.Command
		doc       *browser.Document
		valid     bool
		count     int
		issuePart string
	}{
		{"unique", models.MustCommand(models.ActionClick, nil, sel(models.StrategyTestID, "submit")), doc, true, 1, ""},
		{"bare tag", models.MustCommand(models.ActionClick, nil, sel(models.StrategyCSS, "a")), doc, false, 1, "too generic"},
		{"ambiguous", models.MustCommand(models.ActionClick, nil, sel(models.StrategyCSS, ".btn")), doc, false, 2, "matches 2 elements"},
		{"missing", models.MustCommand(models.ActionClick, nil, sel(models.StrategyCSS, "#nope")), doc, false, 0, "matches no elements"},
		{"not exists expects zero", models.MustCommand(models.ActionAssertNotExists, nil, sel(models.StrategyCSS, "#error")), doc, true, 0, ""},
		{"xpath unknown", models.MustCommand(models.ActionClick, nil, sel(models.StrategyXPath, "//button")), doc, true, -1, ""},
		{"no selector", models.NoopCommand(), doc, true, -1, ""},
		{"no document", models.MustCommand(models.ActionClick, nil, sel(models.StrategyCSS, "#nope")), nil, true, -1, ""},
		{"no document bare tag", models.MustCommand(models.ActionClick, nil, sel(models.StrategyCSS, "button")), nil, false, -1, "too generic"},
		{"quoted attribute", models.MustCommand(models.ActionClick, nil, sel(models.StrategyCSS, `a[href="/login"]`)), doc, true, 1, ""},
		{"unquoted spaced attribute", models.MustCommand(models.ActionClick, nil, sel(models.StrategyCSS, "input[placeholder=Your email]")), doc, false, -1, "not valid CSS"},
		{"invalid css without document", models.MustCommand(models.ActionClick, nil, sel(models.StrategyCSS, "#a[")), nil, false, -1, "not valid CSS"},
		{"playwright extension", models.MustCommand(models.ActionClick, nil, sel(models.StrategyCSS, `button:has-text("Sign in")`)), doc, true, -1, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewValidator(tt.doc).Validate(tt.cmd)
			if got.Valid != tt.valid || got.MatchCount != tt.count {
				t.Fatalf("Validate() = %+v, want valid=%v count=%d", got, tt.valid, tt.count)
			}
			if tt.issuePart != "" && !strings.Contains(strings.Join(got.Issues, "\n"), tt.issuePart) {
				t.Errorf("Issues = %v, want one containing %q", got.Issues, tt.issuePart)
			}
		})
	}
}
