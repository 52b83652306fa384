package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ShayCichocki/mender/pkg/models"
)

// StaticExecutor runs commands against a fixed page without a browser. Every
// selector must resolve to exactly one element for interactions; assertions
// are checked against the markup. It backs dry runs and offline tests.
type StaticExecutor struct {
	Page PageSource
}

// Execute checks one command against the current page.
func (e *StaticExecutor) Execute(ctx context.Context, cmd models.Command) models.ExecutionResult {
	start := time.Now()
	output, err := e.execute(ctx, cmd)
	return newResult(start, output, err)
}

// ExecuteAll runs commands in order and stops at the first failure.
func (e *StaticExecutor) ExecuteAll(ctx context.Context, cmds []models.Command) []models.ExecutionResult {
	return executeAll(ctx, cmds, e.Execute)
}

func (e *StaticExecutor) execute(ctx context.Context, cmd models.Command) (string, error) {
	switch cmd.Action() {
	case models.ActionNavigate:
		url, _ := cmd.Param(models.ParamURL)
		return "navigation skipped on static page: " + url, nil
	case models.ActionWait:
		return "", nil
	case models.ActionAssertURL:
		want, _ := cmd.Param(models.ParamURL)
		if !urlMatches(e.Page.URL(), want) {
			return "", fmt.Errorf("assertion failed: expected url %q, got %q", want, e.Page.URL())
		}
		return e.Page.URL(), nil
	}

	sel, ok := cmd.Selector()
	if !ok {
		// keypress without a target goes to the focused element
		return "", nil
	}

	raw, err := e.Page.HTML(ctx)
	if err != nil {
		return "", fmt.Errorf("read page: %w", err)
	}
	doc, err := ParseDocument(raw)
	if err != nil {
		return "", err
	}

	if cmd.Action() == models.ActionAssertNotExists {
		for _, c := range sel.Candidates() {
			if n, known := doc.CountPair(c.Strategy, c.Value); known && n > 0 {
				return "", fmt.Errorf("assertion failed: %s matches %d elements, expected none", formatPair(c), n)
			}
		}
		return "", nil
	}

	match, n, found := doc.Resolve(sel)
	if !found {
		if match.Strategy != "" {
			// count unknown statically, assume the browser would resolve it
			return "", nil
		}
		return "", notFoundError(sel)
	}
	if n > 1 && cmd.Action().IsInteraction() {
		return "", ambiguousError(match, n)
	}

	switch cmd.Action() {
	case models.ActionAssertText:
		want, _ := cmd.Param(models.ParamValue)
		nodes := doc.nodes(match)
		if len(nodes) == 0 {
			return "", nil
		}
		got := strings.Join(strings.Fields(textContent(nodes[0])), " ")
		if !strings.Contains(got, want) {
			return "", fmt.Errorf("assertion failed: expected text %q in %s, got %q", want, formatPair(match), got)
		}
		return got, nil
	case models.ActionAssertValue:
		want, _ := cmd.Param(models.ParamValue)
		nodes := doc.nodes(match)
		if len(nodes) == 0 {
			return "", nil
		}
		got, _ := attr(nodes[0], "value")
		if got != want {
			return "", fmt.Errorf("assertion failed: expected value %q in %s, got %q", want, formatPair(match), got)
		}
		return got, nil
	}
	return fmt.Sprintf("%s on %s", cmd.Action(), formatPair(match)), nil
}
