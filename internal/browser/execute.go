package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ShayCichocki/mender/internal/dsl"
	"github.com/ShayCichocki/mender/pkg/models"
)

// Error texts produced by executors. Failure classification keys off them.
const (
	msgNotFound  = "no element matches selector"
	msgAmbiguous = "ambiguous selector"
)

func notFoundError(sel models.Selector) error {
	tried := make([]string, 0, 1+len(sel.Fallbacks))
	for _, c := range sel.Candidates() {
		tried = append(tried, formatPair(c))
	}
	return fmt.Errorf("%s %s", msgNotFound, strings.Join(tried, " | "))
}

func ambiguousError(c models.SelectorFallback, n int) error {
	return fmt.Errorf("%s: %s matches %d elements", msgAmbiguous, formatPair(c), n)
}

func formatPair(c models.SelectorFallback) string {
	return dsl.FormatPair(c.Strategy, c.Value)
}

func newResult(start time.Time, output string, err error) models.ExecutionResult {
	r := models.ExecutionResult{
		Success:   err == nil,
		Output:    output,
		Duration:  time.Since(start),
		Timestamp: time.Now(),
	}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// executeAll runs cmds in order. Later commands depend on the DOM state the
// earlier ones leave, so the first failure ends the batch.
func executeAll(ctx context.Context, cmds []models.Command, exec func(context.Context, models.Command) models.ExecutionResult) []models.ExecutionResult {
	results := make([]models.ExecutionResult, 0, len(cmds))
	for i, cmd := range cmds {
		if err := ctx.Err(); err != nil {
			results = append(results, newResult(time.Now(), "", fmt.Errorf("command %d not run: %w", i, err)))
			break
		}
		r := exec(ctx, cmd)
		if r.Metadata == nil {
			r.Metadata = make(map[string]string)
		}
		r.Metadata["command_index"] = fmt.Sprint(i)
		r.Metadata["command"] = dsl.Format(cmd)
		results = append(results, r)
		if !r.Success {
			break
		}
	}
	return results
}

// urlMatches compares a page address against an expected one. An expectation
// without a scheme matches as a substring, so "/dashboard" matches a full URL.
func urlMatches(actual, expected string) bool {
	if actual == expected {
		return true
	}
	if strings.Contains(expected, "://") {
		return strings.TrimSuffix(actual, "/") == strings.TrimSuffix(expected, "/")
	}
	return expected != "" && strings.Contains(actual, expected)
}
