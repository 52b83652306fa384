// Package heal repairs failed subtasks. A failure is classified from its
// error text, a correction is requested from the model gateway with fresh
// page context, and the corrected commands are executed again, up to a fixed
// number of attempts.
package heal

import (
	"regexp"
	"strings"
)

// Category is a coarse failure kind derived from an execution error.
type Category string

const (
	CategorySelectorNotFound  Category = "selector_not_found"
	CategoryAmbiguousSelector Category = "ambiguous_selector"
	CategoryTimeout           Category = "timeout"
	CategoryAssertionMismatch Category = "assertion_mismatch"
	CategoryNavigation        Category = "navigation"
	CategoryUnknown           Category = "unknown"
)

// SelectorRelated reports whether a new selector alone may fix the failure.
func (c Category) SelectorRelated() bool {
	return c == CategorySelectorNotFound || c == CategoryAmbiguousSelector
}

// Hint returns the repair advice embedded in correction prompts.
func (c Category) Hint() string {
	switch c {
	case CategorySelectorNotFound:
		return "The selector did not match any element. Pick a selector that exists in the current page."
	case CategoryAmbiguousSelector:
		return "The selector matched several elements. Pick a selector that matches exactly one."
	case CategoryTimeout:
		return "The page did not reach the expected state in time. Consider waiting for an element before interacting."
	case CategoryAssertionMismatch:
		return "An assertion did not hold. Check the expected value against the current page."
	case CategoryNavigation:
		return "Navigation failed. Check the URL."
	default:
		return "Inspect the error and the page, then correct the commands."
	}
}

type rule struct {
	category Category
	match    func(string) bool
}

func contains(words ...string) func(string) bool {
	return func(s string) bool {
		for _, w := range words {
			if strings.Contains(s, w) {
				return true
			}
		}
		return false
	}
}

var multipleMatches = regexp.MustCompile(`(matches|resolved to) \d+ elements`)

// rules are checked in order. Assertion failures can quote match counts and
// navigation failures can carry a timeout, so both come first.
var rules = []rule{
	{CategoryNavigation, contains("navigation failed", "net::err_", "err_name_not_resolved", "err_connection_refused")},
	{CategoryAssertionMismatch, contains("assertion failed", "expected url", "expected text", "expected value")},
	{CategoryAmbiguousSelector, func(s string) bool {
		return contains("ambiguous selector", "strict mode violation")(s) || multipleMatches.MatchString(s)
	}},
	{CategorySelectorNotFound, contains("no element matches", "element not found", "no such element", "matches no elements")},
	{CategoryTimeout, contains("timeout", "timed out", "deadline exceeded")},
}

// Classify assigns a category to an execution error message.
func Classify(errText string) Category {
	s := strings.ToLower(errText)
	if strings.TrimSpace(s) == "" {
		return CategoryUnknown
	}
	for _, r := range rules {
		if r.match(s) {
			return r.category
		}
	}
	return CategoryUnknown
}
