package dsl

import (
	"fmt"
	"strings"

	"github.com/ShayCichocki/mender/pkg/models"
)

// Reference describes the command language for inclusion in model prompts.
func Reference() string {
	var actions []string
	for _, a := range models.ActionTypes() {
		var parts []string
		if a.RequiresSelector() {
			parts = append(parts, "<selector>")
		}
		for _, p := range a.RequiredParams() {
			parts = append(parts, p+"=...")
		}
		if a == models.ActionWait {
			parts = append(parts, "ms=...")
		}
		actions = append(actions, strings.TrimSpace(fmt.Sprintf("  %s %s", a, strings.Join(parts, " "))))
	}

	strategies := make([]string, 0, len(models.Strategies()))
	for _, s := range models.Strategies() {
		strategies = append(strategies, string(s))
	}

	return fmt.Sprintf(`Command language: one command per line.
  <type> [<strategy>=<value> [fallback=<strategy>=<value>]...] [<param>=<value> ...]
Values containing spaces must be double-quoted, e.g. text="Sign in".
Quotes inside a selector are written as usual: css=input[placeholder="Your email"].

Commands:
  %s

Selector strategies: %s.
role values may carry an accessible name: role=button[name="Sign in"].
Prefer testid, id-based css, label or placeholder selectors that match exactly one element.
Never use a bare tag name such as css=button.

Examples:
  navigate url=https://example.com/login
  fill label=Email value=a@b.com
  click css=a[href="/pricing"]
  click testid=login-submit fallback=css=#login
  assert_text css=#status value=Welcome`,
		strings.Join(actions, "\n  "), strings.Join(strategies, ", "))
}
