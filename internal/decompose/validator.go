package decompose

import (
	"fmt"
	"regexp"

	"github.com/ShayCichocki/mender/internal/browser"
	"github.com/ShayCichocki/mender/internal/dsl"
	"github.com/ShayCichocki/mender/pkg/models"
)

// bareTag matches CSS selectors that are only an element name, like "button".
var bareTag = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9-]*$`)

// ValidationResult contains the results of validating a generated command.
type ValidationResult struct {
	Valid  bool
	Issues []string
	// MatchCount is the static match count of the primary selector, or -1
	// when it could not be computed.
	MatchCount int
}

// Validator checks generated commands against the page they will run on.
type Validator struct {
	doc *browser.Document
}

// NewValidator creates a validator. doc may be nil, in which case only
// structural checks run.
func NewValidator(doc *browser.Document) *Validator {
	return &Validator{doc: doc}
}

// Validate flags selectors that are too generic, are not valid CSS, or do not
// resolve to exactly one element. Commands without a selector are always valid.
func (v *Validator) Validate(cmd models.Command) ValidationResult {
	result := ValidationResult{Valid: true, MatchCount: -1}

	sel, ok := cmd.Selector()
	if !ok {
		return result
	}
	target := dsl.FormatPair(sel.Strategy, sel.Value)

	if sel.Strategy == models.StrategyCSS {
		if bareTag.MatchString(sel.Value) {
			result.Issues = append(result.Issues,
				fmt.Sprintf("selector %s is too generic: a bare tag name matches every element of that type", target))
		} else if err := browser.CheckCSS(sel.Value); err != nil {
			result.Issues = append(result.Issues, fmt.Sprintf("selector %s is not valid CSS: %v", target, err))
		}
	}

	if v.doc != nil {
		if n, known := v.doc.Count(sel); known {
			result.MatchCount = n
			switch {
			case cmd.Action() == models.ActionAssertNotExists:
				// zero matches is the expected state
			case n == 0:
				result.Issues = append(result.Issues, fmt.Sprintf("selector %s matches no elements", target))
			case n > 1:
				result.Issues = append(result.Issues, fmt.Sprintf("selector %s matches %d elements", target, n))
			}
		}
	}

	result.Valid = len(result.Issues) == 0
	return result
}
