package models

import "strings"

// ActionType identifies the kind of browser action a command performs.
type ActionType string

const (
	// ActionNavigate loads a URL in the current page.
	ActionNavigate ActionType = "navigate"
	// ActionClick clicks an element.
	ActionClick ActionType = "click"
	// ActionTypeText types text into an element key by key.
	ActionTypeText ActionType = "type"
	// ActionFill replaces the value of an input element.
	ActionFill ActionType = "fill"
	// ActionHover moves the pointer over an element.
	ActionHover ActionType = "hover"
	// ActionKeypress presses a single key.
	ActionKeypress ActionType = "keypress"
	// ActionPress is an alias of ActionKeypress.
	ActionPress ActionType = "press"
	// ActionWait pauses for a fixed duration.
	ActionWait ActionType = "wait"
	// ActionWaitFor waits until an element appears.
	ActionWaitFor ActionType = "wait_for"
	// ActionAssertExists asserts that an element is attached to the page.
	ActionAssertExists ActionType = "assert_exists"
	// ActionAssertNotExists asserts that no element matches.
	ActionAssertNotExists ActionType = "assert_not_exists"
	// ActionAssertVisible asserts that an element is visible.
	ActionAssertVisible ActionType = "assert_visible"
	// ActionAssertText asserts that an element's text contains a value.
	ActionAssertText ActionType = "assert_text"
	// ActionAssertValue asserts that an input element holds a value.
	ActionAssertValue ActionType = "assert_value"
	// ActionAssertURL asserts that the current URL contains a value.
	ActionAssertURL ActionType = "assert_url"
)

// Parameter keys with required-field semantics.
const (
	ParamURL   = "url"
	ParamValue = "value"
	ParamKey   = "key"
	ParamMS    = "ms"
)

var allActions = []ActionType{
	ActionNavigate, ActionClick, ActionTypeText, ActionFill, ActionHover,
	ActionKeypress, ActionPress, ActionWait, ActionWaitFor,
	ActionAssertExists, ActionAssertNotExists, ActionAssertVisible,
	ActionAssertText, ActionAssertValue, ActionAssertURL,
}

// ParseActionType converts a string to an ActionType, case-insensitively.
func ParseActionType(s string) (ActionType, bool) {
	a := ActionType(strings.ToLower(strings.TrimSpace(s)))
	return a, a.Valid()
}

// ActionTypes returns every recognized action kind.
func ActionTypes() []ActionType {
	out := make([]ActionType, len(allActions))
	copy(out, allActions)
	return out
}

// Valid returns true if the action is a known value.
func (a ActionType) Valid() bool {
	for _, known := range allActions {
		if a == known {
			return true
		}
	}
	return false
}

// IsInteraction reports whether the action manipulates a page element.
func (a ActionType) IsInteraction() bool {
	switch a {
	case ActionClick, ActionTypeText, ActionFill, ActionHover, ActionWaitFor:
		return true
	default:
		return false
	}
}

// IsAssertion reports whether the action checks page state.
func (a ActionType) IsAssertion() bool {
	return strings.HasPrefix(string(a), "assert_")
}

// RequiresSelector reports whether a command of this kind must carry a selector.
func (a ActionType) RequiresSelector() bool {
	if a == ActionAssertURL {
		return false
	}
	return a.IsInteraction() || a.IsAssertion()
}

// RequiresValue reports whether a command of this kind must carry a value parameter.
func (a ActionType) RequiresValue() bool {
	switch a {
	case ActionTypeText, ActionFill, ActionAssertText, ActionAssertValue:
		return true
	default:
		return false
	}
}

// RequiredParams lists the parameter keys a command of this kind must carry.
func (a ActionType) RequiredParams() []string {
	switch a {
	case ActionNavigate, ActionAssertURL:
		return []string{ParamURL}
	case ActionTypeText, ActionFill, ActionAssertText, ActionAssertValue:
		return []string{ParamValue}
	case ActionKeypress, ActionPress:
		return []string{ParamKey}
	default:
		return nil
	}
}
