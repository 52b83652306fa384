package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Command is one browser action. It is immutable once constructed; the With*
// methods return modified copies.
type Command struct {
	action   ActionType
	params   map[string]string
	selector *Selector
}

// NewCommand validates the required fields for the action kind and builds a command.
func NewCommand(action ActionType, params map[string]string, selector *Selector) (Command, error) {
	if !action.Valid() {
		return Command{}, fmt.Errorf("%w: unknown action %q", ErrMalformedCommand, action)
	}
	if selector != nil {
		if err := selector.Validate(); err != nil {
			return Command{}, fmt.Errorf("%s: %w", action, err)
		}
	}
	if action.RequiresSelector() && selector == nil {
		return Command{}, fmt.Errorf("%w: %s requires a selector", ErrMalformedCommand, action)
	}
	for _, key := range action.RequiredParams() {
		if strings.TrimSpace(params[key]) == "" {
			return Command{}, fmt.Errorf("%w: %s requires parameter %q", ErrMalformedCommand, action, key)
		}
	}

	cmd := Command{action: action, params: copyParams(params)}
	if selector != nil {
		sel := selector.Clone()
		cmd.selector = &sel
	}
	return cmd, nil
}

// MustCommand is NewCommand that panics on error. Intended for literals in tests
// and prompt examples.
func MustCommand(action ActionType, params map[string]string, selector *Selector) Command {
	cmd, err := NewCommand(action, params, selector)
	if err != nil {
		panic(err)
	}
	return cmd
}

// NoopCommand returns the placeholder used when generated output cannot be parsed.
func NoopCommand() Command {
	return Command{action: ActionWait, params: map[string]string{ParamMS: "0"}}
}

// Action returns the action kind.
func (c Command) Action() ActionType { return c.action }

// Param returns a single parameter value.
func (c Command) Param(key string) (string, bool) {
	v, ok := c.params[key]
	return v, ok
}

// Params returns a copy of the parameter map.
func (c Command) Params() map[string]string { return copyParams(c.params) }

// ParamKeys returns the parameter keys in sorted order.
func (c Command) ParamKeys() []string {
	keys := make([]string, 0, len(c.params))
	for k := range c.params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Selector returns a copy of the selector, if any.
func (c Command) Selector() (Selector, bool) {
	if c.selector == nil {
		return Selector{}, false
	}
	return c.selector.Clone(), true
}

// HasSelector reports whether the command targets an element.
func (c Command) HasSelector() bool { return c.selector != nil }

// IsZero reports whether the command is the zero value.
func (c Command) IsZero() bool { return c.action == "" }

// WithSelector returns a copy targeting sel.
func (c Command) WithSelector(sel Selector) (Command, error) {
	return NewCommand(c.action, c.params, &sel)
}

// WithParam returns a copy with key set to value.
func (c Command) WithParam(key, value string) (Command, error) {
	params := copyParams(c.params)
	if params == nil {
		params = make(map[string]string, 1)
	}
	params[key] = value
	return NewCommand(c.action, params, c.selector)
}

// Clone returns a deep copy.
func (c Command) Clone() Command {
	out := Command{action: c.action, params: copyParams(c.params)}
	if c.selector != nil {
		sel := c.selector.Clone()
		out.selector = &sel
	}
	return out
}

// Equal reports whether two commands carry the same action, params and selector.
func (c Command) Equal(o Command) bool {
	if c.action != o.action || len(c.params) != len(o.params) {
		return false
	}
	for k, v := range c.params {
		if ov, ok := o.params[k]; !ok || ov != v {
			return false
		}
	}
	if (c.selector == nil) != (o.selector == nil) {
		return false
	}
	if c.selector == nil {
		return true
	}
	a, b := c.selector, o.selector
	if a.Strategy != b.Strategy || a.Value != b.Value || len(a.Fallbacks) != len(b.Fallbacks) {
		return false
	}
	for i := range a.Fallbacks {
		if a.Fallbacks[i] != b.Fallbacks[i] {
			return false
		}
	}
	return true
}

// String gives a compact human-readable form for logs.
func (c Command) String() string {
	var b strings.Builder
	b.WriteString(string(c.action))
	if c.selector != nil {
		b.WriteString(" ")
		b.WriteString(c.selector.String())
	}
	for _, k := range c.ParamKeys() {
		fmt.Fprintf(&b, " %s=%q", k, c.params[k])
	}
	return b.String()
}

type commandJSON struct {
	Action   ActionType        `json:"action"`
	Params   map[string]string `json:"params,omitempty"`
	Selector *Selector         `json:"selector,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (c Command) MarshalJSON() ([]byte, error) {
	return json.Marshal(commandJSON{Action: c.action, Params: c.params, Selector: c.selector})
}

// UnmarshalJSON implements json.Unmarshaler and re-runs construction checks.
func (c *Command) UnmarshalJSON(data []byte) error {
	var raw commandJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	cmd, err := NewCommand(raw.Action, raw.Params, raw.Selector)
	if err != nil {
		return err
	}
	*c = cmd
	return nil
}

// CloneCommands deep-copies a command list.
func CloneCommands(cmds []Command) []Command {
	if cmds == nil {
		return nil
	}
	out := make([]Command, len(cmds))
	for i, c := range cmds {
		out[i] = c.Clone()
	}
	return out
}

func copyParams(params map[string]string) map[string]string {
	if len(params) == 0 {
		return nil
	}
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
