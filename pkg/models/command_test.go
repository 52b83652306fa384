package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func cssSelector(t *testing.T, value string) *Selector {
	t.Helper()
	sel, err := NewSelector(StrategyCSS, value)
	if err != nil {
		t.Fatalf("NewSelector() error = %v", err)
	}
	return &sel
}

func TestNewCommand_RequiredFields(t *testing.T) {
	sel := &Selector{Strategy: StrategyTestID, Value: "login"}

	tests := []struct {
		name     string
		action   ActionType
		params   map[string]string
		selector *Selector
		wantErr  bool
	}{
		{"navigate with url", ActionNavigate, map[string]string{ParamURL: "https://x"}, nil, false},
		{"navigate without url", ActionNavigate, nil, nil, true},
		{"click with selector", ActionClick, nil, sel, false},
		{"click without selector", ActionClick, nil, nil, true},
		{"fill without value", ActionFill, nil, sel, true},
		{"fill with value", ActionFill, map[string]string{ParamValue: "a@b.com"}, sel, false},
		{"type with blank value", ActionTypeText, map[string]string{ParamValue: "  "}, sel, true},
		{"press without key", ActionPress, nil, nil, true},
		{"keypress with key", ActionKeypress, map[string]string{ParamKey: "Enter"}, nil, false},
		{"wait bare", ActionWait, nil, nil, false},
		{"assert_url with url no selector", ActionAssertURL, map[string]string{ParamURL: "/home"}, nil, false},
		{"assert_visible without selector", ActionAssertVisible, nil, nil, true},
		{"assert_text without value", ActionAssertText, nil, sel, true},
		{"unknown action", ActionType("scroll"), nil, nil, true},
		{"bad selector strategy", ActionClick, nil, &Selector{Strategy: "id", Value: "x"}, true},
		{"empty selector value", ActionClick, nil, &Selector{Strategy: StrategyCSS}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCommand(tt.action, tt.params, tt.selector)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewCommand() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrMalformedCommand) {
				t.Errorf("expected ErrMalformedCommand, got %v", err)
			}
		})
	}
}

func TestCommand_Immutable(t *testing.T) {
	params := map[string]string{ParamValue: "secret"}
	sel := cssSelector(t, "#password")
	cmd, err := NewCommand(ActionFill, params, sel)
	if err != nil {
		t.Fatalf("NewCommand() error = %v", err)
	}

	params[ParamValue] = "changed"
	sel.Value = "#other"
	cmd.Params()[ParamValue] = "changed again"
	if s, ok := cmd.Selector(); ok {
		s.Fallbacks = append(s.Fallbacks, SelectorFallback{Strategy: StrategyCSS, Value: "#third"})
		if len(s.Fallbacks) != 1 {
			t.Fatalf("unexpected fallbacks %v", s.Fallbacks)
		}
	}

	if v, _ := cmd.Param(ParamValue); v != "secret" {
		t.Errorf("Param(value) = %q, want secret", v)
	}
	if s2, _ := cmd.Selector(); s2.Value != "#password" || len(s2.Fallbacks) != 0 {
		t.Errorf("Selector() = %+v, want #password without fallbacks", s2)
	}
}

func TestCommand_WithSelectorAndParam(t *testing.T) {
	cmd := MustCommand(ActionClick, nil, cssSelector(t, "button"))

	next, err := cmd.WithSelector(Selector{Strategy: StrategyRole, Value: "button[name=Login]"})
	if err != nil {
		t.Fatalf("WithSelector() error = %v", err)
	}
	if s, _ := next.Selector(); s.Strategy != StrategyRole {
		t.Errorf("WithSelector() strategy = %s", s.Strategy)
	}
	if s, _ := cmd.Selector(); s.Strategy != StrategyCSS {
		t.Errorf("original modified: %s", s.Strategy)
	}

	if _, err := cmd.WithSelector(Selector{Strategy: "bogus", Value: "x"}); !errors.Is(err, ErrMalformedCommand) {
		t.Errorf("WithSelector(bogus) error = %v, want ErrMalformedCommand", err)
	}

	withTimeout, err := cmd.WithParam("timeout", "5000")
	if err != nil {
		t.Fatalf("WithParam() error = %v", err)
	}
	if _, ok := cmd.Param("timeout"); ok {
		t.Error("WithParam modified the receiver")
	}
	if v, _ := withTimeout.Param("timeout"); v != "5000" {
		t.Errorf("timeout = %q", v)
	}
}

func TestNoopCommand(t *testing.T) {
	cmd := NoopCommand()
	if cmd.Action() != ActionWait {
		t.Errorf("Action() = %s, want wait", cmd.Action())
	}
	if ms, _ := cmd.Param(ParamMS); ms != "0" {
		t.Errorf("ms = %q, want 0", ms)
	}
	if cmd.HasSelector() {
		t.Error("noop should not carry a selector")
	}
}

func TestCommand_JSONRejectsInvalid(t *testing.T) {
	var cmd Command
	err := json.Unmarshal([]byte(`{"action":"click"}`), &cmd)
	if !errors.Is(err, ErrMalformedCommand) {
		t.Errorf("Unmarshal() error = %v, want ErrMalformedCommand", err)
	}

	orig := MustCommand(ActionAssertText, map[string]string{ParamValue: "Welcome"}, &Selector{
		Strategy:  StrategyTestID,
		Value:     "banner",
		Fallbacks: []SelectorFallback{{Strategy: StrategyText, Value: "Welcome"}},
	})
	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var back Command
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !back.Equal(orig) {
		t.Errorf("round trip mismatch: %s vs %s", back, orig)
	}
}

func TestExecutionResult_DurationMillis(t *testing.T) {
	r := ExecutionResult{Success: true, Duration: 1250 * time.Millisecond}
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var raw map[string]interface{}
	_ = json.Unmarshal(data, &raw)
	if raw["duration_ms"] != float64(1250) {
		t.Errorf("duration_ms = %v, want 1250", raw["duration_ms"])
	}
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in   string
		want Strategy
		ok   bool
	}{
		{"css", StrategyCSS, true},
		{"TestID", StrategyTestID, true},
		{" label ", StrategyLabel, true},
		{"id", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseStrategy(tt.in)
			if ok != tt.ok {
				t.Fatalf("ParseStrategy(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("ParseStrategy(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestActionType_Predicates(t *testing.T) {
	for _, a := range ActionTypes() {
		if a == ActionAssertURL && a.RequiresSelector() {
			t.Error("assert_url should not require a selector")
		}
		if a.IsAssertion() && a != ActionAssertURL && !a.RequiresSelector() {
			t.Errorf("%s should require a selector", a)
		}
	}
	if !ActionFill.RequiresValue() || ActionClick.RequiresValue() {
		t.Error("RequiresValue mismatch")
	}
}
