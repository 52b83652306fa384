package models

import (
	"fmt"
	"strings"
)

// Strategy identifies how a selector value locates an element.
type Strategy string

const (
	StrategyCSS         Strategy = "css"
	StrategyXPath       Strategy = "xpath"
	StrategyText        Strategy = "text"
	StrategyRole        Strategy = "role"
	StrategyTestID      Strategy = "testid"
	StrategyPlaceholder Strategy = "placeholder"
	StrategyLabel       Strategy = "label"
)

var allStrategies = []Strategy{
	StrategyCSS, StrategyXPath, StrategyText, StrategyRole,
	StrategyTestID, StrategyPlaceholder, StrategyLabel,
}

// Strategies returns every recognized selector strategy.
func Strategies() []Strategy {
	out := make([]Strategy, len(allStrategies))
	copy(out, allStrategies)
	return out
}

// Valid returns true if the strategy is a known value.
func (s Strategy) Valid() bool {
	for _, known := range allStrategies {
		if s == known {
			return true
		}
	}
	return false
}

// ParseStrategy converts a string to a Strategy, case-insensitively.
func ParseStrategy(s string) (Strategy, bool) {
	st := Strategy(strings.ToLower(strings.TrimSpace(s)))
	return st, st.Valid()
}

// SelectorFallback is an alternative (strategy, value) pair tried when the
// primary selector does not resolve.
type SelectorFallback struct {
	Strategy Strategy `json:"strategy"`
	Value    string   `json:"value"`
}

// Selector identifies a page element.
type Selector struct {
	Strategy  Strategy           `json:"strategy"`
	Value     string             `json:"value"`
	Fallbacks []SelectorFallback `json:"fallbacks,omitempty"`
	Metadata  map[string]string  `json:"metadata,omitempty"`
}

// NewSelector validates and builds a selector.
func NewSelector(strategy Strategy, value string, fallbacks ...SelectorFallback) (Selector, error) {
	if err := validatePair(strategy, value); err != nil {
		return Selector{}, err
	}
	for i, fb := range fallbacks {
		if err := validatePair(fb.Strategy, fb.Value); err != nil {
			return Selector{}, fmt.Errorf("fallback %d: %w", i, err)
		}
	}
	sel := Selector{Strategy: strategy, Value: value}
	if len(fallbacks) > 0 {
		sel.Fallbacks = append([]SelectorFallback(nil), fallbacks...)
	}
	return sel, nil
}

// Validate checks the selector invariants.
func (s Selector) Validate() error {
	if err := validatePair(s.Strategy, s.Value); err != nil {
		return err
	}
	for i, fb := range s.Fallbacks {
		if err := validatePair(fb.Strategy, fb.Value); err != nil {
			return fmt.Errorf("fallback %d: %w", i, err)
		}
	}
	return nil
}

// Candidates returns the primary pair followed by every fallback, in order.
func (s Selector) Candidates() []SelectorFallback {
	out := make([]SelectorFallback, 0, 1+len(s.Fallbacks))
	out = append(out, SelectorFallback{Strategy: s.Strategy, Value: s.Value})
	return append(out, s.Fallbacks...)
}

// Clone returns a deep copy.
func (s Selector) Clone() Selector {
	c := Selector{Strategy: s.Strategy, Value: s.Value}
	if len(s.Fallbacks) > 0 {
		c.Fallbacks = append([]SelectorFallback(nil), s.Fallbacks...)
	}
	if len(s.Metadata) > 0 {
		c.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

// String renders the selector as strategy=value.
func (s Selector) String() string {
	return fmt.Sprintf("%s=%s", s.Strategy, s.Value)
}

func validatePair(strategy Strategy, value string) error {
	if strategy == "" {
		return fmt.Errorf("%w: selector strategy is empty", ErrMalformedCommand)
	}
	if !strategy.Valid() {
		return fmt.Errorf("%w: unknown selector strategy %q", ErrMalformedCommand, strategy)
	}
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: selector value is empty", ErrMalformedCommand)
	}
	return nil
}
