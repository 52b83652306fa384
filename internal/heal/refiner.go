package heal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/ShayCichocki/mender/internal/browser"
	"github.com/ShayCichocki/mender/internal/dsl"
	"github.com/ShayCichocki/mender/internal/gateway"
	"github.com/ShayCichocki/mender/pkg/models"
)

// ErrInvalidCorrection is returned when a selector correction cannot be used.
var ErrInvalidCorrection = errors.New("invalid selector correction")

// SelectorCorrection is a replacement selector proposed by the model.
type SelectorCorrection struct {
	Primary    models.SelectorFallback
	Fallbacks  []models.SelectorFallback
	Confidence float64
	Reasoning  string
}

// Selector builds the corrected selector.
func (c *SelectorCorrection) Selector() (models.Selector, error) {
	return models.NewSelector(c.Primary.Strategy, c.Primary.Value, c.Fallbacks...)
}

// Apply returns cmd with its selector replaced by the correction.
func (c *SelectorCorrection) Apply(cmd models.Command) (models.Command, error) {
	sel, err := c.Selector()
	if err != nil {
		return models.Command{}, fmt.Errorf("%w: %v", ErrInvalidCorrection, err)
	}
	return cmd.WithSelector(sel)
}

// SelectorRefiner asks the model for a replacement for one failing selector.
type SelectorRefiner struct {
	gen           Generator
	snapshotChars int
	hints         int
	maxCallCost   float64
}

// NewSelectorRefiner creates a refiner. snapshotChars <= 0 uses the default
// snapshot budget.
func NewSelectorRefiner(gen Generator, snapshotChars int) *SelectorRefiner {
	if snapshotChars <= 0 {
		snapshotChars = browser.DefaultSnapshotChars
	}
	return &SelectorRefiner{gen: gen, snapshotChars: snapshotChars, hints: defaultSelectorHints}
}

type pairJSON struct {
	Strategy string `json:"strategy"`
	Value    string `json:"value"`
}

type correctionJSON struct {
	Primary    pairJSON   `json:"primary"`
	Fallbacks  []pairJSON `json:"fallbacks"`
	Confidence float64    `json:"confidence"`
	Reasoning  string     `json:"reasoning"`
}

// Refine requests a corrected selector for cmd, which failed with errText on
// the page rawHTML. The proposed primary must use a recognized strategy and,
// when it can be counted, match exactly one element.
func (r *SelectorRefiner) Refine(ctx context.Context, cmd models.Command, errText, rawHTML string) (*SelectorCorrection, error) {
	sel, ok := cmd.Selector()
	if !ok {
		return nil, fmt.Errorf("%w: %s has no selector", ErrInvalidCorrection, cmd.Action())
	}

	snap, err := browser.Simplify(rawHTML, r.snapshotChars)
	if err != nil {
		return nil, fmt.Errorf("simplify page: %w", err)
	}
	doc, err := browser.ParseDocument(rawHTML)
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}

	res, err := r.gen.Generate(ctx, gateway.Request{
		Prompt: fmt.Sprintf(selectorPrompt,
			dsl.Format(cmd), dsl.FormatPair(sel.Strategy, sel.Value), errText,
			strategyList(), selectorHints(doc, r.hints), snap.HTML),
		Tags:       map[string]string{"phase": "selector_refine"},
		MaxCostUSD: r.maxCallCost,
	})
	if err != nil {
		return nil, err
	}

	corr, err := ParseCorrection(res.Content())
	if err != nil {
		return nil, err
	}
	if cmd.Action() != models.ActionAssertNotExists {
		if n, known := doc.CountPair(corr.Primary.Strategy, corr.Primary.Value); known && n != 1 {
			return nil, fmt.Errorf("%w: %s matches %d elements",
				ErrInvalidCorrection, dsl.FormatPair(corr.Primary.Strategy, corr.Primary.Value), n)
		}
	}
	return corr, nil
}

// ParseCorrection decodes a JSON selector correction from a model response.
// Fallbacks with unrecognized strategies are dropped; an unrecognized
// primary rejects the whole correction.
func ParseCorrection(response string) (*SelectorCorrection, error) {
	body := dsl.StripCodeFences(response)
	start, end := strings.Index(body, "{"), strings.LastIndex(body, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: no JSON object in response", ErrInvalidCorrection)
	}

	var raw correctionJSON
	if err := json.Unmarshal([]byte(body[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCorrection, err)
	}

	strategy, ok := models.ParseStrategy(raw.Primary.Strategy)
	if !ok {
		return nil, fmt.Errorf("%w: unrecognized primary strategy %q", ErrInvalidCorrection, raw.Primary.Strategy)
	}
	if strings.TrimSpace(raw.Primary.Value) == "" {
		return nil, fmt.Errorf("%w: empty primary value", ErrInvalidCorrection)
	}

	corr := &SelectorCorrection{
		Primary:    models.SelectorFallback{Strategy: strategy, Value: raw.Primary.Value},
		Confidence: clamp(raw.Confidence),
		Reasoning:  strings.TrimSpace(raw.Reasoning),
	}
	for _, fb := range raw.Fallbacks {
		s, ok := models.ParseStrategy(fb.Strategy)
		if !ok || strings.TrimSpace(fb.Value) == "" {
			log.Printf("[heal] WARNING: dropping fallback %s=%q: unrecognized strategy or empty value", fb.Strategy, fb.Value)
			continue
		}
		corr.Fallbacks = append(corr.Fallbacks, models.SelectorFallback{Strategy: s, Value: fb.Value})
	}
	return corr, nil
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func strategyList() string {
	names := make([]string, 0, len(models.Strategies()))
	for _, s := range models.Strategies() {
		names = append(names, string(s))
	}
	return strings.Join(names, ", ")
}

func selectorHints(doc *browser.Document, limit int) string {
	if doc == nil {
		return "(none)"
	}
	sels := doc.Selectors(limit)
	if len(sels) == 0 {
		return "(none)"
	}
	lines := make([]string, len(sels))
	for i, s := range sels {
		lines[i] = "- " + dsl.FormatPair(s.Strategy, s.Value)
	}
	return strings.Join(lines, "\n")
}
