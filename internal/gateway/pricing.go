package gateway

import "strings"

// Pricing contains pricing per 1M tokens for a model.
type Pricing struct {
	InputPerMillion       float64 // Cost per 1M uncached input tokens
	OutputPerMillion      float64 // Cost per 1M output tokens
	CachedInputPerMillion float64 // Cost per 1M cached input tokens; 0 means 10% of input
}

// cachedRate returns the cached-input rate, defaulting to 10% of the input rate.
func (p Pricing) cachedRate() float64 {
	if p.CachedInputPerMillion > 0 {
		return p.CachedInputPerMillion
	}
	return p.InputPerMillion * 0.1
}

// Cost computes the USD cost of a usage report.
func (p Pricing) Cost(u Usage) float64 {
	cached := u.CachedTokens
	if cached > u.PromptTokens {
		cached = u.PromptTokens
	}
	if cached < 0 {
		cached = 0
	}
	uncached := u.PromptTokens - cached
	return (float64(uncached)*p.InputPerMillion +
		float64(cached)*p.cachedRate() +
		float64(u.CompletionTokens)*p.OutputPerMillion) / 1_000_000
}

// PricingTable maps model ids to pricing.
type PricingTable map[string]Pricing

// FallbackPricing is charged for models missing from the table. It matches the
// most expensive entry so unknown-model estimates err high.
var FallbackPricing = Pricing{InputPerMillion: 15.00, OutputPerMillion: 75.00, CachedInputPerMillion: 1.50}

// DefaultPricing contains pricing for known Claude and OpenAI models.
var DefaultPricing = PricingTable{
	"claude-opus-4-5-20251101":   {InputPerMillion: 15.00, OutputPerMillion: 75.00, CachedInputPerMillion: 1.50},
	"claude-opus-4-1-20250805":   {InputPerMillion: 15.00, OutputPerMillion: 75.00, CachedInputPerMillion: 1.50},
	"claude-sonnet-4-5-20250929": {InputPerMillion: 3.00, OutputPerMillion: 15.00, CachedInputPerMillion: 0.30},
	"claude-sonnet-4-20250514":   {InputPerMillion: 3.00, OutputPerMillion: 15.00, CachedInputPerMillion: 0.30},
	"claude-3-7-sonnet-20250219": {InputPerMillion: 3.00, OutputPerMillion: 15.00, CachedInputPerMillion: 0.30},
	"claude-haiku-4-5-20251001":  {InputPerMillion: 1.00, OutputPerMillion: 5.00, CachedInputPerMillion: 0.10},
	"claude-3-5-haiku-20241022":  {InputPerMillion: 0.80, OutputPerMillion: 4.00, CachedInputPerMillion: 0.08},
	"gpt-4o":                     {InputPerMillion: 2.50, OutputPerMillion: 10.00, CachedInputPerMillion: 1.25},
	"gpt-4o-mini":                {InputPerMillion: 0.15, OutputPerMillion: 0.60, CachedInputPerMillion: 0.075},
	"gpt-4.1":                    {InputPerMillion: 2.00, OutputPerMillion: 8.00, CachedInputPerMillion: 0.50},
	"gpt-4.1-mini":               {InputPerMillion: 0.40, OutputPerMillion: 1.60, CachedInputPerMillion: 0.10},
}

// Lookup finds pricing for model. Bedrock profile ids
// ("us.anthropic.<model>-v1:0") and dated OpenAI ids ("gpt-4o-2024-08-06")
// resolve to their base entry; the longest matching prefix wins.
func (t PricingTable) Lookup(model string) (Pricing, bool) {
	if p, ok := t[model]; ok {
		return p, true
	}
	normalized := normalizeModel(model)
	if p, ok := t[normalized]; ok {
		return p, true
	}
	best, bestLen := Pricing{}, 0
	for name, p := range t {
		if strings.HasPrefix(normalized, name) && len(name) > bestLen {
			best, bestLen = p, len(name)
		}
	}
	return best, bestLen > 0
}

// PriceFor returns pricing for model or FallbackPricing.
func (t PricingTable) PriceFor(model string) Pricing {
	if p, ok := t.Lookup(model); ok {
		return p
	}
	return FallbackPricing
}

func normalizeModel(model string) string {
	m := strings.ToLower(strings.TrimSpace(model))
	if i := strings.Index(m, "anthropic."); i >= 0 {
		m = m[i+len("anthropic."):]
	}
	m = strings.TrimSuffix(m, ":0")
	m = strings.TrimSuffix(m, "-v1")
	return m
}
