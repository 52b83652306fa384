package gateway

import (
	"math"
	"sync"
	"time"
)

// CostRecord is one charged call. Records are append-only.
type CostRecord struct {
	Timestamp    time.Time         `json:"timestamp"`
	Model        string            `json:"model"`
	Provider     string            `json:"provider"`
	InputTokens  int64             `json:"input_tokens"`
	OutputTokens int64             `json:"output_tokens"`
	CachedTokens int64             `json:"cached_tokens,omitempty"`
	Cost         float64           `json:"cost"`
	Tags         map[string]string `json:"tags,omitempty"`
	Latency      time.Duration     `json:"latency"`
}

// CostTracker accumulates spend against an optional USD limit.
type CostTracker struct {
	mu       sync.Mutex
	limitUSD float64
	pricing  PricingTable
	records  []CostRecord
	total    float64
	sinks    []func(CostRecord)
	now      func() time.Time
}

// NewCostTracker creates a tracker. A limit <= 0 means unlimited; a nil
// pricing table uses DefaultPricing.
func NewCostTracker(limitUSD float64, pricing PricingTable) *CostTracker {
	if pricing == nil {
		pricing = DefaultPricing
	}
	return &CostTracker{
		limitUSD: limitUSD,
		pricing:  pricing,
		now:      time.Now,
	}
}

// OnRecord registers a function called with every new record. Sinks run
// after the tracker lock is released.
func (t *CostTracker) OnRecord(fn func(CostRecord)) {
	if fn == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sinks = append(t.sinks, fn)
}

// Record prices a usage report and appends it.
func (t *CostTracker) Record(provider, model string, usage Usage, latency time.Duration, tags map[string]string) CostRecord {
	rec := CostRecord{
		Model:        model,
		Provider:     provider,
		InputTokens:  usage.PromptTokens,
		OutputTokens: usage.CompletionTokens,
		CachedTokens: usage.CachedTokens,
		Cost:         t.pricing.PriceFor(model).Cost(usage),
		Tags:         copyTags(tags),
		Latency:      latency,
	}

	t.mu.Lock()
	rec.Timestamp = t.now()
	t.records = append(t.records, rec)
	t.total += rec.Cost
	sinks := append(([]func(CostRecord))(nil), t.sinks...)
	t.mu.Unlock()

	for _, sink := range sinks {
		sink(rec)
	}
	return rec
}

// Total returns the accumulated spend.
func (t *CostTracker) Total() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// Limit returns the configured limit; <= 0 means unlimited.
func (t *CostTracker) Limit() float64 { return t.limitUSD }

// HasLimit reports whether a spending limit is set.
func (t *CostTracker) HasLimit() bool { return t.limitUSD > 0 }

// Remaining returns limit minus spend, or +Inf when unlimited.
func (t *CostTracker) Remaining() float64 {
	if !t.HasLimit() {
		return math.Inf(1)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.limitUSD - t.total
}

// Exhausted reports whether a limit is set and fully spent.
func (t *CostTracker) Exhausted() bool {
	return t.HasLimit() && t.Remaining() <= 0
}

// Records returns a copy of every record.
func (t *CostTracker) Records() []CostRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]CostRecord(nil), t.records...)
}

// ByProvider sums spend per provider.
func (t *CostTracker) ByProvider() map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]float64)
	for _, r := range t.records {
		out[r.Provider] += r.Cost
	}
	return out
}

func copyTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}
