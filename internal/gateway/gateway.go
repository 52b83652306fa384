package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/ShayCichocki/mender/internal/retry"
)

// Result is a successful generation with its accounting.
type Result struct {
	Response *Response
	// Backend is the name of the backend that answered; empty on cache hits.
	Backend  string
	Cost     float64
	Latency  time.Duration
	Attempts int
	Cached   bool
}

// Content returns the response text.
func (r *Result) Content() string {
	if r == nil || r.Response == nil {
		return ""
	}
	return r.Response.Content
}

// Stats reports gateway counters.
type Stats struct {
	Calls            int64
	CacheHits        int64
	Fallbacks        int64
	Failures         int64
	BudgetRejections int64
}

// Gateway fans a request out over a prioritized backend chain.
type Gateway struct {
	backends []BackendConfig
	cache    *Cache
	costs    *CostTracker
	policy   retry.Policy
	logf     func(format string, args ...interface{})
	debugLog func(format string, args ...interface{})

	mu    sync.Mutex
	stats Stats
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithCache enables response caching.
func WithCache(c *Cache) Option {
	return func(g *Gateway) { g.cache = c }
}

// WithCostTracker enables cost accounting and budget checks.
func WithCostTracker(t *CostTracker) Option {
	return func(g *Gateway) { g.costs = t }
}

// WithPolicy sets the backoff used between attempts against one backend.
// The per-backend attempt count comes from BackendConfig.MaxRetries.
func WithPolicy(p retry.Policy) Option {
	return func(g *Gateway) { g.policy = p }
}

// WithLogger replaces the warning logger (log.Printf by default).
func WithLogger(fn func(format string, args ...interface{})) Option {
	return func(g *Gateway) {
		if fn != nil {
			g.logf = fn
		}
	}
}

// WithDebugLog sets a debug logging function.
func WithDebugLog(fn func(format string, args ...interface{})) Option {
	return func(g *Gateway) {
		if fn != nil {
			g.debugLog = fn
		}
	}
}

// New creates a gateway over backends, sorted by ascending priority.
func New(backends []BackendConfig, opts ...Option) (*Gateway, error) {
	if len(backends) == 0 {
		return nil, ErrNoBackends
	}
	for i, b := range backends {
		if b.Backend == nil {
			return nil, fmt.Errorf("backend %d is nil", i)
		}
	}
	sorted := append([]BackendConfig(nil), backends...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })

	g := &Gateway{
		backends: sorted,
		policy:   retry.Policy{BaseDelay: time.Second, MaxDelay: 30 * time.Second},
		logf:     log.Printf,
		debugLog: func(format string, args ...interface{}) {},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Backends returns backend names in chain order.
func (g *Gateway) Backends() []string {
	names := make([]string, len(g.backends))
	for i, b := range g.backends {
		names[i] = b.Backend.Name()
	}
	return names
}

// Costs returns the configured cost tracker, or nil.
func (g *Gateway) Costs() *CostTracker { return g.costs }

// Cache returns the configured cache, or nil.
func (g *Gateway) Cache() *Cache { return g.cache }

// Stats returns a snapshot of the counters.
func (g *Gateway) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}

func (g *Gateway) count(fn func(*Stats)) {
	g.mu.Lock()
	fn(&g.stats)
	g.mu.Unlock()
}

// Generate runs req through the cache, the budget check and then the backend
// chain, returning the first successful response.
func (g *Gateway) Generate(ctx context.Context, req Request) (*Result, error) {
	g.count(func(s *Stats) { s.Calls++ })

	key := ""
	if g.cache != nil && !req.NoCache {
		key = req.CacheKey
		if key == "" {
			key = DeriveKey(req)
		}
		if resp, ok := g.cache.Get(key); ok {
			g.count(func(s *Stats) { s.CacheHits++ })
			g.debugLog("[gateway] cache hit key=%s", shortKey(key))
			return &Result{Response: &resp, Cached: true}, nil
		}
	}

	if err := g.checkBudget(req); err != nil {
		g.count(func(s *Stats) { s.BudgetRejections++ })
		return nil, err
	}

	var (
		history  []AttemptRecord
		lastErr  error
		attempts int
	)
	for i, bc := range g.backends {
		name := bc.Backend.Name()
		for attempt := 0; attempt < bc.attempts(); attempt++ {
			if attempt > 0 {
				if err := g.policy.Wait(ctx, attempt-1); err != nil {
					return nil, fmt.Errorf("generate: %w", err)
				}
			}

			attempts++
			start := time.Now()
			resp, err := g.attempt(ctx, bc, req)
			latency := time.Since(start)
			if err == nil {
				return g.succeed(name, resp, latency, attempts, key, req), nil
			}
			if ctx.Err() != nil {
				return nil, fmt.Errorf("generate: %w", ctx.Err())
			}

			lastErr = err
			history = append(history, AttemptRecord{Backend: name, Attempt: attempt + 1, Err: err, Duration: latency})
			g.logf("[gateway] WARNING: %s attempt %d/%d failed: %v", name, attempt+1, bc.attempts(), err)
		}

		if i < len(g.backends)-1 {
			g.count(func(s *Stats) { s.Fallbacks++ })
			g.logf("[gateway] %s exhausted, falling back to %s", name, g.backends[i+1].Backend.Name())
		}
	}

	g.count(func(s *Stats) { s.Failures++ })
	return nil, &AllProvidersFailedError{Attempts: attempts, LastErr: lastErr, History: history}
}

func (g *Gateway) checkBudget(req Request) error {
	if g.costs == nil {
		return nil
	}
	if g.costs.Exhausted() {
		return fmt.Errorf("%w: limit $%.4f already spent", ErrBudgetExceeded, g.costs.Limit())
	}
	if req.MaxCostUSD > 0 && g.costs.HasLimit() {
		if remaining := g.costs.Remaining(); remaining < req.MaxCostUSD {
			return fmt.Errorf("%w: remaining $%.4f < requested $%.4f", ErrBudgetExceeded, remaining, req.MaxCostUSD)
		}
	}
	return nil
}

// attempt runs one backend call raced against the per-attempt timer. On
// expiry the call's context is cancelled and its result discarded.
func (g *Gateway) attempt(ctx context.Context, bc BackendConfig, req Request) (*Response, error) {
	actx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		resp *Response
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		resp, err := bc.Backend.Generate(actx, req)
		done <- outcome{resp, err}
	}()

	var timeout <-chan time.Time
	if bc.Timeout > 0 {
		timer := time.NewTimer(bc.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case out := <-done:
		if out.err != nil {
			return nil, out.err
		}
		if out.resp == nil {
			return nil, errors.New("backend returned no response")
		}
		return out.resp, nil
	case <-timeout:
		return nil, fmt.Errorf("%w after %s", ErrAttemptTimeout, bc.Timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *Gateway) succeed(name string, resp *Response, latency time.Duration, attempts int, key string, req Request) *Result {
	res := &Result{
		Response: resp,
		Backend:  name,
		Latency:  latency,
		Attempts: attempts,
	}
	model := resp.Model
	if model == "" {
		model = name
	}
	if g.costs != nil {
		rec := g.costs.Record(name, model, resp.Usage, latency, req.Tags)
		res.Cost = rec.Cost
	}
	if key != "" {
		g.cache.Set(key, *resp)
	}
	g.debugLog("[gateway] %s answered in %s (attempts=%d, cost=$%.6f)", name, latency, attempts, res.Cost)
	return res
}

// Stream opens a streaming response from the named backend. Streaming has no
// fallback; backend errors are returned directly.
func (g *Gateway) Stream(ctx context.Context, backendName string, req Request) (<-chan StreamChunk, error) {
	for _, bc := range g.backends {
		if bc.Backend.Name() == backendName {
			return bc.Backend.StreamGenerate(ctx, req)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, backendName)
}

// StreamText collects a stream into a single string.
func StreamText(ch <-chan StreamChunk) (string, error) {
	var out []byte
	for chunk := range ch {
		if chunk.Err != nil {
			return string(out), chunk.Err
		}
		out = append(out, chunk.Text...)
		if chunk.Done {
			break
		}
	}
	return string(out), nil
}

func shortKey(k string) string {
	if len(k) > 12 {
		return k[:12]
	}
	return k
}
