package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/ShayCichocki/mender/internal/api"
	"github.com/ShayCichocki/mender/internal/browser"
	"github.com/ShayCichocki/mender/internal/config"
	"github.com/ShayCichocki/mender/internal/decompose"
	"github.com/ShayCichocki/mender/internal/gateway"
	"github.com/ShayCichocki/mender/internal/heal"
	"github.com/ShayCichocki/mender/internal/orchestrator"
	"github.com/ShayCichocki/mender/internal/retry"
	"github.com/ShayCichocki/mender/internal/state"
)

// executor is what the CLI drives: the Playwright driver, or the static
// executor for dry runs.
type executor interface {
	heal.Executor
	browser.PageSource
}

// staticExecutor serves a fixed page for dry runs.
type staticExecutor struct {
	browser.StaticExecutor
	page browser.StaticPage
}

func newStaticExecutor(htmlPath, pageURL string) (*staticExecutor, error) {
	var content string
	if htmlPath != "" {
		data, err := os.ReadFile(htmlPath)
		if err != nil {
			return nil, fmt.Errorf("read page: %w", err)
		}
		content = string(data)
	}
	page := browser.StaticPage{Content: content, PageURL: pageURL}
	return &staticExecutor{StaticExecutor: browser.StaticExecutor{Page: page}, page: page}, nil
}

func (s *staticExecutor) HTML(ctx context.Context) (string, error) { return s.page.HTML(ctx) }
func (s *staticExecutor) URL() string                              { return s.page.URL() }

// loadConfig loads layered config, or a single file when --config is set.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromPath(configPath)
	}
	return config.Load()
}

// providerSpecs converts configured providers, resolving API keys.
func providerSpecs(cfg *config.Config) []api.ProviderSpec {
	specs := make([]api.ProviderSpec, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		key, _ := config.APIKey(p)
		specs = append(specs, api.ProviderSpec{
			Name:       p.Name,
			Kind:       p.Kind,
			Model:      p.Model,
			APIKey:     key,
			BaseURL:    p.BaseURL,
			AWSRegion:  p.AWSRegion,
			AWSProfile: p.AWSProfile,
			Priority:   p.Priority,
			MaxRetries: p.MaxRetries,
			Timeout:    p.Timeout,
		})
	}
	return specs
}

// newGateway builds the model gateway from config. Providers that cannot be
// built are skipped with a warning while at least one remains.
func newGateway(cfg *config.Config, logger *orchestrator.DebugLogger) (*gateway.Gateway, error) {
	chain, err := api.FromConfig(providerSpecs(cfg))
	if err != nil {
		return nil, fmt.Errorf("configure providers: %w", err)
	}
	if len(chain) < len(cfg.Providers) {
		log.Printf("[mender] WARNING: %d of %d providers unavailable", len(cfg.Providers)-len(chain), len(cfg.Providers))
	}

	opts := []gateway.Option{
		gateway.WithCostTracker(gateway.NewCostTracker(cfg.Gateway.BudgetUSD, nil)),
		gateway.WithPolicy(cfg.Gateway.Retry.Policy()),
		gateway.WithDebugLog(logger.Log),
	}
	if cfg.Gateway.Cache {
		opts = append(opts, gateway.WithCache(gateway.NewCache(gateway.CacheConfig{
			MaxEntries: cfg.Gateway.CacheEntries,
			MaxBytes:   cfg.Gateway.CacheBytes,
			TTL:        cfg.Gateway.CacheTTL,
		})))
	}
	return gateway.New(chain, opts...)
}

func newDecomposer(cfg *config.Config, gen decompose.Generator, pages browser.PageSource, logger *orchestrator.DebugLogger) *decompose.Decomposer {
	return decompose.New(gen, pages,
		decompose.WithRefinePolicy(retry.Policy{MaxAttempts: cfg.Decompose.RefineRounds}),
		decompose.WithSnapshotChars(cfg.Decompose.SnapshotChars),
		decompose.WithMaxCallCost(cfg.Gateway.MaxCallUSD),
		decompose.WithDebugLog(logger.Log),
	)
}

func newHealer(cfg *config.Config, gen heal.Generator, exec executor, logger *orchestrator.DebugLogger) *heal.Healer {
	return heal.New(gen, exec,
		heal.WithPolicy(cfg.Heal.Policy()),
		heal.WithPageInspector(exec),
		heal.WithMaxLLMCalls(cfg.Heal.MaxLLMCalls),
		heal.WithSnapshotChars(cfg.Decompose.SnapshotChars),
		heal.WithMaxCallCost(cfg.Gateway.MaxCallUSD),
		heal.WithDebugLog(logger.Log),
	)
}

func newDriver(cfg *config.Config, root string, headed bool) *browser.Driver {
	shots := cfg.Browser.ScreenshotDir
	if shots != "" && !filepath.IsAbs(shots) {
		shots = filepath.Join(root, shots)
	}
	return browser.NewDriver(browser.DriverConfig{
		Browser:        cfg.Browser.Browser,
		Headless:       cfg.Browser.Headless && !headed,
		Timeout:        cfg.Browser.Timeout,
		ScreenshotDir:  shots,
		ViewportWidth:  cfg.Browser.ViewportWidth,
		ViewportHeight: cfg.Browser.ViewportHeight,
		Install:        cfg.Browser.Install,
	})
}

// openStore opens the run history, or returns nil when it is disabled.
func openStore(cfg *config.Config, root string) (*state.DB, error) {
	if cfg.State.Disabled {
		return nil, nil
	}
	path := cfg.State.DBPath
	if path == "" {
		path = state.ProjectDBPath(root)
	}
	db, err := state.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	return db, nil
}

// recordCosts persists every model call the gateway makes. An empty runID
// stores the costs unattached.
func recordCosts(gw *gateway.Gateway, store *state.DB, runID string) {
	gw.Costs().OnRecord(func(rec gateway.CostRecord) {
		if err := store.SaveCost(state.NewCostEntry(runID, rec)); err != nil {
			log.Printf("[mender] WARNING: %v", err)
		}
	})
}

// newLogger writes debug lines to .mender/logs/debug.log when runner.debug_log
// is set and to stderr with --verbose.
func newLogger(cfg *config.Config, root string) *orchestrator.DebugLogger {
	logger := orchestrator.NopLogger()
	if verbose {
		logger = orchestrator.NewDebugLogger(os.Stderr)
	}
	if cfg.Runner.DebugLog {
		if err := logger.AppendFile(orchestrator.DebugLogPath(root)); err != nil {
			log.Printf("[mender] WARNING: debug log disabled: %v", err)
		}
	}
	return logger
}
