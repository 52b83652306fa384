// Package config handles configuration loading for mender.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ShayCichocki/mender/internal/retry"
)

// ProjectConfigName is the project-level config file searched for upward
// from the working directory.
const ProjectConfigName = ".mender.yaml"

// Config holds all configuration for mender.
type Config struct {
	Providers []ProviderConfig `mapstructure:"providers"`
	Gateway   GatewayConfig    `mapstructure:"gateway"`
	Decompose DecomposeConfig  `mapstructure:"decompose"`
	Heal      HealConfig       `mapstructure:"heal"`
	Browser   BrowserConfig    `mapstructure:"browser"`
	Runner    RunnerConfig     `mapstructure:"runner"`
	State     StateConfig      `mapstructure:"state"`
}

// ProviderConfig describes one backend in the fallback chain.
type ProviderConfig struct {
	// Name labels the backend in logs and cost records. Defaults to Kind.
	Name string `mapstructure:"name"`
	// Kind is anthropic, bedrock or openai.
	Kind  string `mapstructure:"kind"`
	Model string `mapstructure:"model"`
	// APIKey may reference environment variables as ${VAR}. When empty the
	// kind's standard variable is used.
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	AWSRegion  string        `mapstructure:"aws_region"`
	AWSProfile string        `mapstructure:"aws_profile"`
	Priority   int           `mapstructure:"priority"`
	MaxRetries int           `mapstructure:"max_retries"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// RetryConfig mirrors retry.Policy.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// Policy converts the config into a retry policy.
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{MaxAttempts: r.MaxAttempts, BaseDelay: r.BaseDelay, MaxDelay: r.MaxDelay}
}

// GatewayConfig holds model gateway settings.
type GatewayConfig struct {
	// BudgetUSD stops further calls once spent. Zero means unlimited.
	BudgetUSD    float64       `mapstructure:"budget_usd"`
	// MaxCallUSD refuses a model call when less than this remains of the
	// budget. Zero disables the check.
	MaxCallUSD   float64       `mapstructure:"max_call_usd"`
	Cache        bool          `mapstructure:"cache"`
	CacheEntries int           `mapstructure:"cache_entries"`
	CacheBytes   int64         `mapstructure:"cache_bytes"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
	Retry        RetryConfig   `mapstructure:"retry"`
}

// DecomposeConfig holds decomposition settings.
type DecomposeConfig struct {
	RefineRounds  int  `mapstructure:"refine_rounds"`
	SnapshotChars int  `mapstructure:"snapshot_chars"`
	Iterative     bool `mapstructure:"iterative"`
	MaxIterations int  `mapstructure:"max_iterations"`
}

// HealConfig holds self-healing settings.
type HealConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	MaxAttempts int  `mapstructure:"max_attempts"`
	// MaxLLMCalls caps model calls per failing subtask. Zero means twice
	// MaxAttempts; negative means unlimited.
	MaxLLMCalls int           `mapstructure:"max_llm_calls"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// Policy returns the heal attempt policy.
func (h HealConfig) Policy() retry.Policy {
	return retry.Policy{MaxAttempts: h.MaxAttempts, BaseDelay: h.BaseDelay, MaxDelay: h.MaxDelay}
}

// BrowserConfig holds Playwright driver settings.
type BrowserConfig struct {
	Browser        string        `mapstructure:"browser"`
	Headless       bool          `mapstructure:"headless"`
	Timeout        time.Duration `mapstructure:"timeout"`
	ScreenshotDir  string        `mapstructure:"screenshot_dir"`
	ViewportWidth  int           `mapstructure:"viewport_width"`
	ViewportHeight int           `mapstructure:"viewport_height"`
	Install        bool          `mapstructure:"install"`
}

// RunnerConfig holds run loop settings.
type RunnerConfig struct {
	MaxParallel int  `mapstructure:"max_parallel"`
	DebugLog    bool `mapstructure:"debug_log"`
}

// StateConfig holds run history settings.
type StateConfig struct {
	// DBPath overrides the project-local history database.
	DBPath   string `mapstructure:"db_path"`
	Disabled bool   `mapstructure:"disabled"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (MENDER_* and the provider key variables)
// 2. Project config (.mender.yaml in current directory or parent)
// 3. User config (~/.config/mender/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}
	return load(getUserConfigDir(), findProjectConfig(cwd))
}

func load(userConfigDir, projectConfig string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	bindEnv(v)
	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific file over the defaults.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	bindEnv(v)
	return unmarshal(v)
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("mender")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("gateway.budget_usd", "MENDER_BUDGET_USD")
	v.BindEnv("runner.max_parallel", "MENDER_MAX_PARALLEL")
	v.BindEnv("state.db_path", "MENDER_DB_PATH")
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		p.APIKey = expandEnv(p.APIKey)
		if p.Name == "" {
			p.Name = p.Kind
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("config: no providers configured")
	}
	for i, p := range c.Providers {
		switch p.Kind {
		case KindAnthropic, KindBedrock, KindOpenAI:
		default:
			return fmt.Errorf("config: provider %d: unknown kind %q", i, p.Kind)
		}
		if p.Model == "" {
			return fmt.Errorf("config: provider %d (%s): model is required", i, p.Kind)
		}
	}
	if c.Gateway.MaxCallUSD < 0 {
		return fmt.Errorf("config: gateway.max_call_usd must not be negative, got %.4f", c.Gateway.MaxCallUSD)
	}
	if c.Heal.MaxAttempts < 1 {
		return fmt.Errorf("config: heal.max_attempts must be at least 1, got %d", c.Heal.MaxAttempts)
	}
	if c.Runner.MaxParallel < 1 {
		return fmt.Errorf("config: runner.max_parallel must be at least 1, got %d", c.Runner.MaxParallel)
	}
	return nil
}

// WriteFile writes cfg as YAML to path, creating parent directories.
func WriteFile(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	providers := make([]map[string]interface{}, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		m := map[string]interface{}{"name": p.Name, "kind": p.Kind, "model": p.Model, "priority": p.Priority}
		if p.BaseURL != "" {
			m["base_url"] = p.BaseURL
		}
		if p.AWSRegion != "" {
			m["aws_region"] = p.AWSRegion
		}
		if p.AWSProfile != "" {
			m["aws_profile"] = p.AWSProfile
		}
		if p.MaxRetries != 0 {
			m["max_retries"] = p.MaxRetries
		}
		if p.Timeout != 0 {
			m["timeout"] = p.Timeout.String()
		}
		providers = append(providers, m)
	}
	v.Set("providers", providers)

	v.Set("gateway.budget_usd", cfg.Gateway.BudgetUSD)
	v.Set("gateway.max_call_usd", cfg.Gateway.MaxCallUSD)
	v.Set("gateway.cache", cfg.Gateway.Cache)
	v.Set("gateway.cache_entries", cfg.Gateway.CacheEntries)
	v.Set("gateway.cache_bytes", cfg.Gateway.CacheBytes)
	v.Set("gateway.cache_ttl", cfg.Gateway.CacheTTL.String())
	v.Set("gateway.retry.max_attempts", cfg.Gateway.Retry.MaxAttempts)
	v.Set("gateway.retry.base_delay", cfg.Gateway.Retry.BaseDelay.String())
	v.Set("gateway.retry.max_delay", cfg.Gateway.Retry.MaxDelay.String())
	v.Set("decompose.refine_rounds", cfg.Decompose.RefineRounds)
	v.Set("decompose.snapshot_chars", cfg.Decompose.SnapshotChars)
	v.Set("decompose.iterative", cfg.Decompose.Iterative)
	v.Set("decompose.max_iterations", cfg.Decompose.MaxIterations)
	v.Set("heal.enabled", cfg.Heal.Enabled)
	v.Set("heal.max_attempts", cfg.Heal.MaxAttempts)
	v.Set("heal.max_llm_calls", cfg.Heal.MaxLLMCalls)
	v.Set("heal.base_delay", cfg.Heal.BaseDelay.String())
	v.Set("heal.max_delay", cfg.Heal.MaxDelay.String())
	v.Set("browser.browser", cfg.Browser.Browser)
	v.Set("browser.headless", cfg.Browser.Headless)
	v.Set("browser.timeout", cfg.Browser.Timeout.String())
	v.Set("browser.screenshot_dir", cfg.Browser.ScreenshotDir)
	v.Set("browser.viewport_width", cfg.Browser.ViewportWidth)
	v.Set("browser.viewport_height", cfg.Browser.ViewportHeight)
	v.Set("browser.install", cfg.Browser.Install)
	v.Set("runner.max_parallel", cfg.Runner.MaxParallel)
	v.Set("runner.debug_log", cfg.Runner.DebugLog)
	v.Set("state.db_path", cfg.State.DBPath)
	v.Set("state.disabled", cfg.State.Disabled)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return findProjectConfig(cwd)
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()

	providers := make([]map[string]interface{}, 0, len(d.Providers))
	for _, p := range d.Providers {
		providers = append(providers, map[string]interface{}{
			"name": p.Name, "kind": p.Kind, "model": p.Model, "priority": p.Priority,
		})
	}
	v.SetDefault("providers", providers)

	v.SetDefault("gateway.budget_usd", d.Gateway.BudgetUSD)
	v.SetDefault("gateway.max_call_usd", d.Gateway.MaxCallUSD)
	v.SetDefault("gateway.cache", d.Gateway.Cache)
	v.SetDefault("gateway.cache_entries", d.Gateway.CacheEntries)
	v.SetDefault("gateway.cache_bytes", d.Gateway.CacheBytes)
	v.SetDefault("gateway.cache_ttl", d.Gateway.CacheTTL.String())
	v.SetDefault("gateway.retry.max_attempts", d.Gateway.Retry.MaxAttempts)
	v.SetDefault("gateway.retry.base_delay", d.Gateway.Retry.BaseDelay.String())
	v.SetDefault("gateway.retry.max_delay", d.Gateway.Retry.MaxDelay.String())

	v.SetDefault("decompose.refine_rounds", d.Decompose.RefineRounds)
	v.SetDefault("decompose.snapshot_chars", d.Decompose.SnapshotChars)
	v.SetDefault("decompose.iterative", d.Decompose.Iterative)
	v.SetDefault("decompose.max_iterations", d.Decompose.MaxIterations)

	v.SetDefault("heal.enabled", d.Heal.Enabled)
	v.SetDefault("heal.max_attempts", d.Heal.MaxAttempts)
	v.SetDefault("heal.max_llm_calls", d.Heal.MaxLLMCalls)
	v.SetDefault("heal.base_delay", d.Heal.BaseDelay.String())
	v.SetDefault("heal.max_delay", d.Heal.MaxDelay.String())

	v.SetDefault("browser.browser", d.Browser.Browser)
	v.SetDefault("browser.headless", d.Browser.Headless)
	v.SetDefault("browser.timeout", d.Browser.Timeout.String())
	v.SetDefault("browser.screenshot_dir", d.Browser.ScreenshotDir)
	v.SetDefault("browser.viewport_width", d.Browser.ViewportWidth)
	v.SetDefault("browser.viewport_height", d.Browser.ViewportHeight)
	v.SetDefault("browser.install", d.Browser.Install)

	v.SetDefault("runner.max_parallel", d.Runner.MaxParallel)
	v.SetDefault("runner.debug_log", d.Runner.DebugLog)

	v.SetDefault("state.db_path", d.State.DBPath)
	v.SetDefault("state.disabled", d.State.Disabled)
}

// getUserConfigDir returns the XDG config directory for mender.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "mender")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "mender")
	}
	return filepath.Join(home, ".config", "mender")
}

// findProjectConfig searches for .mender.yaml in dir and its parents.
func findProjectConfig(dir string) string {
	for {
		configPath := filepath.Join(dir, ProjectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Providers: []ProviderConfig{
			{Name: "anthropic", Kind: KindAnthropic, Model: "claude-sonnet-4-5-20250929", Priority: 0},
			{Name: "openai", Kind: KindOpenAI, Model: "gpt-4o", Priority: 1},
		},
		Gateway: GatewayConfig{
			Cache:        true,
			CacheEntries: 1000,
			CacheBytes:   16 << 20,
			CacheTTL:     time.Hour,
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   500 * time.Millisecond,
				MaxDelay:    10 * time.Second,
			},
		},
		Decompose: DecomposeConfig{
			RefineRounds:  3,
			SnapshotChars: 12000,
			MaxIterations: 20,
		},
		Heal: HealConfig{
			Enabled:     true,
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			MaxDelay:    10 * time.Second,
		},
		Browser: BrowserConfig{
			Browser:        "chromium",
			Headless:       true,
			Timeout:        30 * time.Second,
			ScreenshotDir:  filepath.Join(".mender", "screenshots"),
			ViewportWidth:  1280,
			ViewportHeight: 720,
		},
		Runner: RunnerConfig{
			MaxParallel: 1,
		},
	}
}
