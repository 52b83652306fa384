package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/mender/internal/config"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Display the merged configuration with API keys masked.

Configuration is read from ~/.config/mender/config.yaml, then .mender.yaml
in the current directory or any parent, then MENDER_* environment variables.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		displayConfig(cmd.OutOrStdout(), cfg)
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a .mender.yaml with the defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("get working directory: %w", err)
		}
		path := filepath.Join(cwd, config.ProjectConfigName)
		if _, err := os.Stat(path); err == nil && !configForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		if err := config.WriteFile(config.Default(), path); err != nil {
			return err
		}
		printStatus(cmd.OutOrStdout(), "✓", "Created "+config.ProjectConfigName, color.FgGreen)
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config files in use",
	Run: func(cmd *cobra.Command, args []string) {
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "user:    %s\n", config.GetUserConfigPath())
		project := config.GetProjectConfigPath()
		if project == "" {
			project = "(none)"
		}
		fmt.Fprintf(w, "project: %s\n", project)
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

// displayConfig prints all configuration values.
func displayConfig(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "providers:")
	for _, p := range cfg.Providers {
		key, source := config.APIKey(p)
		keyDisplay := config.MaskAPIKey(key)
		if p.Kind == config.KindBedrock {
			keyDisplay = "(aws credentials)"
		} else if err := config.ValidateAPIKey(p.Kind, key); err != nil {
			keyDisplay = color.YellowString("%s (%v)", keyDisplay, err)
		} else {
			keyDisplay += fmt.Sprintf(" (%s)", source)
		}
		fmt.Fprintf(w, "  - %s: %s %s priority=%d key=%s\n", p.Name, p.Kind, p.Model, p.Priority, keyDisplay)
	}

	fmt.Fprintf(w, "gateway.budget_usd: %.2f\n", cfg.Gateway.BudgetUSD)
	fmt.Fprintf(w, "gateway.max_call_usd: %.4f\n", cfg.Gateway.MaxCallUSD)
	fmt.Fprintf(w, "gateway.cache: %t (%d entries, %d bytes, ttl %s)\n", cfg.Gateway.Cache, cfg.Gateway.CacheEntries, cfg.Gateway.CacheBytes, cfg.Gateway.CacheTTL)
	fmt.Fprintf(w, "gateway.retry: %d attempts, %s..%s\n", cfg.Gateway.Retry.MaxAttempts, cfg.Gateway.Retry.BaseDelay, cfg.Gateway.Retry.MaxDelay)
	fmt.Fprintf(w, "decompose.refine_rounds: %d\n", cfg.Decompose.RefineRounds)
	fmt.Fprintf(w, "decompose.snapshot_chars: %d\n", cfg.Decompose.SnapshotChars)
	fmt.Fprintf(w, "decompose.iterative: %t (max %d)\n", cfg.Decompose.Iterative, cfg.Decompose.MaxIterations)
	fmt.Fprintf(w, "heal.enabled: %t\n", cfg.Heal.Enabled)
	fmt.Fprintf(w, "heal.max_attempts: %d\n", cfg.Heal.MaxAttempts)
	calls := fmt.Sprint(cfg.Heal.MaxLLMCalls)
	switch {
	case cfg.Heal.MaxLLMCalls == 0:
		calls = fmt.Sprintf("%d (2 x max_attempts)", 2*cfg.Heal.MaxAttempts)
	case cfg.Heal.MaxLLMCalls < 0:
		calls = "unlimited"
	}
	fmt.Fprintf(w, "heal.max_llm_calls: %s\n", calls)
	fmt.Fprintf(w, "browser: %s headless=%t timeout=%s\n", cfg.Browser.Browser, cfg.Browser.Headless, cfg.Browser.Timeout)
	fmt.Fprintf(w, "browser.screenshot_dir: %s\n", cfg.Browser.ScreenshotDir)
	fmt.Fprintf(w, "runner.max_parallel: %d\n", cfg.Runner.MaxParallel)
	db := cfg.State.DBPath
	if db == "" {
		db = "(project .mender/history.db)"
	}
	if cfg.State.Disabled {
		db = "(disabled)"
	}
	fmt.Fprintf(w, "state.db_path: %s\n", db)
}
