package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "mender",
	Short: "Self-healing browser tests from plain language",
	Long: `mender turns natural-language test intents into browser commands,
runs them with Playwright, and repairs failing steps with a language model.

Intents live in a YAML file:

  name: shop
  base_url: https://shop.example.com
  tests:
    - name: login
      instruction: log in as the demo user
    - name: cart
      instruction: add the first product to the cart
      depends_on: [login]

Configuration is read from ~/.config/mender/config.yaml and .mender.yaml,
with API keys from ANTHROPIC_API_KEY and OPENAI_API_KEY.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Read configuration from this file only")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Write debug logs to .mender/logs/debug.log")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(decomposeCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
