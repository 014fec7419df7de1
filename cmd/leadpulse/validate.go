package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/leadpulse/config"
)

// validateCmd validates a config file without starting the server.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a leadpulse configuration file without starting the server.

This command parses the YAML, expands environment variables, and validates
all fields. It's useful for CI/CD pipelines or pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  leadpulse validate -c config.yaml
  leadpulse validate --config /etc/leadpulse/config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	fmt.Printf("Config is valid!\n")
	fmt.Printf("  Port:             %d\n", cfg.Port)
	fmt.Printf("  Base URL:         %s\n", cfg.BaseURL)
	fmt.Printf("  Refresh interval: %s\n", cfg.RefreshInterval.Duration())
	fmt.Printf("  Stale time:       %s\n", cfg.StaleTime.Duration())
	fmt.Printf("  Retry:            %d attempts, %s delay\n", cfg.Retry.Attempts, cfg.Retry.Delay.Duration())
	fmt.Printf("  Collections:      %d\n", len(cfg.Collections))
	for _, c := range cfg.Collections {
		fmt.Printf("    - %s (%s)\n", c.Name, c.Path)
	}

	return nil
}
