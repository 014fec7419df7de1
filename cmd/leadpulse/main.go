// Package main is the entry point for the leadpulse CLI.
//
// leadpulse can be used either as a library (SDK) or as a standalone binary
// with YAML configuration. This CLI provides the standalone binary approach.
//
// Usage:
//
//	leadpulse serve -c config.yaml    # Start the badge feed
//	leadpulse count -c config.yaml    # Fetch counts once and print badges
//	leadpulse validate -c config.yaml # Validate configuration
//	leadpulse version                 # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set by GoReleaser at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
// It just displays help - actual functionality is in subcommands.
var rootCmd = &cobra.Command{
	Use:   "leadpulse",
	Short: "Badge counts for CRM collections",
	Long: `leadpulse keeps eventually-fresh record counts of CRM collections
for navigation badges.

It polls each collection's list endpoint on a fixed interval, caches the
total, and serves the formatted badges ("7", "99+") as JSON and Server-Sent
Events. Failed fetches are logged and shown as no badge.

Quick start:
  1. Create a config file (leadpulse.yaml)
  2. Run: leadpulse serve -c leadpulse.yaml
  3. Open http://localhost:8080/api/counts

Example config:
  port: 8080
  base_url: http://localhost:8000
  refresh_interval: 30s
  collections:
    - leads
    - contacts`,
	// No Run/RunE means this just shows help when called without subcommands
}

// Execute runs the root command.
// This is the main entry point called from main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this leadpulse binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("leadpulse %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
