package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jpalmerr/leadpulse"
	"github.com/jpalmerr/leadpulse/config"
)

// countCmd fetches each collection's count once and prints its badge.
var countCmd = &cobra.Command{
	Use:   "count",
	Short: "Fetch counts once and print badges",
	Long: `Fetch the record count of each collection once and print its badge.

Collections come from the config file, or from --base-url and --collection
when no config is given. Fetch failures are logged to stderr and reported
as a zero count; the command still exits 0.

Example:
  leadpulse count -c config.yaml
  leadpulse count --base-url http://localhost:8000 --collection leads,contacts --json`,
	RunE: runCount,
}

func init() {
	rootCmd.AddCommand(countCmd)

	countCmd.Flags().StringP("config", "c", "", "path to config file")
	countCmd.Flags().String("base-url", "", "CRM API base URL (when no config file is given)")
	countCmd.Flags().String("collection", "", "comma-separated collection names (default: all configured, or leads)")
	countCmd.Flags().Bool("json", false, "print results as JSON")
}

// countResult is one line of count output.
type countResult struct {
	Collection string  `json:"collection"`
	Count      int     `json:"count"`
	Badge      string  `json:"badge"`
	Error      *string `json:"error"`
}

func runCount(cmd *cobra.Command, args []string) error {
	logger := newLogger(false)

	configFile, _ := cmd.Flags().GetString("config")
	baseURL, _ := cmd.Flags().GetString("base-url")
	collectionFlag, _ := cmd.Flags().GetString("collection")
	names := splitNames(collectionFlag)
	asJSON, _ := cmd.Flags().GetBool("json")

	var pollers []*leadpulse.Poller
	switch {
	case configFile != "":
		cfg, err := config.Load(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if len(names) > 0 {
			if err := selectCollections(cfg, names); err != nil {
				return err
			}
		}
		pollers, err = config.BuildPollers(cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to build pollers: %w", err)
		}

	case baseURL != "":
		if len(names) == 0 {
			names = []string{leadpulse.Leads.Name}
		}
		collections := make([]leadpulse.Collection, 0, len(names))
		for _, name := range names {
			c, ok := leadpulse.LookupCollection(name)
			if !ok {
				return fmt.Errorf("unknown collection %q", name)
			}
			collections = append(collections, c)
		}
		var err error
		pollers, err = leadpulse.NewPollers(baseURL, collections, leadpulse.WithPollerLogger(logger))
		if err != nil {
			return fmt.Errorf("failed to build pollers: %w", err)
		}

	default:
		return errors.New("either --config or --base-url is required")
	}

	results := fetchAll(cmd.Context(), pollers)

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	for _, r := range results {
		badge := r.Badge
		if badge == "" {
			badge = "-"
		}
		fmt.Printf("%-14s %6d  %s\n", r.Collection, r.Count, badge)
	}
	return nil
}

// fetchAll refreshes every poller concurrently, once, and stops them.
func fetchAll(ctx context.Context, pollers []*leadpulse.Poller) []countResult {
	if ctx == nil {
		ctx = context.Background()
	}

	results := make([]countResult, len(pollers))
	var g errgroup.Group
	for i, p := range pollers {
		g.Go(func() error {
			defer p.Stop()

			snap := p.Refresh(ctx)
			results[i] = countResult{
				Collection: snap.Collection,
				Count:      snap.Count,
				Badge:      snap.Badge,
			}
			if snap.LastError != nil {
				msg := snap.LastError.Error()
				results[i].Error = &msg
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// selectCollections narrows cfg to the named collections, in the given order.
func selectCollections(cfg *config.Config, names []string) error {
	byName := make(map[string]config.CollectionConfig, len(cfg.Collections))
	for _, c := range cfg.Collections {
		byName[c.Name] = c
	}

	selected := make([]config.CollectionConfig, 0, len(names))
	for _, name := range names {
		c, ok := byName[name]
		if !ok {
			return fmt.Errorf("collection %q is not configured", name)
		}
		selected = append(selected, c)
	}
	cfg.Collections = selected
	return nil
}

// splitNames parses a comma-separated list, dropping empty entries.
func splitNames(s string) []string {
	var names []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			names = append(names, part)
		}
	}
	return names
}
