package cmd

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/jobbot/internal/cleanup"
	"github.com/spigell/jobbot/internal/filtering"
	"github.com/spigell/jobbot/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print how many jobs were scraped, sent, accepted and declined",
	Run: func(cmd *cobra.Command, _ []string) {
		withStore(cmd, func(ctx context.Context, st store.Store, config *Config, logger *zap.Logger) {
			stats, err := st.Stats(ctx)
			if err != nil {
				logger.Fatal("reading stats", zap.Error(err))
			}

			fmt.Printf("Bot status:\n")
			fmt.Printf("  Jobs scraped:  %d\n", stats.Total())
			fmt.Printf("  Jobs sent:     %d\n", stats.Sent+stats.Accepted+stats.Declined)
			fmt.Printf("  Jobs accepted: %d\n", stats.Accepted)
			fmt.Printf("  Jobs declined: %d\n", stats.Declined)
			fmt.Printf("  Pending jobs:  %d\n", stats.Pending)
			fmt.Printf("  Waiting:       %d\n", stats.Scraped)

			filters, filterCfg := buildFilters(config)
			fmt.Printf("\nFilters:\n")
			for _, f := range filters {
				if f.IsEnabled() {
					if err := f.Validate(filterCfg); err != nil {
						fmt.Printf("  %-20s invalid: %v\n", f.Name(), err)
						continue
					}
				}
			}
			for _, s := range filtering.Describe(filters) {
				fmt.Printf("  %-20s %s\n", s.Name, describeStatus(s))
			}
		})
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete old decided jobs and old log files",
	Run: func(cmd *cobra.Command, _ []string) {
		withStore(cmd, func(ctx context.Context, st store.Store, config *Config, logger *zap.Logger) {
			c := cleanup.New(st, cleanup.Config{
				JobRetention: time.Duration(config.Cleanup.JobRetentionDays) * day,
				LogRetention: time.Duration(config.Cleanup.LogRetentionDays) * day,
				LogDir:       config.Cleanup.LogDir,
			}, logger)
			if _, err := c.Run(ctx); err != nil {
				logger.Fatal("cleanup failed", zap.Error(err))
			}
		})
	},
}

func describeStatus(s filtering.Status) string {
	if !s.Enabled {
		if s.Reason != "" {
			return "disabled (" + s.Reason + ")"
		}
		return "disabled"
	}

	keys := make([]string, 0, len(s.Details))
	for k := range s.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := []string{"enabled"}
	for _, k := range keys {
		parts = append(parts, k+"="+s.Details[k])
	}
	return strings.Join(parts, " ")
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cleanupCmd)
}

// withStore opens only the store, for commands that never scrape or score.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, st store.Store, config *Config, logger *zap.Logger)) {
	ctx := cmd.Context()

	config, logger := bootstrap()
	defer logger.Sync()

	st, err := openStore(ctx, config, loadSecrets(config, logger), logger)
	if err != nil {
		logger.Fatal("opening store", zap.Error(err))
	}
	defer st.Close()

	fn(ctx, st, config, logger)
}
