package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Run one scrape cycle now and store the ranked jobs",
	Run: func(cmd *cobra.Command, _ []string) {
		withApplication(cmd, func(ctx context.Context, a *application) {
			report, err := a.pipeline.Scrape(ctx)
			if err != nil {
				a.logger.Fatal("scrape cycle failed", zap.Error(err))
			}
			a.logger.Info("done", zap.Int("inserted", report.Inserted), zap.Int("duplicates", report.Duplicates))
		})
	},
}

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Run one send cycle now: notify the best unsent jobs and clean up",
	Run: func(cmd *cobra.Command, _ []string) {
		withApplication(cmd, func(ctx context.Context, a *application) {
			report, err := a.pipeline.Send(ctx)
			if err != nil {
				a.logger.Fatal("send cycle failed", zap.Error(err))
			}
			a.logger.Info("done", zap.Int("sent", report.Marked), zap.Int64("purged", report.Cleanup.Jobs))
		})
	},
}

func init() {
	rootCmd.AddCommand(scrapeCmd)
	rootCmd.AddCommand(sendCmd)
}

// withApplication builds the application for a one-shot command and closes it afterwards.
func withApplication(cmd *cobra.Command, fn func(ctx context.Context, a *application)) {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	config, logger := bootstrap()
	defer logger.Sync()

	a, err := newApplication(ctx, config, logger)
	if err != nil {
		logger.Fatal("building the application", zap.Error(err))
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("closing resources", zap.Error(err))
		}
	}()

	fn(ctx, a)
}
