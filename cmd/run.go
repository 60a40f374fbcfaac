package cmd

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spigell/jobbot/internal/scheduler"
)

const (
	cycleScrape = "scrape"
	cycleSend   = "send"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler: scrape and send at the configured times until interrupted",
	Run: func(cmd *cobra.Command, _ []string) {
		run(cmd)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// run is the daemon mode of the cli.
func run(cmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	config, logger := bootstrap()
	defer logger.Sync()

	logger.Info("starting the jobbot", zap.String("version", version))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(redacted(config), "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	scrapeSlots, err := scheduler.ParseSlots(config.Schedule.ScrapeTimes)
	if err != nil {
		logger.Fatal("parsing schedule.scrape-times", zap.Error(err))
	}
	sendSlots, err := scheduler.ParseSlots(config.Schedule.SendTimes)
	if err != nil {
		logger.Fatal("parsing schedule.send-times", zap.Error(err))
	}

	a, err := newApplication(ctx, config, logger)
	if err != nil {
		logger.Fatal("building the application", zap.Error(err))
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("closing resources", zap.Error(err))
		}
	}()

	ledger, closer := newLedger(config.Schedule, a.secrets, logger)
	if closer != nil {
		a.closers = append(a.closers, closer)
	}

	sched := scheduler.New(config.Schedule.PollInterval, logger,
		scheduler.NewCycle(cycleScrape, scrapeSlots, a.pipeline.ScrapeAction, ledger, config.Schedule.Cooldown, logger),
		scheduler.NewCycle(cycleSend, sendSlots, a.pipeline.SendAction, ledger, config.Schedule.Cooldown, logger),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Run(gctx)
	})

	if a.amqp != nil {
		g.Go(func() error {
			logger.Info("consuming decisions", zap.String("queue", config.Notifier.AMQP.DecisionsQueue))
			if err := a.amqp.ConsumeDecisions(gctx, a.pipeline.HandleDecision); err != nil {
				// the scheduler keeps running; decisions can still be made with review
				logger.Error("decisions consumer stopped", zap.Error(err))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("jobbot stopped with error", zap.Error(err))
		return
	}
	logger.Info("jobbot stopped")
}

// redacted hides credential values from debug output.
func redacted(cfg *Config) *Config {
	c := *cfg
	c.Credentials = nil
	return &c
}
