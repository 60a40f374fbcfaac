package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/spigell/jobbot/internal/logger"
)

const DefaultPollInterval = 30 * time.Second

// Scheduler wraps robfig/cron and polls every cycle at a fixed interval.
type Scheduler struct {
	cron     *cron.Cron
	cycles   []*Cycle
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time

	// initial tracks the immediate polls started outside cron.
	initial sync.WaitGroup
}

// New creates a Scheduler polling the cycles every interval.
func New(interval time.Duration, log *zap.Logger, cycles ...*Cycle) *Scheduler {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	log = logger.Component(log, "scheduler")

	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cron.PrintfLogger(zap.NewStdLog(log)))),
		),
		cycles:   cycles,
		interval: interval,
		logger:   log,
		now:      time.Now,
	}
}

// Start registers one poll job per cycle and starts the cron. Every cycle
// is also polled once immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	spec := fmt.Sprintf("@every %s", s.interval)
	skip := cron.SkipIfStillRunning(cron.PrintfLogger(zap.NewStdLog(s.logger)))

	for _, c := range s.cycles {
		job := skip(cron.FuncJob(func() { s.poll(ctx, c) }))
		if _, err := s.cron.AddJob(spec, job); err != nil {
			return fmt.Errorf("cron.AddJob %s: %w", c.Name(), err)
		}
		s.initial.Add(1)
		go func() {
			defer s.initial.Done()
			job.Run()
		}()
	}

	s.cron.Start()
	s.logger.Info("scheduler started", zap.String("spec", spec), zap.Int("cycles", len(s.cycles)))
	return nil
}

// Run starts the scheduler and blocks until ctx is done, then waits for
// running cycles to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

// Stop halts polling and waits for in-flight cycles.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.initial.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) poll(ctx context.Context, c *Cycle) {
	if ctx.Err() != nil {
		return
	}
	// errors are logged by the cycle
	_, _ = c.Poll(ctx, s.now())
}
