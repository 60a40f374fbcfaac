// Package pipeline wires the components into the two scheduled cycles:
// scrape (adapters, normalizer, scoring, filter and rank, store) and send
// (store, notifier, cleanup).
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/jobbot/internal/cleanup"
	"github.com/spigell/jobbot/internal/filtering"
	"github.com/spigell/jobbot/internal/jobs"
	"github.com/spigell/jobbot/internal/logger"
	"github.com/spigell/jobbot/internal/normalize"
	"github.com/spigell/jobbot/internal/notifier"
	"github.com/spigell/jobbot/internal/store"
)

const DefaultBatchSize = 50

// Scraper runs every source adapter. *sources.Set implements it.
type Scraper interface {
	ScrapeAll(ctx context.Context) ([]jobs.Raw, error)
}

// Scorer fills the scored fields. *scoring.Engine implements it.
type Scorer interface {
	ScoreBatch(ctx context.Context, batch []normalize.Normalized) ([]*jobs.Job, error)
}

// Cleaner runs after every send cycle. *cleanup.Cleaner implements it.
type Cleaner interface {
	Run(ctx context.Context) (cleanup.Result, error)
}

// Deps are the collaborators of both cycles. Cleaner may be nil.
type Deps struct {
	Sources    Scraper
	Normalizer *normalize.Normalizer
	Scorer     Scorer
	Filters    []filtering.Filter
	Store      store.Store
	Notifier   notifier.Notifier
	Cleaner    Cleaner
}

type Config struct {
	Filtering *filtering.Config
	// BatchSize caps how many jobs a send cycle delivers.
	BatchSize int
}

type Pipeline struct {
	deps      Deps
	filterCfg *filtering.Config
	batchSize int
	logger    *zap.Logger
}

func New(deps Deps, cfg Config, log *zap.Logger) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Filtering == nil {
		cfg.Filtering = &filtering.Config{Thresholds: filtering.DefaultThresholds()}
	}
	if deps.Filters == nil {
		deps.Filters = filtering.Default()
	}
	return &Pipeline{
		deps:      deps,
		filterCfg: cfg.Filtering,
		batchSize: cfg.BatchSize,
		logger:    logger.Component(log, "pipeline"),
	}
}

// ScrapeReport counts what a scrape cycle did at each stage.
type ScrapeReport struct {
	Scraped    int
	Normalized int
	Ranked     int
	Inserted   int
	Duplicates int
}

// Scrape runs one scrape cycle. Store failures on single jobs do not stop the
// cycle; they are returned joined once every ranked job was attempted.
func (p *Pipeline) Scrape(ctx context.Context) (ScrapeReport, error) {
	var report ScrapeReport
	started := time.Now()

	raws, err := p.deps.Sources.ScrapeAll(ctx)
	if err != nil {
		return report, err
	}
	report.Scraped = len(raws)

	normalized := p.deps.Normalizer.Batch(raws)
	report.Normalized = len(normalized)
	if len(normalized) == 0 {
		p.logger.Info("scrape cycle finished", zap.Int("scraped", report.Scraped), zap.Int("inserted", 0))
		return report, nil
	}

	scored, err := p.deps.Scorer.ScoreBatch(ctx, normalized)
	if err != nil {
		return report, fmt.Errorf("scoring jobs: %w", err)
	}

	kept, err := filtering.Run(ctx, p.filterCfg, filtering.Deps{Logger: p.logger}, p.deps.Filters, scored)
	if err != nil {
		return report, fmt.Errorf("filtering jobs: %w", err)
	}
	ranked := filtering.Rank(kept)
	report.Ranked = len(ranked)

	var errs []error
	for _, job := range ranked {
		inserted, err := p.deps.Store.Upsert(ctx, job)
		if err != nil {
			p.logger.Error("storing job", zap.String(logger.FieldJobID, job.ID()), zap.Error(err))
			errs = append(errs, fmt.Errorf("storing %s: %w", job.ID(), err))
			continue
		}
		if inserted {
			report.Inserted++
		} else {
			report.Duplicates++
		}
	}

	p.logger.Info("scrape cycle finished",
		zap.Int("scraped", report.Scraped),
		zap.Int("normalized", report.Normalized),
		zap.Int("ranked", report.Ranked),
		zap.Int("inserted", report.Inserted),
		zap.Int("duplicates", report.Duplicates),
		zap.Duration("took", time.Since(started)),
	)
	return report, errors.Join(errs...)
}

// SendReport counts what a send cycle did.
type SendReport struct {
	Fetched   int
	Delivered int
	Marked    int
	Cleanup   cleanup.Result
}

// Send runs one send cycle: deliver the best unsent jobs, mark the delivered
// ones as sent, then clean up. Cleanup runs even when nothing was sent.
func (p *Pipeline) Send(ctx context.Context) (SendReport, error) {
	var report SendReport

	batch, err := p.deps.Store.FetchUnsent(ctx, p.batchSize)
	if err != nil {
		return report, fmt.Errorf("fetching unsent jobs: %w", err)
	}
	report.Fetched = len(batch)

	var errs []error
	if len(batch) == 0 {
		p.logger.Info("no jobs to send", zap.Int("count", 0))
	} else {
		delivered, err := p.deps.Notifier.Send(ctx, batch)
		report.Delivered = delivered
		if err != nil {
			p.logger.Error("notifier failed", zap.Int("delivered", delivered), zap.Int("count", len(batch)), zap.Error(err))
			errs = append(errs, fmt.Errorf("sending jobs: %w", err))
		}

		for _, job := range batch[:min(delivered, len(batch))] {
			if err := p.deps.Store.MarkSent(ctx, job.ID()); err != nil {
				p.logger.Error("marking job sent", zap.String(logger.FieldJobID, job.ID()), zap.Error(err))
				errs = append(errs, fmt.Errorf("marking %s sent: %w", job.ID(), err))
				continue
			}
			report.Marked++
		}
		p.logger.Info("jobs sent", zap.Int("count", report.Marked))
	}

	if p.deps.Cleaner != nil {
		res, err := p.deps.Cleaner.Run(ctx)
		report.Cleanup = res
		if err != nil {
			p.logger.Warn("cleanup failed", zap.Error(err))
			errs = append(errs, fmt.Errorf("cleanup: %w", err))
		}
	}

	return report, errors.Join(errs...)
}

// HandleDecision records a user's answer. It satisfies notifier.DecisionHandler.
func (p *Pipeline) HandleDecision(ctx context.Context, jobID string, accepted bool, actorID string) error {
	if err := p.deps.Store.MarkDecision(ctx, jobID, accepted, actorID); err != nil {
		return fmt.Errorf("recording decision for %s: %w", jobID, err)
	}
	p.logger.Info("decision recorded",
		zap.String(logger.FieldJobID, jobID),
		zap.String("state", string(jobs.DecisionState(accepted))),
	)
	return nil
}

// ScrapeAction and SendAction adapt the cycles to scheduler actions.
func (p *Pipeline) ScrapeAction(ctx context.Context) error {
	_, err := p.Scrape(ctx)
	return err
}

func (p *Pipeline) SendAction(ctx context.Context) error {
	_, err := p.Send(ctx)
	return err
}

var _ notifier.DecisionHandler = (&Pipeline{}).HandleDecision
