package scoring

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spigell/jobbot/internal/ai"
	"github.com/spigell/jobbot/internal/jobs"
	"github.com/spigell/jobbot/internal/logger"
	"github.com/spigell/jobbot/internal/normalize"
)

const defaultConcurrency = 4

// Config tunes the scoring engine.
type Config struct {
	Profile         string
	MinTextLength   int
	MaxReviewLength int
	Concurrency     int
}

// Engine owns the semantic and reputation scorers. It is built once and
// shared by every scrape cycle.
type Engine struct {
	semantic    *SemanticScorer
	reputation  *ReputationScorer
	concurrency int
	closers     []io.Closer
	logger      *zap.Logger
}

// NewEngine wires the scorers to the given model capabilities. Embedder and
// classifier are closed by Close when they implement io.Closer.
func NewEngine(cfg Config, embedder ai.Embedder, classifier ai.SentimentClassifier, log *zap.Logger) *Engine {
	log = logger.Component(log, "scoring")
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}

	e := &Engine{
		semantic:    NewSemanticScorer(embedder, cfg.Profile, cfg.MinTextLength, log),
		reputation:  NewReputationScorer(classifier, cfg.MaxReviewLength, log),
		concurrency: cfg.Concurrency,
		logger:      log,
	}

	for _, dep := range []any{embedder, classifier} {
		if c, ok := dep.(io.Closer); ok {
			e.closers = append(e.closers, c)
		}
	}

	return e
}

// Score returns a scored copy of the job. The input is not modified.
func (e *Engine) Score(ctx context.Context, n normalize.Normalized) *jobs.Job {
	job := n.Job.Copy()

	semantic := e.semantic.Score(ctx, job.Title, job.Description)
	rating, summary := e.reputation.Rate(ctx, n.Reviews)

	job.SemanticScore = &semantic
	job.CompanyRating = &rating
	job.CompanyRatingSummary = summary

	return job
}

// ScoreBatch scores every job in parallel. Results keep the input order.
func (e *Engine) ScoreBatch(ctx context.Context, batch []normalize.Normalized) ([]*jobs.Job, error) {
	out := make([]*jobs.Job, len(batch))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for i := range batch {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out[i] = e.Score(ctx, batch[i])
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	e.logger.Debug("scored batch", zap.Int("count", len(out)))
	return out, nil
}

// Close releases the model clients and drops cached embeddings.
func (e *Engine) Close() error {
	e.semantic.reset()

	var errs []error
	for _, c := range e.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
