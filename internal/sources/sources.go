// Package sources holds the job board adapters and runs them concurrently
// for a scrape cycle.
package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/spigell/jobbot/internal/jobs"
	"github.com/spigell/jobbot/internal/logger"
	"github.com/spigell/jobbot/internal/secrets"
)

const (
	DefaultTimeout           = 30 * time.Second
	defaultRequestsPerMinute = 30
	httpTimeout              = 15 * time.Second
)

// Adapter scrapes one job board. Scrape skips records it cannot parse and
// never returns more than maxResults records. On a partial failure it returns
// what it collected so far together with the error.
type Adapter interface {
	Name() string
	Scrape(ctx context.Context, maxResults int) ([]jobs.Raw, error)
}

// Search is the query every adapter runs.
type Search struct {
	Keywords     string `mapstructure:"keywords"`
	Location     string `mapstructure:"location"`
	Postcode     string `mapstructure:"postcode"`
	RadiusMiles  int    `mapstructure:"radius-miles"`
	PartTimeOnly bool   `mapstructure:"part-time-only"`
}

// Where returns the postcode when set, the location otherwise.
func (s Search) Where() string {
	if p := strings.TrimSpace(s.Postcode); p != "" {
		return p
	}
	return strings.TrimSpace(s.Location)
}

// Config lists the configured adapters.
type Config struct {
	Timeout time.Duration          `mapstructure:"timeout"`
	Adzuna  *AdzunaConfig          `mapstructure:"adzuna"`
	HTML    map[string]*HTMLConfig `mapstructure:"html"`
}

// Limit is shared by every adapter kind.
type Limit struct {
	DailyLimit        int `mapstructure:"daily-limit"`
	RequestsPerMinute int `mapstructure:"requests-per-minute"`
}

func (l Limit) limiter() *rate.Limiter {
	rpm := l.RequestsPerMinute
	if rpm <= 0 {
		rpm = defaultRequestsPerMinute
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
}

// Set is a built group of adapters together with their per-call caps.
type Set struct {
	adapters []Adapter
	limits   map[string]int
	timeout  time.Duration
	logger   *zap.Logger
}

// Build creates every enabled adapter. An adapter whose credentials are missing
// or whose configuration is invalid is left out with a single warning.
func Build(cfg Config, search Search, creds *secrets.Provider, log *zap.Logger) *Set {
	log = logger.Component(log, "sources")
	client := &http.Client{Timeout: httpTimeout}

	set := &Set{
		limits:  make(map[string]int),
		timeout: cfg.Timeout,
		logger:  log,
	}

	if cfg.Adzuna != nil && cfg.Adzuna.Enabled {
		a, err := NewAdzuna(*cfg.Adzuna, search, creds, client, log)
		if err != nil {
			log.Warn("adapter disabled", zap.String(logger.FieldPlatform, AdzunaName), zap.Error(err))
		} else {
			set.Add(a, cfg.Adzuna.DailyLimit)
		}
	}

	for name, hc := range cfg.HTML {
		if hc == nil || !hc.Enabled {
			continue
		}
		a, err := NewHTML(name, *hc, search, client, log)
		if err != nil {
			log.Warn("adapter disabled", zap.String(logger.FieldPlatform, name), zap.Error(err))
			continue
		}
		set.Add(a, hc.DailyLimit)
	}

	return set
}

// NewSet wraps already constructed adapters.
func NewSet(timeout time.Duration, log *zap.Logger, adapters ...Adapter) *Set {
	s := &Set{
		limits:  make(map[string]int),
		timeout: timeout,
		logger:  logger.Component(log, "sources"),
	}
	for _, a := range adapters {
		s.Add(a, 0)
	}
	return s
}

// Add registers an adapter. A non-positive limit means no cap.
func (s *Set) Add(a Adapter, limit int) {
	s.adapters = append(s.adapters, a)
	s.limits[a.Name()] = limit
}

// Names lists the registered adapters in registration order.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.adapters))
	for _, a := range s.adapters {
		names = append(names, a.Name())
	}
	return names
}

// Len is the number of enabled adapters.
func (s *Set) Len() int {
	return len(s.adapters)
}

// ScrapeAll runs every adapter concurrently, each under its own timeout, and
// merges the results in registration order once all of them returned.
// An adapter failure never fails the cycle: whatever prefix the adapter
// returned is kept and the error is logged. Only a cancelled ctx is returned.
func (s *Set) ScrapeAll(ctx context.Context) ([]jobs.Raw, error) {
	timeout := s.timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	results := make([][]jobs.Raw, len(s.adapters))
	g, gctx := errgroup.WithContext(ctx)

	for i, a := range s.adapters {
		g.Go(func() error {
			log := s.logger.With(zap.String(logger.FieldPlatform, a.Name()))

			actx, cancel := context.WithTimeout(gctx, timeout)
			defer cancel()

			started := time.Now()
			raws, err := a.Scrape(actx, s.limits[a.Name()])
			if limit := s.limits[a.Name()]; limit > 0 && len(raws) > limit {
				raws = raws[:limit]
			}
			results[i] = raws

			switch {
			case err == nil:
				log.Info("adapter finished", zap.Int("count", len(raws)), zap.Duration("took", time.Since(started)))
			case errors.Is(err, context.DeadlineExceeded):
				log.Warn("adapter timed out", zap.Int("count", len(raws)), zap.Duration("timeout", timeout))
			default:
				log.Warn("adapter failed", zap.Int("count", len(raws)), zap.Error(err))
			}
			return nil
		})
	}

	// Goroutines never return errors, only ctx can abort the merge.
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("scraping sources: %w", err)
	}

	var merged []jobs.Raw
	for _, r := range results {
		merged = append(merged, r...)
	}
	return merged, nil
}

func waitLimiter(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	if err := l.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for rate limiter: %w", err)
	}
	return nil
}
