// Package cleanup removes decided jobs and old log files.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/jobbot/internal/jobs"
	"github.com/spigell/jobbot/internal/logger"
)

const (
	DefaultJobRetention = 30 * 24 * time.Hour
	DefaultLogRetention = 14 * 24 * time.Hour
)

// Purger is the part of the store cleanup needs.
type Purger interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time, states ...jobs.State) (int64, error)
}

type Config struct {
	JobRetention time.Duration
	LogRetention time.Duration
	// LogDir is skipped when empty.
	LogDir string
}

type Cleaner struct {
	store  Purger
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

func New(store Purger, cfg Config, log *zap.Logger) *Cleaner {
	if cfg.JobRetention <= 0 {
		cfg.JobRetention = DefaultJobRetention
	}
	if cfg.LogRetention <= 0 {
		cfg.LogRetention = DefaultLogRetention
	}
	return &Cleaner{
		store:  store,
		cfg:    cfg,
		logger: logger.Component(log, "cleanup"),
		now:    time.Now,
	}
}

// Result counts what a cleanup run removed.
type Result struct {
	Jobs int64
	Logs int
}

// Run purges accepted and declined jobs past the job retention, then log
// files past the log retention. A log cleanup failure does not undo the purge
// and is returned alongside the partial result.
func (c *Cleaner) Run(ctx context.Context) (Result, error) {
	var res Result
	now := c.now().UTC()

	c.logger.Info("starting cleanup")

	deleted, err := c.store.PurgeOlderThan(ctx, now.Add(-c.cfg.JobRetention), jobs.TerminalStates()...)
	if err != nil {
		return res, fmt.Errorf("purging old jobs: %w", err)
	}
	res.Jobs = deleted
	c.logger.Info("old jobs deleted", zap.Int64("count", deleted))

	if c.cfg.LogDir != "" {
		removed, err := Logs(c.cfg.LogDir, c.cfg.LogRetention, now, c.logger)
		res.Logs = removed
		if err != nil {
			return res, err
		}
	}

	c.logger.Info("cleanup finished", zap.Int64("jobs", res.Jobs), zap.Int("logs", res.Logs))
	return res, nil
}

// Logs removes regular files directly inside dir whose modification time is
// older than retention. A missing dir is only a warning. Files that cannot be
// removed are logged and skipped.
func Logs(dir string, retention time.Duration, now time.Time, log *zap.Logger) (int, error) {
	log = logger.WithFields(log, zap.String("dir", dir))

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn("log directory does not exist, skipping log cleanup")
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading log directory: %w", err)
	}

	cutoff := now.Add(-retention)
	removed := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			log.Error("deleting log file", zap.String("file", path), zap.Error(err))
			continue
		}
		removed++
		log.Debug("deleted old log file", zap.String("file", path))
	}

	log.Info("old log files deleted", zap.Int("count", removed))
	return removed, nil
}
