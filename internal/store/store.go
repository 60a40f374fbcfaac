// Package store persists job records and user decisions.
//
// Jobs are keyed by (platform, external_id). Inserting a known key is a
// no-op, so scored fields written by the first insert are never replaced.
package store

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/jobbot/internal/jobs"
	"github.com/spigell/jobbot/internal/logger"
)

// ErrNotFound is returned when a job id is not present in the store.
var ErrNotFound = errors.New("job not found")

// Store is the persistence contract shared by the SQLite and Postgres backends.
// Every mutation runs in its own transaction.
type Store interface {
	// Upsert inserts the job unless its identity is already stored and
	// reports whether an insert happened.
	Upsert(ctx context.Context, job *jobs.Job) (bool, error)
	MarkSent(ctx context.Context, id string) error
	MarkDecision(ctx context.Context, id string, accepted bool, actorID string) error
	// FetchUnsent returns up to limit scraped jobs, best ranked first.
	// A non-positive limit returns all of them.
	FetchUnsent(ctx context.Context, limit int) ([]*jobs.Job, error)
	// PurgeOlderThan deletes jobs in the given states created before cutoff
	// and returns how many were removed. No states means accepted and declined.
	PurgeOlderThan(ctx context.Context, cutoff time.Time, states ...jobs.State) (int64, error)
	Get(ctx context.Context, id string) (*jobs.Job, error)
	ListByState(ctx context.Context, state jobs.State, limit int) ([]*jobs.Job, error)
	Stats(ctx context.Context) (jobs.Stats, error)
	Close() error
}

const jobColumns = `platform, external_id, title, company, location, description, salary, url,
	semantic_score, company_rating, company_rating_summary, rank_position,
	state, created_at, sent_at, decided_at`

// rankOrder sorts by the ranking tuple. Unscored jobs rank as semantic 0, rating 5.
const rankOrder = `COALESCE(semantic_score, 0) DESC, COALESCE(company_rating, 5) DESC, created_at ASC, rank_position ASC`

func purgeStates(states []jobs.State) []string {
	if len(states) == 0 {
		states = jobs.TerminalStates()
	}
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}

func sqlLimit(limit int) int {
	if limit <= 0 {
		return math.MaxInt32
	}
	return limit
}

// logTransition warns about lifecycle anomalies. They are applied anyway.
func logTransition(log *zap.Logger, id string, from, to jobs.State) {
	if jobs.CanTransition(from, to) {
		return
	}
	log.Warn("job state anomaly",
		zap.String(logger.FieldJobID, id),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
}

func fillStats(stats *jobs.Stats, state string, count int) {
	switch jobs.State(state) {
	case jobs.StateScraped:
		stats.Scraped = count
	case jobs.StateSent:
		stats.Sent = count
		stats.Pending = count
	case jobs.StateAccepted:
		stats.Accepted = count
	case jobs.StateDeclined:
		stats.Declined = count
	}
}

func utcNow() time.Time { return time.Now().UTC() }

var (
	_ Store = (*SQLite)(nil)
	_ Store = (*Postgres)(nil)
)
