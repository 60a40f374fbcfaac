package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/spigell/jobbot/internal/jobs"
	"github.com/spigell/jobbot/internal/logger"
)

// Fixed-width so that text ordering matches time ordering.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	platform               TEXT NOT NULL,
	external_id            TEXT NOT NULL,
	title                  TEXT NOT NULL DEFAULT '',
	company                TEXT NOT NULL DEFAULT '',
	location               TEXT NOT NULL DEFAULT '',
	description            TEXT NOT NULL DEFAULT '',
	salary                 REAL,
	url                    TEXT NOT NULL DEFAULT '',
	semantic_score         REAL,
	company_rating         INTEGER,
	company_rating_summary TEXT NOT NULL DEFAULT '',
	rank_position          INTEGER,
	state                  TEXT NOT NULL DEFAULT 'scraped',
	created_at             TEXT NOT NULL,
	sent_at                TEXT,
	decided_at             TEXT,
	PRIMARY KEY (platform, external_id)
);
CREATE INDEX IF NOT EXISTS jobs_state_created_idx ON jobs (state, created_at);
CREATE TABLE IF NOT EXISTS decisions (
	job_id     TEXT PRIMARY KEY,
	accepted   INTEGER NOT NULL,
	actor_id   TEXT NOT NULL DEFAULT '',
	decided_at TEXT NOT NULL
);`

// SQLite is the default single-process store. Mutations are serialized by
// an in-process lock; WAL mode lets readers see only committed rows.
type SQLite struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *zap.Logger
	now    func() time.Time
}

// OpenSQLite opens (or creates) the database at path and ensures the schema.
func OpenSQLite(path string, log *zap.Logger) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("sqlite: mkdir %s: %w", dir, err)
		}
	}

	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open db: %w", err)
	}
	db.SetMaxOpenConns(4)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: init schema: %w", err)
	}

	return &SQLite{
		db:     db,
		logger: logger.Component(log, "store"),
		now:    utcNow,
	}, nil
}

func (s *SQLite) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLite) Upsert(ctx context.Context, job *jobs.Job) (bool, error) {
	if job == nil || job.Platform == "" || job.ExternalID == "" {
		return false, errors.New("upsert: job identity is required")
	}

	created := job.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	state := job.State
	if state == "" {
		state = jobs.StateScraped
	}

	var inserted bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO jobs (`+jobColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (platform, external_id) DO NOTHING`,
			job.Platform, job.ExternalID, job.Title, job.Company, job.Location, job.Description,
			job.Salary, job.URL, job.SemanticScore, job.CompanyRating, job.CompanyRatingSummary, job.Rank,
			string(state), formatTime(created), formatTimePtr(job.SentAt), formatTimePtr(job.DecidedAt),
		)
		if err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		inserted = n > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("upsert %s: %w", job.ID(), err)
	}

	if !inserted {
		s.logger.Debug("duplicate job ignored", zap.String(logger.FieldJobID, job.ID()))
	}
	return inserted, nil
}

func (s *SQLite) currentState(ctx context.Context, tx *sql.Tx, platform, externalID string) (jobs.State, error) {
	var state string
	err := tx.QueryRowContext(ctx,
		`SELECT state FROM jobs WHERE platform = ? AND external_id = ?`, platform, externalID,
	).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("select state: %w", err)
	}
	return jobs.State(state), nil
}

func (s *SQLite) MarkSent(ctx context.Context, id string) error {
	platform, externalID, err := jobs.SplitID(id)
	if err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		from, err := s.currentState(ctx, tx, platform, externalID)
		if err != nil {
			return fmt.Errorf("mark sent %s: %w", id, err)
		}
		logTransition(s.logger, id, from, jobs.StateSent)

		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs SET state = ?, sent_at = ? WHERE platform = ? AND external_id = ?`,
			string(jobs.StateSent), formatTime(s.now()), platform, externalID,
		); err != nil {
			return fmt.Errorf("mark sent %s: %w", id, err)
		}
		return nil
	})
}

func (s *SQLite) MarkDecision(ctx context.Context, id string, accepted bool, actorID string) error {
	platform, externalID, err := jobs.SplitID(id)
	if err != nil {
		return err
	}

	to := jobs.DecisionState(accepted)
	now := formatTime(s.now())

	return s.withTx(ctx, func(tx *sql.Tx) error {
		from, err := s.currentState(ctx, tx, platform, externalID)
		if err != nil {
			return fmt.Errorf("mark decision %s: %w", id, err)
		}
		logTransition(s.logger, id, from, to)

		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs SET state = ?, decided_at = ? WHERE platform = ? AND external_id = ?`,
			string(to), now, platform, externalID,
		); err != nil {
			return fmt.Errorf("update job %s: %w", id, err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO decisions (job_id, accepted, actor_id, decided_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT (job_id) DO UPDATE SET accepted = excluded.accepted,
			   actor_id = excluded.actor_id, decided_at = excluded.decided_at`,
			id, accepted, actorID, now,
		); err != nil {
			return fmt.Errorf("record decision %s: %w", id, err)
		}
		return nil
	})
}

func (s *SQLite) FetchUnsent(ctx context.Context, limit int) ([]*jobs.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE state = ? ORDER BY `+rankOrder+` LIMIT ?`,
		string(jobs.StateScraped), sqlLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("fetch unsent: %w", err)
	}
	return collectSQLite(rows)
}

func (s *SQLite) ListByState(ctx context.Context, state jobs.State, limit int) ([]*jobs.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE state = ? ORDER BY created_at ASC LIMIT ?`,
		string(state), sqlLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list %s jobs: %w", state, err)
	}
	return collectSQLite(rows)
}

func (s *SQLite) Get(ctx context.Context, id string) (*jobs.Job, error) {
	platform, externalID, err := jobs.SplitID(id)
	if err != nil {
		return nil, err
	}

	job, err := scanSQLite(s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE platform = ? AND external_id = ?`, platform, externalID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	return job, nil
}

func (s *SQLite) PurgeOlderThan(ctx context.Context, cutoff time.Time, states ...jobs.State) (int64, error) {
	names := purgeStates(states)
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")

	args := make([]any, 0, len(names)+1)
	for _, n := range names {
		args = append(args, n)
	}
	args = append(args, formatTime(cutoff))

	where := `state IN (` + placeholders + `) AND created_at < ?`

	var deleted int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM decisions WHERE job_id IN (SELECT platform || ':' || external_id FROM jobs WHERE `+where+`)`,
			args...,
		); err != nil {
			return fmt.Errorf("delete decisions: %w", err)
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE `+where, args...)
		if err != nil {
			return fmt.Errorf("delete jobs: %w", err)
		}
		deleted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("purge: %w", err)
	}
	return deleted, nil
}

func (s *SQLite) Stats(ctx context.Context) (jobs.Stats, error) {
	var stats jobs.Stats
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM jobs GROUP BY state`)
	if err != nil {
		return stats, fmt.Errorf("stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			state string
			count int
		)
		if err := rows.Scan(&state, &count); err != nil {
			return stats, fmt.Errorf("stats scan: %w", err)
		}
		fillStats(&stats, state, count)
	}
	return stats, rows.Err()
}

// Decision returns the audit row for a job.
func (s *SQLite) Decision(ctx context.Context, id string) (*jobs.Decision, error) {
	var (
		d       jobs.Decision
		decided string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT job_id, accepted, actor_id, decided_at FROM decisions WHERE job_id = ?`, id,
	).Scan(&d.JobID, &d.Accepted, &d.ActorID, &decided)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("decision %s: %w", id, err)
	}
	if d.DecidedAt, err = parseTime(decided); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row rowScanner) (*jobs.Job, error) {
	var (
		job               jobs.Job
		state, created    string
		sentAt, decidedAt sql.NullString
	)
	if err := row.Scan(
		&job.Platform, &job.ExternalID, &job.Title, &job.Company, &job.Location, &job.Description,
		&job.Salary, &job.URL, &job.SemanticScore, &job.CompanyRating, &job.CompanyRatingSummary, &job.Rank,
		&state, &created, &sentAt, &decidedAt,
	); err != nil {
		return nil, err
	}

	job.State = jobs.State(state)

	var err error
	if job.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if job.SentAt, err = parseNullTime(sentAt); err != nil {
		return nil, err
	}
	if job.DecidedAt, err = parseNullTime(decidedAt); err != nil {
		return nil, err
	}
	return &job, nil
}

func collectSQLite(rows *sql.Rows) ([]*jobs.Job, error) {
	defer rows.Close()

	var out []*jobs.Job
	for rows.Next() {
		job, err := scanSQLite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
