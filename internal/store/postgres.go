package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/spigell/jobbot/internal/jobs"
	"github.com/spigell/jobbot/internal/logger"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	platform               TEXT NOT NULL,
	external_id            TEXT NOT NULL,
	title                  TEXT NOT NULL DEFAULT '',
	company                TEXT NOT NULL DEFAULT '',
	location               TEXT NOT NULL DEFAULT '',
	description            TEXT NOT NULL DEFAULT '',
	salary                 DOUBLE PRECISION,
	url                    TEXT NOT NULL DEFAULT '',
	semantic_score         DOUBLE PRECISION,
	company_rating         INTEGER,
	company_rating_summary TEXT NOT NULL DEFAULT '',
	rank_position          INTEGER,
	state                  TEXT NOT NULL DEFAULT 'scraped',
	created_at             TIMESTAMPTZ NOT NULL,
	sent_at                TIMESTAMPTZ,
	decided_at             TIMESTAMPTZ,
	PRIMARY KEY (platform, external_id)
);
CREATE INDEX IF NOT EXISTS jobs_state_created_idx ON jobs (state, created_at);
CREATE TABLE IF NOT EXISTS decisions (
	job_id     TEXT PRIMARY KEY,
	accepted   BOOLEAN NOT NULL,
	actor_id   TEXT NOT NULL DEFAULT '',
	decided_at TIMESTAMPTZ NOT NULL
);`

// Postgres is the multi-process store. Every mutation is a database
// transaction; state reads inside it take a row lock.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	now    func() time.Time
}

// OpenPostgres connects to databaseURL, verifies the connection and ensures the schema.
func OpenPostgres(ctx context.Context, databaseURL string, log *zap.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: init schema: %w", err)
	}

	return &Postgres{
		pool:   pool,
		logger: logger.Component(log, "store"),
		now:    utcNow,
	}, nil
}

func (p *Postgres) Upsert(ctx context.Context, job *jobs.Job) (bool, error) {
	if job == nil || job.Platform == "" || job.ExternalID == "" {
		return false, errors.New("upsert: job identity is required")
	}

	created := job.CreatedAt
	if created.IsZero() {
		created = p.now()
	}
	state := job.State
	if state == "" {
		state = jobs.StateScraped
	}

	tag, err := p.pool.Exec(ctx,
		`INSERT INTO jobs (`+jobColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 ON CONFLICT (platform, external_id) DO NOTHING`,
		job.Platform, job.ExternalID, job.Title, job.Company, job.Location, job.Description,
		job.Salary, job.URL, job.SemanticScore, job.CompanyRating, job.CompanyRatingSummary, job.Rank,
		string(state), created.UTC(), job.SentAt, job.DecidedAt,
	)
	if err != nil {
		return false, fmt.Errorf("upsert %s: %w", job.ID(), err)
	}

	if tag.RowsAffected() == 0 {
		p.logger.Debug("duplicate job ignored", zap.String(logger.FieldJobID, job.ID()))
		return false, nil
	}
	return true, nil
}

func lockState(ctx context.Context, tx pgx.Tx, platform, externalID string) (jobs.State, error) {
	var state string
	err := tx.QueryRow(ctx,
		`SELECT state FROM jobs WHERE platform = $1 AND external_id = $2 FOR UPDATE`, platform, externalID,
	).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("select state: %w", err)
	}
	return jobs.State(state), nil
}

func (p *Postgres) MarkSent(ctx context.Context, id string) error {
	platform, externalID, err := jobs.SplitID(id)
	if err != nil {
		return err
	}

	err = pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		from, err := lockState(ctx, tx, platform, externalID)
		if err != nil {
			return err
		}
		logTransition(p.logger, id, from, jobs.StateSent)

		_, err = tx.Exec(ctx,
			`UPDATE jobs SET state = $1, sent_at = $2 WHERE platform = $3 AND external_id = $4`,
			string(jobs.StateSent), p.now(), platform, externalID,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("mark sent %s: %w", id, err)
	}
	return nil
}

func (p *Postgres) MarkDecision(ctx context.Context, id string, accepted bool, actorID string) error {
	platform, externalID, err := jobs.SplitID(id)
	if err != nil {
		return err
	}

	to := jobs.DecisionState(accepted)
	now := p.now()

	err = pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		from, err := lockState(ctx, tx, platform, externalID)
		if err != nil {
			return err
		}
		logTransition(p.logger, id, from, to)

		if _, err := tx.Exec(ctx,
			`UPDATE jobs SET state = $1, decided_at = $2 WHERE platform = $3 AND external_id = $4`,
			string(to), now, platform, externalID,
		); err != nil {
			return fmt.Errorf("update job: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO decisions (job_id, accepted, actor_id, decided_at) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (job_id) DO UPDATE SET accepted = EXCLUDED.accepted,
			   actor_id = EXCLUDED.actor_id, decided_at = EXCLUDED.decided_at`,
			id, accepted, actorID, now,
		); err != nil {
			return fmt.Errorf("record decision: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("mark decision %s: %w", id, err)
	}
	return nil
}

func (p *Postgres) FetchUnsent(ctx context.Context, limit int) ([]*jobs.Job, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE state = $1 ORDER BY `+rankOrder+` LIMIT $2`,
		string(jobs.StateScraped), sqlLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("fetch unsent: %w", err)
	}
	return collectPostgres(rows)
}

func (p *Postgres) ListByState(ctx context.Context, state jobs.State, limit int) ([]*jobs.Job, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE state = $1 ORDER BY created_at ASC LIMIT $2`,
		string(state), sqlLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list %s jobs: %w", state, err)
	}
	return collectPostgres(rows)
}

func (p *Postgres) Get(ctx context.Context, id string) (*jobs.Job, error) {
	platform, externalID, err := jobs.SplitID(id)
	if err != nil {
		return nil, err
	}

	job, err := scanPostgres(p.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE platform = $1 AND external_id = $2`, platform, externalID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	return job, nil
}

func (p *Postgres) PurgeOlderThan(ctx context.Context, cutoff time.Time, states ...jobs.State) (int64, error) {
	names := purgeStates(states)

	var deleted int64
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM decisions WHERE job_id IN (
			   SELECT platform || ':' || external_id FROM jobs WHERE state = ANY($1) AND created_at < $2)`,
			names, cutoff,
		); err != nil {
			return fmt.Errorf("delete decisions: %w", err)
		}

		tag, err := tx.Exec(ctx, `DELETE FROM jobs WHERE state = ANY($1) AND created_at < $2`, names, cutoff)
		if err != nil {
			return fmt.Errorf("delete jobs: %w", err)
		}
		deleted = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("purge: %w", err)
	}
	return deleted, nil
}

func (p *Postgres) Stats(ctx context.Context) (jobs.Stats, error) {
	var stats jobs.Stats
	rows, err := p.pool.Query(ctx, `SELECT state, COUNT(*) FROM jobs GROUP BY state`)
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

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func scanPostgres(row rowScanner) (*jobs.Job, error) {
	var (
		job   jobs.Job
		state string
	)
	if err := row.Scan(
		&job.Platform, &job.ExternalID, &job.Title, &job.Company, &job.Location, &job.Description,
		&job.Salary, &job.URL, &job.SemanticScore, &job.CompanyRating, &job.CompanyRatingSummary, &job.Rank,
		&state, &job.CreatedAt, &job.SentAt, &job.DecidedAt,
	); err != nil {
		return nil, err
	}
	job.State = jobs.State(state)
	return &job, nil
}

func collectPostgres(rows pgx.Rows) ([]*jobs.Job, error) {
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*jobs.Job, error) {
		return scanPostgres(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return out, nil
}
