package queue

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS ingestion_jobs (
	id TEXT PRIMARY KEY,
	topic TEXT NOT NULL,
	payload BYTEA NOT NULL,
	status TEXT NOT NULL DEFAULT 'queued',
	attempts INTEGER NOT NULL DEFAULT 0,
	lease_id TEXT,
	last_error TEXT NOT NULL DEFAULT '',
	enqueued_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	visible_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS ingestion_jobs_visible_idx
	ON ingestion_jobs (topic, status, visible_at);
`

// Postgres keeps jobs in the ingestion_jobs table. Competing consumers are
// separated with FOR UPDATE SKIP LOCKED.
type Postgres struct {
	config Config
	pool   *pgxpool.Pool
}

var _ Queue = (*Postgres)(nil)

func NewPostgres(ctx context.Context, connString string, config Config) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, unavailable(fmt.Errorf("failed to connect to database: %w", err))
	}

	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, unavailable(fmt.Errorf("failed to create queue table: %w", err))
	}

	return &Postgres{config: config.withDefaults(), pool: pool}, nil
}

func (q *Postgres) Enqueue(ctx context.Context, topic string, payload []byte) (string, error) {
	id := uuid.NewString()
	_, err := q.pool.Exec(ctx,
		`INSERT INTO ingestion_jobs (id, topic, payload) VALUES ($1, $2, $3)`,
		id, topic, payload)
	if err != nil {
		return "", unavailable(err)
	}
	return id, nil
}

func (q *Postgres) Dequeue(ctx context.Context, topic string) (*Delivery, error) {
	dead, err := q.pool.Exec(ctx, `
		UPDATE ingestion_jobs
		SET status = 'dead', lease_id = NULL, last_error = $3, updated_at = now()
		WHERE topic = $1 AND status = 'leased' AND visible_at <= now() AND attempts >= $2`,
		topic, q.config.MaxAttempts, leaseExpiredReason)
	if err != nil {
		return nil, unavailable(err)
	}
	if n := dead.RowsAffected(); n > 0 {
		q.config.Logger.Warn("dead-lettered expired leases", "topic", topic, "count", n)
	}

	lease := uuid.NewString()
	d := &Delivery{lease: lease, q: q}
	err = q.pool.QueryRow(ctx, `
		UPDATE ingestion_jobs
		SET status = 'leased', attempts = attempts + 1, lease_id = $2,
			visible_at = now() + $3::float8 * interval '1 millisecond', updated_at = now()
		WHERE id = (
			SELECT id FROM ingestion_jobs
			WHERE topic = $1 AND status IN ('queued', 'leased')
				AND visible_at <= now() AND attempts < $4
			ORDER BY enqueued_at, id
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING id, topic, payload, enqueued_at, attempts`,
		topic, lease, millis(q.config.VisibilityTimeout), q.config.MaxAttempts,
	).Scan(&d.Job.ID, &d.Job.Topic, &d.Job.Payload, &d.Job.EnqueuedAt, &d.Job.Attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEmpty
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, unavailable(err)
	}

	return d, nil
}

func (q *Postgres) Consume(ctx context.Context, topic string) iter.Seq[*Delivery] {
	return consume(ctx, q.Dequeue, topic, q.config)
}

func (q *Postgres) settle(ctx context.Context, d *Delivery, query string, args ...any) error {
	tag, err := q.pool.Exec(ctx, query, append([]any{d.Job.ID, d.lease}, args...)...)
	if err != nil {
		return unavailable(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (q *Postgres) ack(ctx context.Context, d *Delivery) error {
	return q.settle(ctx, d, `
		UPDATE ingestion_jobs SET status = 'done', lease_id = NULL, updated_at = now()
		WHERE id = $1 AND lease_id = $2 AND status = 'leased'`)
}

func (q *Postgres) nack(ctx context.Context, d *Delivery, cause string) error {
	return q.settle(ctx, d, `
		UPDATE ingestion_jobs
		SET status = CASE WHEN attempts >= $3 THEN 'dead' ELSE 'queued' END,
			visible_at = now() + $4::float8 * interval '1 millisecond',
			last_error = $5, lease_id = NULL, updated_at = now()
		WHERE id = $1 AND lease_id = $2 AND status = 'leased'`,
		q.config.MaxAttempts, millis(q.config.Backoff(d.Job.Attempts)), cause)
}

func (q *Postgres) reject(ctx context.Context, d *Delivery, reason string) error {
	return q.settle(ctx, d, `
		UPDATE ingestion_jobs
		SET status = 'rejected', last_error = $3, lease_id = NULL, updated_at = now()
		WHERE id = $1 AND lease_id = $2 AND status = 'leased'`,
		reason)
}

func (q *Postgres) release(ctx context.Context, d *Delivery) error {
	return q.settle(ctx, d, `
		UPDATE ingestion_jobs
		SET status = 'queued', attempts = attempts - 1, visible_at = now(),
			lease_id = NULL, updated_at = now()
		WHERE id = $1 AND lease_id = $2 AND status = 'leased'`)
}

func (q *Postgres) DeadLetters(ctx context.Context, topic string) ([]DeadLetter, error) {
	rows, err := q.pool.Query(ctx, `
		SELECT id, topic, payload, enqueued_at, attempts, status, last_error, updated_at
		FROM ingestion_jobs
		WHERE topic = $1 AND status IN ('dead', 'rejected')
		ORDER BY updated_at, id`, topic)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var letters []DeadLetter
	for rows.Next() {
		var dl DeadLetter
		var status string
		if err := rows.Scan(&dl.Job.ID, &dl.Job.Topic, &dl.Job.Payload, &dl.Job.EnqueuedAt,
			&dl.Job.Attempts, &status, &dl.LastError, &dl.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}
		dl.Status = Status(status)
		letters = append(letters, dl)
	}
	return letters, rows.Err()
}

func (q *Postgres) Stats(ctx context.Context, topic string) (Stats, error) {
	var stats Stats
	rows, err := q.pool.Query(ctx,
		`SELECT status, count(*) FROM ingestion_jobs WHERE topic = $1 GROUP BY status`, topic)
	if err != nil {
		return stats, unavailable(err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return stats, fmt.Errorf("failed to scan stats: %w", err)
		}
		stats.add(status, n)
	}
	return stats, rows.Err()
}

func (q *Postgres) Close() error {
	q.pool.Close()
	return nil
}

func millis(d time.Duration) float64 {
	return float64(d.Milliseconds())
}
