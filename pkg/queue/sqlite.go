package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS ingestion_jobs (
	id TEXT PRIMARY KEY,
	topic TEXT NOT NULL,
	payload BLOB NOT NULL,
	status TEXT NOT NULL DEFAULT 'queued',
	attempts INTEGER NOT NULL DEFAULT 0,
	lease_id TEXT,
	last_error TEXT NOT NULL DEFAULT '',
	enqueued_at INTEGER NOT NULL,
	visible_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS ingestion_jobs_visible_idx
	ON ingestion_jobs (topic, status, visible_at);
`

// SQLite keeps jobs in a single database file. Times are stored as unix
// milliseconds. One connection serialises writers, so a dequeue is a single
// UPDATE ... RETURNING.
type SQLite struct {
	config Config
	db     *sql.DB
	path   string
	now    func() time.Time
}

var _ Queue = (*SQLite)(nil)

func NewSQLite(path string, config Config) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, unavailable(fmt.Errorf("creating queue directory: %w", err))
		}
	}

	// Open database with WAL mode for better concurrency
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, unavailable(fmt.Errorf("opening queue database: %w", err))
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, unavailable(fmt.Errorf("creating queue table: %w", err))
	}

	return &SQLite{
		config: config.withDefaults(),
		db:     db,
		path:   path,
		now:    time.Now,
	}, nil
}

func (q *SQLite) Path() string {
	return q.path
}

func (q *SQLite) millis() int64 {
	return q.now().UnixMilli()
}

func (q *SQLite) Enqueue(ctx context.Context, topic string, payload []byte) (string, error) {
	id := uuid.NewString()
	now := q.millis()
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO ingestion_jobs (id, topic, payload, enqueued_at, visible_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, topic, payload, now, now, now)
	if err != nil {
		return "", unavailable(err)
	}
	return id, nil
}

func (q *SQLite) Dequeue(ctx context.Context, topic string) (*Delivery, error) {
	now := q.millis()

	dead, err := q.db.ExecContext(ctx, `
		UPDATE ingestion_jobs
		SET status = 'dead', lease_id = NULL, last_error = ?, updated_at = ?
		WHERE topic = ? AND status = 'leased' AND visible_at <= ? AND attempts >= ?`,
		leaseExpiredReason, now, topic, now, q.config.MaxAttempts)
	if err != nil {
		return nil, unavailable(err)
	}
	if n, _ := dead.RowsAffected(); n > 0 {
		q.config.Logger.Warn("dead-lettered expired leases", "topic", topic, "count", n)
	}

	lease := uuid.NewString()
	d := &Delivery{lease: lease, q: q}
	var enqueued int64
	err = q.db.QueryRowContext(ctx, `
		UPDATE ingestion_jobs
		SET status = 'leased', attempts = attempts + 1, lease_id = ?, visible_at = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM ingestion_jobs
			WHERE topic = ? AND status IN ('queued', 'leased')
				AND visible_at <= ? AND attempts < ?
			ORDER BY enqueued_at, id
			LIMIT 1
		)
		RETURNING id, topic, payload, enqueued_at, attempts`,
		lease, now+q.config.VisibilityTimeout.Milliseconds(), now,
		topic, now, q.config.MaxAttempts,
	).Scan(&d.Job.ID, &d.Job.Topic, &d.Job.Payload, &enqueued, &d.Job.Attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEmpty
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, unavailable(err)
	}

	d.Job.EnqueuedAt = time.UnixMilli(enqueued)
	return d, nil
}

func (q *SQLite) Consume(ctx context.Context, topic string) iter.Seq[*Delivery] {
	return consume(ctx, q.Dequeue, topic, q.config)
}

func (q *SQLite) settle(ctx context.Context, d *Delivery, query string, args ...any) error {
	args = append(args, d.Job.ID, d.lease)
	res, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return unavailable(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (q *SQLite) ack(ctx context.Context, d *Delivery) error {
	return q.settle(ctx, d, `
		UPDATE ingestion_jobs SET status = 'done', lease_id = NULL, updated_at = ?
		WHERE id = ? AND lease_id = ? AND status = 'leased'`,
		q.millis())
}

func (q *SQLite) nack(ctx context.Context, d *Delivery, cause string) error {
	now := q.millis()
	return q.settle(ctx, d, `
		UPDATE ingestion_jobs
		SET status = CASE WHEN attempts >= ? THEN 'dead' ELSE 'queued' END,
			visible_at = ?, last_error = ?, lease_id = NULL, updated_at = ?
		WHERE id = ? AND lease_id = ? AND status = 'leased'`,
		q.config.MaxAttempts, now+q.config.Backoff(d.Job.Attempts).Milliseconds(), cause, now)
}

func (q *SQLite) reject(ctx context.Context, d *Delivery, reason string) error {
	return q.settle(ctx, d, `
		UPDATE ingestion_jobs
		SET status = 'rejected', last_error = ?, lease_id = NULL, updated_at = ?
		WHERE id = ? AND lease_id = ? AND status = 'leased'`,
		reason, q.millis())
}

func (q *SQLite) release(ctx context.Context, d *Delivery) error {
	now := q.millis()
	return q.settle(ctx, d, `
		UPDATE ingestion_jobs
		SET status = 'queued', attempts = attempts - 1, visible_at = ?,
			lease_id = NULL, updated_at = ?
		WHERE id = ? AND lease_id = ? AND status = 'leased'`,
		now, now)
}

func (q *SQLite) DeadLetters(ctx context.Context, topic string) ([]DeadLetter, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, topic, payload, enqueued_at, attempts, status, last_error, updated_at
		FROM ingestion_jobs
		WHERE topic = ? AND status IN ('dead', 'rejected')
		ORDER BY updated_at, id`, topic)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var letters []DeadLetter
	for rows.Next() {
		var dl DeadLetter
		var status string
		var enqueued, updated int64
		if err := rows.Scan(&dl.Job.ID, &dl.Job.Topic, &dl.Job.Payload, &enqueued,
			&dl.Job.Attempts, &status, &dl.LastError, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}
		dl.Job.EnqueuedAt = time.UnixMilli(enqueued)
		dl.UpdatedAt = time.UnixMilli(updated)
		dl.Status = Status(status)
		letters = append(letters, dl)
	}
	return letters, rows.Err()
}

func (q *SQLite) Stats(ctx context.Context, topic string) (Stats, error) {
	var stats Stats
	rows, err := q.db.QueryContext(ctx,
		`SELECT status, count(*) FROM ingestion_jobs WHERE topic = ? GROUP BY status`, topic)
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

func (q *SQLite) Close() error {
	return q.db.Close()
}
