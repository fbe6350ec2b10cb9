// Package queue is a durable, lease-based job queue with at-least-once
// delivery. Jobs live in Postgres or in a SQLite file.
package queue

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/xhad/docchat/internal/models"
	"github.com/xhad/docchat/internal/types"
)

var (
	// ErrEmpty is returned by Dequeue when no job is visible.
	ErrEmpty = errors.New("queue: no visible jobs")

	// ErrLeaseLost means the delivery's lease expired and the job was handed
	// to another consumer or dead-lettered; the settlement was not applied.
	ErrLeaseLost = errors.New("queue: lease lost")
)

type Status string

const (
	StatusQueued   Status = "queued"
	StatusLeased   Status = "leased"
	StatusDone     Status = "done"
	StatusDead     Status = "dead"
	StatusRejected Status = "rejected"
)

const leaseExpiredReason = "lease expired on final attempt"

type Config struct {
	MaxAttempts       int
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
	RetryBackoff      time.Duration
	MaxRetryBackoff   time.Duration
	Logger            *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = 10 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 5 * time.Second
	}
	if c.MaxRetryBackoff <= 0 {
		c.MaxRetryBackoff = 5 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Backoff is the delay before a job that failed attempt number attempts is
// visible again: RetryBackoff doubled per attempt, capped at MaxRetryBackoff.
func (c Config) Backoff(attempts int) time.Duration {
	c = c.withDefaults()
	d := c.RetryBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= c.MaxRetryBackoff {
			return c.MaxRetryBackoff
		}
	}
	if d > c.MaxRetryBackoff {
		return c.MaxRetryBackoff
	}
	return d
}

// Queue is implemented by the Postgres and SQLite backends.
type Queue interface {
	Enqueue(ctx context.Context, topic string, payload []byte) (string, error)
	Dequeue(ctx context.Context, topic string) (*Delivery, error)
	Consume(ctx context.Context, topic string) iter.Seq[*Delivery]
	DeadLetters(ctx context.Context, topic string) ([]DeadLetter, error)
	Stats(ctx context.Context, topic string) (Stats, error)
	Close() error
}

// settler applies the outcome of a delivery under its lease.
type settler interface {
	ack(ctx context.Context, d *Delivery) error
	nack(ctx context.Context, d *Delivery, cause string) error
	reject(ctx context.Context, d *Delivery, reason string) error
	release(ctx context.Context, d *Delivery) error
}

// Delivery is a leased job. Exactly one of Ack, Nack, Reject or Release
// should be called.
type Delivery struct {
	Job   models.IngestionJob
	lease string
	q     settler
}

// Ack marks the job done.
func (d *Delivery) Ack(ctx context.Context) error {
	return d.q.ack(ctx, d)
}

// Nack returns the job for redelivery after a backoff, or dead-letters it
// once its attempts are used up.
func (d *Delivery) Nack(ctx context.Context, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return d.q.nack(ctx, d, msg)
}

// Reject drops the job for good. Used for payloads that can never succeed.
func (d *Delivery) Reject(ctx context.Context, reason string) error {
	return d.q.reject(ctx, d, reason)
}

// Release makes the job visible again without counting the attempt.
func (d *Delivery) Release(ctx context.Context) error {
	return d.q.release(ctx, d)
}

// DeadLetter is a job that ended dead or rejected.
type DeadLetter struct {
	Job       models.IngestionJob `json:"job"`
	Status    Status              `json:"status"`
	LastError string              `json:"last_error"`
	UpdatedAt time.Time           `json:"updated_at"`
}

type Stats struct {
	Queued   int `json:"queued"`
	Leased   int `json:"leased"`
	Done     int `json:"done"`
	Dead     int `json:"dead"`
	Rejected int `json:"rejected"`
}

func (s *Stats) add(status string, n int) {
	switch Status(status) {
	case StatusQueued:
		s.Queued += n
	case StatusLeased:
		s.Leased += n
	case StatusDone:
		s.Done += n
	case StatusDead:
		s.Dead += n
	case StatusRejected:
		s.Rejected += n
	}
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", types.ErrQueueUnavailable, err)
}

// consume yields jobs leased one at a time as the caller asks for them, so a
// lease only starts once the caller is ready to work on the job. Each caller
// ranges over its own sequence. The sequence ends when ctx does.
func consume(ctx context.Context, dequeue func(context.Context, string) (*Delivery, error), topic string, cfg Config) iter.Seq[*Delivery] {
	return func(yield func(*Delivery) bool) {
		for ctx.Err() == nil {
			d, err := dequeue(ctx, topic)
			switch {
			case err == nil:
				if !yield(d) {
					return
				}
				continue
			case errors.Is(err, ErrEmpty):
			case ctx.Err() != nil:
				return
			default:
				cfg.Logger.Error("dequeue failed", "topic", topic, "error", err)
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(cfg.PollInterval):
			}
		}
	}
}
