// Package worker runs the ingestion pipeline: each leased job is parsed,
// embedded and written to the vector index in one upsert.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/xhad/docchat/internal/models"
	"github.com/xhad/docchat/internal/types"
	"github.com/xhad/docchat/pkg/queue"
)

// ErrMalformedPayload marks a job whose payload cannot be decoded.
var ErrMalformedPayload = errors.New("malformed job payload")

// SettleTimeout bounds the ack, nack or reject that follows a job. A queue
// lease has to cover the job timeout plus this.
const SettleTimeout = 10 * time.Second

// Source hands out leased jobs. Every worker ranges over its own sequence and
// a job is leased only when the worker asks for the next one.
type Source interface {
	Consume(ctx context.Context, topic string) iter.Seq[*queue.Delivery]
}

type Pool struct {
	source   Source
	parser   types.Parser
	embedder types.Embedder
	index    types.VectorIndex
	logger   *slog.Logger

	topic      string
	workers    int
	jobTimeout time.Duration
	batchSize  int
}

type Option func(*Pool)

func WithWorkers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

func WithJobTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.jobTimeout = d
		}
	}
}

func WithTopic(topic string) Option {
	return func(p *Pool) {
		if topic != "" {
			p.topic = topic
		}
	}
}

// WithBatchSize sets how many chunk texts go to the embedder per call.
func WithBatchSize(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func NewPool(source Source, parser types.Parser, embedder types.Embedder, index types.VectorIndex, opts ...Option) *Pool {
	p := &Pool{
		source:     source,
		parser:     parser,
		embedder:   embedder,
		index:      index,
		logger:     slog.Default(),
		topic:      "file-queue",
		workers:    4,
		jobTimeout: 5 * time.Minute,
		batchSize:  32,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run consumes jobs until ctx is cancelled or a job hits a configuration
// error. In-flight jobs always finish. Run returns nil after a normal
// shutdown and the configuration error otherwise.
func (p *Pool) Run(ctx context.Context) error {
	if p.embedder.Dimension() != p.index.Dimension() {
		return types.DimensionMismatch(p.index.Dimension(), p.embedder.Dimension())
	}

	ctx, halt := context.WithCancel(ctx)
	defer halt()

	var (
		wg       sync.WaitGroup
		haltOnce sync.Once
		fatal    error
	)

	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			p.logger.Info("worker started", "worker_id", workerID)

			for d := range p.source.Consume(ctx, p.topic) {
				if err := p.handle(workerID, d); err != nil {
					haltOnce.Do(func() {
						fatal = err
						p.logger.Error("halting ingestion", "worker_id", workerID, "error", err)
						halt()
					})
				}
			}

			p.logger.Info("worker stopped", "worker_id", workerID)
		}(i + 1)
	}

	wg.Wait()
	return fatal
}

// handle processes one delivery and settles it. It returns an error only for
// failures that must stop the pool.
func (p *Pool) handle(workerID int, d *queue.Delivery) error {
	log := p.logger.With("worker_id", workerID, "job_id", d.Job.ID, "attempt", d.Job.Attempts)

	ctx, cancel := context.WithTimeout(context.Background(), p.jobTimeout)
	start := time.Now()
	chunks, err := p.Process(ctx, d.Job)
	cancel()

	settleCtx, cancelSettle := context.WithTimeout(context.Background(), SettleTimeout)
	defer cancelSettle()

	var parseErr *types.ParseError
	switch {
	case err == nil:
		log.Info("processed job successfully", "chunks", chunks, "duration", time.Since(start))
		if err := d.Ack(settleCtx); err != nil {
			log.Warn("failed to ack job", "error", err)
		}

	case errors.Is(err, ErrMalformedPayload), errors.As(err, &parseErr):
		log.Error("rejecting job", "error", err)
		if err := d.Reject(settleCtx, err.Error()); err != nil {
			log.Warn("failed to reject job", "error", err)
		}

	case errors.Is(err, types.ErrEmbeddingDimensionMismatch):
		if rerr := d.Release(settleCtx); rerr != nil {
			log.Warn("failed to release job", "error", rerr)
		}
		return err

	default:
		log.Warn("processing failed, will retry", "error", err)
		if err := d.Nack(settleCtx, err); err != nil {
			log.Warn("failed to nack job", "error", err)
		}
	}

	return nil
}

// Process ingests one job and returns the number of chunks written. Nothing
// is written unless every chunk was embedded at the index dimension.
func (p *Pool) Process(ctx context.Context, job models.IngestionJob) (int, error) {
	var payload models.JobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	switch {
	case payload.Path == "":
		return 0, fmt.Errorf("%w: missing path", ErrMalformedPayload)
	case payload.Filename == "":
		return 0, fmt.Errorf("%w: missing filename", ErrMalformedPayload)
	}

	it, err := p.parser.Open(payload.Path, payload.Filename)
	if err != nil {
		return 0, err
	}
	defer it.Close()

	var (
		records []models.EmbeddedRecord
		batch   []models.DocumentChunk
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}

		vectors, err := p.embedder.Embed(ctx, texts)
		if err != nil {
			return err
		}
		if len(vectors) != len(batch) {
			return types.Upstream("embedding", fmt.Errorf("expected %d embeddings, got %d", len(batch), len(vectors)))
		}

		for i, vec := range vectors {
			if len(vec) != p.index.Dimension() {
				return types.DimensionMismatch(p.index.Dimension(), len(vec))
			}
			records = append(records, models.NewEmbeddedRecord(batch[i], vec))
		}
		batch = batch[:0]
		return nil
	}

	for {
		chunk, err := it.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, err
		}

		batch = append(batch, chunk)
		if len(batch) >= p.batchSize {
			if err := flush(); err != nil {
				return 0, err
			}
		}
	}
	if err := flush(); err != nil {
		return 0, err
	}

	if len(records) == 0 {
		return 0, nil
	}

	if err := p.index.Upsert(ctx, records); err != nil {
		return 0, err
	}
	return len(records), nil
}
