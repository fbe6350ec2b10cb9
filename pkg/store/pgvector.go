package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/xhad/docchat/internal/models"
	"github.com/xhad/docchat/internal/types"
)

type VectorStoreConfig struct {
	ConnString string
	TableName  string
	VectorDim  int
	BatchSize  int
	Timeout    time.Duration
}

// VectorStore is a pgvector-backed index. Rows are keyed by record ID; seq
// records insertion order and breaks score ties.
type VectorStore struct {
	config VectorStoreConfig
	pool   *pgxpool.Pool
}

var _ types.VectorIndex = (*VectorStore)(nil)

func NewWithConfig(ctx context.Context, config VectorStoreConfig) (*VectorStore, error) {
	if config.TableName == "" {
		config.TableName = "documents"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}
	if config.Timeout == 0 {
		config.Timeout = 15 * time.Second
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	vs := &VectorStore{
		config: config,
		pool:   pool,
	}

	if err := vs.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

func (vs *VectorStore) initialize(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, vs.config.Timeout)
	defer cancel()

	// Enable pgvector extension
	_, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			seq BIGSERIAL,
			document_id TEXT NOT NULL,
			source TEXT NOT NULL,
			path TEXT NOT NULL DEFAULT '',
			page INTEGER NOT NULL DEFAULT 0,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			metadata JSONB
		)`, vs.config.TableName, vs.config.VectorDim)

	_, err = vs.pool.Exec(ctx, createTable)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	// An existing table keeps its column size; refuse to run against it
	// with a different embedder.
	var existing int
	err = vs.pool.QueryRow(ctx, `
		SELECT atttypmod FROM pg_attribute
		WHERE attrelid = $1::regclass AND attname = 'embedding'`,
		vs.config.TableName).Scan(&existing)
	if err != nil {
		return fmt.Errorf("failed to read embedding column: %w", err)
	}
	if existing > 0 && existing != vs.config.VectorDim {
		return fmt.Errorf("table %s: %w", vs.config.TableName, types.DimensionMismatch(existing, vs.config.VectorDim))
	}

	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING hnsw (embedding vector_cosine_ops)`,
		vs.config.TableName, vs.config.TableName)

	_, err = vs.pool.Exec(ctx, createIndex)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

func (vs *VectorStore) Dimension() int {
	return vs.config.VectorDim
}

// Upsert writes records in one transaction. Existing IDs are left untouched.
func (vs *VectorStore) Upsert(ctx context.Context, records []models.EmbeddedRecord) error {
	if err := checkDimensions(vs.config.VectorDim, records); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, vs.config.Timeout)
	defer cancel()

	tx, err := vs.pool.Begin(callCtx)
	if err != nil {
		return wrap(ctx, fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback(callCtx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, document_id, source, path, page, content, embedding, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		vs.config.TableName)

	for start := 0; start < len(records); start += vs.config.BatchSize {
		end := start + vs.config.BatchSize
		if end > len(records) {
			end = len(records)
		}

		batch := &pgx.Batch{}
		for _, rec := range records[start:end] {
			batch.Queue(stmt,
				rec.ID,
				rec.Chunk.DocumentID,
				sanitizeUTF8(rec.Chunk.Source),
				rec.Chunk.Path,
				rec.Chunk.Page,
				sanitizeUTF8(rec.Chunk.Text),
				pgvector.NewVector(rec.Vector),
				rec.Chunk.Metadata,
			)
		}

		if err := tx.SendBatch(callCtx, batch).Close(); err != nil {
			return wrap(ctx, fmt.Errorf("failed to insert records: %w", err))
		}
	}

	if err := tx.Commit(callCtx); err != nil {
		return wrap(ctx, fmt.Errorf("failed to commit transaction: %w", err))
	}

	return nil
}

// Search returns the k nearest records by cosine distance. Score is
// 1 - distance, so higher is closer. The query orders by distance alone so
// the HNSW index serves it; equal scores are then put in insertion order.
func (vs *VectorStore) Search(ctx context.Context, vector []float32, k int) ([]models.ScoredRecord, error) {
	if len(vector) != vs.config.VectorDim {
		return nil, types.DimensionMismatch(vs.config.VectorDim, len(vector))
	}
	if k <= 0 {
		return nil, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, vs.config.Timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT id, document_id, source, path, page, content, metadata,
			1 - (embedding <=> $1) AS score, seq
		FROM %s
		ORDER BY embedding <=> $1
		LIMIT $2`,
		vs.config.TableName)

	rows, err := vs.pool.Query(callCtx, query, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, wrap(ctx, fmt.Errorf("failed to query records: %w", err))
	}
	defer rows.Close()

	var (
		results []models.ScoredRecord
		seqs    = make(map[string]int64)
	)
	for rows.Next() {
		var (
			rec models.ScoredRecord
			seq int64
		)
		err := rows.Scan(
			&rec.ID,
			&rec.Chunk.DocumentID,
			&rec.Chunk.Source,
			&rec.Chunk.Path,
			&rec.Chunk.Page,
			&rec.Chunk.Text,
			&rec.Chunk.Metadata,
			&rec.Score,
			&seq,
		)
		if err != nil {
			return nil, wrap(ctx, fmt.Errorf("failed to scan row: %w", err))
		}
		seqs[rec.ID] = seq
		results = append(results, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(ctx, err)
	}

	sort.SliceStable(results, func(a, b int) bool {
		if results[a].Score != results[b].Score {
			return results[a].Score > results[b].Score
		}
		return seqs[results[a].ID] < seqs[results[b].ID]
	})
	return results, nil
}

// Count returns the number of stored records.
func (vs *VectorStore) Count(ctx context.Context) (int, error) {
	var n int
	err := vs.pool.QueryRow(ctx, fmt.Sprintf("SELECT count(*) FROM %s", vs.config.TableName)).Scan(&n)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return 0, wrap(ctx, err)
	}
	return n, nil
}

func (vs *VectorStore) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}

// sanitizeUTF8 drops invalid bytes and NULs, which Postgres text rejects.
func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	return strings.ReplaceAll(s, "\x00", "")
}
