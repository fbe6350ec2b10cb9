package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// IngestionJob is one uploaded document waiting to be parsed, embedded and
// indexed. Only Attempts changes after the job is enqueued.
type IngestionJob struct {
	ID         string    `json:"id"`
	Topic      string    `json:"topic"`
	Payload    []byte    `json:"payload"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Attempts   int       `json:"attempts"`
}

// JobPayload is the JSON body carried by an IngestionJob.
type JobPayload struct {
	Filename    string `json:"filename"`
	Path        string `json:"path"`
	Destination string `json:"destination,omitempty"`
}

// DocumentChunk is a retrievable unit of text cut from one page or section of
// a source document.
type DocumentChunk struct {
	Text       string
	DocumentID string
	Source     string
	Path       string
	Page       int
	Metadata   map[string]interface{}
}

// EmbeddedRecord is a chunk plus its vector, as persisted by a vector index.
type EmbeddedRecord struct {
	ID     string
	Chunk  DocumentChunk
	Vector []float32
}

// ScoredRecord is a search hit. Score is cosine similarity; higher is closer.
type ScoredRecord struct {
	EmbeddedRecord
	Score float64
}

// ChatExchange is a single question/answer turn. Citations are in retrieval
// rank order, most relevant first.
type ChatExchange struct {
	Question      string
	Answer        string
	Citations     []Citation
	ContextChunks int
}

type Citation struct {
	SourceDocument string  `json:"sourceDocument"`
	PageLocation   int     `json:"pageLocation"`
	Excerpt        string  `json:"excerpt"`
	Score          float64 `json:"score"`
}

// DocumentID derives a stable identifier for a stored document from its path.
func DocumentID(path string) string {
	sum := sha256.Sum256([]byte(path))
	return hex.EncodeToString(sum[:8])
}

// RecordID is the content-addressed key of a chunk. Ingesting the same chunk
// twice yields the same key, which is what makes index writes idempotent.
func RecordID(chunk DocumentChunk) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", chunk.DocumentID, chunk.Page, chunk.Text)))
	return hex.EncodeToString(sum[:])
}

// NewEmbeddedRecord pairs a chunk with its vector under its content key.
func NewEmbeddedRecord(chunk DocumentChunk, vector []float32) EmbeddedRecord {
	return EmbeddedRecord{
		ID:     RecordID(chunk),
		Chunk:  chunk,
		Vector: vector,
	}
}

// CitationFor converts a search hit into its display form. Excerpts longer
// than maxExcerpt runes are cut at the limit; zero keeps the full text.
func CitationFor(rec ScoredRecord, maxExcerpt int) Citation {
	excerpt := rec.Chunk.Text
	if maxExcerpt > 0 {
		runes := []rune(excerpt)
		if len(runes) > maxExcerpt {
			excerpt = string(runes[:maxExcerpt]) + "…"
		}
	}
	return Citation{
		SourceDocument: rec.Chunk.Source,
		PageLocation:   rec.Chunk.Page,
		Excerpt:        excerpt,
		Score:          rec.Score,
	}
}
