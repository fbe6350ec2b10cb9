package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xhad/docchat/internal/models"
	"github.com/xhad/docchat/internal/types"
)

type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
	Dimension  int
	Timeout    time.Duration
}

// Qdrant is a REST client for a single cosine collection. Point IDs are
// UUIDv5 of the record ID, and each point carries the time it was first
// written, zero padded, so equal scores come back in insertion order.
type Qdrant struct {
	config QdrantConfig
	client *http.Client
}

var _ types.VectorIndex = (*Qdrant)(nil)

type qdrantPoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

type qdrantHit struct {
	ID      string         `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

func NewQdrant(ctx context.Context, config QdrantConfig) (*Qdrant, error) {
	if config.URL == "" {
		config.URL = "http://localhost:6333"
	}
	config.URL = strings.TrimRight(config.URL, "/")
	if config.Collection == "" {
		config.Collection = "pdf-rag"
	}
	if config.Dimension <= 0 {
		config.Dimension = 768
	}
	if config.Timeout == 0 {
		config.Timeout = 15 * time.Second
	}

	q := &Qdrant{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
	if err := q.init(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

// init creates the collection when missing and checks the vector size of an
// existing one.
func (q *Qdrant) init(ctx context.Context) error {
	var info struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}

	status, err := q.do(ctx, http.MethodGet, q.collectionURL(""), nil, &info)
	if err != nil && status != http.StatusNotFound {
		return fmt.Errorf("qdrant collection %s: %w", q.config.Collection, err)
	}

	if status == http.StatusNotFound {
		body := map[string]any{
			"vectors": map[string]any{
				"size":     q.config.Dimension,
				"distance": "Cosine",
			},
		}
		if _, err := q.do(ctx, http.MethodPut, q.collectionURL(""), body, nil); err != nil {
			return fmt.Errorf("create qdrant collection %s: %w", q.config.Collection, err)
		}
		return nil
	}

	if size := info.Result.Config.Params.Vectors.Size; size != q.config.Dimension {
		return fmt.Errorf("qdrant collection %s: %w", q.config.Collection, types.DimensionMismatch(size, q.config.Dimension))
	}
	return nil
}

func (q *Qdrant) Dimension() int {
	return q.config.Dimension
}

// PointID maps a record ID to its Qdrant point ID.
func PointID(recordID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(recordID)).String()
}

// Upsert writes the records whose points do not exist yet.
func (q *Qdrant) Upsert(ctx context.Context, records []models.EmbeddedRecord) error {
	if err := checkDimensions(q.config.Dimension, records); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	ids := make([]string, len(records))
	for i, rec := range records {
		ids[i] = PointID(rec.ID)
	}

	var existing struct {
		Result []qdrantPoint `json:"result"`
	}
	lookup := map[string]any{"ids": ids, "with_payload": false, "with_vector": false}
	if _, err := q.do(ctx, http.MethodPost, q.collectionURL("/points"), lookup, &existing); err != nil {
		return wrap(ctx, err)
	}

	seen := make(map[string]bool, len(existing.Result))
	for _, p := range existing.Result {
		seen[p.ID] = true
	}

	seq := time.Now().UnixNano()
	points := make([]qdrantPoint, 0, len(records))
	for i, rec := range records {
		if seen[ids[i]] {
			continue
		}
		seen[ids[i]] = true
		points = append(points, qdrantPoint{
			ID:     ids[i],
			Vector: rec.Vector,
			Payload: map[string]any{
				"record_id":   rec.ID,
				"document_id": rec.Chunk.DocumentID,
				"source":      rec.Chunk.Source,
				"path":        rec.Chunk.Path,
				"page":        rec.Chunk.Page,
				"text":        rec.Chunk.Text,
				"metadata":    rec.Chunk.Metadata,
				"seq":         fmt.Sprintf("%020d", seq+int64(i)),
			},
		})
	}
	if len(points) == 0 {
		return nil
	}

	body := map[string]any{"points": points}
	_, err := q.do(ctx, http.MethodPut, q.collectionURL("/points?wait=true"), body, nil)
	return wrap(ctx, err)
}

func (q *Qdrant) Search(ctx context.Context, vector []float32, k int) ([]models.ScoredRecord, error) {
	if len(vector) != q.config.Dimension {
		return nil, types.DimensionMismatch(q.config.Dimension, len(vector))
	}
	if k <= 0 {
		return nil, nil
	}

	req := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
	}
	var resp struct {
		Result []qdrantHit `json:"result"`
	}
	if _, err := q.do(ctx, http.MethodPost, q.collectionURL("/points/search"), req, &resp); err != nil {
		return nil, wrap(ctx, err)
	}

	results := make([]models.ScoredRecord, 0, len(resp.Result))
	seqs := make([]string, 0, len(resp.Result))
	for _, hit := range resp.Result {
		rec := models.ScoredRecord{Score: hit.Score}
		rec.ID, _ = hit.Payload["record_id"].(string)
		rec.Chunk.DocumentID, _ = hit.Payload["document_id"].(string)
		rec.Chunk.Source, _ = hit.Payload["source"].(string)
		rec.Chunk.Path, _ = hit.Payload["path"].(string)
		rec.Chunk.Text, _ = hit.Payload["text"].(string)
		if v, ok := hit.Payload["page"].(float64); ok {
			rec.Chunk.Page = int(v)
		}
		if v, ok := hit.Payload["metadata"].(map[string]any); ok {
			rec.Chunk.Metadata = v
		}
		seq, _ := hit.Payload["seq"].(string)
		results = append(results, rec)
		seqs = append(seqs, seq)
	}

	order := make([]int, len(results))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ra, rb := results[order[a]], results[order[b]]
		if ra.Score != rb.Score {
			return ra.Score > rb.Score
		}
		return seqs[order[a]] < seqs[order[b]]
	})

	sorted := make([]models.ScoredRecord, len(results))
	for i, idx := range order {
		sorted[i] = results[idx]
	}
	return sorted, nil
}

func (q *Qdrant) Close() {
	q.client.CloseIdleConnections()
}

func (q *Qdrant) collectionURL(suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", q.config.URL, q.config.Collection, suffix)
}

// do sends body as JSON and decodes the response into out. The returned
// status is zero when no response was received.
func (q *Qdrant) do(ctx context.Context, method, url string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if q.config.APIKey != "" {
		req.Header.Set("api-key", q.config.APIKey)
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, fmt.Errorf("qdrant %s %s failed: %s: %s", method, url, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode qdrant response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
