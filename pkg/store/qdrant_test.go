package store_test

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/docchat/internal/models"
	"github.com/xhad/docchat/internal/types"
	"github.com/xhad/docchat/pkg/store"
)

type storedPoint struct {
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// fakeQdrant implements the handful of collection and point endpoints the
// client uses.
type fakeQdrant struct {
	mu      sync.Mutex
	size    int
	exists  bool
	points  map[string]storedPoint
	upserts int
	fail    bool
}

func newFakeQdrant() *fakeQdrant {
	return &fakeQdrant{points: make(map[string]storedPoint)}
}

func (f *fakeQdrant) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail {
		http.Error(w, "boom", http.StatusInternalServerError)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/collections/test")
	switch {
	case path == "" && r.Method == http.MethodGet:
		if !f.exists {
			http.Error(w, `{"status":{"error":"Not found"}}`, http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]any{"result": map[string]any{
			"config": map[string]any{"params": map[string]any{"vectors": map[string]any{"size": f.size, "distance": "Cosine"}}},
		}})

	case path == "" && r.Method == http.MethodPut:
		var body struct {
			Vectors struct {
				Size int `json:"size"`
			} `json:"vectors"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.exists = true
		f.size = body.Vectors.Size
		writeJSON(w, map[string]any{"result": true})

	case path == "/points" && r.Method == http.MethodPost:
		var body struct {
			IDs []string `json:"ids"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		found := []map[string]any{}
		for _, id := range body.IDs {
			if _, ok := f.points[id]; ok {
				found = append(found, map[string]any{"id": id})
			}
		}
		writeJSON(w, map[string]any{"result": found})

	case path == "/points" && r.Method == http.MethodPut:
		var body struct {
			Points []struct {
				ID string `json:"id"`
				storedPoint
			} `json:"points"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		for _, p := range body.Points {
			f.points[p.ID] = p.storedPoint
		}
		f.upserts++
		writeJSON(w, map[string]any{"result": map[string]any{"status": "completed"}})

	case path == "/points/search" && r.Method == http.MethodPost:
		var body struct {
			Vector []float32 `json:"vector"`
			Limit  int       `json:"limit"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		type hit struct {
			ID      string         `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		}
		hits := []hit{}
		for id, p := range f.points {
			hits = append(hits, hit{ID: id, Score: cosineSim(body.Vector, p.Vector), Payload: p.Payload})
		}
		sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
		if len(hits) > body.Limit {
			hits = hits[:body.Limit]
		}
		writeJSON(w, map[string]any{"result": hits})

	default:
		http.Error(w, "unexpected "+r.Method+" "+r.URL.Path, http.StatusBadRequest)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func cosineSim(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i] * b[i])
		na += float64(a[i] * a[i])
		nb += float64(b[i] * b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func newTestQdrant(t *testing.T, fake *fakeQdrant, dim int) *store.Qdrant {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	q, err := store.NewQdrant(context.Background(), store.QdrantConfig{
		URL:        srv.URL,
		Collection: "test",
		Dimension:  dim,
	})
	require.NoError(t, err)
	t.Cleanup(q.Close)
	return q
}

func TestQdrant_CreatesCollection(t *testing.T) {
	fake := newFakeQdrant()
	q := newTestQdrant(t, fake, 4)

	assert.True(t, fake.exists)
	assert.Equal(t, 4, fake.size)
	assert.Equal(t, 4, q.Dimension())
}

func TestQdrant_ExistingCollectionWrongSize(t *testing.T) {
	fake := newFakeQdrant()
	fake.exists = true
	fake.size = 1536
	srv := httptest.NewServer(fake)
	defer srv.Close()

	_, err := store.NewQdrant(context.Background(), store.QdrantConfig{URL: srv.URL, Collection: "test", Dimension: 768})
	assert.ErrorIs(t, err, types.ErrEmbeddingDimensionMismatch)
}

func TestQdrant_UpsertAndSearch(t *testing.T) {
	ctx := context.Background()
	fake := newFakeQdrant()
	q := newTestQdrant(t, fake, 4)

	recs := tenRecords(4)
	require.NoError(t, q.Upsert(ctx, recs))
	require.NoError(t, q.Upsert(ctx, recs))

	assert.Len(t, fake.points, 10)
	assert.Equal(t, 1, fake.upserts)

	hits, err := q.Search(ctx, unit(4, 0), 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, recs[0].ID, hits[0].ID)
	assert.Equal(t, "chunk 0", hits[0].Chunk.Text)
	assert.Equal(t, 1, hits[0].Chunk.Page)
	assert.Equal(t, "doc.pdf", hits[0].Chunk.Source)
	assert.Equal(t, "chunk 2", hits[2].Chunk.Text)
}

func TestQdrant_TiesKeepInsertionOrder(t *testing.T) {
	ctx := context.Background()
	fake := newFakeQdrant()
	q := newTestQdrant(t, fake, 2)

	var recs []models.EmbeddedRecord
	for _, text := range []string{"first", "second", "third", "fourth"} {
		recs = append(recs, record(text, 1, text, []float32{1, 0}))
	}
	require.NoError(t, q.Upsert(ctx, recs))

	hits, err := q.Search(ctx, []float32{1, 0}, 4)
	require.NoError(t, err)
	require.Len(t, hits, 4)
	for i, text := range []string{"first", "second", "third", "fourth"} {
		assert.Equal(t, text, hits[i].Chunk.Text)
	}
}

func TestQdrant_DimensionMismatchWritesNothing(t *testing.T) {
	ctx := context.Background()
	fake := newFakeQdrant()
	q := newTestQdrant(t, fake, 768)

	err := q.Upsert(ctx, []models.EmbeddedRecord{
		record("doc", 1, "fits", make([]float32, 768)),
		record("doc", 2, "too wide", make([]float32, 1536)),
	})
	assert.ErrorIs(t, err, types.ErrEmbeddingDimensionMismatch)
	assert.Empty(t, fake.points)
}

func TestQdrant_ServerErrorIsUpstream(t *testing.T) {
	ctx := context.Background()
	fake := newFakeQdrant()
	q := newTestQdrant(t, fake, 4)

	fake.mu.Lock()
	fake.fail = true
	fake.mu.Unlock()

	_, err := q.Search(ctx, unit(4, 0), 3)
	var upstream *types.UpstreamServiceError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, "vector index", upstream.Service)

	err = q.Upsert(ctx, tenRecords(4))
	assert.True(t, types.IsUpstream(err))
}

func TestPointIDIsDeterministic(t *testing.T) {
	assert.Equal(t, store.PointID("abc"), store.PointID("abc"))
	assert.NotEqual(t, store.PointID("abc"), store.PointID("abd"))
	assert.Len(t, store.PointID("abc"), 36)
}
