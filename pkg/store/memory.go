package store

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/xhad/docchat/internal/models"
	"github.com/xhad/docchat/internal/types"
)

// MemoryIndex is an exact cosine index held in process memory.
type MemoryIndex struct {
	dim     int
	mu      sync.RWMutex
	records []models.EmbeddedRecord
	ids     map[string]struct{}
}

var _ types.VectorIndex = (*MemoryIndex)(nil)

func NewMemoryIndex(dim int) *MemoryIndex {
	return &MemoryIndex{
		dim: dim,
		ids: make(map[string]struct{}),
	}
}

func (m *MemoryIndex) Dimension() int {
	return m.dim
}

// Upsert inserts records whose ID is not yet present. A batch containing any
// vector of the wrong size is refused whole.
func (m *MemoryIndex) Upsert(ctx context.Context, records []models.EmbeddedRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkDimensions(m.dim, records); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range records {
		if _, ok := m.ids[rec.ID]; ok {
			continue
		}
		m.ids[rec.ID] = struct{}{}
		m.records = append(m.records, rec)
	}
	return nil
}

func (m *MemoryIndex) Search(ctx context.Context, vector []float32, k int) ([]models.ScoredRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(vector) != m.dim {
		return nil, types.DimensionMismatch(m.dim, len(vector))
	}
	if k <= 0 {
		return nil, nil
	}

	m.mu.RLock()
	scored := make([]models.ScoredRecord, len(m.records))
	for i, rec := range m.records {
		scored[i] = models.ScoredRecord{EmbeddedRecord: rec, Score: cosine(vector, rec.Vector)}
	}
	m.mu.RUnlock()

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// Len is the number of stored records.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *MemoryIndex) Close() {}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
