package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/docchat/internal/models"
	"github.com/xhad/docchat/internal/testutil"
	"github.com/xhad/docchat/internal/types"
	"github.com/xhad/docchat/pkg/store"
)

func TestVectorStore(t *testing.T) {
	dsn := testutil.Postgres(t)
	ctx := context.Background()

	s, err := store.NewWithConfig(ctx, store.VectorStoreConfig{
		ConnString: dsn,
		TableName:  "test_documents",
		VectorDim:  4,
	})
	require.NoError(t, err)
	defer s.Close()

	recs := tenRecords(4)

	t.Run("search returns top k", func(t *testing.T) {
		require.NoError(t, s.Upsert(ctx, recs))

		hits, err := s.Search(ctx, unit(4, 0), 3)
		require.NoError(t, err)
		require.Len(t, hits, 3)
		assert.Equal(t, recs[0].ID, hits[0].ID)
		assert.Equal(t, "chunk 1", hits[1].Chunk.Text)
		assert.Equal(t, "chunk 2", hits[2].Chunk.Text)
		assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
		assert.Equal(t, "doc.pdf", hits[0].Chunk.Source)
		assert.Equal(t, 1, hits[0].Chunk.Page)
	})

	t.Run("redelivered records are not duplicated", func(t *testing.T) {
		require.NoError(t, s.Upsert(ctx, recs))

		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 10, n)
	})

	t.Run("dimension mismatch writes nothing", func(t *testing.T) {
		err := s.Upsert(ctx, []models.EmbeddedRecord{
			record("other", 1, "fits", unit(4, 2)),
			record("other", 2, "too wide", make([]float32, 8)),
		})
		assert.ErrorIs(t, err, types.ErrEmbeddingDimensionMismatch)

		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 10, n)
	})

	t.Run("ties keep insertion order", func(t *testing.T) {
		a := record("tie", 1, "tie first", unit(4, 3))
		b := record("tie", 2, "tie second", unit(4, 3))
		require.NoError(t, s.Upsert(ctx, []models.EmbeddedRecord{a, b}))

		hits, err := s.Search(ctx, unit(4, 3), 2)
		require.NoError(t, err)
		require.Len(t, hits, 2)
		assert.Equal(t, "tie first", hits[0].Chunk.Text)
		assert.Equal(t, "tie second", hits[1].Chunk.Text)
	})

	t.Run("existing table with another dimension is refused", func(t *testing.T) {
		_, err := store.NewWithConfig(ctx, store.VectorStoreConfig{
			ConnString: dsn,
			TableName:  "test_documents",
			VectorDim:  8,
		})
		assert.ErrorIs(t, err, types.ErrEmbeddingDimensionMismatch)
	})
}
