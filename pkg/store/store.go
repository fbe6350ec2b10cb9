// Package store holds the vector index implementations: pgvector, Qdrant and
// an in-memory index for single-process use and tests.
package store

import (
	"context"

	"github.com/xhad/docchat/internal/models"
	"github.com/xhad/docchat/internal/types"
)

const service = "vector index"

// checkDimensions validates every record before anything is written.
func checkDimensions(dim int, records []models.EmbeddedRecord) error {
	for _, rec := range records {
		if len(rec.Vector) != dim {
			return types.DimensionMismatch(dim, len(rec.Vector))
		}
	}
	return nil
}

// wrap classifies err for the caller: cancellation of the caller's own
// context passes through, everything else is an upstream failure.
func wrap(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return types.Upstream(service, err)
}
