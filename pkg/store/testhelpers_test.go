package store_test

import (
	"fmt"

	"github.com/xhad/docchat/internal/models"
)

func unit(dim, axis int) []float32 {
	v := make([]float32, dim)
	v[axis%dim] = 1
	return v
}

// blend points mostly along axis a with a little of axis b.
func blend(dim, a, b int, w float32) []float32 {
	v := make([]float32, dim)
	v[a%dim] = 1
	v[b%dim] += w
	return v
}

func record(doc string, page int, text string, vec []float32) models.EmbeddedRecord {
	return models.NewEmbeddedRecord(models.DocumentChunk{
		Text:       text,
		DocumentID: doc,
		Source:     doc + ".pdf",
		Path:       "uploads/" + doc + ".pdf",
		Page:       page,
		Metadata:   map[string]interface{}{"page": page},
	}, vec)
}

// tenRecords have strictly decreasing similarity to unit(dim, 0).
func tenRecords(dim int) []models.EmbeddedRecord {
	recs := make([]models.EmbeddedRecord, 10)
	for i := range recs {
		recs[i] = record("doc", i+1, fmt.Sprintf("chunk %d", i), blend(dim, 0, 1, float32(i)*0.5))
	}
	return recs
}
