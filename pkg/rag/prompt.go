package rag

import (
	"fmt"
	"strings"

	"github.com/xhad/docchat/internal/models"
	"github.com/xhad/docchat/internal/types"
)

// NoInformation is the answer given when the documents hold nothing relevant.
const NoInformation = "I could not find any information about that in the uploaded documents."

// DefaultSystemPrompt restricts the model to the supplied context.
var DefaultSystemPrompt = "You are a helpful assistant. You will be provided with some context and a question. " +
	"Answer the question using only the given context. " +
	"If the context does not contain the answer, reply exactly: \"" + NoInformation + "\""

const chunkSeparator = "\n\n"

func formatChunk(rank int, rec models.ScoredRecord) string {
	return fmt.Sprintf("[%d] %s, page %d\n%s", rank, rec.Chunk.Source, rec.Chunk.Page, rec.Chunk.Text)
}

// BuildContext joins records in rank order until the next one would take the
// block over maxTokens. It returns the block and how many records it holds;
// the kept records are always a prefix of the input.
func BuildContext(records []models.ScoredRecord, counter types.TokenCounter, maxTokens int) (string, int) {
	var (
		b     strings.Builder
		total int
		used  int
	)
	sepTokens := counter.Count(chunkSeparator)

	for i, rec := range records {
		part := formatChunk(i+1, rec)
		cost := counter.Count(part)
		if used > 0 {
			cost += sepTokens
		}
		if maxTokens > 0 && total+cost > maxTokens {
			break
		}

		if used > 0 {
			b.WriteString(chunkSeparator)
		}
		b.WriteString(part)
		total += cost
		used++
	}

	return b.String(), used
}
