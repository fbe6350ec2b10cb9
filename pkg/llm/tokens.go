package llm

import (
	"log/slog"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/xhad/docchat/internal/types"
)

// TokenCounter counts cl100k_base tokens.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTokenCounter loads the cl100k_base encoding. When the encoding cannot be
// loaded (offline, no cache) it falls back to EstimateCounter.
func NewTokenCounter(logger *slog.Logger) types.TokenCounter {
	encoding, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		if logger != nil {
			logger.Warn("tiktoken encoding unavailable, estimating tokens", "error", err)
		}
		return EstimateCounter{}
	}
	return &TokenCounter{encoding: encoding}
}

func (tc *TokenCounter) Count(text string) int {
	return len(tc.encoding.Encode(text, nil, nil))
}

// EstimateCounter approximates one token per four characters, rounding up.
type EstimateCounter struct{}

func (EstimateCounter) Count(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}
