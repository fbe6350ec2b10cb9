package processor_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/docchat/pkg/processor"
)

func TestProcessor_ShortTextIsOneChunk(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 100, ChunkOverlap: 10, MinChunkLength: 5})

	chunks := p.Split("  Refunds are   issued\nwithin 30 days.  ")
	assert.Equal(t, []string{"Refunds are issued within 30 days."}, chunks)
}

func TestProcessor_BlankText(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{})

	assert.Empty(t, p.Split(""))
	assert.Empty(t, p.Split(" \n\t "))
}

func TestProcessor_SplitRespectsChunkSize(t *testing.T) {
	config := processor.ProcessorConfig{
		ChunkSize:      50,
		ChunkOverlap:   10,
		MinChunkLength: 5,
	}
	p := processor.NewWithConfig(config)

	text := "This is a test document. It contains several sentences to demonstrate text processing. " +
		"Each sentence should land in a chunk. Nothing may be lost along the way."
	chunks := p.Split(text)

	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), config.ChunkSize+config.MinChunkLength)
	}

	joined := strings.Join(chunks, " ")
	for _, word := range strings.Fields(text) {
		assert.Contains(t, joined, word)
	}
	assert.True(t, strings.HasPrefix(chunks[0], "This is a test document."))
}

func TestProcessor_LongWordIsHardSplit(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 10, MinChunkLength: 1})

	chunks := p.Split(strings.Repeat("x", 25))
	assert.Equal(t, []string{"xxxxxxxxxx", "xxxxxxxxxx", "xxxxx"}, chunks)
}

func TestCleanText(t *testing.T) {
	assert.Equal(t, "a b c", processor.CleanText(" a\n\nb\t c "))
	assert.Equal(t, "ok", processor.CleanText("o\xffk"))
}
