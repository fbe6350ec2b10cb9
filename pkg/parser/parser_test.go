package parser

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/docchat/internal/types"
	"github.com/xhad/docchat/pkg/processor"
)

func newTestParser() *Parser {
	return New(processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:      80,
		ChunkOverlap:   10,
		MinChunkLength: 5,
	}))
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParser_Supports(t *testing.T) {
	p := newTestParser()

	tests := []struct {
		filename string
		want     bool
	}{
		{"report.pdf", true},
		{"REPORT.PDF", true},
		{"notes.txt", true},
		{"readme.md", true},
		{"page.html", true},
		{"page.htm", true},
		{"sheet.xlsx", false},
		{"noext", false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Supports(tt.filename))
		})
	}
}

func TestParser_TextPages(t *testing.T) {
	path := writeFile(t, "stored.bin", "Refunds are issued within 30 days.\fShipping takes five business days.")

	it, err := newTestParser().Open(path, "policy.txt")
	require.NoError(t, err)
	defer it.Close()

	chunks, err := Collect(it)
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.Equal(t, "Refunds are issued within 30 days.", chunks[0].Text)
	assert.Equal(t, 1, chunks[0].Page)
	assert.Equal(t, "policy.txt", chunks[0].Source)
	assert.Equal(t, path, chunks[0].Path)
	assert.Equal(t, 1, chunks[0].Metadata["page"])

	assert.Equal(t, 2, chunks[1].Page)
	assert.Equal(t, chunks[0].DocumentID, chunks[1].DocumentID)
}

func TestParser_PDFPages(t *testing.T) {
	path := filepath.Join("testdata", "refund-policy.pdf")

	it, err := newTestParser().Open(path, "handbook.pdf")
	require.NoError(t, err)
	defer it.Close()

	chunks, err := Collect(it)
	require.NoError(t, err)
	require.Len(t, chunks, 2, "the blank second page yields no chunks")

	assert.Equal(t, 1, chunks[0].Page)
	assert.Contains(t, chunks[0].Text, "Refunds are issued within thirty days of purchase.")
	assert.Equal(t, 3, chunks[1].Page)
	assert.Contains(t, chunks[1].Text, "Shipping takes five business days.")

	for _, c := range chunks {
		assert.Equal(t, "handbook.pdf", c.Source)
		assert.Equal(t, 3, c.Metadata["total_pages"])
		assert.Equal(t, "application/pdf", c.Metadata["content_type"])
		assert.Equal(t, c.Page, c.Metadata["page"])
	}
}

func TestParser_LongPageIsChunked(t *testing.T) {
	text := strings.Repeat("This sentence is part of a longer page. ", 20)
	path := writeFile(t, "long.md", text)

	it, err := newTestParser().Open(path, "")
	require.NoError(t, err)
	defer it.Close()

	chunks, err := Collect(it)
	require.NoError(t, err)
	assert.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.Equal(t, 1, c.Page)
		assert.Equal(t, "long.md", c.Source)
	}
}

func TestParser_EmptyDocumentYieldsNoChunks(t *testing.T) {
	path := writeFile(t, "empty.txt", "  \n\f\n ")

	it, err := newTestParser().Open(path, "empty.txt")
	require.NoError(t, err)
	defer it.Close()

	_, err = it.Next()
	assert.ErrorIs(t, err, io.EOF)
	_, err = it.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestParser_HTMLMainContent(t *testing.T) {
	html := `<html><head><title>Returns</title><script>var x = 1;</script></head>
<body><nav>Home | About</nav><main><h1>Return policy</h1><p>Refunds are issued within 30 days.</p></main>
<footer>Copyright</footer></body></html>`
	path := writeFile(t, "returns.html", html)

	it, err := newTestParser().Open(path, "returns.html")
	require.NoError(t, err)
	defer it.Close()

	chunks, err := Collect(it)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	assert.Contains(t, chunks[0].Text, "Refunds are issued within 30 days.")
	assert.NotContains(t, chunks[0].Text, "Home | About")
	assert.NotContains(t, chunks[0].Text, "var x")
	assert.Equal(t, "Returns", chunks[0].Metadata["title"])
}

func TestParser_Errors(t *testing.T) {
	p := newTestParser()

	t.Run("unsupported format", func(t *testing.T) {
		path := writeFile(t, "sheet.xlsx", "data")
		_, err := p.Open(path, "sheet.xlsx")

		var pe *types.ParseError
		require.True(t, errors.As(err, &pe))
		assert.Contains(t, pe.Reason, "unsupported")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := p.Open(filepath.Join(t.TempDir(), "gone.txt"), "gone.txt")

		var pe *types.ParseError
		assert.True(t, errors.As(err, &pe))
	})

	t.Run("corrupt pdf", func(t *testing.T) {
		path := writeFile(t, "broken.pdf", "this is not a pdf at all")
		_, err := p.Open(path, "broken.pdf")

		var pe *types.ParseError
		assert.True(t, errors.As(err, &pe))
	})

	t.Run("binary text file", func(t *testing.T) {
		path := writeFile(t, "blob.txt", "abc\x00\x01\x02")
		it, err := p.Open(path, "blob.txt")
		require.NoError(t, err)
		defer it.Close()

		_, err = it.Next()
		var pe *types.ParseError
		assert.True(t, errors.As(err, &pe))
	})
}
