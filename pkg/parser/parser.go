// Package parser turns stored documents into page-level chunks. Documents are
// read lazily: a PDF is decoded one page at a time and text files are scanned
// one form-feed separated page at a time.
package parser

import (
	"errors"
	"io"
	"path/filepath"
	"strings"

	"github.com/xhad/docchat/internal/models"
	"github.com/xhad/docchat/internal/types"
	"github.com/xhad/docchat/pkg/processor"
)

// page is one unit of extracted text before chunking.
type page struct {
	number   int
	text     string
	metadata map[string]interface{}
}

// pageSource yields pages until io.EOF.
type pageSource interface {
	next() (page, error)
	close() error
}

type opener func(path string) (pageSource, error)

var formats = map[string]opener{
	".pdf":      openPDF,
	".html":     openHTML,
	".htm":      openHTML,
	".txt":      openText,
	".md":       openText,
	".markdown": openText,
}

// SupportsExtension reports whether ext (with its leading dot) names a
// format the parser can read. Matching is case-insensitive.
func SupportsExtension(ext string) bool {
	_, ok := formats[strings.ToLower(ext)]
	return ok
}

// Parser dispatches on file extension.
type Parser struct {
	processor processor.Processor
	formats   map[string]opener
}

var _ types.Parser = (*Parser)(nil)

func New(proc processor.Processor) *Parser {
	return &Parser{
		processor: proc,
		formats:   formats,
	}
}

// Supports reports whether filename has a parsable extension.
func (p *Parser) Supports(filename string) bool {
	return SupportsExtension(filepath.Ext(filename))
}

// Open prepares path for reading. filename is the name the document was
// uploaded under; it picks the format and becomes the chunks' Source.
func (p *Parser) Open(path, filename string) (types.ChunkIterator, error) {
	if filename == "" {
		filename = filepath.Base(path)
	}
	ext := strings.ToLower(filepath.Ext(filename))
	open, ok := p.formats[ext]
	if !ok {
		return nil, &types.ParseError{Path: path, Reason: "unsupported format " + ext}
	}

	src, err := open(path)
	if err != nil {
		return nil, asParseError(path, err)
	}

	return &chunkIterator{
		src:        src,
		processor:  p.processor,
		path:       path,
		source:     filename,
		documentID: models.DocumentID(path),
	}, nil
}

type chunkIterator struct {
	src        pageSource
	processor  processor.Processor
	path       string
	source     string
	documentID string

	current page
	pending []string
	done    bool
}

func (it *chunkIterator) Next() (models.DocumentChunk, error) {
	for len(it.pending) == 0 {
		if it.done {
			return models.DocumentChunk{}, io.EOF
		}
		pg, err := it.src.next()
		if errors.Is(err, io.EOF) {
			it.done = true
			continue
		}
		if err != nil {
			it.done = true
			return models.DocumentChunk{}, asParseError(it.path, err)
		}
		it.current = pg
		it.pending = it.processor.Split(pg.text)
	}

	text := it.pending[0]
	it.pending = it.pending[1:]

	meta := make(map[string]interface{}, len(it.current.metadata)+1)
	for k, v := range it.current.metadata {
		meta[k] = v
	}
	meta["page"] = it.current.number

	return models.DocumentChunk{
		Text:       text,
		DocumentID: it.documentID,
		Source:     it.source,
		Path:       it.path,
		Page:       it.current.number,
		Metadata:   meta,
	}, nil
}

func (it *chunkIterator) Close() error {
	return it.src.close()
}

// Collect drains an iterator. Intended for small documents and tests.
func Collect(it types.ChunkIterator) ([]models.DocumentChunk, error) {
	var chunks []models.DocumentChunk
	for {
		chunk, err := it.Next()
		if errors.Is(err, io.EOF) {
			return chunks, nil
		}
		if err != nil {
			return chunks, err
		}
		chunks = append(chunks, chunk)
	}
}

func asParseError(path string, err error) error {
	var pe *types.ParseError
	if errors.As(err, &pe) {
		return err
	}
	return &types.ParseError{Path: path, Reason: "unreadable document", Err: err}
}
