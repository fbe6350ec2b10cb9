package parser

import (
	"fmt"
	"io"
	"os"

	"github.com/ledongthuc/pdf"
	"github.com/xhad/docchat/internal/types"
)

type pdfSource struct {
	path   string
	file   *os.File
	reader *pdf.Reader
	fonts  map[string]*pdf.Font
	total  int
	page   int
}

func openPDF(path string) (pageSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	reader, err := newPDFReader(f, info.Size())
	if err != nil {
		f.Close()
		return nil, &types.ParseError{Path: path, Reason: "corrupt pdf", Err: err}
	}

	return &pdfSource{
		path:   path,
		file:   f,
		reader: reader,
		fonts:  make(map[string]*pdf.Font),
		total:  reader.NumPage(),
	}, nil
}

// newPDFReader guards against the decoder panicking on malformed input.
func newPDFReader(r io.ReaderAt, size int64) (reader *pdf.Reader, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("pdf decoder: %v", rec)
		}
	}()
	return pdf.NewReader(r, size)
}

func (s *pdfSource) next() (pg page, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &types.ParseError{Path: s.path, Reason: fmt.Sprintf("corrupt pdf page %d", s.page), Err: fmt.Errorf("%v", rec)}
		}
	}()

	for s.page < s.total {
		s.page++
		p := s.reader.Page(s.page)
		if p.V.IsNull() {
			continue
		}

		for _, name := range p.Fonts() {
			if _, ok := s.fonts[name]; !ok {
				f := p.Font(name)
				s.fonts[name] = &f
			}
		}

		text, err := p.GetPlainText(s.fonts)
		if err != nil {
			return page{}, &types.ParseError{Path: s.path, Reason: fmt.Sprintf("reading page %d", s.page), Err: err}
		}

		return page{
			number: s.page,
			text:   text,
			metadata: map[string]interface{}{
				"total_pages":  s.total,
				"content_type": "application/pdf",
			},
		}, nil
	}
	return page{}, io.EOF
}

func (s *pdfSource) close() error {
	return s.file.Close()
}
