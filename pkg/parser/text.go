package parser

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"os"

	"github.com/xhad/docchat/internal/types"
)

const maxTextPage = 16 << 20

// textSource scans plain text or markdown, treating form feeds as page breaks.
type textSource struct {
	path    string
	file    *os.File
	scanner *bufio.Scanner
	page    int
}

func openText(path string) (pageSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxTextPage)
	scanner.Split(splitPages)

	return &textSource{path: path, file: f, scanner: scanner}, nil
}

func splitPages(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexByte(data, '\f'); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func (s *textSource) next() (page, error) {
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			if errors.Is(err, bufio.ErrTooLong) {
				return page{}, &types.ParseError{Path: s.path, Reason: "page exceeds size limit", Err: err}
			}
			return page{}, err
		}
		return page{}, io.EOF
	}

	data := s.scanner.Bytes()
	if bytes.IndexByte(data, 0) >= 0 {
		return page{}, &types.ParseError{Path: s.path, Reason: "not a text document"}
	}

	s.page++
	return page{
		number:   s.page,
		text:     string(data),
		metadata: map[string]interface{}{"content_type": "text/plain"},
	}, nil
}

func (s *textSource) close() error {
	return s.file.Close()
}
