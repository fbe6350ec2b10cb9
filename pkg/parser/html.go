package parser

import (
	"io"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// contentSelectors are tried in order; the first match is the main content.
var contentSelectors = []string{
	"main",
	"article",
	".content",
	"#content",
	".documentation",
	"#documentation",
}

// htmlSource yields the main content of an HTML document as a single page.
type htmlSource struct {
	text  string
	title string
	read  bool
}

func openHTML(path string) (pageSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return nil, err
	}

	return &htmlSource{
		text:  extractMainContent(doc),
		title: strings.TrimSpace(doc.Find("title").First().Text()),
	}, nil
}

func extractMainContent(doc *goquery.Document) string {
	doc.Find("script, style, noscript, nav, footer").Remove()

	var content string
	for _, selector := range contentSelectors {
		if selected := doc.Find(selector); selected.Length() > 0 {
			content = selected.Text()
			break
		}
	}

	// Fallback to body if no main content found
	if strings.TrimSpace(content) == "" {
		content = doc.Find("body").Text()
	}

	return strings.Join(strings.Fields(content), " ")
}

func (s *htmlSource) next() (page, error) {
	if s.read {
		return page{}, io.EOF
	}
	s.read = true

	meta := map[string]interface{}{"content_type": "text/html"}
	if s.title != "" {
		meta["title"] = s.title
	}
	return page{number: 1, text: s.text, metadata: meta}, nil
}

func (s *htmlSource) close() error {
	return nil
}
