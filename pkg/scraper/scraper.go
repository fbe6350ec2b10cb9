// Package scraper crawls a documentation site and hands back the raw HTML of
// each page it visits. Pages are not interpreted here; they go through the
// normal upload path so the HTML parser extracts their text.
package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"
)

// ErrStopCrawl can be returned by a visit func to end the crawl early
// without an error.
var ErrStopCrawl = errors.New("stop crawl")

type ScraperConfig struct {
	MaxDepth          int
	MaxPages          int
	MaxPageBytes      int64
	RateLimit         float64 // requests per second
	IgnorePatterns    []string
	AllowedExtensions []string
	Timeout           time.Duration
	UserAgent         string
	Logger            *slog.Logger
	OnProgress        func(url string)
}

// Page is one fetched HTML document.
type Page struct {
	URL   string
	Title string
	Depth int
	Body  []byte
}

type Scraper struct {
	config  ScraperConfig
	client  *http.Client
	limiter *rate.Limiter
}

func NewWithConfig(config ScraperConfig) *Scraper {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxDepth < 0 {
		config.MaxDepth = 0
	}
	if config.MaxPages <= 0 {
		config.MaxPages = 50
	}
	if config.MaxPageBytes <= 0 {
		config.MaxPageBytes = 8 << 20
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2 // 2 requests per second by default
	}
	if len(config.AllowedExtensions) == 0 {
		config.AllowedExtensions = []string{".html", ".htm", "/", ""}
	}
	if config.UserAgent == "" {
		config.UserAgent = "docchat-scraper/1.0"
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Scraper{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}
}

func New() *Scraper {
	return NewWithConfig(ScraperConfig{})
}

type target struct {
	url   string
	depth int
}

// Crawl fetches startURL and follows same-host links breadth first, up to
// MaxDepth link hops and MaxPages pages. visit is called once per page in
// crawl order; an error from visit stops the crawl and is returned, except
// ErrStopCrawl which stops it quietly. Pages that fail to fetch are logged
// and skipped, but a failure on startURL itself is returned.
func (s *Scraper) Crawl(ctx context.Context, startURL string, visit func(Page) error) (int, error) {
	base, err := url.Parse(startURL)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return 0, fmt.Errorf("invalid start URL %q", startURL)
	}
	base.Fragment = ""

	visited := map[string]bool{base.String(): true}
	frontier := []target{{url: base.String()}}
	pages := 0

	for len(frontier) > 0 && pages < s.config.MaxPages {
		next := frontier[0]
		frontier = frontier[1:]

		if s.config.OnProgress != nil {
			s.config.OnProgress(next.url)
		}

		page, links, err := s.fetch(ctx, base.Host, next)
		if err != nil {
			if ctx.Err() != nil {
				return pages, ctx.Err()
			}
			if next.depth == 0 {
				return pages, err
			}
			s.config.Logger.Warn("skipping page", "url", next.url, "error", err)
			continue
		}

		pages++
		if err := visit(page); err != nil {
			if errors.Is(err, ErrStopCrawl) {
				return pages, nil
			}
			return pages, err
		}

		if next.depth >= s.config.MaxDepth {
			continue
		}
		for _, link := range links {
			if visited[link] || !s.shouldProcessURL(base.Host, link) {
				continue
			}
			visited[link] = true
			frontier = append(frontier, target{url: link, depth: next.depth + 1})
		}
	}

	return pages, nil
}

// fetch downloads one page. A redirect that leaves host fails the fetch, since
// the page would otherwise be stored under a URL it did not come from.
func (s *Scraper) fetch(ctx context.Context, host string, t target) (Page, []string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return Page{}, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
	if err != nil {
		return Page{}, nil, err
	}
	req.Header.Set("User-Agent", s.config.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return Page{}, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Page{}, nil, fmt.Errorf("received status code %d for URL: %s", resp.StatusCode, t.url)
	}
	if resp.Request.URL.Host != host {
		return Page{}, nil, fmt.Errorf("redirected off site to %s for URL: %s", resp.Request.URL, t.url)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		return Page{}, nil, fmt.Errorf("unsupported content type %q for URL: %s", ct, t.url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.config.MaxPageBytes+1))
	if err != nil {
		return Page{}, nil, err
	}
	if int64(len(body)) > s.config.MaxPageBytes {
		return Page{}, nil, fmt.Errorf("page exceeds %d bytes: %s", s.config.MaxPageBytes, t.url)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Page{}, nil, err
	}

	pageURL := resp.Request.URL
	page := Page{
		URL:   t.url,
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
		Depth: t.depth,
		Body:  body,
	}

	var links []string
	doc.Find("a[href]").Each(func(_ int, selection *goquery.Selection) {
		href, _ := selection.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		abs := pageURL.ResolveReference(ref)
		abs.Fragment = ""
		links = append(links, abs.String())
	})

	return page, links, nil
}

func (s *Scraper) shouldProcessURL(host, urlStr string) bool {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return false
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return false
	}
	if parsedURL.Host != host {
		return false
	}

	path := strings.ToLower(parsedURL.Path)
	validExt := false
	for _, allowedExt := range s.config.AllowedExtensions {
		if allowedExt == "" {
			// extensionless paths like /docs/intro
			if last := path[strings.LastIndex(path, "/")+1:]; !strings.Contains(last, ".") {
				validExt = true
				break
			}
			continue
		}
		if strings.HasSuffix(path, allowedExt) {
			validExt = true
			break
		}
	}
	if !validExt {
		return false
	}

	for _, pattern := range s.config.IgnorePatterns {
		if strings.Contains(urlStr, pattern) {
			return false
		}
	}

	return true
}

// PageFilename names a crawled page for upload: the host and path flattened
// into one .html file name.
func PageFilename(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "page.html"
	}

	name := u.Host + strings.TrimSuffix(u.Path, "/")
	name = strings.TrimSuffix(strings.TrimSuffix(name, ".html"), ".htm")
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	name = strings.Trim(name, "_")
	if name == "" {
		name = "page"
	}
	if len(name) > 120 {
		name = name[:120]
	}
	return name + ".html"
}
