package intake

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/xhad/docchat/internal/types"
	"github.com/xhad/docchat/pkg/scraper"
)

// Crawler walks a site and calls visit for every fetched page.
type Crawler interface {
	Crawl(ctx context.Context, startURL string, visit func(scraper.Page) error) (int, error)
}

// Importer crawls a site and uploads every page as an HTML document, so each
// page becomes its own ingestion job.
type Importer struct {
	crawler  Crawler
	uploader *Uploader
}

func NewImporter(crawler Crawler, uploader *Uploader) *Importer {
	return &Importer{crawler: crawler, uploader: uploader}
}

// Import returns a receipt per queued page. Pages the uploader refuses are
// skipped. A queue failure stops the import and is returned together with the
// receipts of the pages already queued.
func (im *Importer) Import(ctx context.Context, siteURL string) ([]Receipt, error) {
	u, err := url.Parse(siteURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &types.RejectionError{Reason: types.RejectInvalidURL, Detail: fmt.Sprintf("%q is not an http(s) URL", siteURL)}
	}

	log := im.uploader.config.Logger.With("site", u.Host)
	var receipts []Receipt

	pages, err := im.crawler.Crawl(ctx, u.String(), func(page scraper.Page) error {
		receipt, err := im.uploader.Accept(ctx, scraper.PageFilename(page.URL), bytes.NewReader(page.Body))
		var rejected *types.RejectionError
		switch {
		case errors.As(err, &rejected):
			log.Warn("skipping page", "url", page.URL, "reason", rejected.Reason)
			return nil
		case err != nil:
			return err
		}
		receipts = append(receipts, *receipt)
		return nil
	})
	if err != nil {
		if errors.Is(err, types.ErrQueueUnavailable) || ctx.Err() != nil {
			return receipts, err
		}
		return receipts, types.Upstream("site", err)
	}

	log.Info("imported site", "pages", pages, "queued", len(receipts))
	return receipts, nil
}
