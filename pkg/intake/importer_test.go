package intake

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/docchat/internal/models"
	"github.com/xhad/docchat/internal/types"
	"github.com/xhad/docchat/pkg/logger"
	"github.com/xhad/docchat/pkg/scraper"
)

type fakeCrawler struct {
	pages []scraper.Page
	err   error
}

func (f *fakeCrawler) Crawl(ctx context.Context, startURL string, visit func(scraper.Page) error) (int, error) {
	n := 0
	for _, p := range f.pages {
		if err := visit(p); err != nil {
			return n, err
		}
		n++
	}
	return n, f.err
}

func newImportUploader(t *testing.T, q Enqueuer) *Uploader {
	t.Helper()
	u, err := NewUploader(UploaderConfig{
		Dir:      filepath.Join(t.TempDir(), "uploads"),
		MaxBytes: 1 << 10,
		Logger:   logger.Discard(),
	}, q)
	require.NoError(t, err)
	return u
}

func TestImport_QueuesEveryPage(t *testing.T) {
	q := &recordingQueue{}
	crawler := &fakeCrawler{pages: []scraper.Page{
		{URL: "https://docs.example.com/", Body: []byte("<html><body>home</body></html>")},
		{URL: "https://docs.example.com/guide/setup", Depth: 1, Body: []byte("<html><body>setup</body></html>")},
		{URL: "https://docs.example.com/blank", Depth: 1, Body: nil},
	}}

	im := NewImporter(crawler, newImportUploader(t, q))
	receipts, err := im.Import(context.Background(), "https://docs.example.com/")
	require.NoError(t, err)

	require.Len(t, receipts, 2, "the empty page is skipped")
	assert.Equal(t, "docs.example.com.html", receipts[0].Filename)
	assert.Equal(t, "docs.example.com_guide_setup.html", receipts[1].Filename)

	require.Len(t, q.payloads, 2)
	var payload models.JobPayload
	require.NoError(t, json.Unmarshal(q.payloads[1], &payload))
	assert.Equal(t, "docs.example.com_guide_setup.html", payload.Filename)
}

func TestImport_RejectsInvalidURL(t *testing.T) {
	im := NewImporter(&fakeCrawler{}, newImportUploader(t, &recordingQueue{}))

	for _, raw := range []string{"", "docs.example.com", "ftp://example.com/x", "http://"} {
		_, err := im.Import(context.Background(), raw)
		var rejected *types.RejectionError
		require.ErrorAs(t, err, &rejected, raw)
		assert.Equal(t, types.RejectInvalidURL, rejected.Reason)
	}
}

func TestImport_Errors(t *testing.T) {
	t.Run("queue unavailable stops the import", func(t *testing.T) {
		q := &recordingQueue{err: errors.New("connection refused")}
		crawler := &fakeCrawler{pages: []scraper.Page{{URL: "https://a.test/", Body: []byte("<p>a</p>")}}}

		_, err := NewImporter(crawler, newImportUploader(t, q)).Import(context.Background(), "https://a.test/")
		assert.ErrorIs(t, err, types.ErrQueueUnavailable)
	})

	t.Run("site failure is upstream", func(t *testing.T) {
		crawler := &fakeCrawler{err: errors.New("received status code 500")}

		_, err := NewImporter(crawler, newImportUploader(t, &recordingQueue{})).Import(context.Background(), "https://a.test/")
		var ue *types.UpstreamServiceError
		require.ErrorAs(t, err, &ue)
		assert.Equal(t, "site", ue.Service)
	})
}
