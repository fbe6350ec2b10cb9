package intake

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/docchat/internal/models"
	"github.com/xhad/docchat/internal/types"
	"github.com/xhad/docchat/pkg/logger"
)

type recordingQueue struct {
	topics   []string
	payloads [][]byte
	err      error
}

func (r *recordingQueue) Enqueue(ctx context.Context, topic string, payload []byte) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	r.topics = append(r.topics, topic)
	r.payloads = append(r.payloads, payload)
	return "job-1", nil
}

func newTestUploader(t *testing.T, q Enqueuer) (*Uploader, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "uploads")
	u, err := NewUploader(UploaderConfig{
		Dir:      dir,
		MaxBytes: 16,
		Logger:   logger.Discard(),
	}, q)
	require.NoError(t, err)
	return u, dir
}

func listFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestAccept_StoresAndEnqueues(t *testing.T) {
	q := &recordingQueue{}
	u, dir := newTestUploader(t, q)

	receipt, err := u.Accept(context.Background(), "Return Policy.pdf", strings.NewReader("%PDF-1.4 data"))
	require.NoError(t, err)

	assert.Equal(t, "job-1", receipt.JobID)
	assert.Equal(t, "Return Policy.pdf", receipt.Filename)
	assert.Regexp(t, regexp.MustCompile(`^\d+-[0-9a-f-]{36}-Return Policy\.pdf$`), filepath.Base(receipt.Path))

	data, err := os.ReadFile(receipt.Path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 data", string(data))
	assert.Len(t, listFiles(t, dir), 1)

	require.Len(t, q.payloads, 1)
	assert.Equal(t, "file-queue", q.topics[0])
	var payload models.JobPayload
	require.NoError(t, json.Unmarshal(q.payloads[0], &payload))
	assert.Equal(t, models.JobPayload{Filename: "Return Policy.pdf", Path: receipt.Path, Destination: dir}, payload)
}

func TestAccept_StripsDirectories(t *testing.T) {
	u, dir := newTestUploader(t, &recordingQueue{})

	receipt, err := u.Accept(context.Background(), "../../etc/notes.txt", strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", receipt.Filename)
	assert.Equal(t, dir, filepath.Dir(receipt.Path))
}

func TestAccept_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		body     string
		reason   string
	}{
		{"empty file", "a.pdf", "", types.RejectEmpty},
		{"too large", "a.pdf", strings.Repeat("x", 17), types.RejectTooLarge},
		{"unsupported type", "a.exe", "MZ", types.RejectUnsupported},
		{"no extension", "README", "text", types.RejectUnsupported},
		{"missing filename", "  ", "text", types.RejectNoFilename},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &recordingQueue{}
			u, dir := newTestUploader(t, q)

			_, err := u.Accept(context.Background(), tt.filename, strings.NewReader(tt.body))

			var rej *types.RejectionError
			require.True(t, errors.As(err, &rej))
			assert.Equal(t, tt.reason, rej.Reason)
			assert.Empty(t, q.payloads)
			assert.Empty(t, listFiles(t, dir))
		})
	}
}

func TestAccept_ExactlyMaxBytesIsAccepted(t *testing.T) {
	u, _ := newTestUploader(t, &recordingQueue{})

	_, err := u.Accept(context.Background(), "a.txt", bytes.NewReader(bytes.Repeat([]byte("x"), 16)))
	assert.NoError(t, err)
}

func TestAccept_QueueUnavailableRemovesFile(t *testing.T) {
	u, dir := newTestUploader(t, &recordingQueue{err: errors.New("connection refused")})

	_, err := u.Accept(context.Background(), "a.pdf", strings.NewReader("%PDF"))
	assert.ErrorIs(t, err, types.ErrQueueUnavailable)
	assert.Empty(t, listFiles(t, dir))
}
