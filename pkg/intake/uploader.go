// Package intake accepts uploaded documents, stores them and enqueues an
// ingestion job for each one.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xhad/docchat/internal/models"
	"github.com/xhad/docchat/internal/types"
)

// Enqueuer records a job durably.
type Enqueuer interface {
	Enqueue(ctx context.Context, topic string, payload []byte) (string, error)
}

type UploaderConfig struct {
	Dir               string
	MaxBytes          int64
	AllowedExtensions []string
	Topic             string
	Logger            *slog.Logger
}

// Receipt confirms a stored and enqueued upload.
type Receipt struct {
	JobID    string `json:"job_id"`
	Filename string `json:"filename"`
	Path     string `json:"path"`
}

type Uploader struct {
	config  UploaderConfig
	queue   Enqueuer
	allowed map[string]bool
	now     func() time.Time
}

func NewUploader(config UploaderConfig, queue Enqueuer) (*Uploader, error) {
	if config.Dir == "" {
		config.Dir = "uploads"
	}
	if config.MaxBytes <= 0 {
		config.MaxBytes = 32 << 20
	}
	if len(config.AllowedExtensions) == 0 {
		config.AllowedExtensions = []string{".pdf", ".txt", ".md", ".html", ".htm"}
	}
	if config.Topic == "" {
		config.Topic = "file-queue"
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	if err := os.MkdirAll(config.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}

	allowed := make(map[string]bool, len(config.AllowedExtensions))
	for _, ext := range config.AllowedExtensions {
		allowed[strings.ToLower(ext)] = true
	}

	return &Uploader{
		config:  config,
		queue:   queue,
		allowed: allowed,
		now:     time.Now,
	}, nil
}

func (u *Uploader) MaxBytes() int64 {
	return u.config.MaxBytes
}

// Accept stores the upload and enqueues its ingestion job. Unacceptable
// uploads are refused with a *types.RejectionError. When the job cannot be
// enqueued the stored file is removed and the error wraps
// types.ErrQueueUnavailable.
func (u *Uploader) Accept(ctx context.Context, filename string, r io.Reader) (*Receipt, error) {
	name := filepath.Base(strings.ReplaceAll(strings.TrimSpace(filename), "\\", "/"))
	if name == "" || name == "." || name == "/" {
		return nil, &types.RejectionError{Reason: types.RejectNoFilename}
	}

	ext := strings.ToLower(filepath.Ext(name))
	if !u.allowed[ext] {
		return nil, &types.RejectionError{Reason: types.RejectUnsupported, Detail: fmt.Sprintf("%q is not an accepted file type", ext)}
	}

	tmp, err := os.CreateTemp(u.config.Dir, ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("creating upload file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	n, err := io.Copy(tmp, io.LimitReader(r, u.config.MaxBytes+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("storing upload: %w", err)
	}
	if n == 0 {
		return nil, &types.RejectionError{Reason: types.RejectEmpty}
	}
	if n > u.config.MaxBytes {
		return nil, &types.RejectionError{Reason: types.RejectTooLarge, Detail: fmt.Sprintf("limit is %d bytes", u.config.MaxBytes)}
	}

	stored := fmt.Sprintf("%d-%s-%s", u.now().UnixMilli(), uuid.NewString(), name)
	path := filepath.Join(u.config.Dir, stored)
	if err := os.Rename(tmpPath, path); err != nil {
		return nil, fmt.Errorf("storing upload: %w", err)
	}

	payload, err := json.Marshal(models.JobPayload{
		Filename:    name,
		Path:        path,
		Destination: u.config.Dir,
	})
	if err != nil {
		os.Remove(path)
		return nil, err
	}

	jobID, err := u.queue.Enqueue(ctx, u.config.Topic, payload)
	if err != nil {
		os.Remove(path)
		if !errors.Is(err, types.ErrQueueUnavailable) {
			err = fmt.Errorf("%w: %v", types.ErrQueueUnavailable, err)
		}
		u.config.Logger.Error("failed to enqueue upload", "filename", name, "error", err)
		return nil, err
	}

	u.config.Logger.Info("queued file for processing", "job_id", jobID, "filename", name, "bytes", n)

	return &Receipt{
		JobID:    jobID,
		Filename: name,
		Path:     path,
	}, nil
}
