package types

import (
	"errors"
	"fmt"
)

var (
	// ErrEmbeddingDimensionMismatch is a configuration error: the embedder and
	// the vector index disagree on vector size. It is never retried.
	ErrEmbeddingDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrInvalidQuery rejects empty or malformed questions before any call.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrQueueUnavailable means a job could not be durably recorded.
	ErrQueueUnavailable = errors.New("job queue unavailable")
)

// DimensionMismatch wraps ErrEmbeddingDimensionMismatch with the sizes seen.
func DimensionMismatch(expected, got int) error {
	return fmt.Errorf("%w: index expects %d, embedder produced %d", ErrEmbeddingDimensionMismatch, expected, got)
}

// ParseError reports a document that is corrupt, unreadable or of an
// unsupported format.
type ParseError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse %s: %s", e.Path, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// UpstreamServiceError is a transport or service failure of the embedding,
// vector or generation collaborator, timeouts included.
type UpstreamServiceError struct {
	Service string
	Err     error
}

func (e *UpstreamServiceError) Error() string {
	return fmt.Sprintf("%s service error: %v", e.Service, e.Err)
}

func (e *UpstreamServiceError) Unwrap() error {
	return e.Err
}

// Upstream wraps err as an UpstreamServiceError for service. Errors that are
// already typed pass through unchanged.
func Upstream(service string, err error) error {
	if err == nil {
		return nil
	}
	var ue *UpstreamServiceError
	if errors.As(err, &ue) || errors.Is(err, ErrEmbeddingDimensionMismatch) {
		return err
	}
	return &UpstreamServiceError{Service: service, Err: err}
}

// IsUpstream reports whether err is an UpstreamServiceError.
func IsUpstream(err error) bool {
	var ue *UpstreamServiceError
	return errors.As(err, &ue)
}

// Rejection reasons for uploads.
const (
	RejectEmpty       = "empty_file"
	RejectTooLarge    = "file_too_large"
	RejectUnsupported = "unsupported_type"
	RejectNoFilename  = "missing_filename"
	RejectInvalidURL  = "invalid_url"
)

// RejectionError is the typed refusal of an upload.
type RejectionError struct {
	Reason string
	Detail string
}

func (e *RejectionError) Error() string {
	if e.Detail == "" {
		return "upload rejected: " + e.Reason
	}
	return fmt.Sprintf("upload rejected: %s: %s", e.Reason, e.Detail)
}
