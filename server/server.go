// Package server exposes uploads, questions and queue inspection over HTTP,
// plus a websocket chat endpoint.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/xhad/docchat/internal/models"
	"github.com/xhad/docchat/internal/types"
	"github.com/xhad/docchat/pkg/intake"
	"github.com/xhad/docchat/pkg/queue"
)

// Answerer answers a single question.
type Answerer interface {
	Answer(ctx context.Context, question string) (*models.ChatExchange, error)
}

// Acceptor stores uploads and enqueues them.
type Acceptor interface {
	Accept(ctx context.Context, filename string, r io.Reader) (*intake.Receipt, error)
	MaxBytes() int64
}

// JobInspector reports on the ingestion queue.
type JobInspector interface {
	Stats(ctx context.Context, topic string) (queue.Stats, error)
	DeadLetters(ctx context.Context, topic string) ([]queue.DeadLetter, error)
}

// SiteImporter crawls a site and queues its pages.
type SiteImporter interface {
	Import(ctx context.Context, siteURL string) ([]intake.Receipt, error)
}

type Config struct {
	Addr            string
	Topic           string
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
}

type Server struct {
	config   Config
	rag      Answerer
	uploads  Acceptor
	jobs     JobInspector
	importer SiteImporter
	logger   *slog.Logger
}

func New(config Config, rag Answerer, uploads Acceptor, jobs JobInspector) *Server {
	if config.Addr == "" {
		config.Addr = ":8000"
	}
	if config.Topic == "" {
		config.Topic = "file-queue"
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 15 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Server{
		config:  config,
		rag:     rag,
		uploads: uploads,
		jobs:    jobs,
		logger:  config.Logger,
	}
}

// WithImporter enables POST /upload/url.
func (s *Server) WithImporter(importer SiteImporter) *Server {
	s.importer = importer
	return s
}

// Handler returns the routed, CORS-enabled handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.HandleFunc("POST /upload/pdf", s.handleUpload("pdf"))
	mux.HandleFunc("POST /upload", s.handleUpload("file"))
	if s.importer != nil {
		mux.HandleFunc("POST /upload/url", s.handleImport)
	}
	mux.HandleFunc("GET /chat", s.handleChat)
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /jobs/stats", s.handleStats)
	mux.HandleFunc("GET /jobs/dead", s.handleDeadLetters)

	return s.logRequests(cors(mux))
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "addr", s.config.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

type uploadResponse struct {
	Message  string `json:"message"`
	JobID    string `json:"job_id"`
	Filename string `json:"filename"`
}

// handleUpload streams the named multipart field into the uploader.
func (s *Server) handleUpload(field string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// allow room for multipart framing on top of the file itself
		r.Body = http.MaxBytesReader(w, r.Body, s.uploads.MaxBytes()+1<<20)

		mr, err := r.MultipartReader()
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "bad_request", "expected multipart/form-data")
			return
		}

		for {
			part, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				writeJSONError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("missing form field %q", field))
				return
			}
			if err != nil {
				s.writeError(w, err)
				return
			}
			if part.FormName() != field {
				part.Close()
				continue
			}

			receipt, err := s.uploads.Accept(r.Context(), part.FileName(), part)
			part.Close()
			if err != nil {
				s.writeError(w, err)
				return
			}

			writeJSON(w, http.StatusAccepted, uploadResponse{
				Message:  "uploaded",
				JobID:    receipt.JobID,
				Filename: receipt.Filename,
			})
			return
		}
	}
}

type importRequest struct {
	URL string `json:"url"`
}

type queuedJob struct {
	JobID    string `json:"job_id"`
	Filename string `json:"filename"`
}

type importResponse struct {
	Message string      `json:"message"`
	Jobs    []queuedJob `json:"jobs"`
}

// handleImport crawls the requested site before answering, so the response
// lists every queued page.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "request body must be JSON with a url field")
		return
	}

	receipts, err := s.importer.Import(r.Context(), req.URL)
	if err != nil {
		s.writeError(w, err)
		return
	}
	jobs := make([]queuedJob, 0, len(receipts))
	for _, rc := range receipts {
		jobs = append(jobs, queuedJob{JobID: rc.JobID, Filename: rc.Filename})
	}

	writeJSON(w, http.StatusAccepted, importResponse{Message: "imported", Jobs: jobs})
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Answer        string            `json:"answer"`
	Citations     []models.Citation `json:"citations"`
	ContextChunks int               `json:"context_chunks"`
}

func newChatResponse(ex *models.ChatExchange) chatResponse {
	citations := ex.Citations
	if citations == nil {
		citations = []models.Citation{}
	}
	return chatResponse{Answer: ex.Answer, Citations: citations, ContextChunks: ex.ContextChunks}
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var question string
	if r.Method == http.MethodPost {
		var req chatRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_query", "request body must be JSON with a message field")
			return
		}
		question = req.Message
	} else {
		question = r.URL.Query().Get("message")
	}

	ex, err := s.rag.Answer(r.Context(), question)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newChatResponse(ex))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.jobs.Stats(r.Context(), s.config.Topic)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	letters, err := s.jobs.DeadLetters(r.Context(), s.config.Topic)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if letters == nil {
		letters = []queue.DeadLetter{}
	}
	writeJSON(w, http.StatusOK, letters)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeError maps the error taxonomy onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "status", status, "error", err)
	}
	writeJSONError(w, status, code, err.Error())
}

func classify(err error) (int, string) {
	var (
		rejection *types.RejectionError
		tooLarge  *http.MaxBytesError
	)
	switch {
	case errors.As(err, &rejection):
		if rejection.Reason == types.RejectTooLarge {
			return http.StatusRequestEntityTooLarge, rejection.Reason
		}
		return http.StatusBadRequest, rejection.Reason
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, types.RejectTooLarge
	case errors.Is(err, types.ErrInvalidQuery):
		return http.StatusBadRequest, "invalid_query"
	case errors.Is(err, types.ErrQueueUnavailable):
		return http.StatusServiceUnavailable, "queue_unavailable"
	case errors.Is(err, types.ErrEmbeddingDimensionMismatch):
		return http.StatusInternalServerError, "embedding_dimension_mismatch"
	case types.IsUpstream(err):
		return http.StatusBadGateway, "upstream_unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "cancelled"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
