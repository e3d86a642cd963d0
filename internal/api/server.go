// Package api exposes the HTTP surface: ingest plus read-only document
// access. All processing happens in the background worker; ingest returns as
// soon as the pending record and the job exist.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taxgpt/taxgpt/internal/config"
	"github.com/taxgpt/taxgpt/internal/model"
	"github.com/taxgpt/taxgpt/internal/repository"
)

// Repository is the persistence surface the API needs.
type Repository interface {
	Create(ctx context.Context, doc *model.Document) error
	Get(ctx context.Context, id string) (*model.Document, error)
	List(ctx context.Context, filter repository.ListFilter) ([]*model.Document, error)
	DeleteAll(ctx context.Context) ([]string, error)
}

// FileStore reads and writes the original PDFs.
type FileStore interface {
	Upload(ctx context.Context, objectKey string, reader io.Reader, size int64) error
	Download(ctx context.Context, objectKey string) ([]byte, error)
	Remove(ctx context.Context, objectKey string) error
}

// Enqueuer submits the background processing job for an ingested document.
type Enqueuer interface {
	EnqueueProcess(ctx context.Context, docID string) error
}

// Server exposes HTTP endpoints for ingestion and document visibility.
type Server struct {
	cfg     *config.Config
	repo    Repository
	store   FileStore
	queue   Enqueuer
	log     *slog.Logger
	server  *http.Server
	once    sync.Once
	handler http.Handler
}

// New constructs a Server.
func New(cfg *config.Config, repo Repository, store FileStore, queue Enqueuer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, repo: repo, store: store, queue: queue, log: logger}
}

// Handler builds the route table. Exposed separately from Run so tests can
// drive it with httptest.
func (s *Server) Handler() http.Handler {
	s.once.Do(func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", s.handleHealth)
		mux.HandleFunc("/api/documents", s.handleDocuments)
		mux.HandleFunc("/api/documents/", s.handleDocumentRoute)
		s.handler = s.corsMiddleware(s.loggingMiddleware(mux))
	})
	return s.handler
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.server = &http.Server{
		Addr:    s.cfg.Address,
		Handler: s.Handler(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.log.Info("api.listening", "address", s.cfg.Address)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleList(w, r)
	case http.MethodDelete:
		s.handleDeleteAll(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleDocumentRoute(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/documents/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	if parts[0] == "ingest" {
		s.handleIngest(w, r)
		return
	}
	id := parts[0]
	if len(parts) == 1 {
		s.handleGet(w, r, id)
		return
	}
	switch parts[1] {
	case "text":
		s.handleText(w, r, id)
	case "file":
		s.handleFile(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	var filter repository.ListFilter
	if v := r.URL.Query().Get("tax_year"); v != "" {
		year, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "invalid tax_year", http.StatusBadRequest)
			return
		}
		filter.TaxYear = year
	}
	if v := r.URL.Query().Get("doc_type"); v != "" {
		if !model.ValidDocType(v) {
			http.Error(w, "invalid doc_type", http.StatusBadRequest)
			return
		}
		filter.DocType = v
	}
	docs, err := s.repo.List(r.Context(), filter)
	if err != nil {
		s.log.Error("api.list_failed", "error", err)
		http.Error(w, "failed to list documents", http.StatusInternalServerError)
		return
	}
	if docs == nil {
		docs = []*model.Document{}
	}
	respondJSON(w, http.StatusOK, docs)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	doc, err := s.repo.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "document not found", http.StatusNotFound)
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleText(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	doc, err := s.repo.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "document not found", http.StatusNotFound)
		return
	}
	if doc.Status != model.StatusCompleted {
		http.Error(w, "document not processed", http.StatusConflict)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"id":        doc.ID,
		"full_text": doc.FullText,
	})
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	doc, err := s.repo.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "document not found", http.StatusNotFound)
		return
	}
	data, err := s.store.Download(r.Context(), doc.ObjectKey)
	if err != nil {
		s.log.Error("api.file_download_failed", "document_id", id, "error", err)
		http.Error(w, "failed to fetch file", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", doc.OriginalFilename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleDeleteAll(w http.ResponseWriter, r *http.Request) {
	keys, err := s.repo.DeleteAll(r.Context())
	if err != nil {
		s.log.Error("api.delete_all_failed", "error", err)
		http.Error(w, "failed to delete documents", http.StatusInternalServerError)
		return
	}
	for _, key := range keys {
		if err := s.store.Remove(r.Context(), key); err != nil {
			// The row is already gone; log and keep cleaning up the rest.
			s.log.Warn("api.file_cleanup_failed", "object_key", key, "error", err)
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"deleted_count": len(keys),
		"message":       fmt.Sprintf("deleted %d documents", len(keys)),
	})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxFileSize+1024)
	mr, err := r.MultipartReader()
	if err != nil {
		http.Error(w, "expecting multipart form", http.StatusBadRequest)
		return
	}
	part, err := nextFilePart(mr)
	if err != nil {
		http.Error(w, "missing file field", http.StatusBadRequest)
		return
	}
	defer part.Close()
	tmp, err := s.persistTemp(part)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer os.Remove(tmp.path)
	defer tmp.f.Close()
	if tmp.contentType != "application/pdf" {
		http.Error(w, "only PDF files supported", http.StatusBadRequest)
		return
	}

	docID := uuid.NewString()
	objectKey := fmt.Sprintf("documents/%s/%s", docID, filepath.Base(tmp.filename))
	if _, err := tmp.f.Seek(0, 0); err != nil {
		http.Error(w, "failed to store file", http.StatusInternalServerError)
		return
	}
	if err := s.store.Upload(ctx, objectKey, tmp.f, tmp.size); err != nil {
		s.log.Error("api.upload_failed", "error", err)
		http.Error(w, "failed to store file", http.StatusInternalServerError)
		return
	}

	doc := &model.Document{
		ID:               docID,
		OriginalFilename: tmp.filename,
		ObjectKey:        objectKey,
	}
	if err := s.repo.Create(ctx, doc); err != nil {
		s.log.Error("api.create_failed", "error", err)
		http.Error(w, "failed to store metadata", http.StatusInternalServerError)
		return
	}
	if err := s.queue.EnqueueProcess(ctx, docID); err != nil {
		s.log.Error("api.enqueue_failed", "document_id", docID, "error", err)
		http.Error(w, "failed to queue job", http.StatusInternalServerError)
		return
	}
	s.log.Info("api.ingested", "document_id", docID, "filename", tmp.filename, "bytes", tmp.size)
	respondJSON(w, http.StatusAccepted, doc)
}

type tempUpload struct {
	f           *os.File
	path        string
	size        int64
	contentType string
	filename    string
}

func (s *Server) persistTemp(part *multipart.Part) (*tempUpload, error) {
	tmpFile, err := os.CreateTemp("", "taxgpt-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	cleanup := func() {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
	}
	var sniff []byte
	buf := make([]byte, 32*1024)
	var written int64
	for {
		n, readErr := part.Read(buf)
		if n > 0 {
			written += int64(n)
			if written > s.cfg.MaxFileSize {
				cleanup()
				return nil, fmt.Errorf("file exceeds limit (%d bytes)", s.cfg.MaxFileSize)
			}
			if len(sniff) < 512 {
				chunk := n
				if remain := 512 - len(sniff); chunk > remain {
					chunk = remain
				}
				sniff = append(sniff, buf[:chunk]...)
			}
			if _, err := tmpFile.Write(buf[:n]); err != nil {
				cleanup()
				return nil, fmt.Errorf("write temp file: %w", err)
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			cleanup()
			return nil, fmt.Errorf("read file: %w", readErr)
		}
	}
	if written == 0 {
		cleanup()
		return nil, errors.New("empty file")
	}
	if _, err := tmpFile.Seek(0, 0); err != nil {
		cleanup()
		return nil, fmt.Errorf("rewind temp file: %w", err)
	}
	filename := part.FileName()
	if filename == "" {
		filename = "upload.pdf"
	}
	return &tempUpload{
		f:           tmpFile,
		path:        tmpFile.Name(),
		size:        written,
		contentType: http.DetectContentType(sniff),
		filename:    filename,
	}, nil
}

func nextFilePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			return nil, err
		}
		if part.FormName() == "file" {
			return part, nil
		}
		part.Close()
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	allowed := make(map[string]bool, len(s.cfg.AllowOrigins))
	for _, origin := range s.cfg.AllowOrigins {
		allowed[origin] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && allowed[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("api.request", "method", r.Method, "path", r.URL.Path, "elapsed", time.Since(start))
	})
}
