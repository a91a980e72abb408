package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"readback/api/internal/content"
	"readback/api/internal/export"
	"readback/api/internal/notify"
)

const (
	maxBodyBytes        = 32 << 20
	defaultHistoryLimit = 50
	authorHeader        = "X-Readback-Author"
)

// ServerOptions configures the HTTP surface.
type ServerOptions struct {
	CORSOrigin string
	// StaticDir is served at / when it exists.
	StaticDir string
	Gatherer  prometheus.Gatherer
	Logger    *zap.Logger
	Heartbeat time.Duration
}

type HTTPServer struct {
	service   *Service
	exporter  *export.Service
	opts      ServerOptions
	logger    *zap.Logger
	heartbeat time.Duration
}

func NewHTTPServer(service *Service, opts ServerOptions) *HTTPServer {
	if opts.CORSOrigin == "" {
		opts.CORSOrigin = "*"
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 15 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPServer{
		service:   service,
		exporter:  export.NewService(service),
		opts:      opts,
		logger:    logger,
		heartbeat: opts.Heartbeat,
	}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.withMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: strings.Split(s.opts.CORSOrigin, ","),
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID", authorHeader},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/api/health", s.handleHealth)
	r.Head("/api/health", s.handleHealth)
	r.Get("/api/ready", s.handleReady)
	r.Head("/api/ready", s.handleReady)

	r.Route("/api", func(r chi.Router) {
		r.Get("/content", s.handleGetContent)
		r.Post("/content", s.handleSaveContent)
		r.Get("/status", s.handleStatus)
		r.Get("/events", s.handleEvents)
		r.Get("/history", s.handleHistory)
		r.Get("/history/{hash}", s.handleRevision)
		r.Post("/history/{hash}/restore", s.handleRestore)
		r.Get("/search", s.handleSearch)
		r.Get("/export", s.handleExport)
	})

	if s.opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}
	if s.opts.StaticDir != "" {
		if info, err := os.Stat(s.opts.StaticDir); err == nil && info.IsDir() {
			r.Handle("/*", http.FileServer(http.Dir(s.opts.StaticDir)))
		}
	}
	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"storage": map[string]any{"status": "ok", "kind": s.service.store.Kind()},
	}
	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["storage"] = map[string]any{
			"status": "error",
			"kind":   s.service.store.Kind(),
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleGetContent(w http.ResponseWriter, r *http.Request) {
	list, err := s.service.Load(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, content.Envelope{Content: list})
}

type saveRequest struct {
	Content *content.List `json:"content"`
}

func (s *HTTPServer) handleSaveContent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var body saveRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Invalid JSON", nil)
		return
	}
	if body.Content == nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "content is required", nil)
		return
	}

	result, err := s.service.Save(r.Context(), *body.Content, r.Header.Get(authorHeader))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"changed":  result.Changed,
		"revision": result.Revision,
	})
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Status())
}

func (s *HTTPServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", "Streaming unsupported", nil)
		return
	}
	events, cleanup, err := s.service.Subscribe(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer cleanup()

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	gauge := s.service.metrics.EventsActive
	gauge.Inc()
	defer gauge.Dec()

	if err := notify.WriteComment(w, "connected"); err != nil {
		return
	}
	if seen := r.Header.Get("Last-Event-ID"); seen != "" {
		if last, ok := s.service.LastEvent(r.Context()); ok && last.ID != seen {
			_ = notify.WriteEvent(w, last)
		}
	}
	flusher.Flush()

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := notify.WriteComment(w, "heartbeat"); err != nil {
				return
			}
			flusher.Flush()
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := notify.WriteEvent(w, event); err != nil {
				s.logger.Debug("event stream write failed", zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultHistoryLimit)
	commits, err := s.service.History(limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revisions": commits})
}

func (s *HTTPServer) handleRevision(w http.ResponseWriter, r *http.Request) {
	list, commit, err := s.service.Revision(chi.URLParam(r, "hash"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revision": commit, "content": list})
}

func (s *HTTPServer) handleRestore(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.Restore(r.Context(), chi.URLParam(r, "hash"), r.Header.Get(authorHeader))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"changed":  result.Changed,
		"revision": result.Revision,
	})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "MISSING_QUERY", "q is required", nil)
		return
	}
	writeJSON(w, http.StatusOK, s.service.Search(r.Context(), query, queryInt(r, "limit", 0)))
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "UNSUPPORTED_FORMAT", "format must be html or pdf", nil)
		return
	}
	result, err := s.exporter.Export(r.Context(), export.Request{
		Format:   format,
		Title:    r.URL.Query().Get("title"),
		Revision: r.URL.Query().Get("revision"),
	})
	if err != nil {
		if errors.Is(err, export.ErrPDFDependencyMissing) {
			writeError(w, http.StatusServiceUnavailable, "PDF_UNAVAILABLE", "PDF export is not available on this server", nil)
			return
		}
		s.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id))

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		writer.Header().Set("X-Request-ID", id)
		writer.Header().Set("Cache-Control", "no-store")

		next.ServeHTTP(writer, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(started)
		s.service.metrics.RequestSeconds.
			WithLabelValues(r.Method, route, strconv.Itoa(writer.status)).
			Observe(elapsed.Seconds())
		s.logger.Info("request",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", elapsed.Milliseconds()),
		)
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return fmt.Errorf("invalid JSON body")
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
