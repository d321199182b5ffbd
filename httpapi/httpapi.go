// Package httpapi exposes the file service over HTTP+JSON: load, metadata
// probe, save. The service is stateless; every request resolves against the
// bytes currently on disk.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/drawfile/filestore"
	"github.com/hazyhaar/drawfile/observability"
)

// Server holds the handler dependencies.
type Server struct {
	store  *filestore.Store
	events *observability.EventLogger
	logger *slog.Logger
}

// New creates the API server. events may be nil (logging becomes a no-op).
func New(store *filestore.Store, events *observability.EventLogger, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{store: store, events: events, logger: logger}
}

// Router builds the chi router with the standard middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)

	r.Get("/api/load-file", s.handleLoadFile)
	r.Get("/api/file-info", s.handleFileInfo)
	r.Post("/api/save-file", s.handleSaveFile)
	r.Get("/healthz", handleHealthz)

	return r
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// statusRecorder captures the response code for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		duration := time.Since(start)

		s.events.LogRequest(r.Context(), r.Method, r.URL.Path, rec.status,
			duration, r.RemoteAddr, r.UserAgent())
		s.logger.Debug("http request",
			"method", r.Method, "path", r.URL.Path,
			"status", rec.status, "duration_ms", duration.Milliseconds())
	})
}
