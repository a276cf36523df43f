// Package httpapi exposes the gateway's HTTP surface: the native NDJSON
// chat API and the OpenAI-style completion API, multiplexed over the shared
// request scheduler.
package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"llamagate/internal/auth"
	"llamagate/internal/manager"
	"llamagate/internal/scheduler"
	"llamagate/pkg/types"
)

// maxBodyBytes caps JSON request bodies at 1 MiB.
const maxBodyBytes int64 = 1 << 20

// Server carries the handlers' dependencies.
type Server struct {
	log     zerolog.Logger
	version string
	models  *manager.Manager
	sched   *scheduler.Scheduler
	filter  *auth.Filter
}

// Config wires a Server.
type Config struct {
	Logger    zerolog.Logger
	Version   string
	Models    *manager.Manager
	Scheduler *scheduler.Scheduler
	Filter    *auth.Filter
}

// NewMux builds the route table.
func NewMux(cfg Config) http.Handler {
	s := &Server{
		log:     cfg.Logger,
		version: cfg.Version,
		models:  cfg.Models,
		sched:   cfg.Scheduler,
		filter:  cfg.Filter,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:     []string{"*"},
		AllowedMethods:     []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodOptions},
		AllowedHeaders:     []string{"Authorization", "Content-Type"},
		OptionsPassthrough: true,
	}))
	r.Use(preflightHandler)
	r.Use(stripTrailingSlash)
	r.Use(s.strictGate)

	r.Get("/", s.handleRoot)
	r.Head("/", s.handleRoot)
	r.Get("/api/version", s.handleVersion)
	r.Get("/api/tags", s.handleTags)
	r.Get("/api/ps", s.handlePs)
	r.Post("/api/show", s.handleShow)
	r.Post("/api/chat", s.handleChat)
	r.Post("/api/generate", s.handleGenerate)
	r.Post("/v1/chat/completions", s.handleOpenAIChat)
	r.Get("/v1/models", s.handleOpenAIModels)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	MountSwagger(r)

	notFound := func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	}
	r.NotFound(notFound)
	r.MethodNotAllowed(notFound)
	return r
}

// preflightHandler answers every OPTIONS request with 204. The CORS
// middleware above has already decorated the response headers.
func preflightHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// stripTrailingSlash normalizes paths by removing a single trailing slash.
func stripTrailingSlash(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p := r.URL.Path; len(p) > 1 && strings.HasSuffix(p, "/") {
			r.URL.Path = strings.TrimSuffix(p, "/")
		}
		next.ServeHTTP(w, r)
	})
}

// strictGate enforces the global require-token rule before any endpoint
// logic runs.
func (s *Server) strictGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rej := s.filter.GateAllows(r, s.models.Names()); rej != nil {
			writeError(w, rej.Status, rej.Message)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		w.Write([]byte("Ollama is running"))
	}
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.VersionResponse{Version: s.version})
}

// requestLogger emits one structured line per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sr, r)
		evt := s.log.Debug()
		if sr.status >= 500 {
			evt = s.log.Error()
		}
		evt.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sr.status).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}
