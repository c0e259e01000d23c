// Package api exposes the catalog over HTTP: item CRUD, the three
// search kinds, pipeline operations, and health. JSON in, JSON out,
// with the error taxonomy mapped onto status codes.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/vitrine-search/vitrine/internal/embed"
	"github.com/vitrine-search/vitrine/internal/pipeline"
	"github.com/vitrine-search/vitrine/internal/search"
	"github.com/vitrine-search/vitrine/internal/store"
	"github.com/vitrine-search/vitrine/internal/telemetry"
)

// Config holds HTTP server configuration.
type Config struct {
	ListenAddr   string
	CORSOrigins  []string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// EnablePprof mounts net/http/pprof under /debug.
	EnablePprof bool
}

// Deps are the collaborators the handlers delegate to. Metrics is
// optional; when present the stats endpoint includes its snapshot.
type Deps struct {
	Metadata store.MetadataStore
	Vectors  store.VectorIndex
	Pipeline *pipeline.Pipeline
	Search   *search.Orchestrator
	Embedder embed.Embedder
	Metrics  *telemetry.SearchMetrics
	Version  string
}

// Server wraps a chi router over the catalog collaborators.
type Server struct {
	router chi.Router
	deps   Deps
	cfg    Config
}

// New validates dependencies and builds the routed server.
func New(deps Deps, cfg Config) (*Server, error) {
	if deps.Metadata == nil {
		return nil, fmt.Errorf("metadata store is required")
	}
	if deps.Vectors == nil {
		return nil, fmt.Errorf("vector index is required")
	}
	if deps.Pipeline == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	if deps.Search == nil {
		return nil, fmt.Errorf("search orchestrator is required")
	}
	if deps.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if cfg.ListenAddr == "" {
		return nil, fmt.Errorf("listen address is required")
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 60 * time.Second
	}

	s := &Server{deps: deps, cfg: cfg}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(cfg.CORSOrigins))
	s.routes(r)
	s.router = r

	return s, nil
}

func (s *Server) routes(r chi.Router) {
	r.Get("/health", s.handleHealth)
	r.Get("/health/detailed", s.handleHealthDetailed)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/items", func(r chi.Router) {
			r.Post("/", s.handleCreateItem)
			r.Get("/", s.handleListItems)
			r.Get("/{externalID}", s.handleGetItem)
			r.Patch("/{externalID}", s.handleUpdateItem)
			r.Delete("/{externalID}", s.handleDeleteItem)
		})

		r.Post("/search/text", s.handleSearchText)
		r.Post("/search/image", s.handleSearchImage)
		r.Get("/search/similar/{externalID}", s.handleSearchSimilar)

		r.Post("/index/{externalID}", s.handleSubmitIndex)
		r.Post("/reindex", s.handleReindex)
		r.Get("/tasks/{taskID}", s.handleTaskStatus)

		r.Get("/deadletters", s.handleListDeadLetters)
		r.Post("/deadletters/{id}/requeue", s.handleRequeueDeadLetter)
		r.Post("/reconcile", s.handleReconcile)

		r.Get("/stats", s.handleStats)
	})

	if s.cfg.EnablePprof {
		r.Mount("/debug", middleware.Profiler())
	}
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the HTTP server and blocks until the context is
// cancelled, then performs graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.ListenAddr, err)
	}

	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	slog.Info("api_listening", slog.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return <-errCh
}

// requestLogger emits one slog line per request, carrying the chi
// request id so log lines can be tied back to a client call.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http_request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	allowCredentials := true
	if len(origins) == 0 {
		// Wildcard origins cannot carry credentials.
		origins = []string{"*"}
		allowCredentials = false
	}

	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: allowCredentials,
		MaxAge:           300,
	})
}
