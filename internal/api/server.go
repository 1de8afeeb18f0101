// Package api exposes the coordinator over HTTP: run lifecycle endpoints for
// CI pipelines and the pull-based queue endpoints agents poll for work.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/seantiz/splay/internal/run"
	"github.com/seantiz/splay/internal/store"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 30 * time.Second
)

// Server wraps the chi router and application dependencies. Live runs are
// held in memory for the life of the process; finished runs remain queryable
// through the store.
type Server struct {
	router *chi.Mux
	coord  *run.Coordinator
	store  store.Store
	logger *slog.Logger
	addr   string

	mu   sync.Mutex
	runs map[string]*run.Run
}

// NewServer creates and configures a new HTTP server.
func NewServer(addr string, coord *run.Coordinator, st store.Store, logger *slog.Logger) *Server {
	srv := &Server{
		router: chi.NewRouter(),
		coord:  coord,
		store:  st,
		logger: logger,
		addr:   addr,
		runs:   make(map[string]*run.Run),
	}

	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(srv.loggingMiddleware)
	srv.router.Use(metricsMiddleware)
	srv.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	srv.routes()

	return srv
}

// routes registers all HTTP routes on the router.
func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", metricsHandler())

	s.router.Route("/v1/runs", func(r chi.Router) {
		r.Post("/", s.handleStartRun)
		r.Get("/{id}", s.handleGetRun)
		r.Get("/{id}/batches", s.handleListBatches)
		r.Get("/{id}/stats", s.handleRunStats)
		r.Post("/{id}/abort", s.handleAbortRun)
	})

	s.router.Route("/v1/queue", func(r chi.Router) {
		r.Post("/lease", s.handleLease)
		r.Post("/ack", s.handleAck)
		r.Post("/extend", s.handleExtend)
		r.Post("/heartbeat", s.handleHeartbeat)
	})
}

// Router returns the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// liveRun returns the in-memory run for the id, or nil if this process never
// started it.
func (s *Server) liveRun(id string) *run.Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[id]
}

// Run starts the HTTP server and blocks until a shutdown signal is received.
func (s *Server) Run() error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	// Stop issuing leases before the listener closes so agents see a clean
	// drain instead of connection errors.
	s.mu.Lock()
	for _, rn := range s.runs {
		rn.Abort()
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// loggingMiddleware logs each request using the structured logger.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
