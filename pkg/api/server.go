// Package api exposes the storage engine over HTTP: one resource per key,
// engine statistics, health, and Prometheus exposition. The surface is a
// transport over the engine's four operations only.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/dd0wney/cluso-kv/pkg/logging"
	"github.com/dd0wney/cluso-kv/pkg/lsm"
	"github.com/dd0wney/cluso-kv/pkg/metrics"
)

// Server is the HTTP API server wrapping a Store.
type Server struct {
	store     *lsm.Store
	logger    logging.Logger
	metrics   *metrics.Registry
	jwtSecret string
	http      *http.Server
}

// Options configures the API server.
type Options struct {
	Addr string

	// JWTSecret enables bearer-token authentication when non-empty.
	JWTSecret string

	Logger  logging.Logger
	Metrics *metrics.Registry
}

// NewServer creates an API server over store.
func NewServer(store *lsm.Store, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	s := &Server{
		store:     store,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		jwtSecret: opts.JWTSecret,
	}
	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// routes builds the handler chain.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /kv/{key}", s.requireAuth(s.handleGet))
	mux.HandleFunc("PUT /kv/{key}", s.requireAuth(s.handlePut))
	mux.HandleFunc("DELETE /kv/{key}", s.requireAuth(s.handleDelete))
	mux.HandleFunc("POST /admin/reset", s.requireAuth(s.handleReset))
	mux.HandleFunc("GET /stats", s.requireAuth(s.handleStats))
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	return s.panicRecovery(s.withRequestID(s.withLogging(s.withMetrics(mux))))
}

// ListenAndServe blocks serving the API.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", logging.String("addr", s.http.Addr))
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: msg})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
