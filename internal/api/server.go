// Package api is the HTTP surface of toggle-sync, the reference remote:
// devices pull toggles and acknowledge pinned overrides, operators upsert and
// delete toggles.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/marcus/toggle/internal/serverdb"
)

// Server is the HTTP API server for toggle-sync.
type Server struct {
	config      Config
	http        *http.Server
	store       *serverdb.ServerDB
	metrics     *Metrics
	rateLimiter *RateLimiter
	addr        net.Addr
}

// NewServer creates a new Server with the given config and store.
func NewServer(cfg Config, store *serverdb.ServerDB) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("api: nil store")
	}
	s := &Server{
		config:      cfg,
		store:       store,
		metrics:     NewMetrics(),
		rateLimiter: NewRateLimiter(),
	}

	s.http = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Handler returns the fully wrapped handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start begins listening for HTTP requests (non-blocking).
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.addr = ln.Addr()

	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("http server", "err", err)
		}
	}()
	return nil
}

// Addr returns the bound listen address once Start has returned.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.rateLimiter.Stop()
	return s.http.Shutdown(ctx)
}

// routes builds the HTTP handler with all routes and middleware.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Health & metrics
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /metricz", s.handleMetrics)

	// Device sync
	mux.HandleFunc("GET /toggles", requireToken(s.config.Token, s.withRateLimit("pull", s.config.RateLimitPull, s.handlePull)))
	mux.HandleFunc("POST /toggles/ack", requireToken(s.config.Token, s.withRateLimit("push", s.config.RateLimitPush, s.handleAck)))

	// Admin
	admin := s.config.adminToken()
	mux.HandleFunc("GET /toggles/{key}", requireToken(admin, s.withRateLimit("admin", s.config.RateLimitAdmin, s.handleGetToggle)))
	mux.HandleFunc("PUT /toggles/{key}", requireToken(admin, s.withRateLimit("admin", s.config.RateLimitAdmin, s.handlePutToggle)))
	mux.HandleFunc("DELETE /toggles/{key}", requireToken(admin, s.withRateLimit("admin", s.config.RateLimitAdmin, s.handleDeleteToggle)))
	mux.HandleFunc("GET /devices/{id}/overrides", requireToken(admin, s.withRateLimit("admin", s.config.RateLimitAdmin, s.handleDeviceOverrides)))

	return chain(mux, recoveryMiddleware, requestIDMiddleware, loggerMiddleware, metricsMiddleware(s.metrics), loggingMiddleware, maxBytesMiddleware(4<<20))
}

// handleHealth returns a health check response, pinging the server DB.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "detail": "db unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type metricsResponse struct {
	MetricsSnapshot
	Store *serverdb.Stats `json:"store,omitempty"`
}

// handleMetrics returns a snapshot of server metrics and store counts.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	resp := metricsResponse{MetricsSnapshot: s.metrics.Snapshot()}
	if st, err := s.store.Stats(); err == nil {
		resp.Store = &st
	} else {
		logFor(r.Context()).Warn("store stats", "err", err)
	}
	writeJSON(w, http.StatusOK, resp)
}
