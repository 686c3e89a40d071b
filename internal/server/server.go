// Package server exposes relay over HTTP: REST endpoints for sessions,
// history and message submission, a webhook for externally written
// messages, and a websocket endpoint for push delivery.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"

	"github.com/guilhermegouw/relay/internal/catalog"
	"github.com/guilhermegouw/relay/internal/config"
	"github.com/guilhermegouw/relay/internal/live"
	"github.com/guilhermegouw/relay/internal/processor"
	"github.com/guilhermegouw/relay/internal/pubsub"
	"github.com/guilhermegouw/relay/internal/registry"
	"github.com/guilhermegouw/relay/internal/store"
	"github.com/guilhermegouw/relay/internal/worker"
)

// Jobs accepts processing jobs. worker.Pool satisfies it.
type Jobs interface {
	Submit(job processor.Job) error
	Stats() worker.Stats
}

// Deps are the collaborators a Server needs.
type Deps struct {
	Store        *store.Gateway
	Catalog      *catalog.Catalog
	Jobs         Jobs
	Conns        *registry.Registry
	Hub          *pubsub.Hub
	DefaultModel string
	Version      string
}

// Server serves the relay API.
type Server struct {
	store        *store.Gateway
	catalog      *catalog.Catalog
	jobs         Jobs
	conns        *registry.Registry
	hub          *pubsub.Hub
	defaultModel string
	version      string

	cfg      config.ServerConfig
	upgrader *websocket.Upgrader
	logger   *slog.Logger

	// ctx bounds hijacked websocket connections, which http.Server.Shutdown
	// does not track.
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a server.
func New(deps Deps, cfg config.ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Conns == nil {
		deps.Conns = registry.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		store:        deps.Store,
		catalog:      deps.Catalog,
		jobs:         deps.Jobs,
		conns:        deps.Conns,
		hub:          deps.Hub,
		defaultModel: deps.DefaultModel,
		version:      deps.Version,
		cfg:          cfg,
		upgrader:     live.NewUpgrader(cfg.AllowedOrigins),
		logger:       logger.With("component", "server"),
		ctx:          ctx,
		cancel:       cancel,
	}
	if s.hub != nil {
		go s.watchSessions(s.hub.Session.Subscribe(ctx))
	}
	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /models", s.handleModels)
	mux.HandleFunc("GET /sessions", s.handleListSessions)
	mux.HandleFunc("POST /sessions", s.handleCreateSession)
	mux.HandleFunc("GET /session/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /session/{id}", s.handleDeleteSession)
	mux.HandleFunc("POST /session/{id}/change-model", s.handleChangeModel)
	mux.HandleFunc("GET /history/{id}", s.handleHistory)
	mux.HandleFunc("POST /send-message", s.handleSendMessage)
	mux.HandleFunc("POST /process-message", s.handleProcessMessage)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /ws/{id}", s.handleWebsocket)
	return s.cors(s.logRequests(mux))
}

// ListenAndServe serves on cfg.Addr until ctx is done, then shuts down
// gracefully within cfg.ShutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.cancel()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving http: %w", err)
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout.Std()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

// Close ends all live connections.
func (s *Server) Close() {
	s.cancel()
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (len(s.cfg.AllowedOrigins) == 0 || slices.Contains(s.cfg.AllowedOrigins, origin)) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"took", time.Since(started))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
