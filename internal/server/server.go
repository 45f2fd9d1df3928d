// Package server provides the optional HTTP status server: health, live
// pipeline counters, the run log and a websocket feed of sent lines.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/ayusman/tipstream/internal/server/api"
	"github.com/ayusman/tipstream/internal/store"
	"github.com/ayusman/tipstream/internal/tracking"
)

// StatsSource reports live pipeline counters.
type StatsSource interface {
	Stats() tracking.Stats
}

// Config holds the server configuration.
type Config struct {
	Store *store.Store
	// Pipeline and RunID feed /api/status.
	Pipeline  StatsSource
	RunID     string
	Transport string
	// Live feeds /api/live.
	Live *LiveFeed
	// ValidateSetting checks settings written through the API.
	ValidateSetting api.Validator
}

// Server represents the HTTP server.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if s.config.Pipeline != nil {
		s.mux.HandleFunc("/api/status", s.handleStatus)
	}

	if s.config.Store != nil {
		runs := api.NewRunsHandler(s.config.Store)
		s.mux.Handle("/api/runs", runs)
		s.mux.Handle("/api/runs/", runs)

		settings := api.NewSettingsHandler(s.config.Store, s.config.ValidateSetting)
		s.mux.Handle("/api/settings", settings)
		s.mux.Handle("/api/settings/", settings)
	}

	if s.config.Live != nil {
		s.mux.Handle("/api/live", s.config.Live)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(s.start)

	response := map[string]interface{}{
		"status": "ok",
		"uptime": uptime.String(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

type statusResponse struct {
	RunID     string         `json:"run_id,omitempty"`
	Transport string         `json:"transport,omitempty"`
	Uptime    string         `json:"uptime"`
	Clients   int            `json:"live_clients"`
	Stats     tracking.Stats `json:"stats"`
}

// handleStatus handles GET requests to /api/status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := statusResponse{
		RunID:     s.config.RunID,
		Transport: s.config.Transport,
		Uptime:    time.Since(s.start).String(),
		Stats:     s.config.Pipeline.Stats(),
	}
	if s.config.Live != nil {
		response.Clients = s.config.Live.Clients()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// shutdownTimeout bounds graceful shutdown in Serve.
const shutdownTimeout = 2 * time.Second

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
// Live feed clients are disconnected on shutdown.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	hs := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if s.config.Live != nil {
		hs.RegisterOnShutdown(s.config.Live.Close)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- hs.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := hs.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
