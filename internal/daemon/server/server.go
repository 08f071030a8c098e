// Package server provides the HTTP and WebSocket front ends for the relay
// daemon. The HTTP API serves snapshots, session introspection, and the
// command allowlist; the WebSocket endpoint carries the real-time state
// stream and command requests.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/grovetools/relay/config"
	"github.com/grovetools/relay/internal/daemon/broadcast"
	"github.com/grovetools/relay/internal/daemon/gateway"
	"github.com/grovetools/relay/internal/daemon/registry"
	"github.com/grovetools/relay/internal/daemon/store"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// RunningConfig is exposed via /api/config so clients can verify what
// configuration the daemon is actually using.
type RunningConfig struct {
	HTTPPort       int       `json:"http_port"`
	WebSocketPort  int       `json:"websocket_port"`
	MaxConnections int       `json:"max_connections"`
	StartedAt      time.Time `json:"started_at"`
}

// Server manages the daemon's two listeners.
type Server struct {
	cfg      *config.Config
	store    *store.Store
	sessions *registry.Registry
	bcast    *broadcast.Broadcaster
	gateway  *gateway.Gateway
	logger   *logrus.Entry

	startedAt time.Time
	apiServer *http.Server
	wsServer  *http.Server
}

// New creates a server over the assembled daemon components.
func New(cfg *config.Config, st *store.Store, sessions *registry.Registry, bcast *broadcast.Broadcaster, gw *gateway.Gateway, logger *logrus.Entry) *Server {
	return &Server{
		cfg:      cfg,
		store:    st,
		sessions: sessions,
		bcast:    bcast,
		gateway:  gw,
		logger:   logger,
	}
}

// ListenAndServe starts the API and WebSocket listeners. It blocks until the
// API server stops or either listener fails.
func (s *Server) ListenAndServe() error {
	s.startedAt = time.Now()

	s.apiServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.HTTPPort),
		Handler: h2c.NewHandler(s.Handler(), &http2.Server{}),
	}

	wsMux := http.NewServeMux()
	wsMux.HandleFunc("/ws", s.handleWebSocket)
	s.wsServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.ResolvedWebSocketPort()),
		Handler: wsMux,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("port", s.cfg.ResolvedWebSocketPort()).Info("WebSocket listener starting")
		if err := s.wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("websocket listener: %w", err)
		}
	}()

	s.logger.WithField("port", s.cfg.HTTPPort).Info("API listener starting")
	err := s.apiServer.ListenAndServe()
	if err == http.ErrServerClosed {
		err = nil
	}

	select {
	case wsErr := <-errCh:
		if err == nil {
			err = wsErr
		}
	default:
	}
	return err
}

// Shutdown gracefully stops both listeners.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")
	var firstErr error
	if s.wsServer != nil {
		if err := s.wsServer.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.apiServer != nil {
		if err := s.apiServer.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Handler builds the API handler with CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/commands", s.handleCommands)
	mux.HandleFunc("/api/resync", s.handleResync)
	mux.HandleFunc("/api/config", s.handleConfig)
	return s.corsMiddleware(mux)
}

// WebSocketHandler returns the /ws handler, for tests.
func (s *Server) WebSocketHandler() http.Handler {
	return http.HandlerFunc(s.handleWebSocket)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.EnableCORS {
			origin := r.Header.Get("Origin")
			if origin != "" && s.originAllowed(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// handleState serves the current snapshot on GET and applies a patch on
// POST. The patch body is schema-validated before it reaches the store.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, s.store.Snapshot())

	case http.MethodPost:
		patch, err := decodePatchRequest(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		version, err := s.store.Apply(patch)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]uint64{"version": version})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleSessions returns the active sessions as read-only snapshots.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.sessions.List()
	infos := make([]registry.Info, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, sess.Info())
	}
	writeJSON(w, map[string]any{
		"count":    len(infos),
		"sessions": infos,
	})
}

// handleCommands returns the allowlist grouped by namespace.
func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"commands": s.gateway.AllowedCommands(),
		"groups":   s.gateway.GroupedCommands(),
	})
}

// handleResync forces an immediate full-snapshot broadcast to every session.
func (s *Server) handleResync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.bcast.BroadcastFullState()
	s.logger.Info("Full resync requested")
	writeJSON(w, map[string]int{"sessions": s.sessions.Count()})
}

// handleConfig returns the running configuration.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, RunningConfig{
		HTTPPort:       s.cfg.HTTPPort,
		WebSocketPort:  s.cfg.ResolvedWebSocketPort(),
		MaxConnections: s.cfg.MaxConnections,
		StartedAt:      s.startedAt,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
