// Package gateway serves the local ops API: session inspection over HTTP
// and a WebSocket feed of run/session lifecycle events.
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/porter/internal/bus"
	"github.com/nextlevelbuilder/porter/internal/config"
	"github.com/nextlevelbuilder/porter/internal/sessions"
	"github.com/nextlevelbuilder/porter/internal/store"
	"github.com/nextlevelbuilder/porter/pkg/protocol"
)

// Server is the ops gateway handling HTTP and WebSocket connections.
type Server struct {
	cfg      *config.Config
	events   bus.EventPublisher
	sessions store.SessionStore
	resolver *sessions.Resolver
	version  string
	started  time.Time

	upgrader websocket.Upgrader
	clients  map[string]*wsClient
	mu       sync.RWMutex

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates the ops gateway server.
func NewServer(cfg *config.Config, events bus.EventPublisher, sess store.SessionStore, resolver *sessions.Resolver, version string) *Server {
	s := &Server{
		cfg:      cfg,
		events:   events,
		sessions: sess,
		resolver: resolver,
		version:  version,
		started:  time.Now(),
		clients:  make(map[string]*wsClient),
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	return s
}

// checkOrigin validates WebSocket connection origin against the allowed
// origins whitelist. No configured origins = allow all (dev mode). Empty
// Origin header (non-browser clients like CLI/SDK) is always allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.Gateway.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	slog.Warn("websocket origin rejected", "origin", origin)
	return false
}

// BuildMux creates and caches the HTTP mux with all routes registered.
// Call this before Start() if the mux is needed for additional listeners
// (e.g. Tailscale).
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}

	mux := http.NewServeMux()
	mux.HandleFunc(protocol.PathHealth, s.handleHealth)
	mux.HandleFunc(protocol.PathSessions, s.withAuth(s.handleSessions))
	mux.HandleFunc(protocol.PathSessions+"/", s.withAuth(s.handleSessionDelete))
	mux.HandleFunc(protocol.PathEvents, s.withAuth(s.handleEvents))

	s.mux = mux
	return mux
}

// Start begins serving and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()

	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	slog.Info("ops gateway starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("ops gateway: %w", err)
	}
	return nil
}

// withAuth guards a handler with the configured bearer token. An empty
// token disables auth (the default bind is loopback-only). WebSocket
// clients may pass the token as a query parameter since browsers cannot
// set headers on the upgrade request.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := s.cfg.Gateway.Token
		if token == "" {
			next(w, r)
			return
		}
		got := r.URL.Query().Get("token")
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			got = strings.TrimPrefix(h, "Bearer ")
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, protocol.HealthResponse{
		Status:   "ok",
		Version:  s.version,
		Sessions: s.sessions.Len(),
		Uptime:   time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	entries := s.sessions.List()
	views := make([]protocol.SessionView, 0, len(entries))
	for _, e := range entries {
		views = append(views, protocol.SessionView{UserID: e.UserID, ThreadID: e.ThreadID})
	}
	writeJSON(w, http.StatusOK, protocol.SessionListResponse{Sessions: views, Total: len(views)})
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	userID := strings.TrimPrefix(r.URL.Path, protocol.PathSessions+"/")
	if userID == "" || strings.Contains(userID, "/") {
		writeError(w, http.StatusBadRequest, "missing user id")
		return
	}

	threadID, ok := s.sessions.Get(userID)
	if !ok {
		writeError(w, http.StatusNotFound, "no session for user")
		return
	}

	s.resolver.Invalidate(r.Context(), userID, threadID)
	s.events.Broadcast(bus.Event{
		Name:    protocol.EventSessionInvalidated,
		Payload: protocol.SessionPayload{UserID: userID, ThreadID: threadID},
	})
	w.WriteHeader(http.StatusNoContent)
}

// handleEvents upgrades to WebSocket and streams lifecycle events until the
// client goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	client := newWSClient(conn)
	s.registerClient(client)

	defer func() {
		s.unregisterClient(client)
		client.Close()
	}()

	client.Run()
}

func (s *Server) registerClient(c *wsClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.id] = c

	s.events.Subscribe(c.id, func(event bus.Event) {
		c.Send(protocol.Envelope{
			Event:   event.Name,
			Time:    time.Now().UTC(),
			Payload: event.Payload,
		})
	})

	slog.Info("ops client connected", "id", c.id)
}

func (s *Server) unregisterClient(c *wsClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c.id)
	s.events.Unsubscribe(c.id)
	slog.Info("ops client disconnected", "id", c.id)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, protocol.ErrorResponse{Error: msg})
}
