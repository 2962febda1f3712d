// Package status serves health probes, the latest light snapshot, the action
// history and a websocket stream of state changes.
package status

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/keylightctl/internal/controller"
	"github.com/dokzlo13/keylightctl/internal/eventbus"
	"github.com/dokzlo13/keylightctl/internal/ledger"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// History provides ledger entries
type History interface {
	Recent(limit int) ([]*ledger.Entry, error)
	ByAction(actionID string) ([]*ledger.Entry, error)
}

// Server is the HTTP status server
type Server struct {
	addr            string
	shutdownTimeout time.Duration
	history         History
	hub             *Hub

	ready atomic.Bool

	mu     sync.RWMutex
	latest *controller.ProcessedEvent

	upgrader websocket.Upgrader
}

// NewServer creates a status server. history may be nil.
func NewServer(addr string, history History, shutdownTimeout time.Duration) *Server {
	return &Server{
		addr:            addr,
		shutdownTimeout: shutdownTimeout,
		history:         history,
		hub:             NewHub(defaultSendBuf, defaultBroadcastBuf),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Subscribe registers the server on the event bus
func (s *Server) Subscribe(bus *eventbus.Bus) {
	bus.Subscribe(eventbus.EventTypeActionProcessed, s.HandleEvent)
	bus.Subscribe(eventbus.EventTypeActionRejected, s.HandleEvent)
}

// HandleEvent records processed actions and forwards events to websocket clients
func (s *Server) HandleEvent(event eventbus.Event) {
	switch payload := event.Payload.(type) {
	case controller.ProcessedEvent:
		s.mu.Lock()
		s.latest = &payload
		s.mu.Unlock()
		s.hub.Broadcast("state", payload)
	case controller.RejectedEvent:
		s.hub.Broadcast("rejected", payload)
	default:
		log.Debug().Str("type", string(event.Type)).Msg("Status server ignoring event")
	}
}

// SetReady flips the /ready probe
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Handler returns the HTTP routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/state", s.handleState)
	mux.HandleFunc("/history", s.handleHistory)
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

// Start runs the hub and the HTTP server until ctx is done
func (s *Server) Start(ctx context.Context) {
	go s.hub.Run(ctx)
	go s.run(ctx)
}

func (s *Server) run(ctx context.Context) {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting status server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Status server shutdown error")
		}
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("Status server error")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write status response")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) latestState() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return map[string]any{"lights": []controller.LightSnapshot{}}
	}
	return s.latest
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.latestState())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "history disabled"})
		return
	}

	if actionID := r.URL.Query().Get("action_id"); actionID != "" {
		s.writeEntries(w, func() ([]*ledger.Entry, error) { return s.history.ByAction(actionID) })
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	s.writeEntries(w, func() ([]*ledger.Entry, error) { return s.history.Recent(limit) })
}

func (s *Server) writeEntries(w http.ResponseWriter, query func() ([]*ledger.Entry, error)) {
	entries, err := query()
	if err != nil {
		log.Error().Err(err).Msg("Failed to read action history")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "history unavailable"})
		return
	}
	if entries == nil {
		entries = []*ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleWS upgrades the connection and sends the latest state as state_init.
// Pumps are not tied to the request context, which ends when the handler returns.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	client := newClient(s.hub, conn, r.RemoteAddr)

	initMsg, err := marshalEnvelope("state_init", s.latestState())
	if err == nil {
		client.send <- initMsg
	}

	if !s.hub.add(client) {
		return
	}
	go client.writePump()
	go client.readPump()
}
