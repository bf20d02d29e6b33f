// Package api serves the HTTP control surface of a session: context and
// player queries, process group control, the decision backend switch,
// health checks, log buffers, popups, the event archive and a websocket
// event stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/dyluth/boardlink/internal/session"
)

// Server exposes one session over HTTP.
type Server struct {
	sess   *session.Session
	server *http.Server
	ln     net.Listener
}

// NewServer creates a server for sess. Nothing listens until Start.
func NewServer(sess *session.Session) *Server {
	return &Server{sess: sess}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleLiveness)

	mux.HandleFunc("GET /api/context", s.handleContext)
	mux.HandleFunc("GET /api/players", s.handleGetPlayers)
	mux.HandleFunc("POST /api/players", s.handleUpdatePlayer)

	mux.HandleFunc("POST /api/process/start", s.handleProcessStart)
	mux.HandleFunc("DELETE /api/process/stop", s.handleProcessStop)
	mux.HandleFunc("GET /api/process/status", s.handleProcessStatus)
	mux.HandleFunc("POST /api/restart", s.handleRestart)

	mux.HandleFunc("GET /api/decision", s.handleDecisionStatus)
	mux.HandleFunc("POST /api/decision", s.handleDecisionToggle)
	mux.HandleFunc("POST /api/popups", s.handleCreatePopup)
	mux.HandleFunc("GET /api/popups/{id}", s.handleGetPopup)

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/health/check", s.handleHealthCheck)

	mux.HandleFunc("GET /api/terminal", s.handleTerminal)
	mux.HandleFunc("GET /api/logs", s.handleLogs)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/events/ws", s.handleEventStream)

	return mux
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.ln = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[ERROR] [API] Server error: %v", err)
		}
	}()

	log.Printf("[INFO] [API] Listening on %s", ln.Addr())
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func decodeJSON(body io.Reader, dest any) error {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// decodeOptionalJSON accepts an empty body as the zero value.
func decodeOptionalJSON(body io.Reader, dest any) error {
	err := decodeJSON(body, dest)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func parseInt(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
