// Package api is the operator HTTP surface of a gateway: it starts
// transfers, lists and aborts sessions, and serves metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"Ferry/internal/gateway"
	"Ferry/internal/journal"
	"Ferry/internal/logger"
	"Ferry/internal/protocol"
	"Ferry/internal/session"
)

const (
	// maxBodySize is the maximum request body size in bytes.
	maxBodySize = 64 << 10 // 64 KB
)

// Transfers starts, inspects and aborts sessions.
type Transfers interface {
	Start(ctx context.Context, req gateway.TransferRequest) (*session.Session, error)
	Session(id string) (*session.Session, error)
	Sessions() []*session.Session
	Abort(ctx context.Context, id string) (*session.Session, error)
}

// SessionLog reads the durable entries of a session.
type SessionLog interface {
	Entries(sessionID string) ([]journal.Entry, error)
}

// Config holds the server dependencies.
type Config struct {
	Addr      string       // Addr is the HTTP listen address
	Transfers Transfers    // Transfers is the gateway state machine
	Log       SessionLog   // Log is the session journal
	Metrics   http.Handler // Metrics serves GET /metrics; nil disables it
	Logger    *slog.Logger // Logger may be nil
}

// Server is the HTTP API server.
type Server struct {
	addr      string       // addr is the HTTP listen address
	transfers Transfers    // transfers runs the state machine
	journal   SessionLog   // journal reads session logs
	metrics   http.Handler // metrics serves the Prometheus exposition
	log       *slog.Logger
	server    *http.Server // server is the underlying HTTP server
	listener  net.Listener // listener is bound by Start
}

// New creates a new HTTP API server.
func New(cfg Config) *Server {
	return &Server{
		addr:      cfg.Addr,
		transfers: cfg.Transfers,
		journal:   cfg.Log,
		metrics:   cfg.Metrics,
		log:       logger.OrDiscard(cfg.Logger),
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /transfers", s.handleStartTransfer)
	mux.HandleFunc("GET /sessions", s.handleListSessions)
	mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	mux.HandleFunc("GET /sessions/{id}/log", s.handleSessionLog)
	mux.HandleFunc("POST /sessions/{id}/abort", s.handleAbort)
	mux.HandleFunc("GET /health", s.handleHealth)

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	return mux
}

// Start binds the listen address and serves in a goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s:\n%w", s.addr, err)
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		s.log.Info("http api started", "addr", ln.Addr().String())

		if err := s.server.Serve(ln); err != http.ErrServerClosed {
			s.log.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// handleStartTransfer handles POST /transfers requests.
func (s *Server) handleStartTransfer(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	req, err := parseTransfer(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid transfer: %v", err))
		return
	}

	sess, err := s.transfers.Start(r.Context(), req)
	if err != nil {
		s.log.Warn("transfer not started",
			"asset", req.AssetRef,
			"ledger", req.RecipientLedger,
			"error", err,
		)
		writeError(w, statusOf(err), err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, sess)
}

// handleListSessions handles GET /sessions requests. The optional
// ?open=true filter keeps only sessions that are not yet terminal.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	all := s.transfers.Sessions()
	openOnly := r.URL.Query().Get("open") == "true"

	out := make([]*session.Session, 0, len(all))
	for _, sess := range all {
		if openOnly && sess.Terminal() {
			continue
		}
		out = append(out, sess)
	}

	writeJSON(w, http.StatusOK, out)
}

// handleGetSession handles GET /sessions/{id} requests.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.transfers.Session(r.PathValue("id"))
	if err != nil {
		writeError(w, statusOf(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

// handleSessionLog handles GET /sessions/{id}/log requests.
func (s *Server) handleSessionLog(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	entries, err := s.journal.Entries(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if len(entries) == 0 {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	writeJSON(w, http.StatusOK, entries)
}

// handleAbort handles POST /sessions/{id}/abort requests.
func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	sess, err := s.transfers.Abort(r.Context(), id)
	if err != nil {
		writeError(w, statusOf(err), err.Error())
		return
	}

	s.log.Info("session aborted by operator",
		"session", id,
		"remote", r.RemoteAddr,
	)

	writeJSON(w, http.StatusOK, sess)
}

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	open := 0
	for _, sess := range s.transfers.Sessions() {
		if !sess.Terminal() {
			open++
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"open_sessions": open,
	})
}

// statusOf maps state machine errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, protocol.ErrUnknownSession):
		return http.StatusNotFound
	case errors.Is(err, protocol.ErrSessionClosed):
		return http.StatusConflict
	case errors.Is(err, gateway.ErrUnroutable):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
