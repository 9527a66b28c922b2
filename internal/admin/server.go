// Package admin serves the daemon's control API over its Unix domain
// socket. bridgectl is the only intended client.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/pushbridge/pushbridge/internal/dispatch"
	"github.com/pushbridge/pushbridge/internal/outqueue"
	"github.com/pushbridge/pushbridge/internal/pending"
	"github.com/pushbridge/pushbridge/internal/refresh"
	"github.com/pushbridge/pushbridge/internal/sender"
	"github.com/pushbridge/pushbridge/internal/status"
	"github.com/pushbridge/pushbridge/internal/store"
	"go.uber.org/zap"
)

// Handler implements the control API routes.
type Handler struct {
	profile   string
	machine   *status.Machine
	dispatch  *dispatch.Service
	pending   *pending.Queue
	queue     *outqueue.Queue
	db        *store.DB
	refresher *refresh.Refresher
	logger    *zap.Logger
}

// NewHandler creates the route handler.
func NewHandler(
	profile string,
	m *status.Machine,
	d *dispatch.Service,
	p *pending.Queue,
	q *outqueue.Queue,
	db *store.DB,
	r *refresh.Refresher,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		profile:   profile,
		machine:   m,
		dispatch:  d,
		pending:   p,
		queue:     q,
		db:        db,
		refresher: r,
		logger:    logger,
	}
}

// Router builds the chi router for the control API.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", h.handleStatus)
		r.Post("/messages", h.handleSendMessage)
		r.Get("/pending", h.handleListPending)
		r.Post("/pending/{id}/approve", h.handleApprove)
		r.Post("/pending/{id}/discard", h.handleDiscard)
		r.Post("/directory/refresh", h.handleRefresh)
	})
	return r
}

// StatusResponse is the /v1/status payload.
type StatusResponse struct {
	Profile       string `json:"profile"`
	State         string `json:"state"`
	PendingCount  int64  `json:"pending_count"`
	QueueDepth    int    `json:"queue_depth"`
	DirectorySize int64  `json:"directory_size"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	pendingCount, err := h.pending.Count()
	if err != nil {
		h.serverError(w, "count pending", err)
		return
	}
	dirCount, err := h.db.DirectoryCount()
	if err != nil {
		h.serverError(w, "count directory", err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		Profile:       h.profile,
		State:         string(h.machine.Current()),
		PendingCount:  pendingCount,
		QueueDepth:    h.queue.Len(),
		DirectorySize: dirCount,
	})
}

// SendMessageRequest is the /v1/messages payload.
type SendMessageRequest struct {
	Destinations []string `json:"destinations"`
	Body         string   `json:"body"`
}

// SendMessageResponse acknowledges an accepted message.
type SendMessageResponse struct {
	Timestamp int64 `json:"timestamp"`
}

// handleSendMessage captures the message and returns immediately; delivery
// happens on the send worker. Destination validation failures surface
// through the message.send_failed event, not this response.
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Body == "" {
		writeError(w, http.StatusBadRequest, "body is required")
		return
	}
	if len(req.Destinations) == 0 {
		writeError(w, http.StatusBadRequest, "destinations is required")
		return
	}

	timestamp := time.Now().UnixMilli()
	msg := sender.NewOutgoingMessage(req.Destinations, req.Body, timestamp, nil)
	h.dispatch.SubmitSend(msg)
	writeJSON(w, http.StatusAccepted, SendMessageResponse{Timestamp: timestamp})
}

func (h *Handler) handleListPending(w http.ResponseWriter, _ *http.Request) {
	entries, err := h.pending.List()
	if err != nil {
		h.serverError(w, "list pending", err)
		return
	}
	if entries == nil {
		entries = []pending.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.pending.Get(id); err != nil {
		if errors.Is(err, pending.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no such approval")
			return
		}
		h.serverError(w, "load approval", err)
		return
	}
	if err := h.dispatch.Replay(id); err != nil {
		h.serverError(w, "schedule replay", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleDiscard(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.dispatch.Discard(id); err != nil {
		if errors.Is(err, pending.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no such approval")
			return
		}
		h.serverError(w, "discard approval", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	h.refresher.TriggerNow()
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) serverError(w http.ResponseWriter, what string, err error) {
	h.logger.Error("admin request failed", zap.String("op", what), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// Server manages the HTTP server lifecycle on the profile's Unix socket.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
}

// NewServer creates a control API server bound to the profile's Unix domain
// socket.
func NewServer(socketPath string, handler *Handler, logger *zap.Logger) (*Server, error) {
	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}

	// Set socket permissions to 0600.
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	return &Server{
		httpServer: &http.Server{Handler: handler.Router()},
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
	}, nil
}

// Start begins serving requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("control API starting", zap.String("socket", s.socketPath))
	err := s.httpServer.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop performs a graceful shutdown and removes the socket file.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("control API stopping")
	_ = s.httpServer.Shutdown(ctx)
	_ = os.Remove(s.socketPath)
}
