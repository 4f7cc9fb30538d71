// Package server exposes the workboard engines over HTTP/JSON.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/workboard/workboard/internal/claim"
	"github.com/workboard/workboard/internal/lifecycle"
	"github.com/workboard/workboard/internal/types"
)

const maxBodyBytes = 1 << 20

// Server routes HTTP requests to the lifecycle engine and the claim
// coordinator.
type Server struct {
	engine     *lifecycle.Engine
	claims     *claim.Coordinator
	logger     *slog.Logger
	addr       string
	httpServer *http.Server
	listener   net.Listener
	mu         sync.RWMutex
}

// New creates a server. A nil logger uses slog.Default().
func New(engine *lifecycle.Engine, claims *claim.Coordinator, addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{engine: engine, claims: claims, addr: addr, logger: logger}
}

// Handler returns the routed handler wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.Handle("POST /boards", s.authed(s.handleCreateBoard))
	mux.Handle("GET /boards", s.authed(s.handleListBoards))
	mux.Handle("GET /boards/{board}", s.authed(s.handleGetBoard))
	mux.Handle("GET /boards/{board}/columns", s.authed(s.handleColumns))
	mux.Handle("PATCH /boards/{board}/columns/{stage}", s.authed(s.handleSetWIPLimit))

	mux.Handle("GET /boards/{board}/next", s.authed(s.handleNext))
	mux.Handle("POST /boards/{board}/claim", s.authed(s.handleClaim))

	mux.Handle("POST /boards/{board}/tasks", s.authed(s.handleCreate))
	mux.Handle("GET /boards/{board}/tasks/{identifier}", s.authed(s.handleShow))
	mux.Handle("DELETE /boards/{board}/tasks/{identifier}", s.authed(s.handleDelete))
	mux.Handle("POST /boards/{board}/tasks/{identifier}/unclaim", s.authed(s.handleUnclaim))
	mux.Handle("PATCH /boards/{board}/tasks/{identifier}/complete", s.authed(s.handleComplete))
	mux.Handle("PATCH /boards/{board}/tasks/{identifier}/review", s.authed(s.handleSetReviewStatus))
	mux.Handle("PATCH /boards/{board}/tasks/{identifier}/mark_reviewed", s.authed(s.handleMarkReviewed))
	mux.Handle("PATCH /boards/{board}/tasks/{identifier}/move", s.authed(s.handleMove))
	mux.Handle("PATCH /boards/{board}/tasks/{identifier}/dependencies", s.authed(s.handleUpdateDependencies))
	mux.Handle("GET /boards/{board}/tasks/{identifier}/dependencies", s.authed(s.handleDependencies))
	mux.Handle("GET /boards/{board}/tasks/{identifier}/dependents", s.authed(s.handleDependents))
	mux.Handle("GET /boards/{board}/tasks/{identifier}/history", s.authed(s.handleHistory))

	return s.logRequests(mux)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.mu.Lock()
	s.listener = ln
	s.httpServer = srv
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("workboard server listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the address the server is listening on
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// requestFunc is a handler that already knows who is asking.
type requestFunc func(w http.ResponseWriter, r *http.Request, req types.Requester)

func (s *Server) authed(fn requestFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := requesterFrom(r)
		if err != nil {
			WriteJSONError(w, err)
			return
		}
		fn(w, r, req)
	})
}

// fail writes err and logs it when it is not a structured engine error.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if _, ok := types.AsError(err); !ok {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	WriteJSONError(w, err)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// boardID parses the {board} path value. A malformed id cannot name a
// board, so it is reported as not found.
func boardID(r *http.Request) (int64, error) {
	raw := r.PathValue("board")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, types.NewNotFound("board %q not found", raw)
	}
	return id, nil
}

func recursive(r *http.Request) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get("recursive"))
	return v
}
