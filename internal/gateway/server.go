// Package gateway exposes the task API over HTTP: submission, queue
// callbacks, status, listing, and cancellation.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/calliope-studio/calliope/internal/dispatch"
	"github.com/calliope-studio/calliope/internal/events"
	"github.com/calliope-studio/calliope/internal/queue"
	"github.com/calliope-studio/calliope/internal/tasks"
)

// StatsProvider supplies the /api/stats payload.
type StatsProvider interface {
	Snapshot() any
}

// Server is the Calliope gateway HTTP server.
type Server struct {
	httpServer *http.Server
	bus        *events.Bus
	store      tasks.Store
	dispatcher *dispatch.Dispatcher
	executor   *tasks.Executor
	verifier   *queue.Verifier
	stats      StatsProvider
	host       string
	port       int
}

// ServerConfig holds gateway wiring.
type ServerConfig struct {
	Bus        *events.Bus
	Store      tasks.Store
	Dispatcher *dispatch.Dispatcher
	Executor   *tasks.Executor
	// Verifier guards the queue callback endpoint. When nil the endpoint
	// rejects every delivery, which is correct without a configured queue.
	Verifier *queue.Verifier
	Stats    StatsProvider
	Host     string
	Port     int
}

// NewServer creates a new gateway server.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		bus:        cfg.Bus,
		store:      cfg.Store,
		dispatcher: cfg.Dispatcher,
		executor:   cfg.Executor,
		verifier:   cfg.Verifier,
		stats:      cfg.Stats,
		host:       cfg.Host,
		port:       cfg.Port,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/events", s.handleEvents)
	r.Get("/api/stats", s.handleStats)

	r.Post("/api/tasks", s.handleCreateTask)
	r.Post("/api/tasks/process", s.handleProcessTask)
	r.Get("/api/tasks/{taskID}", s.handleGetTask)
	r.Post("/api/tasks/{taskID}/cancel", s.handleCancelTask)
	r.Get("/api/brands/{brandID}/tasks", s.handleListBrandTasks)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: r,
	}

	return s
}

// Handler returns the underlying HTTP handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening. It blocks until the server is stopped.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	slog.Info("Calliope gateway listening", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		fmt.Sscanf(limitStr, "%d", &limit)
	}

	history := s.bus.History(limit)

	type eventJSON struct {
		ID        string             `json:"id"`
		TaskID    string             `json:"task_id,omitempty"`
		Type      string             `json:"type"`
		Timestamp string             `json:"timestamp"`
		Source    events.EventSource `json:"source"`
		Payload   map[string]any     `json:"payload"`
	}

	result := make([]eventJSON, len(history))
	for i, e := range history {
		result[i] = eventJSON{
			ID:        e.ID,
			TaskID:    e.TaskID,
			Type:      string(e.Type),
			Timestamp: e.Timestamp.Format(time.RFC3339Nano),
			Source:    e.Source,
			Payload:   e.Payload,
		}
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, s.stats.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
