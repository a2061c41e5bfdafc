package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/calliope-studio/calliope/internal/dispatch"
	"github.com/calliope-studio/calliope/internal/events"
	"github.com/calliope-studio/calliope/internal/queue"
	"github.com/calliope-studio/calliope/internal/tasks"
)

// userHeader carries the authenticated submitter identity, injected by the
// upstream auth proxy.
const userHeader = "X-User-ID"

// maxBodySize bounds request bodies on the task endpoints.
const maxBodySize = 1 << 20

type createTaskRequest struct {
	Kind    tasks.Kind      `json:"type"`
	BrandID string          `json:"brandId,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userHeader)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing "+userHeader+" header")
		return
	}

	var req createTaskRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	t := &tasks.Task{
		UserID:  userID,
		BrandID: req.BrandID,
		Kind:    req.Kind,
		Payload: req.Payload,
	}

	if err := s.dispatcher.Submit(r.Context(), t); err != nil {
		s.writeTaskError(w, err)
		return
	}

	// Accepted: the work happens after this response.
	writeJSON(w, http.StatusAccepted, map[string]string{"taskId": t.ID})
}

func (s *Server) handleProcessTask(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	if s.verifier == nil {
		writeError(w, http.StatusUnauthorized, "queue deliveries are not enabled")
		return
	}
	if err := s.verifier.Verify(body, r.Header.Get(queue.SignatureHeader)); err != nil {
		slog.Warn("rejected unsigned queue delivery", "remote", r.RemoteAddr)
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var msg queue.TaskMessage
	if err := json.Unmarshal(body, &msg); err != nil || msg.TaskID == "" {
		writeError(w, http.StatusBadRequest, "invalid queue message")
		return
	}

	// A non-2xx response makes the queue redeliver, so only genuine
	// execution failures may error here. Duplicate deliveries of finished
	// tasks return nil from the executor.
	if err := s.executor.Execute(r.Context(), msg.TaskID); err != nil {
		if errors.Is(err, tasks.ErrNotFound) {
			// Nothing to retry against.
			writeError(w, http.StatusNotFound, "unknown task "+msg.TaskID)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"taskId": msg.TaskID, "status": "processed"})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userHeader)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing "+userHeader+" header")
		return
	}

	t, err := s.store.Get(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		s.writeTaskError(w, err)
		return
	}
	if t.UserID != userID {
		s.writeTaskError(w, tasks.ErrNotOwner)
		return
	}

	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleListBrandTasks(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userHeader)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing "+userHeader+" header")
		return
	}

	list, err := s.store.ListByBrand(r.Context(), chi.URLParam(r, "brandID"))
	if err != nil {
		s.writeTaskError(w, err)
		return
	}

	// Brand membership is enforced upstream; the ownership filter here keeps
	// one user's tasks out of another's listing regardless.
	owned := make([]*tasks.Task, 0, len(list))
	for _, t := range list {
		if t.UserID == userID {
			owned = append(owned, t)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"tasks": owned})
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userHeader)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing "+userHeader+" header")
		return
	}

	taskID := chi.URLParam(r, "taskID")
	t, err := s.store.Get(r.Context(), taskID)
	if err != nil {
		s.writeTaskError(w, err)
		return
	}
	if t.UserID != userID {
		s.writeTaskError(w, tasks.ErrNotOwner)
		return
	}

	now := time.Now().UTC()
	err = s.store.UpdateStatus(r.Context(), taskID, tasks.StatusCancelled, tasks.StatusUpdate{
		CompletedAt: &now,
	})
	if err != nil {
		if errors.Is(err, tasks.ErrStaleTransition) {
			writeError(w, http.StatusConflict,
				fmt.Sprintf("task %s is already %s", taskID, t.Status))
			return
		}
		s.writeTaskError(w, err)
		return
	}

	if s.bus != nil {
		s.bus.Publish(events.NewTypedEventForTask(events.SourceGateway, events.TaskCancelledPayload{
			TaskID: taskID,
			UserID: userID,
		}, taskID))
	}

	writeJSON(w, http.StatusOK, map[string]string{"taskId": taskID, "status": string(tasks.StatusCancelled)})
}

// writeTaskError maps domain errors to HTTP statuses.
func (s *Server) writeTaskError(w http.ResponseWriter, err error) {
	var ve *tasks.ValidationError
	var rl *dispatch.RateLimitedError

	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Error())
	case errors.As(err, &rl):
		w.Header().Set("Retry-After", strconv.Itoa(int(rl.RetryAfter.Seconds()+0.5)))
		writeError(w, http.StatusTooManyRequests, rl.Error())
	case errors.Is(err, tasks.ErrNotFound):
		writeError(w, http.StatusNotFound, "task not found")
	case errors.Is(err, tasks.ErrNotOwner):
		writeError(w, http.StatusForbidden, "task belongs to another user")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
