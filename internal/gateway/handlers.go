package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/dyluth/lockstep/internal/puzzle"
	"github.com/dyluth/lockstep/internal/session"
	"github.com/dyluth/lockstep/pkg/blackboard"
	json "github.com/goccy/go-json"
)

// HealthResponse is the JSON response structure for health checks.
type HealthResponse struct {
	Status string `json:"status"`
	Redis  string `json:"redis,omitempty"`
	Error  string `json:"error,omitempty"`
}

// StatusResponse summarises the running instance.
type StatusResponse struct {
	Instance       string `json:"instance"`
	ActiveSessions int    `json:"active_sessions"`
}

// CreateRequest opens a session.
type CreateRequest struct {
	Participants []string `json:"participants"`
	Graph        string   `json:"graph"`
}

// CreateResponse is returned with 201 Created.
type CreateResponse struct {
	SessionID string `json:"session_id"`
}

// CommandRequest submits one chat message.
// Timestamp is the client's send time (RFC3339); it is recorded with the
// command but never changes its queue position. Absent means now.
type CommandRequest struct {
	ParticipantID string     `json:"participant_id"`
	Text          string     `json:"text"`
	Timestamp     *time.Time `json:"timestamp,omitempty"`
}

// CommandResponse acknowledges admission. Result is only set when the caller
// asked to wait for processing.
type CommandResponse struct {
	SessionID string         `json:"session_id"`
	Position  int            `json:"position"`
	Result    *CommandOutput `json:"result,omitempty"`
}

// CommandOutput is the processed outcome of a command.
type CommandOutput struct {
	Kind          string `json:"kind"`
	Intent        string `json:"intent,omitempty"`
	Narration     string `json:"narration,omitempty"`
	Clarification string `json:"clarification,omitempty"`
	Reason        string `json:"reason,omitempty"`
	Degraded      bool   `json:"degraded,omitempty"`
	Status        string `json:"status"`
	Error         string `json:"error,omitempty"`
}

// EndRequest ends a session. Status defaults to abandoned.
type EndRequest struct {
	Status string `json:"status,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// SnapshotResponse is the public view of a session.
type SnapshotResponse struct {
	SessionID    string              `json:"session_id"`
	GraphID      string              `json:"graph_id"`
	GraphVersion int                 `json:"graph_version"`
	Participants []string            `json:"participants"`
	Status       string              `json:"status"`
	EndReason    string              `json:"end_reason,omitempty"`
	Location     string              `json:"location,omitempty"`
	Disposition  string              `json:"disposition,omitempty"`
	Inventory    map[string][]string `json:"inventory,omitempty"`
	Unlocked     []string            `json:"unlocked,omitempty"`
	Solved       []string            `json:"solved,omitempty"`
	Commands     int                 `json:"commands"`
	CreatedAt    time.Time           `json:"created_at"`
	LastActivity time.Time           `json:"last_activity"`
}

// ErrorResponse carries a machine-readable reason next to the message.
type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// handleHealth returns 200 OK if Redis is accessible, 503 Service Unavailable otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.backend.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status: "unhealthy",
			Redis:  "disconnected",
			Error:  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Redis: "connected"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Instance:       s.backend.InstanceName(),
		ActiveSessions: s.sessions.ActiveCount(),
	})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Graph == "" {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("graph is required"))
		return
	}
	if err := checkParticipants(req.Participants); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}

	id, err := s.sessions.CreateSession(r.Context(), req.Participants, req.Graph)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateResponse{SessionID: id})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.sessions.Snapshot(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, err)
		return
	}

	resp := SnapshotResponse{
		SessionID:    snap.ID,
		GraphID:      snap.GraphID,
		GraphVersion: snap.GraphVersion,
		Participants: snap.Participants,
		Status:       string(snap.Status),
		EndReason:    snap.EndReason,
		Commands:     snap.LogLength,
		CreatedAt:    snap.CreatedAt,
		LastActivity: snap.LastActivity,
	}
	if ws := snap.World; ws != nil {
		resp.Location = ws.Location
		resp.Disposition = ws.Disposition
		resp.Unlocked = ws.Unlocked.Sorted()
		resp.Solved = ws.Solved.Sorted()
		resp.Inventory = make(map[string][]string, len(ws.Inventory))
		for p, items := range ws.Inventory {
			resp.Inventory[p] = items.Sorted()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCommand admits a chat message. With ?wait=true it blocks until the
// command has been processed and returns its outcome with 200 instead of 202.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ParticipantID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("participant_id is required"))
		return
	}

	submittedAt := time.Now()
	if req.Timestamp != nil && !req.Timestamp.IsZero() {
		submittedAt = *req.Timestamp
	}

	ack, err := s.sessions.SubmitCommand(r.Context(), r.PathValue("id"), req.ParticipantID, req.Text, submittedAt)
	if err != nil {
		writeFailure(w, err)
		return
	}
	resp := CommandResponse{SessionID: ack.SessionID, Position: ack.Position}

	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	if !wait {
		writeJSON(w, http.StatusAccepted, resp)
		return
	}

	timer := time.NewTimer(s.CommandWait)
	defer timer.Stop()
	select {
	case res := <-ack.Result:
		resp.Result = commandOutput(res)
		writeJSON(w, http.StatusOK, resp)
	case <-timer.C:
		// Still queued; the command keeps its position.
		writeJSON(w, http.StatusAccepted, resp)
	case <-r.Context().Done():
	}
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	var req EndRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}

	status := blackboard.SessionStatus(req.Status)
	switch status {
	case "":
		status = blackboard.SessionStatusAbandoned
	case blackboard.SessionStatusAbandoned, blackboard.SessionStatusFailed:
	default:
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("status must be %q or %q", blackboard.SessionStatusAbandoned, blackboard.SessionStatusFailed))
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "ended via gateway"
	}

	id := r.PathValue("id")
	if err := s.sessions.EndSession(r.Context(), id, status, reason); err != nil {
		writeFailure(w, err)
		return
	}
	s.writeSnapshotStatus(w, r, id)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.sessions.Pause(r.Context(), id); err != nil {
		writeFailure(w, err)
		return
	}
	s.writeSnapshotStatus(w, r, id)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.sessions.Resume(r.Context(), id); err != nil {
		writeFailure(w, err)
		return
	}
	s.writeSnapshotStatus(w, r, id)
}

func (s *Server) writeSnapshotStatus(w http.ResponseWriter, r *http.Request, id string) {
	snap, err := s.sessions.Snapshot(r.Context(), id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id, "status": string(snap.Status)})
}

func commandOutput(res session.CommandResult) *CommandOutput {
	out := &CommandOutput{
		Kind:          string(res.Kind),
		Intent:        res.Intent,
		Narration:     res.Narration,
		Clarification: res.Clarification,
		Reason:        res.Reason,
		Degraded:      res.Degraded,
		Status:        string(res.Status),
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return out
}

func checkParticipants(participants []string) error {
	if len(participants) == 0 {
		return fmt.Errorf("participants must not be empty")
	}
	seen := make(map[string]bool, len(participants))
	for _, p := range participants {
		if p == "" {
			return fmt.Errorf("participant ids must be non-empty")
		}
		if seen[p] {
			return fmt.Errorf("duplicate participant %q", p)
		}
		seen[p] = true
	}
	return nil
}

// statusFor maps domain errors onto HTTP status codes and reason strings.
func statusFor(err error) (int, string) {
	var contentErr *puzzle.ContentError
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, session.ErrUnknownParticipant):
		return http.StatusForbidden, "unknown_participant"
	case errors.Is(err, session.ErrCapacityExceeded):
		return http.StatusConflict, "capacity_exceeded"
	case errors.Is(err, session.ErrSessionNotActive):
		return http.StatusConflict, "session_not_active"
	case errors.Is(err, session.ErrQueueFull):
		return http.StatusTooManyRequests, "queue_full"
	case errors.Is(err, puzzle.ErrGraphNotFound):
		return http.StatusUnprocessableEntity, "graph_not_found"
	case errors.As(err, &contentErr):
		return http.StatusUnprocessableEntity, "content_error"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeFailure(w http.ResponseWriter, err error) {
	code, reason := statusFor(err)
	if code == http.StatusInternalServerError {
		log.Printf("[Gateway] Request failed: %v", err)
	}
	writeError(w, code, reason, err)
}

func writeError(w http.ResponseWriter, code int, reason string, err error) {
	writeJSON(w, code, ErrorResponse{Error: err.Error(), Reason: reason})
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("invalid JSON body: %w", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[Gateway] Failed to write response: %v", err)
	}
}
