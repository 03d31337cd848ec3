package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MikeSquared-Agency/chatsync/internal/syncer"
)

// maxBatchSize bounds a single POST /api/v1/sync/batch.
const maxBatchSize = 500

type BatchRequest struct {
	Requests []syncer.Request `json:"requests"`
}

type OutcomeResponse struct {
	SyncID      string   `json:"sync_id"`
	ChatID      string   `json:"chat_id"`
	State       string   `json:"state"`
	Path        []string `json:"path"`
	Reason      string   `json:"reason,omitempty"`
	Error       string   `json:"error,omitempty"`
	Fingerprint string   `json:"fingerprint,omitempty"`
	Source      string   `json:"source,omitempty"`
}

type BatchResponse struct {
	Outcomes  []OutcomeResponse `json:"outcomes"`
	Total     int               `json:"total"`
	Succeeded int               `json:"succeeded"`
	Skipped   int               `json:"skipped"`
	Failed    int               `json:"failed"`
}

func toResponse(out syncer.Outcome) OutcomeResponse {
	resp := OutcomeResponse{
		SyncID:      out.SyncID,
		ChatID:      out.ChatID,
		State:       string(out.State),
		Reason:      out.Reason,
		Fingerprint: out.Fingerprint,
		Source:      string(out.Source),
	}
	for _, p := range out.Path {
		resp.Path = append(resp.Path, string(p))
	}
	if out.Err != nil {
		resp.Error = out.Err.Error()
	}
	return resp
}

// statusFor maps a terminal outcome to an HTTP status.
func statusFor(out syncer.Outcome) int {
	if out.State != syncer.StateFailed {
		return http.StatusOK
	}
	switch {
	case errors.Is(out.Err, syncer.ErrConfigMissing):
		return http.StatusServiceUnavailable
	case errors.Is(out.Err, syncer.ErrUploadRejected):
		return http.StatusBadGateway
	default:
		return http.StatusUnprocessableEntity
	}
}

// syncOne handles POST /api/v1/sync
func (s *Server) syncOne(w http.ResponseWriter, r *http.Request) {
	var req syncer.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if req.ChatID == "" {
		writeError(w, http.StatusBadRequest, "chatId is required")
		return
	}

	out := s.syncer.Sync(r.Context(), req)
	writeJSON(w, statusFor(out), toResponse(out))
}

// syncBatch handles POST /api/v1/sync/batch
func (s *Server) syncBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if len(req.Requests) == 0 {
		writeError(w, http.StatusBadRequest, "requests must not be empty")
		return
	}
	if len(req.Requests) > maxBatchSize {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("at most %d requests per batch", maxBatchSize))
		return
	}

	outcomes := s.syncer.SyncBatch(r.Context(), req.Requests)
	summary := syncer.Summarize(outcomes)

	resp := BatchResponse{
		Outcomes:  make([]OutcomeResponse, 0, len(outcomes)),
		Total:     summary.Total,
		Succeeded: summary.Succeeded,
		Skipped:   summary.Skipped,
		Failed:    summary.Failed,
	}
	for _, out := range outcomes {
		resp.Outcomes = append(resp.Outcomes, toResponse(out))
	}
	writeJSON(w, http.StatusOK, resp)
}

// fingerprint handles GET /api/v1/sync/{chatID}
func (s *Server) fingerprint(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")

	fp, ok, err := s.state.GetLast(r.Context(), chatID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("read state: %v", err))
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no sync recorded for "+chatID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"chat_id": chatID, "fingerprint": fp})
}
