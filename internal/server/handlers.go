package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"lipstalk/internal/bus"
	"lipstalk/internal/collection"
	"lipstalk/internal/filter"
	"lipstalk/internal/logging"
	"lipstalk/internal/pipeline"
	"lipstalk/internal/services"
)

type handlers struct {
	attempts    Attempts
	transcripts Transcripts
	clips       Clips
	publisher   bus.Publisher
	health      func() map[string]any
	logger      *slog.Logger
}

// TranscriptListResponse is the body of GET /api/transcripts.
type TranscriptListResponse struct {
	Items []collection.Transcript `json:"items"`
	Total int                     `json:"total"`
}

// ClipListResponse is the body of GET /api/clips.
type ClipListResponse struct {
	Items []collection.Clip `json:"items"`
	Total int               `json:"total"`
}

// AttemptResponse wraps the current attempt snapshot.
type AttemptResponse struct {
	Attempt pipeline.Snapshot `json:"attempt"`
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}
	if h.attempts != nil {
		payload["attempt_state"] = h.attempts.Snapshot().State
	}
	if h.health != nil {
		for k, v := range h.health() {
			payload[k] = v
		}
	}
	h.writeJSON(w, http.StatusOK, payload)
}

func (h *handlers) handleListTranscripts(w http.ResponseWriter, r *http.Request) {
	criterion, ok := h.criterion(w, r)
	if !ok {
		return
	}
	records, err := h.transcripts.List(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	records = filter.Search(filter.Apply(records, criterion), r.URL.Query().Get("q"))
	if records == nil {
		records = []collection.Transcript{}
	}
	h.writeJSON(w, http.StatusOK, TranscriptListResponse{Items: records, Total: len(records)})
}

func (h *handlers) handleDeleteTranscript(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	removed, err := h.transcripts.DeleteByKey(r.Context(), key)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if !removed {
		h.writeError(w, http.StatusNotFound, "transcript not found")
		return
	}
	h.publisher.Publish(bus.TopicTranscriptsChanged, map[string]string{"action": "deleted", "key": key})
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) handleListClips(w http.ResponseWriter, r *http.Request) {
	criterion, ok := h.criterion(w, r)
	if !ok {
		return
	}
	clips, err := h.clips.List(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	clips = filter.Apply(clips, criterion)
	if clips == nil {
		clips = []collection.Clip{}
	}
	h.writeJSON(w, http.StatusOK, ClipListResponse{Items: clips, Total: len(clips)})
}

func (h *handlers) handleDeleteClip(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	removed, err := h.clips.DeleteByKey(r.Context(), key)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if !removed {
		h.writeError(w, http.StatusNotFound, "clip not found")
		return
	}
	h.publisher.Publish(bus.TopicClipsChanged, map[string]string{"action": "deleted", "key": key})
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) handleTranscribeClip(w http.ResponseWriter, r *http.Request) {
	snap, err := h.attempts.TranscribeClip(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, AttemptResponse{Attempt: snap})
}

func (h *handlers) handleAttempt(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, AttemptResponse{Attempt: h.attempts.Snapshot()})
}

func (h *handlers) handleAttemptCommand(w http.ResponseWriter, r *http.Request) {
	var (
		snap pipeline.Snapshot
		err  error
	)
	status := http.StatusOK
	switch command := chi.URLParam(r, "command"); command {
	case "start":
		snap, err = h.attempts.Start(r.Context())
		status = http.StatusAccepted
	case "retry":
		snap, err = h.attempts.RetryPersist(r.Context())
		status = http.StatusAccepted
	case "stop":
		err = h.attempts.Stop()
	case "cancel":
		err = h.attempts.Cancel()
	case "dismiss":
		err = h.attempts.Dismiss()
	case "acknowledge":
		err = h.attempts.Acknowledge()
	default:
		h.writeError(w, http.StatusNotFound, "unknown attempt command "+command)
		return
	}
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if snap.State == "" {
		snap = h.attempts.Snapshot()
	}
	h.writeJSON(w, status, AttemptResponse{Attempt: snap})
}

func (h *handlers) criterion(w http.ResponseWriter, r *http.Request) (filter.Criterion, bool) {
	query := r.URL.Query()
	c, err := filter.ParseCriterion(query.Get("year"), query.Get("month"), query.Get("day"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return filter.Criterion{}, false
	}
	return c, true
}

// statusFor maps pipeline and service errors onto HTTP codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrAttemptActive), errors.Is(err, pipeline.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, services.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, pipeline.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, services.ErrConfiguration):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logging.ErrorWithContext(logging.WithContext(r.Context(), h.logger), "api request failed", "api_request_failed",
			logging.String("path", r.URL.Path),
			logging.Error(err),
		)
	}
	h.writeJSON(w, status, map[string]string{
		"error":  err.Error(),
		"reason": string(services.ReasonFor(err)),
	})
}

func (h *handlers) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (h *handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
