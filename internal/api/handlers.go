package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/Prathamesh0903/CollabQuest-sub000/internal/engine"
	"github.com/Prathamesh0903/CollabQuest-sub000/internal/events"
	"github.com/Prathamesh0903/CollabQuest-sub000/internal/monitor"
	"github.com/Prathamesh0903/CollabQuest-sub000/internal/results"
	"github.com/Prathamesh0903/CollabQuest-sub000/internal/runtime"
	"github.com/Prathamesh0903/CollabQuest-sub000/internal/validator"
)

type Handlers struct {
	engine   *engine.Engine
	bus      *events.Bus
	runtimes *runtime.Registry
	metrics  *monitor.Metrics
}

func NewHandlers(eng *engine.Engine, bus *events.Bus, runtimes *runtime.Registry, metrics *monitor.Metrics) *Handlers {
	return &Handlers{
		engine:   eng,
		bus:      bus,
		runtimes: runtimes,
		metrics:  metrics,
	}
}

// HandleSubmit admits one execution into a room. With ?wait=true the
// request blocks until the terminal result; otherwise it returns 202
// with the queue snapshot and the caller follows room events.
func (h *Handlers) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomID")

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}
	if req.Language == "" {
		writeError(w, "language is required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	user := engine.User{ID: req.UserID, DisplayName: req.DisplayName, Avatar: req.Avatar}

	sub, err := h.engine.Submit(r.Context(), roomID, user, req.Language, req.Code, req.Input)
	if err != nil {
		writeSubmitError(w, r, err)
		return
	}

	if r.URL.Query().Get("wait") == "true" {
		res, err := sub.Wait(r.Context())
		if err != nil {
			// Client gave up; the execution still runs to completion.
			writeError(w, "wait cancelled", "WAIT_CANCELLED", http.StatusRequestTimeout, r)
			return
		}
		writeJSON(w, http.StatusOK, toResultResponse(res))
		return
	}

	status := h.engine.RoomStatus(roomID)
	resp := SubmitResponse{
		ID:          sub.Request.ID,
		RoomID:      roomID,
		Status:      string(sub.Request.Status),
		SubmittedAt: sub.Request.SubmittedAt,
	}
	for _, q := range status.Queued {
		if q.ID == sub.Request.ID {
			resp.QueuePosition = q.Position
			resp.EstimatedWaitMS = q.EstimatedWaitMS
		}
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func writeSubmitError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, engine.ErrUserBusy):
		writeError(w, err.Error(), "EXECUTION_IN_FLIGHT", http.StatusConflict, r)
	case errors.Is(err, engine.ErrQueueFull):
		writeError(w, err.Error(), "QUEUE_FULL", http.StatusConflict, r)
	case errors.Is(err, engine.ErrEngineClosed):
		writeError(w, err.Error(), "SHUTTING_DOWN", http.StatusServiceUnavailable, r)
	case validator.IsValidationError(err):
		writeError(w, err.Error(), "VALIDATION_FAILED", http.StatusUnprocessableEntity, r)
	default:
		log.Error().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Msg("submission failed")
		writeError(w, "submission failed", "INTERNAL", http.StatusInternalServerError, r)
	}
}

// HandleCancel removes the user's queued execution from a room.
func (h *Handlers) HandleCancel(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomID")
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, "user_id is required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	err := h.engine.Cancel(roomID, userID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
	case errors.Is(err, engine.ErrNotCancellable):
		writeError(w, err.Error(), "NOT_CANCELLABLE", http.StatusConflict, r)
	case errors.Is(err, engine.ErrNotFound):
		writeError(w, err.Error(), "NOT_FOUND", http.StatusNotFound, r)
	default:
		writeError(w, "cancel failed", "INTERNAL", http.StatusInternalServerError, r)
	}
}

// HandleRoomStatus returns the room's queue and active snapshot.
func (h *Handlers) HandleRoomStatus(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomID")
	writeJSON(w, http.StatusOK, StatusResponse{RoomStatus: h.engine.RoomStatus(roomID)})
}

// HandleHistory returns a room's retained results, newest first.
func (h *Handlers) HandleHistory(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomID")

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			writeError(w, "limit must be 1-500", "INVALID_REQUEST", http.StatusBadRequest, r)
			return
		}
		limit = n
	}

	hist := h.engine.History(roomID, results.Filter{
		UserID:   r.URL.Query().Get("user_id"),
		Language: r.URL.Query().Get("language"),
		Status:   results.Status(r.URL.Query().Get("status")),
		Limit:    limit,
	})

	out := make([]ResultResponse, 0, len(hist))
	for _, res := range hist {
		out = append(out, toResultResponse(res))
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleGetResult returns one retained result by execution ID.
func (h *Handlers) HandleGetResult(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	res := h.engine.Result(id)
	if res == nil {
		writeError(w, "result not found or expired", "NOT_FOUND", http.StatusNotFound, r)
		return
	}
	writeJSON(w, http.StatusOK, toResultResponse(res))
}

// HandleStatistics reports engine-wide aggregates.
func (h *Handlers) HandleStatistics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatisticsResponse{
		Statistics:      h.engine.Statistics(),
		RetainedResults: h.engine.RetainedResults(),
		Languages:       h.runtimes.Languages(),
	})
}

// HandleLanguages lists the supported languages.
func (h *Handlers) HandleLanguages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"languages": h.runtimes.Languages()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, msg, code string, status int, r *http.Request) {
	resp := ErrorResponse{
		Error:     msg,
		Code:      code,
		RequestID: RequestIDFromContext(r.Context()),
	}
	writeJSON(w, status, resp)
}
