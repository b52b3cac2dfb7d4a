package api

import (
	"time"

	"github.com/Prathamesh0903/CollabQuest-sub000/internal/engine"
	"github.com/Prathamesh0903/CollabQuest-sub000/internal/results"
)

// SubmitRequest is the API-level submission of code to a room.
type SubmitRequest struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
	Language    string `json:"language"`
	Code        string `json:"code"`
	Input       string `json:"input,omitempty"`
}

// SubmitResponse acknowledges an accepted submission.
type SubmitResponse struct {
	ID              string    `json:"id"`
	RoomID          string    `json:"room_id"`
	Status          string    `json:"status"`
	QueuePosition   int       `json:"queue_position,omitempty"`
	EstimatedWaitMS int64     `json:"estimated_wait_ms,omitempty"`
	SubmittedAt     time.Time `json:"submitted_at"`
}

// ResultResponse is the API shape of a terminal execution result.
type ResultResponse struct {
	ID              string `json:"id"`
	RoomID          string `json:"room_id"`
	UserID          string `json:"user_id"`
	DisplayName     string `json:"display_name,omitempty"`
	Language        string `json:"language"`
	Status          string `json:"status"`
	Stdout          string `json:"stdout"`
	Stderr          string `json:"stderr"`
	ExitCode        int    `json:"exit_code"`
	Error           string `json:"error,omitempty"`
	ComplexityScore int    `json:"complexity_score,omitempty"`
	DurationMS      int64  `json:"duration_ms"`
}

func toResultResponse(r *results.Result) ResultResponse {
	return ResultResponse{
		ID:              r.ID,
		RoomID:          r.RoomID,
		UserID:          r.UserID,
		DisplayName:     r.DisplayName,
		Language:        r.Language,
		Status:          string(r.Status),
		Stdout:          r.Stdout,
		Stderr:          r.Stderr,
		ExitCode:        r.ExitCode,
		Error:           r.Error,
		ComplexityScore: r.ComplexityScore,
		DurationMS:      r.DurationMS,
	}
}

// StatusResponse is the API shape of a room snapshot.
type StatusResponse struct {
	engine.RoomStatus
}

// StatisticsResponse reports engine-wide aggregates.
type StatisticsResponse struct {
	engine.Statistics
	RetainedResults int      `json:"retained_results"`
	Languages       []string `json:"languages"`
}

// ErrorResponse is returned for API errors.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id"`
}

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status   string `json:"status"`
	Backend  bool   `json:"backend"`
	Database bool   `json:"database"`
	Uptime   string `json:"uptime"`
}
