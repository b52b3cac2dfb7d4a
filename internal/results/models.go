package results

import "time"

// Status is the lifecycle state of an execution.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout, StatusCancelled:
		return true
	}
	return false
}

// Result is one finished (or in-flight) execution record.
type Result struct {
	ID          string     `json:"id" db:"id"`
	RoomID      string     `json:"room_id" db:"room_id"`
	UserID      string     `json:"user_id" db:"user_id"`
	DisplayName string     `json:"display_name,omitempty" db:"display_name"`
	Language    string     `json:"language" db:"language"`
	Status      Status     `json:"status" db:"status"`
	Stdout      string     `json:"stdout" db:"stdout"`
	Stderr      string     `json:"stderr" db:"stderr"`
	ExitCode    int        `json:"exit_code" db:"exit_code"`
	Error       string     `json:"error,omitempty" db:"error"`
	// ComplexityScore is the advisory score from static validation.
	ComplexityScore int `json:"complexity_score,omitempty" db:"complexity_score"`
	SubmittedAt time.Time  `json:"submitted_at" db:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	DurationMS  int64      `json:"duration_ms" db:"duration_ms"`
}

// Filter narrows history queries.
type Filter struct {
	UserID   string
	Language string
	Status   Status
	Limit    int
}
