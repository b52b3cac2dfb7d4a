package events

import "time"

// Type identifies a lifecycle event in an execution's lifetime.
type Type string

const (
	TypeQueued    Type = "queued"
	TypeStarted   Type = "started"
	TypeCompleted Type = "completed"
	TypeFailed    Type = "failed"
	TypeCancelled Type = "cancelled"
)

// Event is one room-scoped lifecycle notification. Every participant in
// the room receives every event, not only the submitter.
type Event struct {
	Type        Type      `json:"type"`
	RoomID      string    `json:"room_id"`
	ExecutionID string    `json:"execution_id"`
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Avatar      string    `json:"avatar,omitempty"`
	Language    string    `json:"language"`
	Timestamp   time.Time `json:"timestamp"`

	// Queued only.
	QueuePosition   int   `json:"queue_position,omitempty"`
	EstimatedWaitMS int64 `json:"estimated_wait_ms,omitempty"`

	// Terminal events only.
	Status     string `json:"status,omitempty"`
	Stdout     string `json:"stdout,omitempty"`
	Stderr     string `json:"stderr,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Publisher delivers an event to every subscriber of a room. The engine
// only depends on this primitive; the transport behind it is a caller
// concern.
type Publisher interface {
	Publish(roomID string, ev Event)
}

// Fanout publishes to several publishers in order. A nil entry is skipped.
type Fanout []Publisher

func (f Fanout) Publish(roomID string, ev Event) {
	for _, p := range f {
		if p != nil {
			p.Publish(roomID, ev)
		}
	}
}
