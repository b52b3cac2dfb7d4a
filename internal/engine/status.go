package engine

import (
	"time"

	"github.com/Prathamesh0903/CollabQuest-sub000/internal/results"
)

// QueuedEntry describes one waiting execution in a room snapshot.
type QueuedEntry struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	DisplayName     string    `json:"display_name,omitempty"`
	Language        string    `json:"language"`
	Position        int       `json:"position"`
	EstimatedWaitMS int64     `json:"estimated_wait_ms"`
	SubmittedAt     time.Time `json:"submitted_at"`
}

// ActiveEntry describes one running execution in a room snapshot.
type ActiveEntry struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name,omitempty"`
	Language    string    `json:"language"`
	StartedAt   time.Time `json:"started_at"`
}

// RoomStatus is a point-in-time snapshot of one room's execution state.
type RoomStatus struct {
	RoomID        string        `json:"room_id"`
	Queued        []QueuedEntry `json:"queued"`
	Active        []ActiveEntry `json:"active"`
	QueueDepth    int           `json:"queue_depth"`
	ActiveCount   int           `json:"active_count"`
	MaxConcurrent int           `json:"max_concurrent"`
	MaxQueueSize  int           `json:"max_queue_size"`
}

// Statistics aggregates engine activity since startup.
type Statistics struct {
	TotalAccepted int64   `json:"total_accepted"`
	Completed     int64   `json:"completed"`
	Failed        int64   `json:"failed"`
	TimedOut      int64   `json:"timed_out"`
	Cancelled     int64   `json:"cancelled"`
	Active        int     `json:"active"`
	Queued        int     `json:"queued"`
	SuccessRate   float64 `json:"success_rate"`
	AvgDurationMS int64   `json:"avg_duration_ms"`
}

// RoomStatus snapshots a room. Unknown rooms return an empty snapshot,
// not an error: a room with no activity simply has nothing in flight.
func (e *Engine) RoomStatus(roomID string) RoomStatus {
	status := RoomStatus{
		RoomID:        roomID,
		Queued:        []QueuedEntry{},
		Active:        []ActiveEntry{},
		MaxConcurrent: e.cfg.MaxConcurrentExecutions,
		MaxQueueSize:  e.cfg.MaxQueueSize,
	}

	e.roomsMu.Lock()
	room, ok := e.rooms[roomID]
	e.roomsMu.Unlock()
	if !ok {
		return status
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	for i, sub := range room.queue {
		status.Queued = append(status.Queued, QueuedEntry{
			ID:              sub.Request.ID,
			UserID:          sub.Request.User.ID,
			DisplayName:     sub.Request.User.DisplayName,
			Language:        sub.Request.Language,
			Position:        i + 1,
			EstimatedWaitMS: e.estimateWaitMS(i+1, len(room.active)),
			SubmittedAt:     sub.Request.SubmittedAt,
		})
	}
	for _, sub := range room.active {
		status.Active = append(status.Active, ActiveEntry{
			ID:          sub.Request.ID,
			UserID:      sub.Request.User.ID,
			DisplayName: sub.Request.User.DisplayName,
			Language:    sub.Request.Language,
			StartedAt:   sub.startedAt,
		})
	}
	status.QueueDepth = len(room.queue)
	status.ActiveCount = len(room.active)
	return status
}

// History returns a room's retained results, newest first.
func (e *Engine) History(roomID string, f results.Filter) []*results.Result {
	return e.store.History(roomID, f)
}

// Result returns one retained result by execution ID, or nil.
func (e *Engine) Result(execID string) *results.Result {
	return e.store.Get(execID)
}

// RetainedResults reports how many results the store currently holds.
func (e *Engine) RetainedResults() int {
	return e.store.Count()
}

// Statistics aggregates counters across all rooms.
func (e *Engine) Statistics() Statistics {
	e.statsMu.Lock()
	stats := Statistics{
		TotalAccepted: e.totalAccepted,
		Completed:     e.byStatus[results.StatusCompleted],
		Failed:        e.byStatus[results.StatusFailed],
		TimedOut:      e.byStatus[results.StatusTimeout],
		Cancelled:     e.byStatus[results.StatusCancelled],
	}
	if e.timedRuns > 0 {
		stats.AvgDurationMS = e.totalDurMS / e.timedRuns
	}
	e.statsMu.Unlock()

	terminal := stats.Completed + stats.Failed + stats.TimedOut
	if terminal > 0 {
		stats.SuccessRate = float64(stats.Completed) / float64(terminal)
	}

	e.roomsMu.Lock()
	rooms := make([]*roomState, 0, len(e.rooms))
	for _, room := range e.rooms {
		rooms = append(rooms, room)
	}
	e.roomsMu.Unlock()

	for _, room := range rooms {
		room.mu.Lock()
		stats.Queued += len(room.queue)
		stats.Active += len(room.active)
		room.mu.Unlock()
	}
	return stats
}
