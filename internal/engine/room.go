package engine

import "sync"

// roomState tracks one room's queue and active set. Rooms are created
// lazily on first submission and never share state with each other.
// All fields are guarded by mu; the engine never holds two room locks
// at once.
type roomState struct {
	mu sync.Mutex
	// released marks a state already deleted from the engine's room
	// map; a submitter that raced the deletion must look the room up
	// again instead of enqueueing into an unreachable state.
	released bool
	queue    []*Submission          // FIFO, queued status only
	active   map[string]*Submission // keyed by execution ID
	byUser   map[string]*Submission // one non-terminal submission per user
}

func newRoomState() *roomState {
	return &roomState{
		active: make(map[string]*Submission),
		byUser: make(map[string]*Submission),
	}
}

// removeQueued unlinks a submission from the queue by execution ID.
// Caller holds mu.
func (r *roomState) removeQueued(execID string) bool {
	for i, sub := range r.queue {
		if sub.Request.ID == execID {
			r.queue = append(r.queue[:i], r.queue[i+1:]...)
			return true
		}
	}
	return false
}

// empty reports whether the room holds no work at all. Caller holds mu.
func (r *roomState) empty() bool {
	return len(r.queue) == 0 && len(r.active) == 0
}
