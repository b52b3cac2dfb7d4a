package engine

import (
	"context"
	"sync"
	"time"

	"github.com/Prathamesh0903/CollabQuest-sub000/internal/results"
)

// User identifies the submitter inside a room.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
}

// ExecutionRequest is one accepted submission. The engine owns it from
// admission until it reaches a terminal status, then the result store
// takes over.
type ExecutionRequest struct {
	ID          string         `json:"id"`
	RoomID      string         `json:"room_id"`
	User        User           `json:"user"`
	Language    string         `json:"language"`
	Code        string         `json:"-"`
	Input       string         `json:"-"`
	SubmittedAt time.Time      `json:"submitted_at"`
	Status      results.Status `json:"status"`
}

// Submission is the handle returned to a submitter: the accepted
// request plus a future resolving to its terminal result. Resolution
// happens exactly once; any number of goroutines may Wait.
type Submission struct {
	Request *ExecutionRequest

	startedAt  time.Time
	complexity int

	done     chan struct{}
	finalize sync.Once
	resolve  sync.Once
	result   *results.Result
	err      error
}

func newSubmission(req *ExecutionRequest) *Submission {
	return &Submission{
		Request: req,
		done:    make(chan struct{}),
	}
}

// Wait blocks until the execution reaches a terminal status or ctx is
// done. The returned result is immutable.
func (s *Submission) Wait(ctx context.Context) (*results.Result, error) {
	select {
	case <-s.done:
		return s.result, s.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done returns a channel closed when the execution is terminal.
func (s *Submission) Done() <-chan struct{} {
	return s.done
}

// claimFinalize elects the single goroutine allowed to finalize this
// submission. A late backend return after the watchdog fired loses the
// claim and must not touch shared state.
func (s *Submission) claimFinalize() bool {
	won := false
	s.finalize.Do(func() { won = true })
	return won
}

// complete resolves the future. Called once, by the finalize winner,
// after all shared state (room, store, events) is settled, so a waiter
// that wakes up observes the terminal world.
func (s *Submission) complete(r *results.Result, err error) {
	s.resolve.Do(func() {
		s.result = r
		s.err = err
		close(s.done)
	})
}
