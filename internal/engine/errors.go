package engine

import "errors"

// Admission errors are synchronous and side-effect free: a rejected
// submission never touches the queue, the sandbox, or the result store.
var (
	// ErrUserBusy rejects a submission while the same user already has a
	// queued or executing request in the room.
	ErrUserBusy = errors.New("user already has an execution in flight")

	// ErrQueueFull rejects a submission when the room's wait queue is at
	// capacity.
	ErrQueueFull = errors.New("room execution queue is full")

	// ErrNotCancellable is returned when cancelling a request that has
	// already started executing.
	ErrNotCancellable = errors.New("execution already started, cannot cancel")

	// ErrNotFound is returned when the user has no pending execution in
	// the room.
	ErrNotFound = errors.New("no pending execution found")

	// ErrEngineClosed rejects submissions after shutdown has begun.
	ErrEngineClosed = errors.New("engine is shut down")
)

// IsAdmissionError reports whether err is an admission rejection, as
// opposed to a validation or execution failure.
func IsAdmissionError(err error) bool {
	return errors.Is(err, ErrUserBusy) || errors.Is(err, ErrQueueFull)
}
