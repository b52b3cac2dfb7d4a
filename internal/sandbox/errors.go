package sandbox

import (
	"errors"
	"fmt"
)

// Sentinel errors for typed error checking.
var (
	ErrTimeout         = errors.New("execution timed out")
	ErrOOM             = errors.New("out of memory")
	ErrContainerdDown  = errors.New("containerd unavailable")
	ErrInvalidRequest  = errors.New("invalid execution request")
	ErrUnsupportedLang = errors.New("unsupported language")
	ErrBackendClosed   = errors.New("sandbox backend is shut down")
)

// ExecutionError wraps errors with execution context.
type ExecutionError struct {
	ExecID string
	Op     string // The operation that failed
	Err    error
}

func (e *ExecutionError) Error() string {
	if e.ExecID != "" {
		return fmt.Sprintf("execution %s: %s: %s", e.ExecID, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// IsTimeout returns true if the error is a timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
