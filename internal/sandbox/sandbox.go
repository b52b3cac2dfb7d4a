package sandbox

import (
	"context"
	"time"
)

// Request describes one validated code submission to run in isolation.
type Request struct {
	Language string        `json:"language"`
	Code     string        `json:"code"`
	Stdin    string        `json:"stdin,omitempty"`
	Timeout  time.Duration `json:"timeout"`
	Limits   Limits        `json:"limits"`
}

// Result is the captured outcome of one sandboxed run.
type Result struct {
	ID       string        `json:"id"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// Backend runs validated code inside a fresh, resource-capped, isolated
// environment. Execute blocks until the run reaches a terminal outcome;
// the sandbox is torn down on every exit path. A timeout surfaces as
// ErrTimeout with a partial Result attached.
type Backend interface {
	Execute(ctx context.Context, req Request) (*Result, error)
	Healthy(ctx context.Context) bool
	ActiveCount() int64
	Close() error
}
