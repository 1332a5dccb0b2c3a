// Package embedded runs the Orbit agent inside a long-lived runtime owned by
// this process, rather than behind a network API.
package embedded

import (
	"context"
	"errors"
)

// DefaultThreadID is the conversation used when the caller names none.
const DefaultThreadID = "default"

// ErrStaleInstance is returned by calls whose runtime was reset while they
// were in flight.
var ErrStaleInstance = errors.New("embedded runtime was reset during the call")

// ErrRuntimeExited is returned when the runtime stopped underneath a call.
// The handle replaces such a runtime on the next call.
var ErrRuntimeExited = errors.New("embedded runtime exited")

// Request is one agent turn.
type Request struct {
	Message  string
	ThreadID string
	Image    []byte
}

// Runtime is a conversational agent with memory that persists across
// calls. Calls block until the agent answers.
type Runtime interface {
	Run(ctx context.Context, req Request) (string, error)
	Stream(ctx context.Context, req Request, onChunk func(string)) (string, error)
	ClearMemory(ctx context.Context) error
	Close() error
}

// Factory creates a Runtime.
type Factory func(ctx context.Context) (Runtime, error)
