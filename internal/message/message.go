// Package message defines the data types that flow between Orbit's
// transports and the dispatcher.
package message

import (
	"encoding/json"
	"time"
)

// ChatRequest is a user turn arriving from any transport.
type ChatRequest struct {
	// ID is a unique identifier for this request (UUID). Assigned by the
	// dispatcher when the caller leaves it empty.
	ID string `json:"id,omitempty"`

	// Text is the user's message.
	Text string `json:"text"`

	// SessionID correlates turns into one conversation. Assigned by the
	// dispatcher when empty and echoed back in the result.
	SessionID string `json:"session_id,omitempty"`

	// Image is an optional screenshot or photo (PNG or JPEG), base64 in JSON.
	Image []byte `json:"image,omitempty"`

	// Timestamp is when the request was received.
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// HasImage returns true if the request carries an image.
func (r *ChatRequest) HasImage() bool {
	return len(r.Image) > 0
}

// ChatResult is the outcome of one chat turn.
type ChatResult struct {
	// RequestID is the originating request ID.
	RequestID string `json:"request_id"`

	// SessionID is the conversation the turn belongs to.
	SessionID string `json:"session_id"`

	// Text is the assistant's answer. On rate-limit exhaustion it holds the
	// upgrade message.
	Text string `json:"text,omitempty"`

	// Backend names the assistant that answered (e.g. "openrouter").
	Backend string `json:"backend"`

	// Error is set if the turn failed.
	Error string `json:"error,omitempty"`

	// ErrorKind classifies Error. One of "rate_limited", "parse_error",
	// "invocation_error", "unsupported", "cancelled", "interrupted" or
	// "invalid_request".
	ErrorKind string `json:"error_kind,omitempty"`

	// DurationMs is the wall time spent answering.
	DurationMs int64 `json:"duration_ms"`
}

// StreamChunk is one piece of a streamed answer. The last chunk of a turn
// has IsFinal set and an empty Text.
type StreamChunk struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	IsFinal   bool   `json:"is_final"`
}

// AbletonControlResponse reports the outcome of an Ableton operation.
type AbletonControlResponse struct {
	Success bool `json:"success"`

	// Message is a human-readable note, typically set on failure.
	Message *string `json:"message,omitempty"`

	// Data carries the command's result, if any.
	Data json.RawMessage `json:"data,omitempty"`
}

// AbletonStatus describes the connector.
type AbletonStatus struct {
	State string `json:"state"`
	Host  string `json:"host"`
	Port  int    `json:"port"`
}

// ClearMemoryRequest asks the assistant to forget a conversation. An empty
// SessionID only clears the backend's own memory.
type ClearMemoryRequest struct {
	SessionID string `json:"session_id,omitempty"`
}

// ControlResponse reports the outcome of an assistant control operation.
type ControlResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
