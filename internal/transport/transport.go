// Package transport defines the interface for pluggable request transports.
//
// Each transport (HTTP/WebSocket, gRPC) implements this interface and is
// handed the dispatcher as its Handler. The dispatcher doesn't care how
// requests arrive; it only works with the Handler contract.
package transport

import (
	"context"
	"encoding/json"

	"github.com/orbit-app/orbit/internal/message"
)

// Handler processes requests arriving on any transport. The dispatcher
// implements it.
type Handler interface {
	// Chat answers one turn.
	Chat(ctx context.Context, req *message.ChatRequest) *message.ChatResult

	// ChatStream answers one turn, passing chunks to sink as they arrive.
	// The final chunk has IsFinal set. A sink error aborts the turn.
	ChatStream(ctx context.Context, req *message.ChatRequest, sink func(message.StreamChunk) error) *message.ChatResult

	// ClearMemory forgets a session's history and the backend's own
	// conversation state.
	ClearMemory(ctx context.Context, sessionID string) *message.ControlResponse

	// ResetAssistant restarts the backend runtime.
	ResetAssistant(ctx context.Context) *message.ControlResponse

	// ExecuteCommand runs a JSON-encoded Ableton command.
	ExecuteCommand(ctx context.Context, raw json.RawMessage) *message.AbletonControlResponse

	ConnectAbleton(ctx context.Context) *message.AbletonControlResponse
	DisconnectAbleton(ctx context.Context) *message.AbletonControlResponse
	AbletonStatus() message.AbletonStatus
}

// Transport is the interface that every transport adapter must implement.
type Transport interface {
	// Name returns the transport identifier (e.g., "grpc", "http").
	Name() string

	// Listen starts accepting requests and passes them to the handler.
	// It blocks until the context is cancelled.
	Listen(ctx context.Context, handler Handler) error

	// Close gracefully shuts down the transport, draining in-flight work.
	Close() error
}
