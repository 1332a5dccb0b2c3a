package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/orbit-app/orbit/internal/message"
	"github.com/orbit-app/orbit/internal/transport"
)

// Frame types sent on the chat stream.
const (
	FrameChunk = "chunk"
	FrameDone  = "done"
	FrameError = "error"
)

// Frame is one server message on /v1/chat/stream.
type Frame struct {
	Type      string              `json:"type"`
	SessionID string              `json:"session_id,omitempty"`
	Text      string              `json:"text,omitempty"`
	Result    *message.ChatResult `json:"result,omitempty"`
}

// handleChatStream serves GET /v1/chat/stream. Every text message the
// client sends is a ChatRequest; the reply is a run of chunk frames ended by
// a done or error frame. Turns on one socket run in order.
//
// @Summary     Stream assistant answers
// @Tags        chat
// @Success     101  {string}  string  "Switching protocols"
// @Router      /v1/chat/stream [get]
func (t *Transport) handleChatStream(w http.ResponseWriter, r *http.Request, handler transport.Handler) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("chat stream upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// A hijacked connection's request context outlives the client, so the
	// reader cancels ctx when the socket closes and the running turn stops.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	requests := make(chan message.ChatRequest)
	go func() {
		defer cancel()
		for {
			var req message.ChatRequest
			if err := conn.ReadJSON(&req); err != nil {
				var closeErr *websocket.CloseError
				if !errors.As(err, &closeErr) {
					slog.Debug("chat stream read failed", "error", err)
				}
				return
			}
			select {
			case requests <- req:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		var req message.ChatRequest
		select {
		case req = <-requests:
		case <-ctx.Done():
			return
		}

		result := handler.ChatStream(ctx, &req, func(c message.StreamChunk) error {
			if c.IsFinal {
				return nil
			}
			return conn.WriteJSON(Frame{Type: FrameChunk, SessionID: c.SessionID, Text: c.Text})
		})
		if ctx.Err() != nil {
			slog.Debug("chat stream client went away", "session_id", result.SessionID)
			return
		}

		end := Frame{Type: FrameDone, SessionID: result.SessionID, Result: result}
		if result.Error != "" {
			end.Type = FrameError
		}
		if err := conn.WriteJSON(end); err != nil {
			slog.Debug("chat stream write failed", "error", err)
			return
		}
	}
}
