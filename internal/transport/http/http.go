// Package http implements the HTTP/WebSocket transport for Orbit.
//
// This transport exposes a REST API for chat and Ableton control and a
// WebSocket endpoint that streams answers chunk by chunk. It is what the
// desktop UI talks to.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	_ "github.com/orbit-app/orbit/docs"
	"github.com/orbit-app/orbit/internal/message"
	"github.com/orbit-app/orbit/internal/transport"
)

const maxBody = 25 << 20

// Transport implements transport.Transport over HTTP and WebSocket.
type Transport struct {
	port     int
	server   *http.Server
	upgrader websocket.Upgrader
}

// New creates a new HTTP transport on the given port.
func New(port int) *Transport {
	return &Transport{
		port: port,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The UI is served from a local origin that differs from the API port.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Name returns the transport identifier.
func (t *Transport) Name() string { return "http" }

// Routes returns the transport's request multiplexer.
func (t *Transport) Routes(handler transport.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/chat", func(w http.ResponseWriter, r *http.Request) {
		t.handleChat(w, r, handler)
	})
	mux.HandleFunc("GET /v1/chat/stream", func(w http.ResponseWriter, r *http.Request) {
		t.handleChatStream(w, r, handler)
	})
	mux.HandleFunc("POST /v1/chat/clear", func(w http.ResponseWriter, r *http.Request) {
		t.handleClearMemory(w, r, handler)
	})
	mux.HandleFunc("POST /v1/assistant/reset", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, handler.ResetAssistant(r.Context()))
	})

	mux.HandleFunc("POST /v1/ableton/connect", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, handler.ConnectAbleton(r.Context()))
	})
	mux.HandleFunc("POST /v1/ableton/disconnect", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, handler.DisconnectAbleton(r.Context()))
	})
	mux.HandleFunc("GET /v1/ableton/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, handler.AbletonStatus())
	})
	mux.HandleFunc("POST /v1/ableton/command", func(w http.ResponseWriter, r *http.Request) {
		t.handleCommand(w, r, handler)
	})

	// Swagger UI: serves the OpenAPI document registered by package docs.
	mux.Handle("GET /swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	return mux
}

// Listen starts the HTTP server and routes incoming requests to the handler.
func (t *Transport) Listen(ctx context.Context, handler transport.Handler) error {
	t.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", t.port),
		Handler:           t.Routes(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("http transport listening", "port", t.port)

	go func() {
		<-ctx.Done()
		slog.Info("http transport shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = t.server.Shutdown(shutdownCtx)
	}()

	if err := t.server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}

// handleChat processes a POST /v1/chat request.
//
// @Summary     Ask the assistant
// @Description Answers one chat turn. Failures are reported in the result body, not the status code.
// @Tags        chat
// @Accept      json
// @Produce     json
// @Param       request  body      message.ChatRequest  true  "Chat request"
// @Success     200      {object}  message.ChatResult   "Chat result"
// @Failure     400      {string}  string               "Invalid request body"
// @Router      /v1/chat [post]
func (t *Transport) handleChat(w http.ResponseWriter, r *http.Request, handler transport.Handler) {
	var req message.ChatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&req); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, handler.Chat(r.Context(), &req))
}

// handleClearMemory processes a POST /v1/chat/clear request. The body is
// optional.
//
// @Summary     Clear conversation memory
// @Tags        chat
// @Accept      json
// @Produce     json
// @Param       request  body      message.ClearMemoryRequest  false  "Session to forget"
// @Success     200      {object}  message.ControlResponse
// @Failure     400      {string}  string  "Invalid request body"
// @Router      /v1/chat/clear [post]
func (t *Transport) handleClearMemory(w http.ResponseWriter, r *http.Request, handler transport.Handler) {
	var req message.ClearMemoryRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, handler.ClearMemory(r.Context(), req.SessionID))
}

// handleCommand processes a POST /v1/ableton/command request.
//
// @Summary     Execute an Ableton command
// @Tags        ableton
// @Accept      json
// @Produce     json
// @Success     200  {object}  message.AbletonControlResponse
// @Failure     400  {string}  string  "Unreadable body"
// @Router      /v1/ableton/command [post]
func (t *Transport) handleCommand(w http.ResponseWriter, r *http.Request, handler transport.Handler) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "reading body: "+err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, handler.ExecuteCommand(r.Context(), body))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
