// Package dispatch implements the request handler shared by every transport.
//
// The dispatcher receives chat turns and Ableton commands from transports,
// hands chat turns to the configured assistant and commands to the Ableton
// connector, and translates every failure into a result the sender can show.
// The sender always receives a result, never a bare error.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/orbit-app/orbit/internal/ableton"
	"github.com/orbit-app/orbit/internal/assistant"
	"github.com/orbit-app/orbit/internal/memory"
	"github.com/orbit-app/orbit/internal/message"
)

// NotConnectedMessage is shown when a command arrives before Connect.
const NotConnectedMessage = "Not connected to Ableton Live. Connect first."

// Live is the Ableton connector. *ableton.Connector satisfies it.
type Live interface {
	Connect(ctx context.Context) error
	Disconnect() error
	State() ableton.State
	Config() ableton.Config
	Execute(ctx context.Context, cmd ableton.Command) (json.RawMessage, error)
}

// memoryClearer is implemented by backends that keep their own
// conversation state.
type memoryClearer interface {
	ClearMemory(ctx context.Context) error
}

// resetter is implemented by backends that hold a runtime which can be
// restarted.
type resetter interface {
	Reset() error
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMemory lets ClearMemory drop session history from s.
func WithMemory(s memory.Store) Option {
	return func(d *Dispatcher) { d.memory = s }
}

// Dispatcher is the central request handler.
type Dispatcher struct {
	assistant assistant.Assistant
	live      Live
	memory    memory.Store
}

// New creates a Dispatcher.
func New(a assistant.Assistant, live Live, opts ...Option) *Dispatcher {
	d := &Dispatcher{assistant: a, live: live}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// prepare fills in the ids and timestamp the caller left empty.
func prepare(req *message.ChatRequest) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now()
	}
}

func (d *Dispatcher) newResult(req *message.ChatRequest) *message.ChatResult {
	return &message.ChatResult{
		RequestID: req.ID,
		SessionID: req.SessionID,
		Backend:   d.assistant.Name(),
	}
}

// Chat answers a single turn.
func (d *Dispatcher) Chat(ctx context.Context, req *message.ChatRequest) *message.ChatResult {
	start := time.Now()
	prepare(req)
	logger := slog.With("request_id", req.ID, "session_id", req.SessionID)
	result := d.newResult(req)

	if req.Text == "" {
		result.Error, result.ErrorKind = "message is empty", "invalid_request"
		return result
	}

	logger.Info("chat started", "backend", result.Backend, "image", req.HasImage())

	var (
		text string
		err  error
	)
	if req.HasImage() {
		text, err = d.assistant.AskWithImage(ctx, req.Text, req.Image)
	} else {
		text, err = d.assistant.Ask(ctx, req.Text, req.SessionID)
	}
	finish(result, text, err, start, logger)
	return result
}

// ChatStream answers a turn chunk by chunk. Turns with an image are answered
// in one piece and delivered as a single chunk.
func (d *Dispatcher) ChatStream(ctx context.Context, req *message.ChatRequest, sink func(message.StreamChunk) error) *message.ChatResult {
	start := time.Now()
	prepare(req)
	logger := slog.With("request_id", req.ID, "session_id", req.SessionID)
	result := d.newResult(req)

	if req.Text == "" {
		result.Error, result.ErrorKind = "message is empty", "invalid_request"
		return result
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var sinkErr error
	deliver := func(text string) {
		if sinkErr != nil {
			return
		}
		if sinkErr = sink(message.StreamChunk{SessionID: req.SessionID, Text: text}); sinkErr != nil {
			cancel()
		}
	}

	logger.Info("chat stream started", "backend", result.Backend)

	var (
		text string
		err  error
	)
	if req.HasImage() {
		text, err = d.assistant.AskWithImage(ctx, req.Text, req.Image)
		if err == nil {
			deliver(text)
		}
	} else {
		text, err = d.assistant.AskStream(ctx, req.Text, req.SessionID, deliver)
	}

	if sinkErr != nil {
		logger.Warn("stream receiver went away", "error", sinkErr)
		result.Text = text
		result.Error, result.ErrorKind = fmt.Sprintf("delivering chunk: %v", sinkErr), "cancelled"
		result.DurationMs = time.Since(start).Milliseconds()
		return result
	}

	finish(result, text, err, start, logger)
	if err == nil {
		if ferr := sink(message.StreamChunk{SessionID: req.SessionID, IsFinal: true}); ferr != nil {
			logger.Warn("sending final chunk", "error", ferr)
		}
	}
	return result
}

// finish records the outcome of an assistant call on result.
func finish(result *message.ChatResult, text string, err error, start time.Time, logger *slog.Logger) {
	result.DurationMs = time.Since(start).Milliseconds()
	if err == nil {
		result.Text = text
		logger.Info("chat complete", "duration", time.Since(start), "chars", len(text))
		return
	}

	result.Error = err.Error()
	var (
		ce *assistant.ChatError
		pe *assistant.PartialStreamError
	)
	switch {
	case errors.As(err, &pe):
		result.Text = pe.Partial
		result.ErrorKind = "interrupted"
	case errors.As(err, &ce):
		result.ErrorKind = ce.Kind.String()
		if ce.Kind == assistant.RateLimited {
			result.Text = assistant.RateLimitMessage
		}
	case errors.Is(err, assistant.ErrUnsupported):
		result.ErrorKind = "unsupported"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		result.ErrorKind = "cancelled"
	default:
		result.ErrorKind = assistant.InvocationError.String()
	}
	logger.Warn("chat failed", "kind", result.ErrorKind, "duration", time.Since(start), "error", err)
}

// ClearMemory forgets the history of sessionID and whatever conversation
// state the backend keeps itself.
func (d *Dispatcher) ClearMemory(ctx context.Context, sessionID string) *message.ControlResponse {
	logger := slog.With("session_id", sessionID, "backend", d.assistant.Name())

	var errs []error
	if d.memory != nil && sessionID != "" {
		if err := d.memory.Clear(ctx, sessionID); err != nil {
			errs = append(errs, err)
		}
	}
	if c, ok := d.assistant.(memoryClearer); ok {
		if err := c.ClearMemory(ctx); err != nil {
			errs = append(errs, fmt.Errorf("clearing %s memory: %w", d.assistant.Name(), err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		logger.Warn("clearing memory failed", "error", err)
		return &message.ControlResponse{Message: fmt.Sprintf("Failed to clear memory: %v", err)}
	}
	logger.Info("memory cleared")
	return &message.ControlResponse{Success: true, Message: "Conversation memory cleared"}
}

// ResetAssistant restarts the backend's runtime, if it has one.
func (d *Dispatcher) ResetAssistant(context.Context) *message.ControlResponse {
	name := d.assistant.Name()
	r, ok := d.assistant.(resetter)
	if !ok {
		return &message.ControlResponse{Message: fmt.Sprintf("The %s assistant has no runtime to reset.", name)}
	}
	if err := r.Reset(); err != nil {
		slog.Warn("resetting assistant", "backend", name, "error", err)
		return &message.ControlResponse{Message: fmt.Sprintf("Failed to reset the %s assistant: %v", name, err)}
	}
	slog.Info("assistant reset", "backend", name)
	return &message.ControlResponse{Success: true, Message: fmt.Sprintf("The %s assistant was reset", name)}
}

// ExecuteCommand decodes and runs one Ableton command.
func (d *Dispatcher) ExecuteCommand(ctx context.Context, raw json.RawMessage) *message.AbletonControlResponse {
	cmd, err := ableton.ParseCommand(raw)
	if err != nil {
		return failure(err.Error())
	}
	logger := slog.With("command", cmd.Type())

	data, err := d.live.Execute(ctx, cmd)
	if err != nil {
		logger.Warn("ableton command failed", "error", err)
		return failure(explain(cmd, err))
	}
	logger.Debug("ableton command sent")
	return &message.AbletonControlResponse{Success: true, Data: data}
}

func explain(cmd ableton.Command, err error) string {
	switch {
	case errors.Is(err, ableton.ErrNotConnected):
		return NotConnectedMessage
	case errors.Is(err, ableton.ErrUnimplementedCommand):
		return fmt.Sprintf("Command %q is not implemented yet.", cmd.Type())
	case errors.Is(err, ableton.ErrQueryTimeout):
		return "Ableton Live did not answer. Is the remote script running?"
	default:
		return err.Error()
	}
}

// ConnectAbleton opens the connector.
func (d *Dispatcher) ConnectAbleton(ctx context.Context) *message.AbletonControlResponse {
	if err := d.live.Connect(ctx); err != nil {
		slog.Error("connecting to ableton", "error", err)
		return failure(fmt.Sprintf("Failed to connect to Ableton Live: %v", err))
	}
	cfg := d.live.Config()
	return success(fmt.Sprintf("Connected to Ableton Live at %s:%d", cfg.Host, cfg.Port))
}

// DisconnectAbleton closes the connector.
func (d *Dispatcher) DisconnectAbleton(context.Context) *message.AbletonControlResponse {
	if err := d.live.Disconnect(); err != nil {
		slog.Error("disconnecting from ableton", "error", err)
		return failure(fmt.Sprintf("Failed to disconnect from Ableton Live: %v", err))
	}
	return success("Disconnected from Ableton Live")
}

// AbletonStatus reports the connector state.
func (d *Dispatcher) AbletonStatus() message.AbletonStatus {
	cfg := d.live.Config()
	return message.AbletonStatus{State: d.live.State().String(), Host: cfg.Host, Port: cfg.Port}
}

func success(msg string) *message.AbletonControlResponse {
	return &message.AbletonControlResponse{Success: true, Message: &msg}
}

func failure(msg string) *message.AbletonControlResponse {
	return &message.AbletonControlResponse{Success: false, Message: &msg}
}
