package embedded

import (
	"context"
	"errors"
	"log/slog"

	"github.com/orbit-app/orbit/internal/assistant"
)

// Assistant answers through the embedded runtime held by a Handle.
type Assistant struct {
	handle *Handle
	system string
}

// New creates an Assistant over h. system frames every message; pass
// assistant.SystemPrompt unless the runtime carries its own prompt.
func New(h *Handle, system string) *Assistant {
	return &Assistant{handle: h, system: system}
}

func (a *Assistant) Name() string { return "embedded" }

func (a *Assistant) Ask(ctx context.Context, message, sessionID string) (string, error) {
	var text string
	err := a.handle.Do(ctx, func(rt Runtime) error {
		var err error
		text, err = rt.Run(ctx, a.request(message, sessionID, nil))
		return err
	})
	if err != nil {
		return "", a.wrap(ctx, err)
	}
	return text, nil
}

func (a *Assistant) AskWithImage(ctx context.Context, message string, image []byte) (string, error) {
	var text string
	err := a.handle.Do(ctx, func(rt Runtime) error {
		var err error
		text, err = rt.Run(ctx, a.request(message, "", image))
		return err
	})
	if err != nil {
		return "", a.wrap(ctx, err)
	}
	return text, nil
}

func (a *Assistant) AskStream(ctx context.Context, message, sessionID string, onChunk func(string)) (string, error) {
	var text string
	err := a.handle.Do(ctx, func(rt Runtime) error {
		var err error
		text, err = rt.Stream(ctx, a.request(message, sessionID, nil), onChunk)
		return err
	})
	if err == nil {
		return text, nil
	}
	if text != "" && ctx.Err() == nil {
		return text, &assistant.PartialStreamError{Partial: text, Err: err}
	}
	return "", a.wrap(ctx, err)
}

// ClearMemory forgets every conversation.
func (a *Assistant) ClearMemory(ctx context.Context) error {
	return a.handle.ClearMemory(ctx)
}

// Reset discards the runtime; the next call starts a fresh one.
func (a *Assistant) Reset() error {
	return a.handle.Reset()
}

func (a *Assistant) Close() error {
	return a.handle.Close()
}

func (a *Assistant) request(message, threadID string, image []byte) Request {
	if threadID == "" {
		threadID = DefaultThreadID
	}
	return Request{
		Message:  assistant.FramePrompt(a.system, message),
		ThreadID: threadID,
		Image:    image,
	}
}

func (a *Assistant) wrap(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, ErrStaleInstance) {
		return err
	}
	kind := assistant.Classify(err)
	slog.Error("embedded agent failed", "kind", kind, "error", err)
	return &assistant.ChatError{Kind: kind, Err: err}
}
