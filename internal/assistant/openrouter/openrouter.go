// Package openrouter implements the Orbit assistant on top of an
// OpenRouter-compatible API, falling back across models when one is rate
// limited.
package openrouter

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/orbit-app/orbit/internal/assistant"
	"github.com/orbit-app/orbit/internal/llm"
	"github.com/orbit-app/orbit/internal/memory"
	"github.com/orbit-app/orbit/internal/tools"
)

// Completer is the model API. *llm.Client satisfies it.
type Completer interface {
	Complete(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)
	Stream(ctx context.Context, req *llm.ChatRequest, callback llm.StreamCallback) error
}

// Candidate is one model in the fallback list.
type Candidate struct {
	ID     string
	Vision bool
}

// DefaultCandidates is the free-tier model list, in fallback order.
var DefaultCandidates = []Candidate{
	{ID: "google/gemini-2.0-flash-exp:free", Vision: true},
	{ID: "deepseek/deepseek-r1-0528:free"},
	{ID: "moonshotai/kimi-k2:free"},
	{ID: "mistralai/mistral-small-3.2-24b-instruct:free", Vision: true},
	{ID: "qwen/qwen2.5-vl-72b-instruct:free", Vision: true},
	{ID: "google/gemma-3-27b-it:free", Vision: true},
	{ID: "moonshotai/kimi-vl-a3b-thinking:free", Vision: true},
}

const defaultMaxToolSteps = 5

// Option configures an Assistant.
type Option func(*Assistant)

// WithTools lets models call the tools in r.
func WithTools(r *tools.Registry) Option {
	return func(a *Assistant) { a.tools = r }
}

// WithMemory seeds each turn with the session's history and records
// successful turns.
func WithMemory(s memory.Store) Option {
	return func(a *Assistant) { a.memory = s }
}

// WithSystemPrompt replaces assistant.SystemPrompt.
func WithSystemPrompt(p string) Option {
	return func(a *Assistant) { a.system = p }
}

// WithMaxToolSteps bounds the tool-call rounds per model invocation.
func WithMaxToolSteps(n int) Option {
	return func(a *Assistant) {
		if n > 0 {
			a.maxToolSteps = n
		}
	}
}

// WithMaxTokens caps completion length.
func WithMaxTokens(n int) Option {
	return func(a *Assistant) { a.maxTokens = n }
}

// Assistant is the fallback-chain assistant.
type Assistant struct {
	completer    Completer
	candidates   []Candidate
	system       string
	tools        *tools.Registry
	memory       memory.Store
	maxToolSteps int
	maxTokens    int
}

// New creates an Assistant. candidates is used in the given order and must
// not be empty.
func New(c Completer, candidates []Candidate, opts ...Option) (*Assistant, error) {
	if len(candidates) == 0 {
		return nil, errors.New("openrouter: at least one model is required")
	}
	a := &Assistant{
		completer:    c,
		candidates:   append([]Candidate(nil), candidates...),
		system:       assistant.SystemPrompt,
		maxToolSteps: defaultMaxToolSteps,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func (a *Assistant) Name() string { return "openrouter" }

func (a *Assistant) Close() error { return nil }

// Ask answers message, trying candidates in order while they are rate
// limited.
func (a *Assistant) Ask(ctx context.Context, message, sessionID string) (string, error) {
	history := a.history(ctx, sessionID)
	prompt := assistant.FramePrompt(a.system, message)

	text, err := a.fallback(ctx, a.candidates, func() []llm.Message {
		return append(history.clone(), llm.UserText(prompt))
	})
	if err != nil {
		return "", err
	}
	a.remember(ctx, sessionID, message, text)
	return text, nil
}

// AskWithImage answers a question about image using only vision-capable
// candidates.
func (a *Assistant) AskWithImage(ctx context.Context, message string, image []byte) (string, error) {
	var vision []Candidate
	for _, c := range a.candidates {
		if c.Vision {
			vision = append(vision, c)
		}
	}
	if len(vision) == 0 {
		return "", fmt.Errorf("no vision-capable model configured: %w", assistant.ErrUnsupported)
	}

	prompt := assistant.FramePrompt(a.system, message)
	dataURL := "data:" + http.DetectContentType(image) + ";base64," + base64.StdEncoding.EncodeToString(image)

	return a.fallback(ctx, vision, func() []llm.Message {
		return []llm.Message{llm.UserImage(prompt, dataURL)}
	})
}

// AskStream streams an answer from the first candidate. There is no
// fallback: output already delivered cannot be taken back.
func (a *Assistant) AskStream(ctx context.Context, message, sessionID string, onChunk func(string)) (string, error) {
	model := a.candidates[0].ID
	msgs := append(a.history(ctx, sessionID).clone(), llm.UserText(assistant.FramePrompt(a.system, message)))

	var acc strings.Builder
	err := a.completer.Stream(ctx, &llm.ChatRequest{
		Model:     model,
		Messages:  msgs,
		MaxTokens: a.maxTokens,
	}, func(ev llm.StreamEvent) {
		if ev.Type != "content" || ev.Content == "" {
			return
		}
		acc.WriteString(ev.Content)
		onChunk(ev.Content)
	})

	if err != nil {
		logger := slog.With("model", model, "session_id", sessionID)
		if acc.Len() > 0 {
			logger.Warn("stream failed after partial output", "bytes", acc.Len(), "error", err)
			return acc.String(), &assistant.PartialStreamError{Partial: acc.String(), Err: err}
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		kind := assistant.Classify(err)
		logger.Error("stream failed", "kind", kind, "error", err)
		return "", &assistant.ChatError{Kind: kind, Model: model, Err: err}
	}

	a.remember(ctx, sessionID, message, acc.String())
	return acc.String(), nil
}

// fallback runs the chain over cands. conversation builds a fresh message
// list for every attempt. Once a candidate has run a tool the chain stops:
// the next candidate would start over and repeat its side effects.
func (a *Assistant) fallback(ctx context.Context, cands []Candidate, conversation func() []llm.Message) (string, error) {
	var lastErr error
	for i, c := range cands {
		logger := slog.With("model", c.ID, "attempt", i+1, "of", len(cands))

		text, toolsRan, err := a.invoke(ctx, c.ID, conversation())
		if err == nil {
			logger.Debug("model answered", "chars", len(text))
			return text, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		kind := assistant.Classify(err)
		if kind != assistant.RateLimited {
			logger.Error("model invocation failed", "kind", kind, "error", err)
			return "", &assistant.ChatError{Kind: kind, Model: c.ID, Err: err}
		}

		lastErr = err
		if toolsRan {
			logger.Warn("model rate limited after running tools, not falling back", "error", err)
			return "", &assistant.ChatError{Kind: assistant.RateLimited, Model: c.ID, Err: err}
		}
		if i < len(cands)-1 {
			logger.Warn("model rate limited, trying next", "error", err)
			continue
		}
		logger.Warn("every model is rate limited")
		return "", &assistant.ChatError{Kind: assistant.RateLimited, Model: c.ID, Err: err}
	}
	return "", &assistant.ChatError{Kind: assistant.RateLimited, Err: lastErr}
}

// invoke runs one model until it answers without calling tools. toolsRan
// reports whether any tool was executed, also when err is set.
func (a *Assistant) invoke(ctx context.Context, model string, msgs []llm.Message) (text string, toolsRan bool, err error) {
	defs := a.tools.Definitions()

	for step := 0; step <= a.maxToolSteps; step++ {
		resp, err := a.completer.Complete(ctx, &llm.ChatRequest{
			Model:     model,
			Messages:  msgs,
			Tools:     defs,
			MaxTokens: a.maxTokens,
		})
		if err != nil {
			return "", toolsRan, err
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Message == nil {
			return "", toolsRan, llm.ErrNoChoices
		}

		msg := resp.Choices[0].Message
		if len(msg.ToolCalls) == 0 || a.tools.Len() == 0 {
			return msg.Content, toolsRan, nil
		}

		msgs = append(msgs, llm.Message{Role: "assistant", Content: msg.Content, ToolCalls: msg.ToolCalls})
		for _, tc := range msg.ToolCalls {
			slog.Debug("model called tool", "model", model, "tool", tc.Function.Name)
			out := a.tools.Execute(ctx, tc.Function.Name, tc.Function.Arguments)
			toolsRan = true
			msgs = append(msgs, llm.Message{Role: "tool", ToolCallID: tc.ID, Content: out})
		}
	}
	return "", toolsRan, fmt.Errorf("model still calling tools after %d rounds", a.maxToolSteps)
}

type turns []llm.Message

func (t turns) clone() []llm.Message {
	return append([]llm.Message(nil), t...)
}

func (a *Assistant) history(ctx context.Context, sessionID string) turns {
	if a.memory == nil || sessionID == "" {
		return nil
	}
	past, err := a.memory.Load(ctx, sessionID)
	if err != nil {
		slog.Warn("loading session history", "session_id", sessionID, "error", err)
		return nil
	}
	out := make(turns, 0, len(past))
	for _, t := range past {
		out = append(out, llm.Message{Role: t.Role, Content: t.Content})
	}
	return out
}

func (a *Assistant) remember(ctx context.Context, sessionID, message, answer string) {
	if a.memory == nil || sessionID == "" {
		return
	}
	if err := a.memory.Append(ctx, sessionID, message, answer); err != nil {
		slog.Warn("saving session history", "session_id", sessionID, "error", err)
	}
}
