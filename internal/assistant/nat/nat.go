// Package nat implements the Orbit assistant against a self-hosted agent
// server that exposes a one-shot HTTP chat endpoint and a websocket stream.
package nat

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/orbit-app/orbit/internal/assistant"
	"github.com/orbit-app/orbit/internal/stream"
)

// Config configures an Assistant.
type Config struct {
	BaseURL string
	Timeout time.Duration
	User    stream.User
}

// Assistant answers through the agent server.
type Assistant struct {
	client  *Client
	session *stream.Session
}

// New creates an Assistant. The websocket endpoint is derived from
// BaseURL by switching the scheme and appending "/websocket".
func New(cfg Config) (*Assistant, error) {
	wsURL, err := websocketURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	return &Assistant{
		client:  NewClient(cfg.BaseURL, cfg.Timeout),
		session: stream.New(stream.Config{URL: wsURL, User: cfg.User}),
	}, nil
}

func websocketURL(base string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("parsing base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported base url scheme %q", u.Scheme)
	}
	u.Path += "/websocket"
	return u.String(), nil
}

func (a *Assistant) Name() string { return "nat" }

// Ask sends message over the one-shot endpoint. sessionID is passed as the
// conversation id.
func (a *Assistant) Ask(ctx context.Context, message, sessionID string) (string, error) {
	text, err := a.client.Chat(ctx, message, sessionID)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		slog.Error("agent server chat failed", "session_id", sessionID, "error", err)
		return "", &assistant.ChatError{Kind: assistant.Classify(err), Err: err}
	}
	return text, nil
}

func (a *Assistant) AskWithImage(context.Context, string, []byte) (string, error) {
	return "", fmt.Errorf("agent server: %w", assistant.ErrUnsupported)
}

// AskStream runs one turn over the persistent websocket session.
func (a *Assistant) AskStream(ctx context.Context, message, sessionID string, onChunk func(string)) (string, error) {
	text, err := a.session.SendAndStream(ctx, message, sessionID, onChunk)
	if err == nil {
		return text, nil
	}
	if text != "" {
		return text, &assistant.PartialStreamError{Partial: text, Err: err}
	}
	return "", err
}

// HealthCheck probes the agent server.
func (a *Assistant) HealthCheck(ctx context.Context) error {
	return a.client.HealthCheck(ctx)
}

// Close disconnects the websocket session.
func (a *Assistant) Close() error {
	return a.session.Disconnect()
}
