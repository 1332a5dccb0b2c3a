// Package llm is a client for OpenRouter-compatible chat-completion APIs.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/orbit-app/orbit/internal/httpc"
)

var (
	ErrStreamError = errors.New("stream error")
	ErrNoChoices   = fmt.Errorf("%w: no choices in response", httpc.ErrInvalidResponse)
)

// Options configures a Client.
type Options struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// Referer and Title are sent as OpenRouter attribution headers.
	Referer string
	Title   string
}

// Client talks to the /chat/completions endpoint.
type Client struct {
	baseURL string
	apiKey  string
	referer string
	title   string
	// client is used for one-shot requests and carries the timeout;
	// streaming uses streamClient, bounded only by the caller's context.
	client       *http.Client
	streamClient *http.Client
}

// NewClient creates a Client.
func NewClient(opts Options) *Client {
	return &Client{
		baseURL:      strings.TrimSuffix(opts.BaseURL, "/"),
		apiKey:       opts.APIKey,
		referer:      opts.Referer,
		title:        opts.Title,
		client:       &http.Client{Timeout: opts.Timeout},
		streamClient: &http.Client{},
	}
}

func (c *Client) newRequest(ctx context.Context, body *ChatRequest) (*http.Request, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.referer != "" {
		req.Header.Set("HTTP-Referer", c.referer)
	}
	if c.title != "" {
		req.Header.Set("X-Title", c.title)
	}
	return req, nil
}

// Complete sends a non-streaming chat request.
func (c *Client) Complete(ctx context.Context, body *ChatRequest) (*ChatResponse, error) {
	body.Stream = false
	req, err := c.newRequest(ctx, body)
	if err != nil {
		return nil, err
	}

	slog.Debug("chat completion request",
		"model", body.Model,
		"messages", len(body.Messages),
		"tools", len(body.Tools),
	)

	data, err := httpc.Do(c.client, req)
	if err != nil {
		return nil, err
	}

	var resp ChatResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to deserialize api response: %w", err)
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil {
		return nil, ErrNoChoices
	}
	return &resp, nil
}

// StreamCallback receives each event in order.
type StreamCallback func(event StreamEvent)

// Stream sends a streaming chat request and feeds SSE events to callback.
func (c *Client) Stream(ctx context.Context, body *ChatRequest, callback StreamCallback) error {
	body.Stream = true
	req, err := c.newRequest(ctx, body)
	if err != nil {
		return err
	}

	slog.Debug("chat stream request", "model", body.Model, "messages", len(body.Messages))

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return httpc.Classify(c.streamClient, req, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &httpc.HTTPError{Status: resp.StatusCode, Message: string(data)}
	}

	return processStream(ctx, resp.Body, callback)
}

// processStream reads SSE "data:" lines until the [DONE] marker.
func processStream(ctx context.Context, r io.Reader, callback StreamCallback) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	toolCalls := make(map[int]*ToolCall)
	var order []int
	var usage *Usage

	finish := func() {
		for _, idx := range order {
			callback(StreamEvent{Type: "tool_call", ToolCall: toolCalls[idx]})
		}
		callback(StreamEvent{Type: "done", Usage: usage})
	}

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			finish()
			return nil
		}

		var chunk ChatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			slog.Debug("skipping malformed stream chunk", "error", err)
			continue
		}
		if chunk.Error != nil {
			return fmt.Errorf("%w: %w", ErrStreamError, chunk.Error)
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta
		if delta == nil {
			delta = chunk.Choices[0].Message
		}
		if delta == nil {
			continue
		}
		if delta.Content != "" {
			callback(StreamEvent{Type: "content", Content: delta.Content})
		}
		for _, tc := range delta.ToolCalls {
			if existing, ok := toolCalls[tc.Index]; ok && tc.ID == "" {
				if tc.Function.Name != "" {
					existing.Function.Name = tc.Function.Name
				}
				existing.Function.Arguments += tc.Function.Arguments
				continue
			}
			call := tc
			if _, ok := toolCalls[tc.Index]; !ok {
				order = append(order, tc.Index)
			}
			toolCalls[tc.Index] = &call
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", ErrStreamError, err)
	}

	finish()
	return nil
}
