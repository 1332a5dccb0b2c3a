package nat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/orbit-app/orbit/internal/httpc"
)

const (
	defaultTimeout = 30 * time.Second
	healthTimeout  = 5 * time.Second

	chatModel       = "orbit-ai"
	chatTemperature = 0.1
	chatMaxTokens   = 1000
)

// Client talks to the backend's one-shot HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Client for baseURL (e.g. "http://localhost:8000").
// A zero timeout uses 30 seconds.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatBody struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	MaxTokens      int           `json:"max_tokens"`
	ConversationID string        `json:"conversation_id,omitempty"`
}

// Chat sends one message and returns the reply text. conversationID may be
// empty.
func (c *Client) Chat(ctx context.Context, message, conversationID string) (string, error) {
	payload, err := json.Marshal(chatBody{
		Model:          chatModel,
		Messages:       []chatMessage{{Role: "user", Content: message}},
		Temperature:    chatTemperature,
		MaxTokens:      chatMaxTokens,
		ConversationID: conversationID,
	})
	if err != nil {
		return "", fmt.Errorf("encoding chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("creating chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := httpc.Do(c.http, req)
	if err != nil {
		return "", err
	}
	return parseReply(body)
}

// HealthCheck reports whether the backend answers its health probe.
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("creating health request: %w", err)
	}
	_, err = httpc.Do(c.http, req)
	return err
}

type choices []struct {
	Message struct {
		Content *string `json:"content"`
	} `json:"message"`
}

func (cs choices) first() (string, bool) {
	if len(cs) == 0 || cs[0].Message.Content == nil {
		return "", false
	}
	return *cs[0].Message.Content, true
}

// parseReply accepts the reply shapes the backend has been seen to produce,
// falling back to the raw body.
func parseReply(body []byte) (string, error) {
	var reply struct {
		Choices  choices         `json:"choices"`
		Value    json.RawMessage `json:"value"`
		Response *string         `json:"response"`
	}
	if err := json.Unmarshal(body, &reply); err != nil {
		return "", fmt.Errorf("%w: %v", httpc.ErrInvalidResponse, err)
	}

	if text, ok := reply.Choices.first(); ok {
		return text, nil
	}
	if len(reply.Value) > 0 {
		var nested struct {
			Choices choices `json:"choices"`
		}
		if json.Unmarshal(reply.Value, &nested) == nil {
			if text, ok := nested.Choices.first(); ok {
				return text, nil
			}
		}
		var s string
		if json.Unmarshal(reply.Value, &s) == nil {
			return s, nil
		}
	}
	if reply.Response != nil {
		return *reply.Response, nil
	}
	return string(body), nil
}
