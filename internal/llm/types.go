package llm

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Request types for the OpenRouter/OpenAI-compatible API.

type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Tools       []Tool    `json:"tools,omitempty"`
	Stream      bool      `json:"stream"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
}

// Message is one conversation turn. Content is either a string or a slice
// of ContentPart for multimodal turns.
type Message struct {
	Role       string     `json:"role"`
	Content    any        `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type ToolCall struct {
	Index    int              `json:"index"`
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
}

type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Response types

type ChatResponse struct {
	ID      string    `json:"id"`
	Model   string    `json:"model,omitempty"`
	Choices []Choice  `json:"choices"`
	Usage   *Usage    `json:"usage,omitempty"`
	Error   *APIError `json:"error,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type Choice struct {
	Index        int    `json:"index"`
	Delta        *Delta `json:"delta,omitempty"`
	Message      *Delta `json:"message,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
}

type Delta struct {
	Role      string     `json:"role,omitempty"`
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// APIError is an error object embedded in a response body. Providers send
// the code either as a number or as a string.
type APIError struct {
	Message string          `json:"message"`
	Type    string          `json:"type,omitempty"`
	Code    json.RawMessage `json:"code,omitempty"`
}

func (e *APIError) Error() string {
	if code := e.CodeString(); code != "" {
		return fmt.Sprintf("provider error (code %s): %s", code, e.Message)
	}
	return "provider error: " + e.Message
}

// CodeString returns the code without JSON quoting.
func (e *APIError) CodeString() string {
	if len(e.Code) == 0 || string(e.Code) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.Code, &s); err == nil {
		return s
	}
	return string(e.Code)
}

// Status returns the code as an HTTP-like status, or 0.
func (e *APIError) Status() int {
	n, err := strconv.Atoi(e.CodeString())
	if err != nil {
		return 0
	}
	return n
}

// StreamEvent is a parsed event from the SSE stream.
type StreamEvent struct {
	Type     string // "content", "tool_call", "done"
	Content  string
	ToolCall *ToolCall
	Usage    *Usage
}

// UserText builds a plain user message.
func UserText(text string) Message {
	return Message{Role: "user", Content: text}
}

// UserImage builds a user message carrying text and an inline image.
func UserImage(text, dataURL string) Message {
	return Message{Role: "user", Content: []ContentPart{
		{Type: "text", Text: text},
		{Type: "image_url", ImageURL: &ImageURL{URL: dataURL}},
	}}
}
