package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbit-app/orbit/internal/httpc"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Options{BaseURL: srv.URL + "/", APIKey: "sk-test", Timeout: 5 * time.Second, Title: "Orbit"})
}

func TestCompleteSendsRequestAndParsesReply(t *testing.T) {
	var got ChatRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "Orbit", r.Header.Get("X-Title"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"id":"1","choices":[{"message":{"role":"assistant","content":"hello"}}]}`)
	})

	resp, err := c.Complete(context.Background(), &ChatRequest{
		Model:    "moonshotai/kimi-k2:free",
		Messages: []Message{UserText("hi")},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Choices[0].Message.Content)
	assert.Equal(t, "moonshotai/kimi-k2:free", got.Model)
	assert.False(t, got.Stream)
}

func TestCompleteMapsStatusErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"slow down","code":429}}`)
	})

	_, err := c.Complete(context.Background(), &ChatRequest{Model: "m"})
	var httpErr *httpc.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, 429, httpErr.Status)
}

func TestCompleteSurfacesInBodyErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":{"message":"Rate limit exceeded: free-models-per-day","code":429}}`)
	})

	_, err := c.Complete(context.Background(), &ChatRequest{Model: "m"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 429, apiErr.Status())
	assert.Contains(t, err.Error(), "429")
}

func TestCompleteRejectsEmptyChoices(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"1","choices":[]}`)
	})

	_, err := c.Complete(context.Background(), &ChatRequest{Model: "m"})
	assert.ErrorIs(t, err, httpc.ErrInvalidResponse)
}

func TestStreamDeliversChunksInOrder(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"Set", " the", " tempo"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", part)
		}
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "data: not json\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	var chunks []string
	var done bool
	err := c.Stream(context.Background(), &ChatRequest{Model: "m"}, func(ev StreamEvent) {
		switch ev.Type {
		case "content":
			chunks = append(chunks, ev.Content)
		case "done":
			done = true
		}
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Set", " the", " tempo"}, chunks)
	assert.True(t, done)
}

func TestStreamAccumulatesToolCalls(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"set_tempo","arguments":"{\"bpm\""}}]}}]}`+"\n\n")
		fmt.Fprint(w, `data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":":120}"}}]}}]}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	var calls []*ToolCall
	err := c.Stream(context.Background(), &ChatRequest{Model: "m"}, func(ev StreamEvent) {
		if ev.Type == "tool_call" {
			calls = append(calls, ev.ToolCall)
		}
	})
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, "set_tempo", calls[0].Function.Name)
	assert.Equal(t, `{"bpm":120}`, calls[0].Function.Arguments)
}

func TestStreamReportsMidStreamError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"error\":{\"message\":\"upstream died\",\"code\":\"502\"}}\n\n")
	})

	var text strings.Builder
	err := c.Stream(context.Background(), &ChatRequest{Model: "m"}, func(ev StreamEvent) {
		text.WriteString(ev.Content)
	})
	assert.ErrorIs(t, err, ErrStreamError)
	assert.Contains(t, err.Error(), "upstream died")
	assert.Equal(t, "partial", text.String())
}

func TestUserImageBuildsContentParts(t *testing.T) {
	data, err := json.Marshal(UserImage("what is this?", "data:image/png;base64,AAAA"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"user","content":[
		{"type":"text","text":"what is this?"},
		{"type":"image_url","image_url":{"url":"data:image/png;base64,AAAA"}}
	]}`, string(data))
}
