package openrouter

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbit-app/orbit/internal/assistant"
	"github.com/orbit-app/orbit/internal/httpc"
	"github.com/orbit-app/orbit/internal/llm"
	"github.com/orbit-app/orbit/internal/memory"
	"github.com/orbit-app/orbit/internal/tools"
)

// scripted answers per model; each Complete call pops the next reply.
type reply struct {
	text  string
	calls []llm.ToolCall
	err   error
}

type fakeCompleter struct {
	mu       sync.Mutex
	replies  map[string][]reply
	attempts []string
	requests []*llm.ChatRequest

	chunks    []string
	streamErr error
}

func (f *fakeCompleter) Complete(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, req.Model)
	f.requests = append(f.requests, req)

	queue := f.replies[req.Model]
	if len(queue) == 0 {
		return nil, errors.New("unexpected call to " + req.Model)
	}
	r := queue[0]
	f.replies[req.Model] = queue[1:]
	if r.err != nil {
		return nil, r.err
	}
	return &llm.ChatResponse{Choices: []llm.Choice{{
		Message: &llm.Delta{Role: "assistant", Content: r.text, ToolCalls: r.calls},
	}}}, nil
}

func (f *fakeCompleter) Stream(_ context.Context, req *llm.ChatRequest, cb llm.StreamCallback) error {
	f.mu.Lock()
	f.attempts = append(f.attempts, req.Model)
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	for _, c := range f.chunks {
		cb(llm.StreamEvent{Type: "content", Content: c})
	}
	if f.streamErr != nil {
		return f.streamErr
	}
	cb(llm.StreamEvent{Type: "done"})
	return nil
}

var rateLimited = &httpc.HTTPError{Status: 429, Message: `{"error":{"message":"Rate limit exceeded"}}`}

var threeModels = []Candidate{{ID: "a"}, {ID: "b", Vision: true}, {ID: "c", Vision: true}}

func newAssistant(t *testing.T, f *fakeCompleter, opts ...Option) *Assistant {
	t.Helper()
	a, err := New(f, threeModels, opts...)
	require.NoError(t, err)
	return a
}

func TestNewRequiresCandidates(t *testing.T) {
	_, err := New(&fakeCompleter{}, nil)
	assert.Error(t, err)
}

func TestAskFallsBackInOrderOnRateLimit(t *testing.T) {
	f := &fakeCompleter{replies: map[string][]reply{
		"a": {{err: rateLimited}},
		"b": {{err: errors.New("provider error (code 429): slow down")}},
		"c": {{text: "ok"}},
	}}
	a := newAssistant(t, f)

	text, err := a.Ask(context.Background(), "hi", "")
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, []string{"a", "b", "c"}, f.attempts)
}

func TestAskStopsAtFirstSuccess(t *testing.T) {
	f := &fakeCompleter{replies: map[string][]reply{
		"a": {{text: "first"}},
		"b": {{text: "second"}},
	}}
	a := newAssistant(t, f)

	text, err := a.Ask(context.Background(), "hi", "")
	require.NoError(t, err)
	assert.Equal(t, "first", text)
	assert.Equal(t, []string{"a"}, f.attempts)
}

func TestAskFailsFastOnInvocationError(t *testing.T) {
	f := &fakeCompleter{replies: map[string][]reply{
		"a": {{err: &httpc.HTTPError{Status: 500, Message: "boom"}}},
		"b": {{text: "would have worked"}},
	}}
	a := newAssistant(t, f)

	_, err := a.Ask(context.Background(), "hi", "")
	var ce *assistant.ChatError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, assistant.InvocationError, ce.Kind)
	assert.Equal(t, "a", ce.Model)
	assert.True(t, strings.HasPrefix(err.Error(), "Agent invocation failed: "))
	assert.Equal(t, []string{"a"}, f.attempts)
}

func TestAskFailsFastOnParseError(t *testing.T) {
	f := &fakeCompleter{replies: map[string][]reply{
		"a": {{err: errors.New("failed to deserialize api response: invalid type: integer `400`")}},
	}}
	a := newAssistant(t, f)

	_, err := a.Ask(context.Background(), "hi", "")
	var ce *assistant.ChatError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, assistant.ParseError, ce.Kind)
	assert.True(t, strings.HasPrefix(err.Error(), "API response parsing error: "))
	assert.Equal(t, []string{"a"}, f.attempts)
}

func TestAskReturnsUpgradeMessageWhenAllRateLimited(t *testing.T) {
	f := &fakeCompleter{replies: map[string][]reply{
		"a": {{err: rateLimited}},
		"b": {{err: rateLimited}},
		"c": {{err: rateLimited}},
	}}
	a := newAssistant(t, f)

	_, err := a.Ask(context.Background(), "hi", "")
	require.Error(t, err)
	assert.True(t, assistant.IsRateLimited(err))
	assert.Equal(t, assistant.RateLimitMessage, err.Error())
	assert.Equal(t, []string{"a", "b", "c"}, f.attempts)
}

func TestAskFramesPromptAndStartsFreshPerCandidate(t *testing.T) {
	f := &fakeCompleter{replies: map[string][]reply{
		"a": {{err: rateLimited}},
		"b": {{text: "ok"}},
	}}
	a := newAssistant(t, f, WithSystemPrompt("SYS"))

	_, err := a.Ask(context.Background(), "set tempo", "")
	require.NoError(t, err)
	require.Len(t, f.requests, 2)
	for _, req := range f.requests {
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "SYS\n\nUser: set tempo", req.Messages[0].Content)
	}
}

func TestAskReturnsContextErrorWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := &fakeCompleter{replies: map[string][]reply{"a": {{err: context.Canceled}}}}
	a := newAssistant(t, f)

	_, err := a.Ask(ctx, "hi", "")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"a"}, f.attempts)
}

func TestAskRunsToolCalls(t *testing.T) {
	registry := tools.NewRegistry(&echoTool{})
	f := &fakeCompleter{replies: map[string][]reply{
		"a": {
			{calls: []llm.ToolCall{{ID: "call_1", Type: "function", Function: llm.ToolCallFunction{Name: "echo", Arguments: `{"text":"120"}`}}}},
			{text: "Tempo is now 120 BPM."},
		},
	}}
	a := newAssistant(t, f, WithTools(registry))

	text, err := a.Ask(context.Background(), "set tempo to 120", "")
	require.NoError(t, err)
	assert.Equal(t, "Tempo is now 120 BPM.", text)
	require.Len(t, f.requests, 2)

	second := f.requests[1].Messages
	require.Len(t, second, 3)
	assert.Equal(t, "assistant", second[1].Role)
	assert.Equal(t, "tool", second[2].Role)
	assert.Equal(t, "call_1", second[2].ToolCallID)
	assert.Equal(t, "echo: 120", second[2].Content)
	assert.Len(t, f.requests[0].Tools, 1)
}

func TestAskBoundsToolRounds(t *testing.T) {
	loop := reply{calls: []llm.ToolCall{{ID: "x", Function: llm.ToolCallFunction{Name: "echo", Arguments: `{}`}}}}
	f := &fakeCompleter{replies: map[string][]reply{"a": {loop, loop, loop}}}
	a := newAssistant(t, f, WithTools(tools.NewRegistry(&echoTool{})), WithMaxToolSteps(1))

	_, err := a.Ask(context.Background(), "hi", "")
	var ce *assistant.ChatError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, assistant.InvocationError, ce.Kind)
	assert.Len(t, f.attempts, 2)
}

func TestAskDoesNotRepeatToolsAfterRateLimit(t *testing.T) {
	volume := reply{calls: []llm.ToolCall{{ID: "call_1", Type: "function", Function: llm.ToolCallFunction{Name: "echo", Arguments: `{"text":"0.5"}`}}}}
	f := &fakeCompleter{replies: map[string][]reply{
		"a": {volume, {err: rateLimited}},
		"b": {volume, {text: "done"}},
	}}
	tool := &echoTool{}
	a := newAssistant(t, f, WithTools(tools.NewRegistry(tool)))

	_, err := a.Ask(context.Background(), "set track 1 volume to half", "")
	assert.True(t, assistant.IsRateLimited(err))
	assert.Equal(t, []string{"a", "a"}, f.attempts)
	assert.Equal(t, int32(1), tool.runs.Load())
}

func TestAskUsesSessionHistory(t *testing.T) {
	store := memory.NewInMemory(10)
	f := &fakeCompleter{replies: map[string][]reply{"a": {{text: "one"}, {text: "two"}}}}
	a := newAssistant(t, f, WithMemory(store), WithSystemPrompt(""))

	_, err := a.Ask(context.Background(), "first", "s1")
	require.NoError(t, err)
	_, err = a.Ask(context.Background(), "second", "s1")
	require.NoError(t, err)

	msgs := f.requests[1].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "one", msgs[1].Content)
	assert.Equal(t, "second", msgs[2].Content)
}

func TestAskWithImageUsesOnlyVisionModels(t *testing.T) {
	f := &fakeCompleter{replies: map[string][]reply{
		"b": {{err: rateLimited}},
		"c": {{text: "a mixer"}},
	}}
	a := newAssistant(t, f)

	png := []byte("\x89PNG\r\n\x1a\n0000")
	text, err := a.AskWithImage(context.Background(), "what is this?", png)
	require.NoError(t, err)
	assert.Equal(t, "a mixer", text)
	assert.Equal(t, []string{"b", "c"}, f.attempts)

	parts, ok := f.requests[0].Messages[0].Content.([]llm.ContentPart)
	require.True(t, ok)
	require.Len(t, parts, 2)
	assert.True(t, strings.HasPrefix(parts[1].ImageURL.URL, "data:image/png;base64,"))
}

func TestAskWithImageWithoutVisionModel(t *testing.T) {
	a, err := New(&fakeCompleter{}, []Candidate{{ID: "text-only"}})
	require.NoError(t, err)

	_, err = a.AskWithImage(context.Background(), "what is this?", []byte("img"))
	assert.ErrorIs(t, err, assistant.ErrUnsupported)
}

func TestAskStreamForwardsChunksFromFirstModel(t *testing.T) {
	f := &fakeCompleter{chunks: []string{"Set", "ting", " tempo"}}
	a := newAssistant(t, f)

	var got []string
	text, err := a.AskStream(context.Background(), "hi", "", func(c string) { got = append(got, c) })
	require.NoError(t, err)
	assert.Equal(t, "Setting tempo", text)
	assert.Equal(t, []string{"Set", "ting", " tempo"}, got)
	assert.Equal(t, []string{"a"}, f.attempts)
}

func TestAskStreamReportsPartialFailure(t *testing.T) {
	f := &fakeCompleter{chunks: []string{"half"}, streamErr: errors.New("connection reset")}
	a := newAssistant(t, f)

	text, err := a.AskStream(context.Background(), "hi", "", func(string) {})
	var pe *assistant.PartialStreamError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "half", pe.Partial)
	assert.Equal(t, "half", text)
}

func TestAskStreamClassifiesFailureBeforeOutput(t *testing.T) {
	f := &fakeCompleter{streamErr: rateLimited}
	a := newAssistant(t, f)

	_, err := a.AskStream(context.Background(), "hi", "", func(string) {})
	assert.True(t, assistant.IsRateLimited(err))
	assert.Equal(t, []string{"a"}, f.attempts, "streaming never falls back")
}

type echoTool struct {
	runs atomic.Int32
}

func (*echoTool) Name() string               { return "echo" }
func (*echoTool) Description() string        { return "echoes text" }
func (*echoTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (e *echoTool) Run(_ context.Context, raw json.RawMessage) (string, error) {
	e.runs.Add(1)
	var a struct {
		Text string `json:"text"`
	}
	_ = json.Unmarshal(raw, &a)
	return "echo: " + a.Text, nil
}
