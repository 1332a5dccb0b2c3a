// Package tools exposes Orbit's actions to models as callable tools.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/orbit-app/orbit/internal/llm"
)

// Tool is one function a model may call.
type Tool interface {
	Name() string
	Description() string
	// Parameters is the JSON schema of the arguments object.
	Parameters() map[string]any
	Run(ctx context.Context, args json.RawMessage) (string, error)
}

// Registry holds tools in registration order.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry creates a registry holding ts.
func NewRegistry(ts ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range ts {
		r.Register(t)
	}
	return r
}

// Register adds t, replacing any tool with the same name.
func (r *Registry) Register(t Tool) {
	if _, ok := r.tools[t.Name()]; !ok {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.order)
}

// Definitions returns the tool list sent with chat requests.
func (r *Registry) Definitions() []llm.Tool {
	if r == nil {
		return nil
	}
	defs := make([]llm.Tool, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, llm.Tool{
			Type: "function",
			Function: llm.ToolFunction{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// Execute runs the named tool. Failures are returned as text so the model
// can read them and recover.
func (r *Registry) Execute(ctx context.Context, name, arguments string) string {
	t, ok := r.Get(name)
	if !ok {
		return fmt.Sprintf("Error: unknown tool %q", name)
	}

	args := json.RawMessage(strings.TrimSpace(arguments))
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	out, err := t.Run(ctx, args)
	if err != nil {
		slog.Warn("tool failed", "tool", name, "error", err)
		return "Error: " + err.Error()
	}
	slog.Debug("tool ran", "tool", name)
	return out
}

// object builds a JSON schema for an object with the given properties.
func object(required []string, props map[string]any) map[string]any {
	if required == nil {
		required = []string{}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func integer(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc, "minimum": 0}
}

func number(desc string, min, max float64) map[string]any {
	return map[string]any{"type": "number", "description": desc, "minimum": min, "maximum": max}
}

func decodeArgs(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}
