// Package memory keeps per-session conversation history.
package memory

import (
	"context"
	"sync"
)

// Turn is one remembered message.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Store loads and appends conversation history by session id.
type Store interface {
	Load(ctx context.Context, sessionID string) ([]Turn, error)
	Append(ctx context.Context, sessionID, userMsg, assistantMsg string) error
	Clear(ctx context.Context, sessionID string) error
}

// DefaultMaxTurns bounds history when no limit is configured.
const DefaultMaxTurns = 10

func trim(history []Turn, max int) []Turn {
	if max > 0 && len(history) > max {
		return history[len(history)-max:]
	}
	return history
}

// InMemory is a process-local Store.
type InMemory struct {
	mu       sync.Mutex
	maxTurns int
	sessions map[string][]Turn
}

// NewInMemory creates an InMemory store keeping at most maxTurns turns per
// session.
func NewInMemory(maxTurns int) *InMemory {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &InMemory{maxTurns: maxTurns, sessions: make(map[string][]Turn)}
}

func (m *InMemory) Load(_ context.Context, sessionID string) ([]Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	history := m.sessions[sessionID]
	out := make([]Turn, len(history))
	copy(out, history)
	return out, nil
}

func (m *InMemory) Append(_ context.Context, sessionID, userMsg, assistantMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	history := append(m.sessions[sessionID],
		Turn{Role: "user", Content: userMsg},
		Turn{Role: "assistant", Content: assistantMsg},
	)
	m.sessions[sessionID] = trim(history, m.maxTurns)
	return nil
}

func (m *InMemory) Clear(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}
