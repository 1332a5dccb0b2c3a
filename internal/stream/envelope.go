package stream

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const schemaVersion = "1.0.0"

// User identifies the sender of outbound turns.
type User struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type envelope struct {
	Type           string          `json:"type"`
	SchemaType     string          `json:"schema_type"`
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	Content        envelopeContent `json:"content"`
	User           User            `json:"user"`
	Security       struct{}        `json:"security"`
	Error          struct{}        `json:"error"`
	SchemaVersion  string          `json:"schema_version"`
	Timestamp      string          `json:"timestamp"`
}

type envelopeContent struct {
	Messages []envelopeMessage `json:"messages"`
}

type envelopeMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func newEnvelope(text, conversationID string, user User, now time.Time) envelope {
	return envelope{
		Type:           "user_message",
		SchemaType:     "chat",
		ID:             "msg-" + uuid.NewString(),
		ConversationID: conversationID,
		Content: envelopeContent{Messages: []envelopeMessage{{
			Role:    "user",
			Content: []contentPart{{Type: "text", Text: text}},
		}}},
		User:          user,
		SchemaVersion: schemaVersion,
		Timestamp:     now.UTC().Format(time.RFC3339),
	}
}

// frame is the subset of an inbound frame the session reads. ParentID,
// when the peer sets it, is the id of the user message being answered.
type frame struct {
	Status   string `json:"status"`
	ParentID string `json:"parent_id"`
	Content *struct {
		Payload json.RawMessage `json:"payload"`
	} `json:"content"`
}

// chunk returns the frame's payload text, if it carries one.
func (f *frame) chunk() (string, bool) {
	if f.Content == nil || len(f.Content.Payload) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(f.Content.Payload, &s); err != nil {
		return "", false
	}
	return s, true
}
