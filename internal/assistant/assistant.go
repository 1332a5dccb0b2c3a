// Package assistant defines the contract shared by Orbit's chat backends and
// the error taxonomy the dispatcher reports to users.
package assistant

import (
	"context"
	"errors"
	"fmt"
)

// Assistant turns user messages into answers. Implementations must be safe
// for concurrent use.
type Assistant interface {
	// Name returns the backend name (e.g. "openrouter", "nat", "embedded").
	Name() string

	// Ask answers a single message. sessionID may be empty.
	Ask(ctx context.Context, message, sessionID string) (string, error)

	// AskWithImage answers a message about an image (PNG or JPEG bytes).
	AskWithImage(ctx context.Context, message string, image []byte) (string, error)

	// AskStream answers a message, handing each chunk to onChunk in the
	// order it was produced, and returns the concatenated text.
	AskStream(ctx context.Context, message, sessionID string, onChunk func(string)) (string, error)

	// Close releases resources held by the backend.
	Close() error
}

// ErrUnsupported is returned when a backend cannot serve a request kind.
var ErrUnsupported = errors.New("not supported by this assistant")

// Kind classifies a failed model invocation.
type Kind int

const (
	InvocationError Kind = iota
	RateLimited
	ParseError
)

func (k Kind) String() string {
	switch k {
	case RateLimited:
		return "rate_limited"
	case ParseError:
		return "parse_error"
	default:
		return "invocation_error"
	}
}

// RateLimitMessage is shown when every candidate model is rate limited.
const RateLimitMessage = "🚀 You're using Orbit like a pro! You've hit your free usage limit.\n\n" +
	"Upgrade to Orbit Pro for unlimited AI conversations, faster responses, and premium features.\n\n" +
	"Try again in a few minutes or upgrade now at orbit.app/pro"

const (
	parseErrorPrefix      = "API response parsing error: "
	invocationErrorPrefix = "Agent invocation failed: "
)

// ChatError is the final outcome of a failed chat turn.
type ChatError struct {
	Kind  Kind
	Model string
	Err   error
}

func (e *ChatError) Error() string {
	switch e.Kind {
	case RateLimited:
		return RateLimitMessage
	case ParseError:
		return parseErrorPrefix + e.Err.Error()
	default:
		return invocationErrorPrefix + e.Err.Error()
	}
}

func (e *ChatError) Unwrap() error { return e.Err }

// PartialStreamError reports a stream that failed after delivering output.
// Partial holds everything delivered before the failure.
type PartialStreamError struct {
	Partial string
	Err     error
}

func (e *PartialStreamError) Error() string {
	return fmt.Sprintf("stream interrupted after %d bytes: %v", len(e.Partial), e.Err)
}

func (e *PartialStreamError) Unwrap() error { return e.Err }

// IsRateLimited reports whether err is a rate-limit ChatError.
func IsRateLimited(err error) bool {
	var ce *ChatError
	return errors.As(err, &ce) && ce.Kind == RateLimited
}
