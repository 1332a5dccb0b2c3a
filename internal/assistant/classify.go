package assistant

import (
	"errors"
	"net/http"
	"strings"

	"github.com/orbit-app/orbit/internal/httpc"
)

// statusError is satisfied by provider errors that carry a status code.
type statusError interface {
	error
	Status() int
}

// Classify maps a failed invocation onto a Kind. Errors that carry a status
// are checked first; everything else falls back to matching the error text,
// which is all some providers give us.
func Classify(err error) Kind {
	if err == nil {
		return InvocationError
	}

	var httpErr *httpc.HTTPError
	if errors.As(err, &httpErr) && httpErr.Status == http.StatusTooManyRequests {
		return RateLimited
	}
	var se statusError
	if errors.As(err, &se) && se.Status() == http.StatusTooManyRequests {
		return RateLimited
	}

	return classifyText(err.Error())
}

func classifyText(text string) Kind {
	switch {
	case strings.Contains(text, "invalid type: integer `429`"),
		strings.Contains(text, "429"):
		return RateLimited
	case strings.Contains(text, "deserialize") && strings.Contains(text, "integer"):
		return ParseError
	default:
		return InvocationError
	}
}
