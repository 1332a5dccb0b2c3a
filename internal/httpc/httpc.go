// Package httpc runs one-shot HTTP requests and maps their failures onto a
// small error taxonomy the assistants share.
package httpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// ErrInvalidResponse is returned when a body does not have the expected shape.
var ErrInvalidResponse = errors.New("invalid response shape")

// ConnectionError means the server could not be reached.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TimeoutError means the request exceeded its deadline.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("request timed out after %s", e.Timeout)
	}
	return "request timed out"
}

// HTTPError is a non-2xx reply.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}

const maxErrorBody = 2048

// Do executes req and returns the response body. Non-2xx statuses become
// *HTTPError carrying at most 2 KiB of the body.
func Do(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, classify(client, req, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &HTTPError{Status: resp.StatusCode, Message: string(body)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(client, req, err)
	}
	return body, nil
}

// Classify maps a transport error onto the taxonomy. It is exported for
// callers that stream the body themselves.
func Classify(client *http.Client, req *http.Request, err error) error {
	return classify(client, req, err)
}

func classify(client *http.Client, req *http.Request, err error) error {
	if errors.Is(err, context.Canceled) && req.Context().Err() != nil {
		return req.Context().Err()
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return &TimeoutError{Timeout: client.Timeout}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &ConnectionError{URL: req.URL.String(), Err: err}
	}
	return fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
}
