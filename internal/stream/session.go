// Package stream keeps a persistent websocket session to a conversational
// backend and streams assistant output turn by turn.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/singleflight"
)

// ErrClosed is returned when the session closed before a turn could start.
var ErrClosed = errors.New("stream session closed")

// TransportError wraps network failures on the session socket. The
// session is Closed after one is returned.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("stream %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// State is the session lifecycle state.
type State int32

const (
	Closed State = iota
	Connecting
	Open
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	default:
		return "unknown"
	}
}

// Config configures a Session.
type Config struct {
	URL              string
	User             User
	HandshakeTimeout time.Duration
}

// Session is a persistent duplex channel. One turn runs at a time.
type Session struct {
	cfg    Config
	dialer *websocket.Dialer
	group  singleflight.Group

	mu    sync.Mutex
	state State
	conn  *websocket.Conn

	turn sync.Mutex
}

// New creates a closed Session.
func New(cfg Config) *Session {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 15 * time.Second
	}
	if cfg.User.Name == "" {
		cfg.User = User{Name: "orbit", Email: "default"}
	}
	return &Session{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect opens the socket. It is a no-op while Open, and concurrent
// callers share a single dial.
func (s *Session) Connect(ctx context.Context) error {
	if s.State() == Open {
		return nil
	}
	_, err, _ := s.group.Do("connect", func() (any, error) {
		return nil, s.dial(ctx)
	})
	return err
}

func (s *Session) dial(ctx context.Context) error {
	s.mu.Lock()
	if s.state == Open {
		s.mu.Unlock()
		return nil
	}
	s.state = Connecting
	s.mu.Unlock()

	slog.Debug("opening stream session", "url", s.cfg.URL)
	conn, _, err := s.dialer.DialContext(ctx, s.cfg.URL, nil)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = Closed
		return &TransportError{Op: "connect", Err: err}
	}
	s.conn = conn
	s.state = Open
	return nil
}

// Disconnect sends a close frame and closes the socket. It is a no-op
// while Closed.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.state = Closed
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return conn.Close()
}

// SendAndStream sends one user turn and reads the reply until the peer
// marks it complete or closes the channel. Each payload chunk is passed to
// onChunk in arrival order; the concatenation is returned. On error the
// text received so far is returned alongside it.
//
// Frames whose parent_id names an earlier message are skipped. Frames the
// peer sends without a parent_id after a turn's complete marker are read by
// the next turn.
func (s *Session) SendAndStream(ctx context.Context, text, conversationID string, onChunk func(string)) (string, error) {
	s.turn.Lock()
	defer s.turn.Unlock()

	if err := s.Connect(ctx); err != nil {
		return "", err
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return "", ErrClosed
	}

	logger := slog.With("conversation_id", conversationID)

	// A cancelled turn closes the socket so the blocked read returns.
	stop := context.AfterFunc(ctx, func() { s.drop(conn) })
	defer stop()

	env := newEnvelope(text, conversationID, s.cfg.User, time.Now())
	if err := conn.WriteJSON(env); err != nil {
		return "", s.fail(ctx, conn, "write", err)
	}
	logger.Debug("stream turn sent", "id", env.ID)

	var acc strings.Builder
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code != websocket.CloseAbnormalClosure && ctx.Err() == nil {
				logger.Debug("peer closed stream session", "code", closeErr.Code)
				s.drop(conn)
				return acc.String(), nil
			}
			return acc.String(), s.fail(ctx, conn, "read", err)
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			logger.Debug("skipping unparseable frame", "error", err)
			continue
		}
		if f.ParentID != "" && f.ParentID != env.ID {
			logger.Debug("skipping frame from an earlier turn", "parent_id", f.ParentID)
			continue
		}
		if f.Status == "complete" {
			return acc.String(), nil
		}
		if chunk, ok := f.chunk(); ok {
			onChunk(chunk)
			acc.WriteString(chunk)
		}
	}
}

// drop closes conn and marks the session Closed if conn is still current.
func (s *Session) drop(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
		s.state = Closed
	}
	s.mu.Unlock()
	_ = conn.Close()
}

func (s *Session) fail(ctx context.Context, conn *websocket.Conn, op string, err error) error {
	s.drop(conn)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &TransportError{Op: op, Err: err}
}
