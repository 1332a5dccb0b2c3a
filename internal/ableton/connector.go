package ableton

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"
)

// ErrQueryTimeout is returned when a query gets no reply in time.
var ErrQueryTimeout = errors.New("no reply from Ableton Live")

// State is the connector lifecycle state.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Config holds the UDP endpoints of the remote script.
type Config struct {
	Host         string
	Port         int
	LocalPort    int
	ReadTimeout  time.Duration
	QueryTimeout time.Duration
}

// Connector sends commands to Ableton Live over UDP. Sends are
// fire-and-forget; only queries wait for a reply.
type Connector struct {
	cfg    Config
	logger *slog.Logger

	// mu guards the socket; Execute holds it shared across a send so
	// Disconnect cannot close the socket underneath it.
	mu      sync.RWMutex
	state   State
	conn    *net.UDPConn
	remote  *net.UDPAddr
	done    chan struct{}
	stopped chan struct{}

	pmu     sync.Mutex
	pending map[string][]chan []any
}

// NewConnector creates a disconnected Connector.
func NewConnector(cfg Config) *Connector {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 100 * time.Millisecond
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 5 * time.Second
	}
	return &Connector{
		cfg:     cfg,
		logger:  slog.With("component", "ableton"),
		pending: make(map[string][]chan []any),
	}
}

// Config returns the connector's configuration with defaults applied.
func (c *Connector) Config() Config {
	return c.cfg
}

// State returns the current lifecycle state.
func (c *Connector) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Connect binds the local UDP socket and starts the reply loop. Calling it
// while connected is a no-op.
func (c *Connector) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Connected {
		return nil
	}
	c.state = Connecting

	remote, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port)))
	if err != nil {
		c.state = Disconnected
		return fmt.Errorf("resolving ableton address: %w", err)
	}

	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "udp4", net.JoinHostPort("", strconv.Itoa(c.cfg.LocalPort)))
	if err != nil {
		c.state = Disconnected
		return fmt.Errorf("binding local udp port %d: %w", c.cfg.LocalPort, err)
	}

	c.conn = pc.(*net.UDPConn)
	c.remote = remote
	c.done = make(chan struct{})
	c.stopped = make(chan struct{})
	c.state = Connected
	go c.receive(c.conn, c.done, c.stopped)

	c.logger.Info("connected to ableton live",
		"remote", remote.String(),
		"local", c.conn.LocalAddr().String(),
	)
	return nil
}

// Disconnect closes the socket. Calling it while disconnected is a no-op.
func (c *Connector) Disconnect() error {
	c.mu.Lock()
	if c.state != Connected {
		c.mu.Unlock()
		return nil
	}
	close(c.done)
	err := c.conn.Close()
	stopped := c.stopped
	c.conn = nil
	c.remote = nil
	c.state = Disconnected
	c.mu.Unlock()

	// Queries still waiting return through done; their replies can no
	// longer arrive on this socket.
	c.pmu.Lock()
	c.pending = make(map[string][]chan []any)
	c.pmu.Unlock()

	<-stopped
	c.logger.Info("disconnected from ableton live")
	if err != nil {
		return fmt.Errorf("closing udp socket: %w", err)
	}
	return nil
}

// Execute sends cmd. Actions return a synthetic result as soon as the
// datagram is written; queries wait for the remote script's reply.
func (c *Connector) Execute(ctx context.Context, cmd Command) (json.RawMessage, error) {
	c.mu.RLock()
	if c.state != Connected {
		c.mu.RUnlock()
		return nil, ErrNotConnected
	}
	if !Implemented(cmd) {
		c.mu.RUnlock()
		return nil, fmt.Errorf("%w: %s", ErrUnimplementedCommand, cmd.Type())
	}
	if err := Validate(cmd); err != nil {
		c.mu.RUnlock()
		return nil, err
	}
	packet, err := Encode(cmd)
	if err != nil {
		c.mu.RUnlock()
		return nil, fmt.Errorf("encoding %s: %w", cmd.OSCPath(), err)
	}

	var reply chan []any
	replyAddr := cmd.OSCPath() + "/response"
	if IsQuery(cmd) {
		reply = c.expect(replyAddr)
	}
	_, err = c.conn.WriteToUDP(packet, c.remote)
	done := c.done
	c.mu.RUnlock()

	if err != nil {
		if reply != nil {
			c.forget(replyAddr, reply)
		}
		return nil, fmt.Errorf("sending %s: %w", cmd.OSCPath(), err)
	}
	c.logger.Debug("osc sent", "address", cmd.OSCPath(), "bytes", len(packet))

	if reply == nil {
		return json.Marshal(result(cmd))
	}

	timer := time.NewTimer(c.cfg.QueryTimeout)
	defer timer.Stop()
	select {
	case args := <-reply:
		return replyData(args)
	case <-ctx.Done():
		c.forget(replyAddr, reply)
		return nil, ctx.Err()
	case <-timer.C:
		c.forget(replyAddr, reply)
		return nil, fmt.Errorf("%w: %s after %s", ErrQueryTimeout, cmd.OSCPath(), c.cfg.QueryTimeout)
	case <-done:
		c.forget(replyAddr, reply)
		return nil, ErrNotConnected
	}
}

func (c *Connector) expect(addr string) chan []any {
	ch := make(chan []any, 1)
	c.pmu.Lock()
	c.pending[addr] = append(c.pending[addr], ch)
	c.pmu.Unlock()
	return ch
}

func (c *Connector) forget(addr string, ch chan []any) {
	c.pmu.Lock()
	defer c.pmu.Unlock()
	waiters := c.pending[addr]
	for i, w := range waiters {
		if w == ch {
			c.pending[addr] = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(c.pending[addr]) == 0 {
		delete(c.pending, addr)
	}
}

// deliver hands args to the oldest waiter on addr, if any.
func (c *Connector) deliver(addr string, args []any) bool {
	c.pmu.Lock()
	defer c.pmu.Unlock()
	waiters := c.pending[addr]
	if len(waiters) == 0 {
		return false
	}
	waiters[0] <- args
	if len(waiters) == 1 {
		delete(c.pending, addr)
	} else {
		c.pending[addr] = waiters[1:]
	}
	return true
}

func (c *Connector) receive(conn *net.UDPConn, done <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	buf := make([]byte, 65535)

	for {
		select {
		case <-done:
			return
		default:
		}

		if err := conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
			return
		}
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			c.logger.Debug("udp read failed", "error", err)
			continue
		}

		msg, err := parseMessage(buf[:n])
		if err != nil {
			c.logger.Debug("dropping unparseable datagram", "error", err)
			continue
		}
		if msg.Address == "/error" {
			c.logger.Warn("ableton reported an error", "args", msg.Arguments)
			continue
		}
		if !c.deliver(msg.Address, msg.Arguments) {
			c.logger.Debug("unsolicited osc message", "address", msg.Address)
		}
	}
}
