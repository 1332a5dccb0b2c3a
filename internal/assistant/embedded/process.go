package embedded

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	maxLineSize  = 4 << 20
	closeTimeout = 2 * time.Second
)

// AgentError is an error reported by the agent itself.
type AgentError struct {
	Message string
}

func (e *AgentError) Error() string { return e.Message }

// ProcessConfig describes the agent executable.
type ProcessConfig struct {
	Command []string
	Dir     string
	Env     []string
}

// request and reply are the JSON lines exchanged with the agent. A request
// is answered by zero or more chunk replies followed by one result or error
// reply carrying the same id.
type request struct {
	ID       uint64 `json:"id"`
	Op       string `json:"op"`
	Message  string `json:"message,omitempty"`
	ThreadID string `json:"thread_id,omitempty"`
	Image    []byte `json:"image,omitempty"`
}

type reply struct {
	ID     uint64  `json:"id"`
	Chunk  *string `json:"chunk"`
	Result *string `json:"result"`
	Error  string  `json:"error"`
}

// ProcessRuntime is a Runtime backed by a child process that speaks JSON
// lines on stdin and stdout.
type ProcessRuntime struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Closer
	enc    *json.Encoder
	lines  *bufio.Scanner

	mu  sync.Mutex
	seq uint64

	exited    chan struct{}
	closeOnce sync.Once
}

// StartProcess launches the agent.
func StartProcess(cfg ProcessConfig) (*ProcessRuntime, error) {
	if len(cfg.Command) == 0 {
		return nil, errors.New("agent command is empty")
	}

	cmd := exec.Command(cfg.Command[0], cfg.Command[1:]...)
	cmd.Dir = cfg.Dir
	cmd.Env = append(os.Environ(), cfg.Env...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("agent stdin: %w", err)
	}
	// stdout is a plain pipe so that Wait never closes it under a reader.
	stdout, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("agent stdout: %w", err)
	}
	cmd.Stdout = w
	if err := cmd.Start(); err != nil {
		stdout.Close()
		w.Close()
		return nil, fmt.Errorf("starting agent %q: %w", cfg.Command[0], err)
	}
	w.Close()

	lines := bufio.NewScanner(stdout)
	lines.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	p := &ProcessRuntime{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		enc:    json.NewEncoder(stdin),
		lines:  lines,
		exited: make(chan struct{}),
	}
	go func() {
		err := cmd.Wait()
		slog.Debug("agent process exited", "pid", cmd.Process.Pid, "error", err)
		close(p.exited)
	}()

	slog.Info("agent process started", "pid", cmd.Process.Pid, "command", cfg.Command[0])
	return p, nil
}

// ProcessFactory returns a Factory that starts cfg.
func ProcessFactory(cfg ProcessConfig) Factory {
	return func(context.Context) (Runtime, error) {
		return StartProcess(cfg)
	}
}

func (p *ProcessRuntime) Run(ctx context.Context, req Request) (string, error) {
	return p.call(ctx, "run", req, nil)
}

func (p *ProcessRuntime) Stream(ctx context.Context, req Request, onChunk func(string)) (string, error) {
	return p.call(ctx, "stream", req, onChunk)
}

func (p *ProcessRuntime) ClearMemory(ctx context.Context) error {
	_, err := p.call(ctx, "clear", Request{}, nil)
	return err
}

// call sends one request and reads replies until it is answered. A
// cancelled ctx kills the process.
func (p *ProcessRuntime) call(ctx context.Context, op string, req Request, onChunk func(string)) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	select {
	case <-p.exited:
		return "", ErrRuntimeExited
	default:
	}

	p.seq++
	id := p.seq

	stop := context.AfterFunc(ctx, p.kill)
	defer stop()

	if err := p.enc.Encode(request{ID: id, Op: op, Message: req.Message, ThreadID: req.ThreadID, Image: req.Image}); err != nil {
		return "", p.failure(ctx, fmt.Errorf("%w: writing request: %v", ErrRuntimeExited, err))
	}

	var acc strings.Builder
	for p.lines.Scan() {
		var r reply
		if err := json.Unmarshal(p.lines.Bytes(), &r); err != nil {
			slog.Debug("skipping agent output", "line", p.lines.Text())
			continue
		}
		if r.ID != id {
			continue
		}
		switch {
		case r.Error != "":
			return acc.String(), &AgentError{Message: r.Error}
		case r.Result != nil:
			if *r.Result == "" && acc.Len() > 0 {
				return acc.String(), nil
			}
			return *r.Result, nil
		case r.Chunk != nil:
			acc.WriteString(*r.Chunk)
			if onChunk != nil {
				onChunk(*r.Chunk)
			}
		}
	}

	err := ErrRuntimeExited
	if scanErr := p.lines.Err(); scanErr != nil {
		err = fmt.Errorf("%w: %v", ErrRuntimeExited, scanErr)
	}
	return acc.String(), p.failure(ctx, err)
}

func (p *ProcessRuntime) failure(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (p *ProcessRuntime) kill() {
	_ = p.cmd.Process.Kill()
}

// Close asks the agent to exit by closing its stdin, and kills it if it
// has not exited shortly after.
func (p *ProcessRuntime) Close() error {
	p.closeOnce.Do(func() {
		_ = p.stdin.Close()
		select {
		case <-p.exited:
		case <-time.After(closeTimeout):
			p.kill()
			<-p.exited
		}
		_ = p.stdout.Close()
	})
	return nil
}
