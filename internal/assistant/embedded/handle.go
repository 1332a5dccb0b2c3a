package embedded

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Handle owns the process-wide agent runtime. The runtime is created on
// first use and shared by every caller; one call runs at a time and the
// rest queue. Reset discards the runtime so the next call starts fresh.
type Handle struct {
	factory Factory
	slot    chan struct{}

	mu  sync.Mutex
	rt  Runtime
	gen uint64
}

// NewHandle creates a Handle that builds its runtime with f.
func NewHandle(f Factory) *Handle {
	return &Handle{factory: f, slot: make(chan struct{}, 1)}
}

// Do runs fn against the runtime, creating it if needed. It waits for the
// call slot until ctx is done. A runtime whose call was cancelled is
// discarded.
func (h *Handle) Do(ctx context.Context, fn func(Runtime) error) error {
	select {
	case h.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-h.slot }()

	rt, gen, err := h.instance(ctx)
	if err != nil {
		return err
	}

	err = fn(rt)

	h.mu.Lock()
	stale := h.gen != gen
	h.mu.Unlock()

	switch {
	case stale:
		return ErrStaleInstance
	case ctx.Err() != nil:
		h.discard(gen)
		return ctx.Err()
	case errors.Is(err, ErrRuntimeExited):
		h.discard(gen)
	}
	return err
}

func (h *Handle) instance(ctx context.Context) (Runtime, uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rt != nil {
		return h.rt, h.gen, nil
	}
	slog.Info("starting embedded agent runtime", "generation", h.gen)
	rt, err := h.factory(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("starting embedded runtime: %w", err)
	}
	h.rt = rt
	return rt, h.gen, nil
}

// discard drops the runtime of generation gen if it is still current.
func (h *Handle) discard(gen uint64) {
	h.mu.Lock()
	var old Runtime
	if h.gen == gen {
		old, h.rt = h.rt, nil
		h.gen++
	}
	h.mu.Unlock()
	if old != nil {
		if err := old.Close(); err != nil {
			slog.Warn("closing embedded runtime", "error", err)
		}
	}
}

// ClearMemory forgets every conversation held by the runtime.
func (h *Handle) ClearMemory(ctx context.Context) error {
	return h.Do(ctx, func(rt Runtime) error { return rt.ClearMemory(ctx) })
}

// Reset closes the current runtime. It is safe to call at any time; calls
// in flight return ErrStaleInstance.
func (h *Handle) Reset() error {
	h.mu.Lock()
	old := h.rt
	h.rt = nil
	h.gen++
	h.mu.Unlock()

	if old == nil {
		return nil
	}
	return old.Close()
}

// Close releases the runtime.
func (h *Handle) Close() error {
	return h.Reset()
}
