package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/yokitheyo/segscribe/internal/model"
)

// Factory builds an initialized engine. It is the expensive step.
type Factory func(ctx context.Context) (Engine, error)

// Handle owns the one engine instance of a worker process. The engine is
// built on first use (or by an explicit GetOrInit at startup) and reused
// for every job afterwards. A failed build is retried on the next call.
type Handle struct {
	factory    Factory
	concurrent bool
	logger     *slog.Logger

	mu     sync.Mutex
	engine Engine
	inits  int

	callMu sync.Mutex
}

// NewHandle creates an uninitialized handle. When concurrent is false,
// Transcribe calls are serialized.
func NewHandle(factory Factory, concurrent bool, logger *slog.Logger) *Handle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handle{factory: factory, concurrent: concurrent, logger: logger}
}

// prober is implemented by engines that can die underneath the handle.
type prober interface {
	Alive() bool
}

// GetOrInit returns the shared engine, building it if needed. An engine
// that reports itself dead is closed and rebuilt.
func (h *Handle) GetOrInit(ctx context.Context) (Engine, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.engine != nil {
		if p, ok := h.engine.(prober); !ok || p.Alive() {
			return h, nil
		}
		h.discardLocked(h.engine)
	}

	start := time.Now()
	h.logger.Info("initializing inference engine", "previous_inits", h.inits)
	eng, err := h.factory(ctx)
	if err != nil {
		return nil, &Error{Stage: "init", Message: "engine initialization failed", Err: err}
	}
	h.engine = eng
	h.inits++
	h.logger.Info("inference engine ready", "elapsed", time.Since(start).Round(time.Millisecond))
	return h, nil
}

// Transcribe forwards to the shared engine, initializing it if needed.
// A call that leaves the engine dead drops it so the next call rebuilds.
func (h *Handle) Transcribe(ctx context.Context, req Request) ([]model.Span, error) {
	if _, err := h.GetOrInit(ctx); err != nil {
		return nil, err
	}
	h.mu.Lock()
	eng := h.engine
	h.mu.Unlock()

	if !h.concurrent {
		h.callMu.Lock()
		defer h.callMu.Unlock()
	}
	spans, err := eng.Transcribe(ctx, req)
	if err != nil {
		if p, ok := eng.(prober); ok && !p.Alive() {
			h.mu.Lock()
			if h.engine == eng {
				h.discardLocked(eng)
			}
			h.mu.Unlock()
		}
		return nil, err
	}
	return spans, nil
}

func (h *Handle) discardLocked(eng Engine) {
	h.logger.Warn("inference engine died, will rebuild on next use")
	if c, ok := eng.(io.Closer); ok {
		go func() { _ = c.Close() }()
	}
	h.engine = nil
}

// Initializations reports how many times the factory succeeded.
func (h *Handle) Initializations() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inits
}

// Close releases the engine if it holds resources.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.engine == nil {
		return nil
	}
	var err error
	if c, ok := h.engine.(io.Closer); ok {
		err = c.Close()
	}
	h.engine = nil
	return err
}
