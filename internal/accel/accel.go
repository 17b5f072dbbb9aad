// Package accel holds the process-wide accelerator state consulted by the
// decoder when it computes feature frames.
//
// The lifecycle is init-once, shutdown-once: Init succeeds at most once per
// process, Shutdown is idempotent, and Init after Shutdown fails. When no
// backend is active the decoder computes frames on the calling goroutine.
package accel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/features"
)

var (
	ErrNoBackend = errors.New("accel: no backend registered")
	ErrInit      = errors.New("accel: backend initialisation failed")
	ErrShutdown  = errors.New("accel: already shut down")
)

// FrameExtractor computes a single feature frame.
type FrameExtractor interface {
	Config() features.Config
	Frame(pcm []float32, out []float32)
}

// Backend computes batches of feature frames.
type Backend interface {
	Name() string
	Open() error
	Close() error
	// Frames computes the frame starting at each offset in starts from pcm
	// into the matching entry of out.
	Frames(ctx context.Context, ex FrameExtractor, pcm []float32, starts []int, out [][]float32) error
}

type lifecycle int

const (
	stateIdle lifecycle = iota
	stateReady
	stateShutdown
)

var (
	mu        sync.Mutex
	candidate Backend
	active    Backend
	state     lifecycle
	logger    = slog.Default()
)

// Register sets the backend Init will open. It replaces any previous
// registration and has no effect on an already active backend.
func Register(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	candidate = b
}

// SetLogger sets the logger used for lifecycle events.
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.Default()
	}
	mu.Lock()
	logger = l.With("component", "accel")
	mu.Unlock()
}

// Init opens the registered backend. Calling Init again after success is a
// no-op.
func Init() error {
	mu.Lock()
	defer mu.Unlock()

	switch state {
	case stateReady:
		return nil
	case stateShutdown:
		return ErrShutdown
	}
	if candidate == nil {
		return ErrNoBackend
	}
	if err := candidate.Open(); err != nil {
		logger.Warn("accelerator unavailable", "backend", candidate.Name(), "error", err)
		return fmt.Errorf("%w: %s: %v", ErrInit, candidate.Name(), err)
	}
	active = candidate
	state = stateReady
	logger.Info("accelerator ready", "backend", active.Name())
	return nil
}

// Available reports whether Init succeeded and Shutdown has not been called.
func Available() bool {
	mu.Lock()
	defer mu.Unlock()
	return state == stateReady
}

// Active returns the ready backend, or nil.
func Active() Backend {
	mu.Lock()
	defer mu.Unlock()
	if state != stateReady {
		return nil
	}
	return active
}

// Shutdown closes the active backend. It is safe to call repeatedly and
// before Init.
func Shutdown() {
	mu.Lock()
	defer mu.Unlock()
	if state == stateShutdown {
		return
	}
	if state == stateReady && active != nil {
		if err := active.Close(); err != nil {
			logger.Warn("accelerator close failed", "backend", active.Name(), "error", err)
		}
		logger.Info("accelerator shut down", "backend", active.Name())
	}
	active = nil
	state = stateShutdown
}

// Code maps an Init result to the integer convention of the C surface.
func Code(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrNoBackend):
		return -1
	case errors.Is(err, ErrInit):
		return -2
	case errors.Is(err, ErrShutdown):
		return -3
	default:
		return -4
	}
}

// reset restores the initial state. Tests only.
func reset() {
	mu.Lock()
	defer mu.Unlock()
	if active != nil {
		_ = active.Close()
	}
	active = nil
	state = stateIdle
}
