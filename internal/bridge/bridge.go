// Package bridge keeps the handle tables behind the flat C surface. It has
// no cgo of its own: the shim in cmd/libvoxtral maps C pointers to Handles
// and strings to C memory, everything else happens here.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/accel"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/audio"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/engine"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/model"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/stream"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/telemetry"
)

// ErrUnknownHandle is returned for handles that were never issued or have
// already been freed.
var ErrUnknownHandle = errors.New("bridge: unknown handle")

// Handle identifies a model context or a session. Zero is never issued.
type Handle uint64

// Options configures sessions opened through the bridge.
type Options struct {
	Logger             *slog.Logger
	Recorder           *telemetry.Recorder
	Stub               bool
	ProcessingInterval time.Duration
	RingCapacity       time.Duration
}

// Bridge owns every model context and session created through it.
type Bridge struct {
	opts Options
	log  *slog.Logger

	mu       sync.Mutex
	next     Handle
	models   map[Handle]*model.Context
	sessions map[Handle]*stream.Session
}

// New returns an empty Bridge.
func New(opts Options) *Bridge {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Bridge{
		opts:     opts,
		log:      opts.Logger.With("component", "bridge"),
		models:   make(map[Handle]*model.Context),
		sessions: make(map[Handle]*stream.Session),
	}
}

func (b *Bridge) issue() Handle {
	b.next++
	return b.next
}

// Load loads the model bundle in dir.
func (b *Bridge) Load(dir string) (Handle, error) {
	ctx, err := model.Load(dir, b.opts.Logger)
	if err != nil {
		b.log.Error("model load failed", "dir", dir, "error", err)
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	h := b.issue()
	b.models[h] = ctx
	return h, nil
}

// Free releases a model context. A context still referenced by a session is
// kept and ErrInUse is returned.
func (b *Bridge) Free(h Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ctx, ok := b.models[h]
	if !ok {
		return ErrUnknownHandle
	}
	if err := ctx.Close(); err != nil {
		b.log.Warn("model free refused", "model", ctx.Name(), "error", err)
		return err
	}
	delete(b.models, h)
	return nil
}

// StreamInit opens a session on the model context h.
func (b *Bridge) StreamInit(h Handle) (Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ctx, ok := b.models[h]
	if !ok {
		return 0, ErrUnknownHandle
	}
	s, err := stream.New(ctx, stream.Config{
		ProcessingInterval: b.opts.ProcessingInterval,
		RingCapacity:       b.opts.RingCapacity,
		Stub:               b.opts.Stub,
		Logger:             b.opts.Logger,
		Recorder:           b.opts.Recorder,
	})
	if err != nil {
		return 0, err
	}
	sh := b.issue()
	b.sessions[sh] = s
	return sh, nil
}

func (b *Bridge) session(h Handle) (*stream.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[h]
	if !ok {
		return nil, ErrUnknownHandle
	}
	return s, nil
}

// Feed appends samples to session h.
func (b *Bridge) Feed(h Handle, samples []float32) error {
	s, err := b.session(h)
	if err != nil {
		return err
	}
	return s.Feed(samples)
}

// Finish declares end of stream on session h.
func (b *Bridge) Finish(h Handle) error {
	s, err := b.session(h)
	if err != nil {
		return err
	}
	return s.Finish()
}

// Get returns up to limit committed tokens of session h.
func (b *Bridge) Get(h Handle, limit int) []string {
	s, err := b.session(h)
	if err != nil || limit <= 0 {
		return nil
	}
	out := make([]string, limit)
	return out[:s.Get(out)]
}

// SetProcessingInterval sets the decode window of session h in seconds.
func (b *Bridge) SetProcessingInterval(h Handle, seconds float64) error {
	s, err := b.session(h)
	if err != nil {
		return err
	}
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return fmt.Errorf("%w: processing interval %v", stream.ErrConfig, seconds)
	}
	return s.SetProcessingInterval(time.Duration(seconds * float64(time.Second)))
}

// LastError returns the message of the last error recorded on session h,
// or an empty string.
func (b *Bridge) LastError(h Handle) string {
	s, err := b.session(h)
	if err != nil {
		return err.Error()
	}
	if err := s.LastError(); err != nil {
		return err.Error()
	}
	return ""
}

// StreamFree closes session h and forgets the handle.
func (b *Bridge) StreamFree(h Handle) error {
	b.mu.Lock()
	s, ok := b.sessions[h]
	delete(b.sessions, h)
	b.mu.Unlock()
	if !ok {
		return ErrUnknownHandle
	}
	return s.Close()
}

// LoadWAV reads a WAV file as mono samples at the default model rate.
func (b *Bridge) LoadWAV(path string) ([]float32, error) {
	return audio.LoadWAV(path, model.DefaultSampleRate)
}

// Transcribe decodes the WAV file at path with model h and returns the
// committed tokens joined into text.
func (b *Bridge) Transcribe(h Handle, path string) (string, error) {
	b.mu.Lock()
	ctx, ok := b.models[h]
	b.mu.Unlock()
	if !ok {
		return "", ErrUnknownHandle
	}
	samples, err := audio.LoadWAV(path, ctx.SampleRate())
	if err != nil {
		return "", err
	}
	tokens, err := stream.Transcribe(context.Background(), ctx, samples, stream.Config{
		ProcessingInterval: b.opts.ProcessingInterval,
		Stub:               b.opts.Stub,
		Logger:             b.opts.Logger,
		Recorder:           b.opts.Recorder,
	})
	if err != nil {
		return "", err
	}
	return engine.JoinText(engine.Texts(tokens)), nil
}

// Close frees every session and then every model context.
func (b *Bridge) Close() {
	b.mu.Lock()
	sessions := b.sessions
	models := b.models
	b.sessions = make(map[Handle]*stream.Session)
	b.models = make(map[Handle]*model.Context)
	b.mu.Unlock()

	for _, s := range sessions {
		_ = s.Close()
	}
	for _, ctx := range models {
		if err := ctx.Close(); err != nil {
			b.log.Warn("model close failed", "model", ctx.Name(), "error", err)
		}
	}
}

// AccelInit initialises the process-wide accelerator and returns 0 or a
// negative code.
func AccelInit() int { return accel.Code(accel.Init()) }

// AccelAvailable reports whether the accelerator is initialised and not
// shut down.
func AccelAvailable() bool { return accel.Available() }

// AccelShutdown releases the accelerator. It is idempotent.
func AccelShutdown() { accel.Shutdown() }
