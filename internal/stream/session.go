// Package stream implements streaming transcription sessions: audio goes in
// through Feed, committed tokens come out through Get.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/chunk"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/engine"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/model"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/ring"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/telemetry"
)

const (
	// DefaultProcessingInterval is the decode window duration.
	DefaultProcessingInterval = time.Second
	// DefaultRingCapacity is how much unconsumed audio a session buffers.
	DefaultRingCapacity = 8 * time.Second
)

// State is the lifecycle state of a Session.
type State int32

const (
	StateOpen State = iota
	StateSealed
	StateDrained
	StateFailed
	StateFreed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateSealed:
		return "sealed"
	case StateDrained:
		return "drained"
	case StateFailed:
		return "failed"
	case StateFreed:
		return "freed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config configures a session. Zero values select defaults.
type Config struct {
	// ID identifies the session in logs; a random UUID when empty.
	ID                 string
	ProcessingInterval time.Duration
	// RingCapacity bounds buffered audio and is the upper limit for the
	// processing interval. The ring always holds at least two intervals.
	RingCapacity time.Duration
	// Stub selects the placeholder decoder.
	Stub bool
	// Decoder overrides decoder construction.
	Decoder  engine.Decoder
	Logger   *slog.Logger
	Recorder *telemetry.Recorder
	Metadata map[string]string
}

// Session is a single-owner streaming transcription. Feed, Finish, Get,
// SetProcessingInterval and Close must not be called concurrently with each
// other; decoding runs on a worker goroutine owned by the session, so Feed
// never waits for the decoder.
type Session struct {
	id      string
	model   *model.Context
	decoder engine.Decoder
	log     *slog.Logger
	metrics *telemetry.SessionMetrics
	rate    int
	overlap int

	queue Queue

	mu       sync.Mutex
	state    State
	lastErr  error
	fatal    error
	interval time.Duration
	ringCap  time.Duration
	fed      bool
	started  bool
	ring     *ring.Buffer[float32]
	cancel   context.CancelFunc

	notify     chan struct{}
	done       chan struct{}
	settled    chan struct{}
	settleOnce sync.Once

	// Owned by the worker goroutine.
	dstate engine.State
}

// New opens a session on mctx. The context is referenced until Close.
func New(mctx *model.Context, cfg Config) (*Session, error) {
	if mctx == nil {
		return nil, fmt.Errorf("%w: nil model context", ErrResource)
	}
	if cfg.ProcessingInterval == 0 {
		cfg.ProcessingInterval = DefaultProcessingInterval
	}
	if cfg.RingCapacity == 0 {
		cfg.RingCapacity = DefaultRingCapacity
	}
	if cfg.RingCapacity < 0 {
		return nil, fmt.Errorf("%w: ring capacity must be positive, got %s", ErrConfig, cfg.RingCapacity)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := cfg.ID
	if id == "" {
		id = uuid.NewString()
	}

	s := &Session{
		id:       id,
		model:    mctx,
		rate:     mctx.SampleRate(),
		overlap:  mctx.Params().Features.WindowSize,
		log:      logger.With("component", "stream.Session", "session_id", id),
		interval: cfg.ProcessingInterval,
		ringCap:  cfg.RingCapacity,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		settled:  make(chan struct{}),
	}
	if err := s.validateInterval(cfg.ProcessingInterval); err != nil {
		return nil, err
	}

	if err := mctx.Acquire(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResource, err)
	}
	s.decoder = cfg.Decoder
	if s.decoder == nil {
		dec, err := engine.New(mctx, engine.Options{Stub: cfg.Stub, Logger: logger})
		if err != nil {
			mctx.Release()
			return nil, fmt.Errorf("%w: %v", ErrResource, err)
		}
		s.decoder = dec
	}
	s.metrics = cfg.Recorder.StartSession(id, cfg.Metadata)

	s.log.Debug("session opened",
		"model", mctx.Name(),
		"interval", s.interval,
		"ring_capacity", s.ringCap,
	)
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// SampleRate returns the PCM rate Feed expects.
func (s *Session) SampleRate() int { return s.rate }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the most recent error or warning recorded by the
// session, or nil.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// ProcessingInterval returns the decode window duration.
func (s *Session) ProcessingInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Overruns returns how many Feed calls discarded unconsumed audio.
func (s *Session) Overruns() int64 {
	events, _ := s.overrunStats()
	return events
}

// DroppedSamples returns the total number of samples lost to overruns.
func (s *Session) DroppedSamples() int64 {
	_, dropped := s.overrunStats()
	return dropped
}

func (s *Session) overrunStats() (int64, int64) {
	s.mu.Lock()
	r := s.ring
	s.mu.Unlock()
	if r == nil {
		return 0, 0
	}
	return r.Overruns()
}

// SetProcessingInterval changes the decode window duration. It is accepted
// only while the session is open and nothing has been fed; afterwards it
// fails with ErrSequence.
func (s *Session) SetProcessingInterval(d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateFreed {
		return ErrFreed
	}
	if s.state != StateOpen || s.fed {
		s.lastErr = fmt.Errorf("%w: processing interval is fixed once audio has been fed", ErrSequence)
		return s.lastErr
	}
	if err := s.validateInterval(d); err != nil {
		s.lastErr = err
		return err
	}
	s.interval = d
	return nil
}

func (s *Session) validateInterval(d time.Duration) error {
	switch {
	case d <= 0:
		return fmt.Errorf("%w: processing interval must be positive, got %s", ErrConfig, d)
	case d > s.ringCap:
		return fmt.Errorf("%w: processing interval %s exceeds ring capacity %s", ErrConfig, d, s.ringCap)
	case s.samples(d) <= s.overlap:
		return fmt.Errorf("%w: processing interval %s is shorter than one feature window", ErrConfig, d)
	}
	return nil
}

func (s *Session) samples(d time.Duration) int {
	return int(math.Round(d.Seconds() * float64(s.rate)))
}

// start allocates the ring and launches the worker. Callers hold s.mu.
func (s *Session) start() error {
	if s.started {
		return nil
	}
	capacity := max(s.samples(s.ringCap), 2*s.samples(s.interval))
	buf := ring.New[float32](capacity)
	c, err := chunk.New(buf, s.samples(s.interval), s.overlap)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrResource, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.ring = buf
	s.cancel = cancel
	s.started = true
	go s.run(ctx, c)
	return nil
}

// Feed appends PCM samples at SampleRate. It only copies into the ring and
// never waits for decoding. Feeding after Finish records ErrSequence;
// feeding a failed session is ignored. Audio discarded by a full ring is
// reported through LastError and Overruns, not as a Feed error.
func (s *Session) Feed(samples []float32) error {
	s.mu.Lock()
	if s.state == StateFreed {
		s.mu.Unlock()
		return ErrFreed
	}
	if len(samples) == 0 {
		s.mu.Unlock()
		return nil
	}
	switch s.state {
	case StateFailed:
		s.mu.Unlock()
		return nil
	case StateSealed, StateDrained:
		s.lastErr = fmt.Errorf("%w: feed after finish", ErrSequence)
		err := s.lastErr
		s.mu.Unlock()
		return err
	}
	if err := s.start(); err != nil {
		s.lastErr = err
		s.mu.Unlock()
		return err
	}
	s.fed = true
	buf := s.ring
	s.mu.Unlock()

	dropped, err := buf.Write(samples)
	if err != nil {
		return s.setErr(fmt.Errorf("%w: %v", ErrSequence, err))
	}
	s.metrics.RecordFeed(len(samples))
	if dropped > 0 {
		s.metrics.RecordOverrun(dropped)
		s.log.Warn("audio ring overrun", "dropped", dropped)
		s.setErr(fmt.Errorf("%w: %d samples discarded", ErrOverrun, dropped))
	}
	s.signal()
	return nil
}

// Finish declares end of stream. It is idempotent and only seals an open
// session; the remaining audio is decoded in the background.
func (s *Session) Finish() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateFreed {
		return ErrFreed
	}
	if s.state != StateOpen {
		return nil
	}
	if err := s.start(); err != nil {
		s.lastErr = err
		return err
	}
	s.state = StateSealed
	s.ring.CloseWrite()
	s.metrics.RecordFinish()
	s.signal()
	return nil
}

// Get copies up to len(dst) committed tokens into dst and returns how many
// were copied. It never waits for decoding; zero means nothing is committed
// right now.
func (s *Session) Get(dst []string) int {
	if s.State() == StateFreed {
		return 0
	}
	return s.queue.Drain(dst)
}

// Tokens removes and returns up to limit committed tokens with their
// metadata. A negative limit drains everything.
func (s *Session) Tokens(limit int) []engine.Token {
	if s.State() == StateFreed {
		return nil
	}
	return s.queue.DrainTokens(limit)
}

// Pending returns the number of committed tokens not yet retrieved.
func (s *Session) Pending() int { return s.queue.Len() }

// Wait blocks until the session is drained or failed, or ctx is done. It
// returns the fatal error of a failed session.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.settled:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateFailed:
		return s.fatal
	case StateFreed:
		return ErrFreed
	}
	return nil
}

// Close frees the session from any state. Decoding in flight is abandoned
// and its output discarded; the worker is joined before Close returns.
// Calling Close again is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateFreed {
		s.mu.Unlock()
		return nil
	}
	prev := s.state
	s.state = StateFreed
	started := s.started
	s.mu.Unlock()

	if started {
		s.cancel()
		<-s.done
	}
	s.settleOnce.Do(func() { close(s.settled) })
	s.queue.Reset()

	err := s.decoder.Close()
	s.model.Release()
	s.metrics.Finish(s.fatal)
	s.log.Debug("session freed", "previous_state", prev.String())
	return err
}

func (s *Session) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Session) setErr(err error) error {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	return err
}

func (s *Session) settle(to State, err error) {
	s.mu.Lock()
	switch {
	case s.state == StateFreed:
	case to == StateFailed:
		s.state = StateFailed
		s.fatal = err
		s.lastErr = err
	case s.state == StateSealed:
		s.state = to
	}
	s.mu.Unlock()
	s.settleOnce.Do(func() { close(s.settled) })
}

func (s *Session) run(ctx context.Context, c *chunk.Chunker) {
	defer close(s.done)

	for {
		w, err := c.Next()
		switch {
		case errors.Is(err, chunk.ErrNeedMoreAudio):
			select {
			case <-s.notify:
				continue
			case <-ctx.Done():
				return
			}
		case errors.Is(err, io.EOF):
			s.settle(StateDrained, nil)
			s.log.Debug("session drained", "pending_tokens", s.queue.Len())
			return
		case err != nil:
			s.settle(StateFailed, fmt.Errorf("%w: %v", engine.ErrModelState, err))
			return
		}

		began := time.Now()
		tokens, next, err := s.decoder.Decode(ctx, w, s.dstate)
		if ctx.Err() != nil {
			return
		}
		s.metrics.RecordWindow(len(w.Samples), time.Since(began), w.Final)

		if err != nil {
			if errors.Is(err, engine.ErrDecode) {
				s.metrics.RecordDecodeError(err)
				s.setErr(err)
				continue
			}
			s.log.Error("decoder failed", "error", err, "window_start", w.Start)
			s.settle(StateFailed, err)
			return
		}
		s.dstate = next
		if len(tokens) > 0 {
			s.queue.Push(tokens...)
			s.metrics.RecordTokens(len(tokens))
		}
	}
}
