package telemetry

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Recorder tracks adapter-level totals across all transcription sessions.
type Recorder struct {
	log *slog.Logger

	totalSessions     atomic.Uint64
	activeSessions    atomic.Int64
	totalSamples      atomic.Uint64
	totalWindows      atomic.Uint64
	totalTokens       atomic.Uint64
	totalOverruns     atomic.Uint64
	totalDropped      atomic.Uint64
	totalDecodeErrors atomic.Uint64
	totalFinishes     atomic.Uint64
	totalFailures     atomic.Uint64
}

// Snapshot captures cumulative metrics recorded so far.
type Snapshot struct {
	TotalSessions     uint64
	ActiveSessions    int64
	TotalSamples      uint64
	TotalWindows      uint64
	TotalTokens       uint64
	TotalOverruns     uint64
	TotalDropped      uint64
	TotalDecodeErrors uint64
	TotalFinishes     uint64
	TotalFailures     uint64
}

// NewRecorder constructs a Recorder using the provided logger.
func NewRecorder(logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		log: logger.With("component", "telemetry.Recorder"),
	}
}

// Snapshot returns an immutable view of the recorder totals.
func (r *Recorder) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	return Snapshot{
		TotalSessions:     r.totalSessions.Load(),
		ActiveSessions:    r.activeSessions.Load(),
		TotalSamples:      r.totalSamples.Load(),
		TotalWindows:      r.totalWindows.Load(),
		TotalTokens:       r.totalTokens.Load(),
		TotalOverruns:     r.totalOverruns.Load(),
		TotalDropped:      r.totalDropped.Load(),
		TotalDecodeErrors: r.totalDecodeErrors.Load(),
		TotalFinishes:     r.totalFinishes.Load(),
		TotalFailures:     r.totalFailures.Load(),
	}
}

// SessionMetrics accumulates statistics for a single session. Feed-side and
// worker-side methods may be called from different goroutines.
type SessionMetrics struct {
	recorder *Recorder
	log      *slog.Logger

	sessionID string
	metadata  map[string]string
	started   time.Time

	mu           sync.Mutex
	samples      int64
	feeds        int
	windows      int
	decodeTime   time.Duration
	tokens       int
	overruns     int
	dropped      int64
	decodeErrors int
	finished     bool

	closed atomic.Bool
}

// StartSession initialises a SessionMetrics instance bound to the recorder.
func (r *Recorder) StartSession(sessionID string, metadata map[string]string) *SessionMetrics {
	if r == nil {
		return nil
	}

	clonedMetadata := cloneMetadata(metadata)
	sessionLogger := r.log.With("session_id", sessionID)
	if len(clonedMetadata) > 0 {
		sessionLogger = sessionLogger.With("metadata", clonedMetadata)
	}

	r.totalSessions.Add(1)
	r.activeSessions.Add(1)

	return &SessionMetrics{
		recorder:  r,
		log:       sessionLogger,
		sessionID: sessionID,
		metadata:  clonedMetadata,
		started:   time.Now(),
	}
}

// RecordFeed counts samples handed to the session.
func (s *SessionMetrics) RecordFeed(samples int) {
	if s == nil || samples <= 0 {
		return
	}
	s.mu.Lock()
	s.feeds++
	s.samples += int64(samples)
	s.mu.Unlock()
	s.recorder.totalSamples.Add(uint64(samples))
}

// RecordWindow stores statistics for one decoded window.
func (s *SessionMetrics) RecordWindow(samples int, elapsed time.Duration, final bool) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.windows++
	s.decodeTime += elapsed
	s.mu.Unlock()
	s.recorder.totalWindows.Add(1)

	s.log.Debug("window decoded",
		"samples", samples,
		"elapsed_ms", elapsed.Milliseconds(),
		"final", final,
	)
}

// RecordTokens counts committed tokens.
func (s *SessionMetrics) RecordTokens(n int) {
	if s == nil || n <= 0 {
		return
	}
	s.mu.Lock()
	s.tokens += n
	s.mu.Unlock()
	s.recorder.totalTokens.Add(uint64(n))
}

// RecordOverrun counts samples discarded by the audio ring.
func (s *SessionMetrics) RecordOverrun(dropped int) {
	if s == nil || dropped <= 0 {
		return
	}
	s.mu.Lock()
	s.overruns++
	s.dropped += int64(dropped)
	s.mu.Unlock()
	s.recorder.totalOverruns.Add(1)
	s.recorder.totalDropped.Add(uint64(dropped))
}

// RecordDecodeError counts windows dropped after a transient decode error.
func (s *SessionMetrics) RecordDecodeError(err error) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.decodeErrors++
	s.mu.Unlock()
	s.recorder.totalDecodeErrors.Add(1)
	s.log.Warn("window dropped", "error", err)
}

// RecordFinish marks the end of the input stream.
func (s *SessionMetrics) RecordFinish() {
	if s == nil {
		return
	}
	s.mu.Lock()
	first := !s.finished
	s.finished = true
	s.mu.Unlock()
	if first {
		s.recorder.totalFinishes.Add(1)
	}
}

// Finish logs a summary and updates active session counters.
func (s *SessionMetrics) Finish(err error) {
	if s == nil {
		return
	}
	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	defer s.recorder.activeSessions.Add(-1)

	s.mu.Lock()
	args := []any{
		"duration_ms", time.Since(s.started).Milliseconds(),
		"feeds", s.feeds,
		"samples", s.samples,
		"windows", s.windows,
		"decode_ms", s.decodeTime.Milliseconds(),
		"tokens", s.tokens,
		"overruns", s.overruns,
		"dropped_samples", s.dropped,
		"decode_errors", s.decodeErrors,
		"finished", s.finished,
	}
	s.mu.Unlock()

	if err != nil {
		s.recorder.totalFailures.Add(1)
		s.log.Error("session completed with error", append(args, "error", err)...)
		return
	}

	s.log.Info("session completed", args...)
}

func cloneMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
