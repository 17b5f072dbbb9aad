package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/audio"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/config"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/engine"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/model"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/moduleinfo"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/stream"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/telemetry"
)

// DefaultPollInterval is how often a stream checks its session for newly
// committed tokens.
const DefaultPollInterval = 20 * time.Millisecond

// Server implements the Transcriber service on top of streaming sessions.
type Server struct {
	cfg     config.Config
	log     *slog.Logger
	model   *model.Context
	metrics *telemetry.Recorder
	slots   chan struct{}

	// PollInterval overrides DefaultPollInterval when positive.
	PollInterval time.Duration
}

// New returns a new Server instance.
func New(cfg config.Config, logger *slog.Logger, mctx *model.Context, metrics *telemetry.Recorder) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if mctx == nil {
		panic("server: model context must not be nil")
	}
	if metrics == nil {
		metrics = telemetry.NewRecorder(logger)
	}
	slots := cfg.MaxSessions
	if slots <= 0 {
		slots = config.DefaultMaxSessions
	}
	return &Server{
		cfg: cfg,
		log: logger.With(
			"component", "server",
			"model", mctx.Name(),
		),
		model:   mctx,
		metrics: metrics,
		slots:   make(chan struct{}, slots),
	}
}

// Active returns the number of open transcription streams.
func (s *Server) Active() int { return len(s.slots) }

type inbound struct {
	req *Request
	err error
}

// streamState is owned by the goroutine serving one call.
type streamState struct {
	sessionID string
	sequence  uint64
	finished  bool
	all       []string
}

// StreamTranscription feeds request audio into a session and sends
// committed tokens back as they appear. The stream ends with a final
// transcript once the client finishes or half-closes and the session has
// drained.
func (s *Server) StreamTranscription(srv TranscriptionStream) error {
	ctx := srv.Context()
	first, err := srv.Recv()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		s.log.Error("failed to receive request", "error", err)
		return err
	}

	select {
	case s.slots <- struct{}{}:
	default:
		s.log.Warn("session limit reached", "limit", cap(s.slots))
		return status.Errorf(codes.ResourceExhausted, "session limit %d reached", cap(s.slots))
	}
	defer func() { <-s.slots }()

	sess, err := stream.New(s.model, stream.Config{
		ID:                 first.SessionID,
		ProcessingInterval: s.cfg.ProcessingInterval,
		RingCapacity:       s.cfg.RingCapacity,
		Stub:               s.cfg.UseStubEngine,
		Logger:             s.log,
		Recorder:           s.metrics,
		Metadata:           first.Metadata,
	})
	if err != nil {
		return toStatus(err)
	}
	defer sess.Close()
	s.log.Info("stream opened", "session_id", sess.ID(), "metadata", first.Metadata)

	// Only this goroutine touches the session; the reader below just
	// forwards messages until the call ends.
	reqs := make(chan inbound)
	go func() {
		for {
			req, err := srv.Recv()
			select {
			case reqs <- inbound{req: req, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	st := &streamState{sessionID: sess.ID()}
	if err := s.apply(sess, first, st); err != nil {
		return err
	}

	poll := s.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		in := reqs
		if st.finished {
			in = nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-in:
			switch {
			case errors.Is(msg.err, io.EOF):
				sess.Finish()
				st.finished = true
			case msg.err != nil:
				s.log.Error("failed to receive request", "session_id", st.sessionID, "error", msg.err)
				return msg.err
			default:
				if err := s.apply(sess, msg.req, st); err != nil {
					return err
				}
			}
		case <-ticker.C:
		}

		// Read the state before draining so a drained session has all of
		// its tokens queued.
		state := sess.State()
		if err := s.sendTokens(srv, sess, st, false); err != nil {
			return err
		}
		switch state {
		case stream.StateFailed:
			err := sess.Wait(ctx)
			s.log.Error("session failed", "session_id", st.sessionID, "error", err)
			return toStatus(err)
		case stream.StateDrained:
			if err := s.sendTokens(srv, sess, st, true); err != nil {
				return err
			}
			s.log.Info("stream finished", "session_id", st.sessionID, "tokens", len(st.all))
			return nil
		}
	}
}

func (s *Server) apply(sess *stream.Session, req *Request, st *streamState) error {
	if req == nil {
		return nil
	}
	if st.finished {
		return status.Error(codes.FailedPrecondition, "request after finish")
	}
	if req.Sequence > st.sequence {
		st.sequence = req.Sequence
	}
	if req.ProcessingInterval != 0 {
		d := time.Duration(req.ProcessingInterval * float64(time.Second))
		if err := sess.SetProcessingInterval(d); err != nil {
			return toStatus(err)
		}
	}

	samples := req.Samples
	if len(req.PCM16) > 0 {
		pcm, err := audio.PCM16ToFloat32(req.PCM16)
		if err != nil {
			return status.Error(codes.InvalidArgument, err.Error())
		}
		samples = append(samples, pcm...)
	}
	if err := sess.Feed(samples); err != nil {
		return toStatus(err)
	}

	if req.Finish {
		if err := sess.Finish(); err != nil {
			return toStatus(err)
		}
		st.finished = true
	}
	return nil
}

// sendTokens sends tokens committed since the last transcript. A final
// transcript is sent even when empty.
func (s *Server) sendTokens(srv TranscriptionStream, sess *stream.Session, st *streamState, final bool) error {
	tokens := engine.Texts(sess.Tokens(-1))
	if len(tokens) == 0 && !final {
		return nil
	}
	st.all = append(st.all, tokens...)

	text := engine.JoinText(tokens)
	if final {
		text = engine.JoinText(st.all)
	}
	meta := moduleinfo.TranscriptMetadata(s.model.Name(), st.sessionID)
	if dropped := sess.DroppedSamples(); dropped > 0 {
		meta["dropped_samples"] = strconv.FormatInt(dropped, 10)
	}
	transcript := &Transcript{
		SessionID: st.sessionID,
		Sequence:  st.sequence,
		Tokens:    tokens,
		Text:      text,
		Final:     final,
		Metadata:  meta,
	}
	if err := srv.Send(transcript); err != nil {
		s.log.Error("failed to send transcript", "session_id", st.sessionID, "error", err)
		return err
	}
	return nil
}

func toStatus(err error) error {
	if err == nil {
		return status.Error(codes.Internal, "session failed")
	}
	var code codes.Code
	switch {
	case errors.Is(err, stream.ErrConfig):
		code = codes.InvalidArgument
	case errors.Is(err, stream.ErrSequence), errors.Is(err, stream.ErrFreed):
		code = codes.FailedPrecondition
	case errors.Is(err, stream.ErrResource):
		code = codes.ResourceExhausted
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	default:
		code = codes.Internal
	}
	return status.Error(code, fmt.Sprint(err))
}
