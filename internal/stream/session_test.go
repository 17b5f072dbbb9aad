package stream_test

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/chunk"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/engine"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/model"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/model/modeltest"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/stream"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/telemetry"
)

func newSession(t *testing.T, ctx *model.Context, cfg stream.Config) *stream.Session {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = modeltest.Logger()
	}
	s, err := stream.New(ctx, cfg)
	if err != nil {
		t.Fatalf("stream.New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func wait(t *testing.T, s *stream.Session) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("session did not settle, state=%s", s.State())
	}
	return err
}

// drain polls Get with a small buffer until it returns zero.
func drain(s *stream.Session) []string {
	var out []string
	buf := make([]string, 3)
	for {
		n := s.Get(buf)
		if n == 0 {
			return out
		}
		out = append(out, buf[:n]...)
	}
}

// threeSeconds is 48000 samples decoding to hello world world hello.
func threeSeconds() []float32 {
	return modeltest.Concat(
		modeltest.Utterance("hello", "world"),
		modeltest.Silence(0.3),
		modeltest.Utterance("world", "hello"),
		modeltest.Silence(0.3),
	)
}

func feedAll(t *testing.T, s *stream.Session, pcm []float32, step int) {
	t.Helper()
	for off := 0; off < len(pcm); off += step {
		if err := s.Feed(pcm[off:min(off+step, len(pcm))]); err != nil {
			t.Fatalf("Feed: %v", err)
		}
	}
}

func TestEmptySession(t *testing.T) {
	ctx := modeltest.Load(t, modeltest.Options{})
	s := newSession(t, ctx, stream.Config{})

	if err := s.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if err := wait(t, s); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if n := s.Get(make([]string, 8)); n != 0 {
		t.Fatalf("expected no tokens, got %d", n)
	}
	if s.State() != stream.StateDrained {
		t.Fatalf("expected drained, got %s", s.State())
	}
	if err := s.LastError(); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestShortUtterance(t *testing.T) {
	ctx := modeltest.Load(t, modeltest.Options{})
	s := newSession(t, ctx, stream.Config{})

	pcm := modeltest.Sine(440, 1)
	if len(pcm) != 16000 {
		t.Fatalf("unexpected fixture length %d", len(pcm))
	}
	feedAll(t, s, pcm, len(pcm))
	s.Finish()
	if err := wait(t, s); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got := drain(s); !reflect.DeepEqual(got, []string{"hello"}) {
		t.Fatalf("got %q", got)
	}
}

func TestChunkedEqualsWhole(t *testing.T) {
	ctx := modeltest.Load(t, modeltest.Options{})
	pcm := threeSeconds()
	if len(pcm) != 48000 {
		t.Fatalf("unexpected fixture length %d", len(pcm))
	}

	whole := newSession(t, ctx, stream.Config{})
	feedAll(t, whole, pcm, len(pcm))
	whole.Finish()
	if err := wait(t, whole); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	want := drain(whole)
	if !reflect.DeepEqual(want, []string{"hello", "world", "world", "hello"}) {
		t.Fatalf("unexpected reference tokens %q", want)
	}

	chunked := newSession(t, ctx, stream.Config{})
	feedAll(t, chunked, pcm, 1000)
	chunked.Finish()
	if err := wait(t, chunked); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got := drain(chunked); !reflect.DeepEqual(got, want) {
		t.Fatalf("chunked feed gave %q, want %q", got, want)
	}
}

func TestIntervalChangeBeforeFirstFeed(t *testing.T) {
	ctx := modeltest.Load(t, modeltest.Options{})
	pcm := threeSeconds()

	s := newSession(t, ctx, stream.Config{})
	if err := s.SetProcessingInterval(500 * time.Millisecond); err != nil {
		t.Fatalf("SetProcessingInterval: %v", err)
	}
	feedAll(t, s, pcm, 4000)

	err := s.SetProcessingInterval(250 * time.Millisecond)
	if !errors.Is(err, stream.ErrSequence) {
		t.Fatalf("expected ErrSequence mid-stream, got %v", err)
	}
	if s.ProcessingInterval() != 500*time.Millisecond {
		t.Fatalf("interval changed to %s", s.ProcessingInterval())
	}

	s.Finish()
	if err := wait(t, s); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got := drain(s); !reflect.DeepEqual(got, []string{"hello", "world", "world", "hello"}) {
		t.Fatalf("got %q", got)
	}
}

func TestProcessingIntervalBounds(t *testing.T) {
	ctx := modeltest.Load(t, modeltest.Options{})
	s := newSession(t, ctx, stream.Config{RingCapacity: 4 * time.Second})

	for _, d := range []time.Duration{0, -time.Second, 5 * time.Second, 10 * time.Millisecond} {
		if err := s.SetProcessingInterval(d); !errors.Is(err, stream.ErrConfig) {
			t.Fatalf("SetProcessingInterval(%s): expected ErrConfig, got %v", d, err)
		}
	}
	if err := s.SetProcessingInterval(4 * time.Second); err != nil {
		t.Fatalf("interval equal to ring capacity rejected: %v", err)
	}

	if _, err := stream.New(ctx, stream.Config{ProcessingInterval: -time.Second}); !errors.Is(err, stream.ErrConfig) {
		t.Fatalf("expected ErrConfig from New, got %v", err)
	}
}

func TestOverrunIsSignalled(t *testing.T) {
	ctx := modeltest.Load(t, modeltest.Options{})
	s := newSession(t, ctx, stream.Config{
		ProcessingInterval: time.Second,
		RingCapacity:       2 * time.Second,
	})

	pcm := modeltest.Concat(modeltest.Sine(1200, 8), modeltest.Sine(440, 2))
	if err := s.Feed(pcm); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	s.Finish()
	if err := wait(t, s); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	if s.Overruns() == 0 || s.DroppedSamples() != 8*16000 {
		t.Fatalf("expected overrun of 8 s, got events=%d dropped=%d", s.Overruns(), s.DroppedSamples())
	}
	if !errors.Is(s.LastError(), stream.ErrOverrun) {
		t.Fatalf("expected ErrOverrun, got %v", s.LastError())
	}
	// Only the final two seconds survived.
	if got := drain(s); !reflect.DeepEqual(got, []string{"hello"}) {
		t.Fatalf("got %q", got)
	}
}

func TestEarlyFree(t *testing.T) {
	ctx := modeltest.Load(t, modeltest.Options{})
	s, err := stream.New(ctx, stream.Config{Logger: modeltest.Logger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	feedAll(t, s, modeltest.Sine(440, 10), 16000)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if s.State() != stream.StateFreed {
		t.Fatalf("expected freed, got %s", s.State())
	}
	if ctx.Refs() != 0 {
		t.Fatalf("session still references the model: %d", ctx.Refs())
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := s.Feed([]float32{0}); !errors.Is(err, stream.ErrFreed) {
		t.Fatalf("expected ErrFreed, got %v", err)
	}
	if n := s.Get(make([]string, 4)); n != 0 {
		t.Fatalf("Get after free returned %d", n)
	}
	if err := s.Wait(context.Background()); !errors.Is(err, stream.ErrFreed) {
		t.Fatalf("expected ErrFreed from Wait, got %v", err)
	}
}

func TestFinishIsIdempotentAndSealsFeed(t *testing.T) {
	ctx := modeltest.Load(t, modeltest.Options{})
	s := newSession(t, ctx, stream.Config{})

	feedAll(t, s, modeltest.Sine(440, 0.5), 8000)
	if err := s.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if err := s.Finish(); err != nil {
		t.Fatalf("second Finish: %v", err)
	}
	if err := s.Feed(nil); err != nil {
		t.Fatalf("empty feed after finish must be a no-op, got %v", err)
	}
	if err := s.Feed([]float32{0.1}); !errors.Is(err, stream.ErrSequence) {
		t.Fatalf("expected ErrSequence, got %v", err)
	}
	if !errors.Is(s.LastError(), stream.ErrSequence) {
		t.Fatalf("expected LastError to record ErrSequence, got %v", s.LastError())
	}
	if err := wait(t, s); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got := drain(s); !reflect.DeepEqual(got, []string{"hello"}) {
		t.Fatalf("got %q", got)
	}
	for i := 0; i < 3; i++ {
		if n := s.Get(make([]string, 4)); n != 0 {
			t.Fatalf("drained session returned %d tokens", n)
		}
	}
}

func TestSilenceProducesNoTokens(t *testing.T) {
	ctx := modeltest.Load(t, modeltest.Options{})
	s := newSession(t, ctx, stream.Config{})
	feedAll(t, s, modeltest.Silence(2), 3200)
	s.Finish()
	if err := wait(t, s); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got := drain(s); len(got) != 0 {
		t.Fatalf("expected no tokens, got %q", got)
	}
}

func TestIncrementalGetMatchesFinalStream(t *testing.T) {
	ctx := modeltest.Load(t, modeltest.Options{})
	pcm := threeSeconds()

	want, err := stream.Transcribe(context.Background(), ctx, pcm, stream.Config{Logger: modeltest.Logger()})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	s := newSession(t, ctx, stream.Config{ProcessingInterval: 250 * time.Millisecond})
	var got []string
	buf := make([]string, 1)
	for off := 0; off < len(pcm); off += 2000 {
		s.Feed(pcm[off:min(off+2000, len(pcm))])
		got = append(got, buf[:s.Get(buf)]...)
	}
	s.Finish()
	if err := wait(t, s); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	got = append(got, drain(s)...)
	if !reflect.DeepEqual(got, engine.Texts(want)) {
		t.Fatalf("incremental tokens %q, transcribe %q", got, engine.Texts(want))
	}
}

// scriptedDecoder fails the n-th window with err and otherwise delegates.
type scriptedDecoder struct {
	inner  engine.Decoder
	failAt int
	err    error
	calls  int
}

func (d *scriptedDecoder) Decode(ctx context.Context, w chunk.Window, st engine.State) ([]engine.Token, engine.State, error) {
	d.calls++
	if d.calls == d.failAt {
		return nil, st, d.err
	}
	return d.inner.Decode(ctx, w, st)
}

func (d *scriptedDecoder) Close() error { return d.inner.Close() }

func TestFatalDecoderErrorFailsSession(t *testing.T) {
	ctx := modeltest.Load(t, modeltest.Options{})
	dec := &scriptedDecoder{
		inner:  engine.NewPrototypeDecoder(ctx, nil),
		failAt: 2,
		err:    engine.ErrModelState,
	}
	recorder := telemetry.NewRecorder(modeltest.Logger())
	s := newSession(t, ctx, stream.Config{
		ProcessingInterval: 500 * time.Millisecond,
		Decoder:            dec,
		Recorder:           recorder,
	})

	feedAll(t, s, modeltest.Sine(440, 1.5), 24000)
	if err := wait(t, s); !errors.Is(err, engine.ErrModelState) {
		t.Fatalf("expected ErrModelState, got %v", err)
	}
	if s.State() != stream.StateFailed {
		t.Fatalf("expected failed, got %s", s.State())
	}
	if err := s.Feed([]float32{0.2}); err != nil {
		t.Fatalf("feed on failed session must be ignored, got %v", err)
	}
	if err := s.Finish(); err != nil {
		t.Fatalf("finish on failed session: %v", err)
	}
	if got := drain(s); !reflect.DeepEqual(got, []string{"hello"}) {
		t.Fatalf("committed tokens must survive failure, got %q", got)
	}

	s.Close()
	if snap := recorder.Snapshot(); snap.TotalFailures != 1 || snap.ActiveSessions != 0 {
		t.Fatalf("unexpected telemetry %+v", snap)
	}
}

func TestTransientDecodeErrorDropsWindow(t *testing.T) {
	ctx := modeltest.Load(t, modeltest.Options{})
	dec := &scriptedDecoder{
		inner:  engine.NewPrototypeDecoder(ctx, nil),
		failAt: 1,
		err:    engine.ErrDecode,
	}
	s := newSession(t, ctx, stream.Config{ProcessingInterval: 500 * time.Millisecond, Decoder: dec})

	feedAll(t, s, modeltest.Utterance("hello", "world"), 4800)
	s.Finish()
	if err := wait(t, s); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if s.State() != stream.StateDrained {
		t.Fatalf("expected drained, got %s", s.State())
	}
	if !errors.Is(s.LastError(), engine.ErrDecode) {
		t.Fatalf("expected ErrDecode recorded, got %v", s.LastError())
	}
	got := drain(s)
	if len(got) == 0 || got[len(got)-1] != "world" {
		t.Fatalf("expected decoding to continue after the dropped window, got %q", got)
	}
}

func TestModelInUseWhileSessionOpen(t *testing.T) {
	ctx, err := model.Load(modeltest.WriteBundle(t, modeltest.Options{}), modeltest.Logger())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	s, err := stream.New(ctx, stream.Config{Logger: modeltest.Logger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := ctx.Close(); !errors.Is(err, model.ErrInUse) {
		t.Fatalf("expected ErrInUse, got %v", err)
	}
	s.Close()
	if err := ctx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := stream.New(ctx, stream.Config{}); !errors.Is(err, stream.ErrResource) {
		t.Fatalf("expected ErrResource on closed context, got %v", err)
	}
}

func TestStubSession(t *testing.T) {
	ctx := modeltest.Load(t, modeltest.Options{})
	s := newSession(t, ctx, stream.Config{Stub: true, ID: "stub-1"})
	if s.ID() != "stub-1" {
		t.Fatalf("unexpected id %q", s.ID())
	}
	feedAll(t, s, modeltest.Silence(0.5), 8000)
	s.Finish()
	if err := wait(t, s); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	tokens := s.Tokens(-1)
	if len(tokens) != 1 || tokens[0].Text != "[stub] 8000 samples" {
		t.Fatalf("unexpected stub tokens %+v", tokens)
	}
}
