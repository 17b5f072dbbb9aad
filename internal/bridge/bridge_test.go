package bridge_test

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/audio"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/bridge"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/model"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/model/modeltest"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/stream"
)

func newBridge(t *testing.T) (*bridge.Bridge, bridge.Handle) {
	t.Helper()
	b := bridge.New(bridge.Options{Logger: modeltest.Logger()})
	t.Cleanup(b.Close)
	h, err := b.Load(modeltest.WriteBundle(t, modeltest.Options{}))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return b, h
}

// collect polls Get until want tokens arrived or the deadline passes.
func collect(t *testing.T, b *bridge.Bridge, s bridge.Handle, want int) []string {
	t.Helper()
	var out []string
	deadline := time.Now().Add(10 * time.Second)
	for len(out) < want {
		if time.Now().After(deadline) {
			t.Fatalf("timed out with tokens %q", out)
		}
		got := b.Get(s, 8)
		if len(got) == 0 {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		out = append(out, got...)
	}
	return out
}

func TestStreamThroughHandles(t *testing.T) {
	b, h := newBridge(t)

	s, err := b.StreamInit(h)
	if err != nil {
		t.Fatalf("StreamInit: %v", err)
	}
	if err := b.SetProcessingInterval(s, 0.5); err != nil {
		t.Fatalf("SetProcessingInterval: %v", err)
	}
	if err := b.Feed(s, modeltest.Utterance("hello", "world")); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if err := b.Finish(s); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if got := collect(t, b, s, 2); !reflect.DeepEqual(got, []string{"hello", "world"}) {
		t.Fatalf("got %q", got)
	}

	b.Feed(s, []float32{0.1})
	if msg := b.LastError(s); msg == "" {
		t.Fatalf("expected feed after finish to be recorded")
	}
	if err := b.SetProcessingInterval(s, 2); !errors.Is(err, stream.ErrSequence) {
		t.Fatalf("expected ErrSequence, got %v", err)
	}

	if err := b.Free(h); !errors.Is(err, model.ErrInUse) {
		t.Fatalf("expected ErrInUse while the session is open, got %v", err)
	}
	if err := b.StreamFree(s); err != nil {
		t.Fatalf("StreamFree: %v", err)
	}
	if err := b.StreamFree(s); !errors.Is(err, bridge.ErrUnknownHandle) {
		t.Fatalf("expected ErrUnknownHandle on double free, got %v", err)
	}
	if got := b.Get(s, 8); len(got) != 0 {
		t.Fatalf("freed handle returned tokens %q", got)
	}
	if err := b.Free(h); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if _, err := b.StreamInit(h); !errors.Is(err, bridge.ErrUnknownHandle) {
		t.Fatalf("expected ErrUnknownHandle, got %v", err)
	}
}

func TestSetProcessingIntervalRejectsNonFinite(t *testing.T) {
	b, h := newBridge(t)
	s, err := b.StreamInit(h)
	if err != nil {
		t.Fatalf("StreamInit: %v", err)
	}
	zero := 0.0
	for _, v := range []float64{zero / zero, 1 / zero, -1} {
		if err := b.SetProcessingInterval(s, v); !errors.Is(err, stream.ErrConfig) {
			t.Fatalf("SetProcessingInterval(%v): expected ErrConfig, got %v", v, err)
		}
	}
}

func TestLoadRejectsMissingBundle(t *testing.T) {
	b := bridge.New(bridge.Options{Logger: modeltest.Logger()})
	if h, err := b.Load(filepath.Join(t.TempDir(), "missing")); h != 0 || !errors.Is(err, model.ErrModelLoad) {
		t.Fatalf("expected zero handle and ErrModelLoad, got %d %v", h, err)
	}
}

func TestTranscribeAndLoadWAV(t *testing.T) {
	b, h := newBridge(t)
	path := filepath.Join(t.TempDir(), "utterance.wav")
	pcm := modeltest.Utterance("hello", "world")
	if err := audio.SaveWAV(path, pcm, modeltest.SampleRate); err != nil {
		t.Fatalf("SaveWAV: %v", err)
	}

	samples, err := b.LoadWAV(path)
	if err != nil {
		t.Fatalf("LoadWAV: %v", err)
	}
	if len(samples) != len(pcm) {
		t.Fatalf("expected %d samples, got %d", len(pcm), len(samples))
	}

	text, err := b.Transcribe(h, path)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "hello world" {
		t.Fatalf("unexpected transcript %q", text)
	}

	if _, err := b.Transcribe(h+100, path); !errors.Is(err, bridge.ErrUnknownHandle) {
		t.Fatalf("expected ErrUnknownHandle, got %v", err)
	}
	if _, err := b.Transcribe(h, filepath.Join(t.TempDir(), "absent.wav")); err == nil {
		t.Fatalf("expected error for a missing file")
	}
}

func TestAcceleratorLifecycle(t *testing.T) {
	if code := bridge.AccelInit(); code != 0 {
		t.Fatalf("AccelInit returned %d", code)
	}
	if !bridge.AccelAvailable() {
		t.Fatalf("expected accelerator available after init")
	}
	b, h := newBridge(t)
	path := filepath.Join(t.TempDir(), "hello.wav")
	if err := audio.SaveWAV(path, modeltest.Sine(440, 1), modeltest.SampleRate); err != nil {
		t.Fatalf("SaveWAV: %v", err)
	}
	if text, err := b.Transcribe(h, path); err != nil || text != "hello" {
		t.Fatalf("Transcribe with accelerator: %q %v", text, err)
	}

	bridge.AccelShutdown()
	bridge.AccelShutdown()
	if bridge.AccelAvailable() {
		t.Fatalf("expected accelerator unavailable after shutdown")
	}
	if code := bridge.AccelInit(); code >= 0 {
		t.Fatalf("expected negative code after shutdown, got %d", code)
	}
}
