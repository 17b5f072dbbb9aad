package main

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/audio"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/engine"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/model"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/model/modeltest"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/stream"
)

func TestBuildProducesLoadableBundle(t *testing.T) {
	tmp := t.TempDir()
	var opts options
	for _, tone := range modeltest.DefaultTones {
		path := filepath.Join(tmp, tone.Token+".wav")
		if err := audio.SaveWAV(path, modeltest.Sine(tone.Freq, 1), modeltest.SampleRate); err != nil {
			t.Fatalf("SaveWAV: %v", err)
		}
		if err := opts.samples.Set(tone.Token + "=" + path); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	opts.dir = filepath.Join(tmp, "bundle")
	opts.name = "built"
	opts.eou = "<eou>"
	opts.extra = []string{"##s"}

	if err := build(opts, modeltest.Logger()); err != nil {
		t.Fatalf("build: %v", err)
	}

	ctx, err := model.Load(opts.dir, modeltest.Logger())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer ctx.Close()
	if got := ctx.Vocabulary().Tokens(); !reflect.DeepEqual(got, []string{"hello", "world", "##s", "<eou>"}) {
		t.Fatalf("unexpected vocabulary %q", got)
	}

	tokens, err := stream.Transcribe(context.Background(), ctx, modeltest.Utterance("world", "hello"), stream.Config{Logger: modeltest.Logger()})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got := engine.Texts(tokens); !reflect.DeepEqual(got, []string{"world", "hello", "<eou>"}) {
		t.Fatalf("unexpected tokens %q", got)
	}
}

func TestBuildRequiresSamples(t *testing.T) {
	if err := build(options{dir: t.TempDir()}, modeltest.Logger()); err == nil {
		t.Fatalf("expected an error without samples")
	}
	var s samples
	for _, bad := range []string{"hello", "=x.wav", "hello="} {
		if err := s.Set(bad); err == nil {
			t.Fatalf("Set(%q) accepted", bad)
		}
	}
}
