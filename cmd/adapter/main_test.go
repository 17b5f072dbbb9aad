package main

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/config"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/model"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/model/modeltest"
)

func testConfig(t *testing.T, dir string) config.Config {
	t.Helper()
	noAccel := false
	cfg := config.Config{
		ListenAddr: "127.0.0.1:0",
		WSAddr:     "127.0.0.1:0",
		ModelDir:   dir,
		UseAccel:   &noAccel,
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return cfg
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t, modeltest.WriteBundle(t, modeltest.Options{}))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, modeltest.Logger()) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("run did not stop after cancellation")
	}
}

func TestRunFailsWithoutModel(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	err := run(context.Background(), cfg, modeltest.Logger())
	if !errors.Is(err, model.ErrModelLoad) {
		t.Fatalf("expected ErrModelLoad, got %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		" warn ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in).Level(); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
