package stream

import (
	"context"
	"time"

	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/engine"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/model"
)

// Transcribe decodes a complete recording in one session and returns every
// committed token. The ring is sized to hold the whole recording, so nothing
// is lost to overruns.
func Transcribe(ctx context.Context, mctx *model.Context, samples []float32, cfg Config) ([]engine.Token, error) {
	if mctx != nil && mctx.SampleRate() > 0 {
		need := time.Duration(len(samples)+1) * time.Second / time.Duration(mctx.SampleRate())
		interval := cfg.ProcessingInterval
		if interval == 0 {
			interval = DefaultProcessingInterval
		}
		cfg.RingCapacity = max(cfg.RingCapacity, DefaultRingCapacity, need+interval)
	}

	s, err := New(mctx, cfg)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	if err := s.Feed(samples); err != nil {
		return nil, err
	}
	if err := s.Finish(); err != nil {
		return nil, err
	}
	err = s.Wait(ctx)
	return s.Tokens(-1), err
}
