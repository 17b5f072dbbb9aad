package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/chunk"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/moduleinfo"
)

// StubDecoder produces a single placeholder token per stream without
// looking at the audio. It lets hosts be wired and tested without a
// trained model.
type StubDecoder struct {
	log *slog.Logger
}

// NewStubDecoder returns a Decoder that reports how many samples it saw.
func NewStubDecoder(logger *slog.Logger) *StubDecoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubDecoder{
		log: logger.With(
			"component", "engine.stub",
			"adapter", moduleinfo.Info.Slug,
		),
	}
}

// Close implements Decoder.
func (d *StubDecoder) Close() error { return nil }

// Decode implements Decoder.
func (d *StubDecoder) Decode(ctx context.Context, w chunk.Window, st State) ([]Token, State, error) {
	if err := ctx.Err(); err != nil {
		return nil, st, err
	}
	if end := w.End(); end > st.Samples {
		st.Samples = end
	}
	d.log.Debug("stub window", "start", w.Start, "samples", len(w.Samples), "final", w.Final)
	if !w.Final {
		return nil, st, nil
	}
	st.Committed++
	return []Token{{
		ID:    -1,
		Text:  fmt.Sprintf("[stub] %d samples", st.Samples),
		Frame: 0,
		Score: 1,
	}}, st, nil
}
