package engine_test

import (
	"context"
	"testing"

	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/chunk"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/engine"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/model/modeltest"
)

func BenchmarkStubDecoderDecode(b *testing.B) {
	dec := engine.NewStubDecoder(modeltest.Logger())
	w := chunk.Window{Samples: make([]float32, 16000), Final: true}
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := dec.Decode(ctx, w, engine.State{}); err != nil {
			b.Fatalf("Decode failed: %v", err)
		}
	}
}

func BenchmarkPrototypeDecoderWindow(b *testing.B) {
	mctx := modeltest.Load(b, modeltest.Options{})
	dec := engine.NewPrototypeDecoder(mctx, modeltest.Logger())
	w := chunk.Window{Samples: modeltest.Sine(440, 1)}
	ctx := context.Background()

	b.SetBytes(int64(4 * len(w.Samples)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := dec.Decode(ctx, w, engine.State{}); err != nil {
			b.Fatalf("Decode failed: %v", err)
		}
	}
}
