// Package modeltest builds small synthetic model bundles for tests. Each
// token is a pure tone, so feeding the tone back decodes to that token.
package modeltest

import (
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/features"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/model"
)

// SampleRate is the rate of every generated bundle.
const SampleRate = model.DefaultSampleRate

// Amplitude of generated tones.
const Amplitude = 0.5

// Tone binds a token to the frequency that produces it.
type Tone struct {
	Token string
	Freq  float64
}

// DefaultTones is the two-word vocabulary used across tests.
var DefaultTones = []Tone{
	{Token: "hello", Freq: 440},
	{Token: "world", Freq: 1200},
}

// Options tweak the generated bundle.
type Options struct {
	Tones []Tone
	// Extra tokens present in the vocabulary without a prototype.
	Extra  []string
	Mutate func(*model.Params)
}

// Sine returns seconds of a sine wave at freq.
func Sine(freq, seconds float64) []float32 {
	n := int(seconds * SampleRate)
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(Amplitude * math.Sin(2*math.Pi*freq*float64(i)/SampleRate))
	}
	return out
}

// Silence returns seconds of zeros.
func Silence(seconds float64) []float32 {
	return make([]float32, int(seconds*SampleRate))
}

// Concat joins sample slices.
func Concat(parts ...[]float32) []float32 {
	var out []float32
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Utterance renders tokens as consecutive tones separated by short gaps of
// silence, using DefaultTones.
func Utterance(tokens ...string) []float32 {
	var parts [][]float32
	for i, tok := range tokens {
		for _, tone := range DefaultTones {
			if tone.Token == tok {
				if i > 0 {
					parts = append(parts, Silence(0.2))
				}
				parts = append(parts, Sine(tone.Freq, 0.5))
			}
		}
	}
	return Concat(parts...)
}

// WriteBundle writes a bundle into a fresh temporary directory and returns
// its path.
func WriteBundle(t testing.TB, opts Options) string {
	t.Helper()

	tones := opts.Tones
	if len(tones) == 0 {
		tones = DefaultTones
	}
	params := model.DefaultParams()
	params.Name = "tone-test"
	if opts.Mutate != nil {
		opts.Mutate(&params)
	}
	cfg := params.Features
	cfg.SampleRate = params.SampleRate
	ex := features.New(cfg)

	tokens := make([]string, 0, len(tones)+len(opts.Extra))
	entries := make([]model.WeightsEntry, 0, len(tones))
	for i, tone := range tones {
		mean, err := model.EstimatePrototype(ex, Sine(tone.Freq, 0.25), params.Decoder.EnergyFloor)
		if err != nil {
			t.Fatalf("EstimatePrototype(%s): %v", tone.Token, err)
		}
		tokens = append(tokens, tone.Token)
		entries = append(entries, model.WeightsEntry{Token: i, Mean: mean})
	}
	tokens = append(tokens, opts.Extra...)

	dir := t.TempDir()
	err := model.WriteBundle(dir, model.Bundle{
		Params:  params,
		Tokens:  tokens,
		Weights: model.Weights{Prototypes: entries},
	})
	if err != nil {
		t.Fatalf("WriteBundle: %v", err)
	}
	return dir
}

// Load writes a bundle and loads it with a discarding logger. The context is
// closed when the test ends.
func Load(t testing.TB, opts Options) *model.Context {
	t.Helper()
	ctx, err := model.Load(WriteBundle(t, opts), Logger())
	if err != nil {
		t.Fatalf("model.Load: %v", err)
	}
	t.Cleanup(func() { _ = ctx.Close() })
	return ctx
}

// Logger returns a logger that discards output.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
