package features

import (
	"math"
	"testing"
)

func tone(freq float64, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/16000))
	}
	return out
}

func TestValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero rate", func(c *Config) { c.SampleRate = 0 }},
		{"hop too large", func(c *Config) { c.HopSize = c.WindowSize + 1 }},
		{"fft not power of two", func(c *Config) { c.FFTSize = 500 }},
		{"fft smaller than window", func(c *Config) { c.FFTSize = 256 }},
		{"no mels", func(c *Config) { c.NumMels = 0 }},
		{"high above nyquist", func(c *Config) { c.HighFreq = 9000 }},
		{"pre-emphasis one", func(c *Config) { c.PreEmphasis = 1 }},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestFrameCount(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.FrameCount(399); got != 0 {
		t.Fatalf("FrameCount(399) = %d", got)
	}
	if got := cfg.FrameCount(400); got != 1 {
		t.Fatalf("FrameCount(400) = %d", got)
	}
	if got := cfg.FrameCount(16000); got != 98 {
		t.Fatalf("FrameCount(16000) = %d", got)
	}
}

func TestFrameMatchesExtract(t *testing.T) {
	e := New(DefaultConfig())
	pcm := tone(440, 4000)
	frames := e.Extract(pcm)
	if len(frames) != e.Config().FrameCount(len(pcm)) {
		t.Fatalf("unexpected frame count %d", len(frames))
	}

	// A frame computed from a shifted slice must be identical.
	out := make([]float32, e.Config().NumMels)
	e.Frame(pcm[5*160:], out)
	for m := range out {
		if out[m] != frames[5][m] {
			t.Fatalf("mel %d differs: %v vs %v", m, out[m], frames[5][m])
		}
	}
}

func TestToneEnergyPeaksNearFrequency(t *testing.T) {
	e := New(DefaultConfig())
	low := e.Extract(tone(300, 400))[0]
	high := e.Extract(tone(3000, 400))[0]

	argmax := func(v []float32) int {
		best := 0
		for i := range v {
			if v[i] > v[best] {
				best = i
			}
		}
		return best
	}
	if argmax(low) >= argmax(high) {
		t.Fatalf("expected low tone peak below high tone peak: %d vs %d", argmax(low), argmax(high))
	}
}

func TestFFTImpulse(t *testing.T) {
	re := make([]float64, 8)
	im := make([]float64, 8)
	re[0] = 1
	fft(re, im)
	for i := range re {
		if math.Abs(re[i]-1) > 1e-12 || math.Abs(im[i]) > 1e-12 {
			t.Fatalf("bin %d: got (%g, %g)", i, re[i], im[i])
		}
	}
}

func TestCenter(t *testing.T) {
	v := []float32{1, 2, 3}
	norm := Center(v)
	if v[0] != -1 || v[1] != 0 || v[2] != 1 {
		t.Fatalf("unexpected centred vector %v", v)
	}
	if math.Abs(norm-math.Sqrt2) > 1e-9 {
		t.Fatalf("unexpected norm %g", norm)
	}
	if Energy([]float32{0.5, -0.5}) != 0.25 {
		t.Fatalf("unexpected energy")
	}
}
