// Package features computes log mel filterbank frames from 16 kHz PCM.
//
// Frames are laid out on a fixed grid: frame f covers samples
// [f*HopSize, f*HopSize+WindowSize). Each frame depends only on its own
// samples, so a frame computed from any window that contains it is
// bit-identical.
package features

import (
	"fmt"
	"math"
	"sync"
)

// Config controls filterbank extraction.
type Config struct {
	SampleRate  int     `yaml:"-"`
	WindowSize  int     `yaml:"window_size"`
	HopSize     int     `yaml:"hop_size"`
	FFTSize     int     `yaml:"fft_size"`
	NumMels     int     `yaml:"num_mels"`
	LowFreq     float64 `yaml:"low_freq"`
	HighFreq    float64 `yaml:"high_freq"`
	PreEmphasis float64 `yaml:"pre_emphasis"`
}

// DefaultConfig returns 25 ms windows with a 10 ms hop and 80 mel bins.
func DefaultConfig() Config {
	return Config{
		SampleRate:  16000,
		WindowSize:  400,
		HopSize:     160,
		FFTSize:     512,
		NumMels:     80,
		LowFreq:     20,
		HighFreq:    7600,
		PreEmphasis: 0.97,
	}
}

// Validate rejects configurations the extractor cannot run.
func (c Config) Validate() error {
	switch {
	case c.SampleRate <= 0:
		return fmt.Errorf("features: sample rate must be positive, got %d", c.SampleRate)
	case c.WindowSize <= 1:
		return fmt.Errorf("features: window size must be > 1, got %d", c.WindowSize)
	case c.HopSize <= 0 || c.HopSize > c.WindowSize:
		return fmt.Errorf("features: hop size must be in (0, %d], got %d", c.WindowSize, c.HopSize)
	case c.FFTSize < c.WindowSize || c.FFTSize&(c.FFTSize-1) != 0:
		return fmt.Errorf("features: fft size must be a power of two >= window size, got %d", c.FFTSize)
	case c.NumMels <= 0:
		return fmt.Errorf("features: num mels must be positive, got %d", c.NumMels)
	case c.LowFreq < 0 || c.HighFreq <= c.LowFreq || c.HighFreq > float64(c.SampleRate)/2:
		return fmt.Errorf("features: invalid mel range [%g, %g] for %d Hz", c.LowFreq, c.HighFreq, c.SampleRate)
	case c.PreEmphasis < 0 || c.PreEmphasis >= 1:
		return fmt.Errorf("features: pre-emphasis must be in [0, 1), got %g", c.PreEmphasis)
	}
	return nil
}

// FrameCount returns how many whole frames fit in n samples.
func (c Config) FrameCount(n int) int {
	if n < c.WindowSize {
		return 0
	}
	return (n-c.WindowSize)/c.HopSize + 1
}

// Extractor computes log mel frames. It is safe for concurrent use.
type Extractor struct {
	cfg     Config
	window  []float64
	melBank []melFilter
	scratch sync.Pool
}

type scratch struct {
	re, im []float64
}

// New builds an Extractor. cfg must pass Validate.
func New(cfg Config) *Extractor {
	e := &Extractor{
		cfg:     cfg,
		window:  hammingWindow(cfg.WindowSize),
		melBank: melFilterBank(cfg.NumMels, cfg.FFTSize, cfg.SampleRate, cfg.LowFreq, cfg.HighFreq),
	}
	e.scratch.New = func() any {
		return &scratch{
			re: make([]float64, cfg.FFTSize),
			im: make([]float64, cfg.FFTSize),
		}
	}
	return e
}

// Config returns the extractor configuration.
func (e *Extractor) Config() Config { return e.cfg }

// Frame writes the log mel energies of pcm[:WindowSize] into out[:NumMels].
func (e *Extractor) Frame(pcm []float32, out []float32) {
	cfg := e.cfg
	s := e.scratch.Get().(*scratch)
	defer e.scratch.Put(s)

	re, im := s.re, s.im
	prev := 0.0
	for i := 0; i < cfg.WindowSize; i++ {
		x := float64(pcm[i])
		re[i] = (x - cfg.PreEmphasis*prev) * e.window[i]
		im[i] = 0
		prev = x
	}
	for i := cfg.WindowSize; i < cfg.FFTSize; i++ {
		re[i] = 0
		im[i] = 0
	}

	fft(re, im)

	for m, f := range e.melBank {
		sum := 0.0
		for k, w := range f.weights {
			bin := f.first + k
			sum += w * (re[bin]*re[bin] + im[bin]*im[bin])
		}
		if sum < 1e-10 {
			sum = 1e-10
		}
		out[m] = float32(math.Log(sum))
	}
}

// Extract computes every whole frame in pcm.
func (e *Extractor) Extract(pcm []float32) [][]float32 {
	n := e.cfg.FrameCount(len(pcm))
	if n == 0 {
		return nil
	}
	out := make([][]float32, n)
	for t := range out {
		out[t] = make([]float32, e.cfg.NumMels)
		start := t * e.cfg.HopSize
		e.Frame(pcm[start:start+e.cfg.WindowSize], out[t])
	}
	return out
}

// Energy returns the mean square of pcm.
func Energy(pcm []float32) float64 {
	if len(pcm) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range pcm {
		sum += float64(v) * float64(v)
	}
	return sum / float64(len(pcm))
}

// Center subtracts the vector mean from v in place and returns its L2 norm
// afterwards.
func Center(v []float32) float64 {
	if len(v) == 0 {
		return 0
	}
	mean := 0.0
	for _, x := range v {
		mean += float64(x)
	}
	mean /= float64(len(v))
	norm := 0.0
	for i, x := range v {
		d := float64(x) - mean
		v[i] = float32(d)
		norm += d * d
	}
	return math.Sqrt(norm)
}
