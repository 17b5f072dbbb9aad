package model

import (
	"errors"

	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/features"
)

// ErrNoVoicedFrames is returned when a training clip is entirely below the
// energy floor.
var ErrNoVoicedFrames = errors.New("model: clip has no voiced frames")

// EstimatePrototype averages the mean-centred log-mel frames of pcm whose
// energy reaches energyFloor. The result is suitable as a WeightsEntry mean.
func EstimatePrototype(ex *features.Extractor, pcm []float32, energyFloor float64) ([]float32, error) {
	cfg := ex.Config()
	n := cfg.FrameCount(len(pcm))
	sum := make([]float64, cfg.NumMels)
	frame := make([]float32, cfg.NumMels)
	voiced := 0
	for f := 0; f < n; f++ {
		window := pcm[f*cfg.HopSize : f*cfg.HopSize+cfg.WindowSize]
		if features.Energy(window) < energyFloor {
			continue
		}
		ex.Frame(window, frame)
		features.Center(frame)
		for m, v := range frame {
			sum[m] += float64(v)
		}
		voiced++
	}
	if voiced == 0 {
		return nil, ErrNoVoicedFrames
	}
	out := make([]float32, cfg.NumMels)
	for m := range out {
		out[m] = float32(sum[m] / float64(voiced))
	}
	return out, nil
}
