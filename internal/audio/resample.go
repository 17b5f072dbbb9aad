package audio

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// tailPad is the zero padding appended before resampling so the filter
// delay does not swallow the end of the signal.
const tailPad = 0.05

// Resample converts mono samples from srcRate to dstRate. Equal rates return
// a copy.
func Resample(samples []float32, srcRate, dstRate int) ([]float32, error) {
	if srcRate <= 0 || dstRate <= 0 {
		return nil, fmt.Errorf("audio: invalid resample %d Hz -> %d Hz", srcRate, dstRate)
	}
	if srcRate == dstRate || len(samples) == 0 {
		return append([]float32(nil), samples...), nil
	}

	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(srcRate),
		OutputRate: float64(dstRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("audio: create resampler: %w", err)
	}

	pad := int(tailPad * float64(srcRate))
	in := make([]float64, len(samples)+pad)
	for i, v := range samples {
		in[i] = float64(v)
	}
	res, err := r.Process(in)
	if err != nil {
		return nil, fmt.Errorf("audio: resample: %w", err)
	}

	want := int((int64(len(samples))*int64(dstRate) + int64(srcRate) - 1) / int64(srcRate))
	out := make([]float32, min(want, len(res)))
	for i := range out {
		out[i] = clamp(res[i])
	}
	return out, nil
}
