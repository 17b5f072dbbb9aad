package model

import (
	"fmt"

	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/features"
)

// FormatVersion is the bundle layout version this build understands.
const FormatVersion = 1

const (
	DefaultSampleRate  = 16000
	DefaultVocabFile   = "vocab.txt"
	DefaultWeightsFile = "weights.msgpack"
	ConfigFile         = "config.yaml"
)

// Params mirrors config.yaml inside a model bundle.
type Params struct {
	FormatVersion int               `yaml:"format_version"`
	Name          string            `yaml:"name"`
	SampleRate    int               `yaml:"sample_rate"`
	Features      features.Config   `yaml:"features"`
	Decoder       DecoderParams     `yaml:"decoder"`
	VocabFile     string            `yaml:"vocab_file,omitempty"`
	WeightsFile   string            `yaml:"weights_file,omitempty"`
	Checksums     map[string]string `yaml:"checksums,omitempty"`
}

// DecoderParams are the hyperparameters of the prototype decoder.
type DecoderParams struct {
	// MinRunFrames is the number of consecutive frames a label needs before
	// it is considered stable and committed.
	MinRunFrames int `yaml:"min_run_frames"`
	// FlushMinFrames is the shorter run accepted for a pending label at end
	// of stream.
	FlushMinFrames int     `yaml:"flush_min_frames"`
	MinSimilarity  float64 `yaml:"min_similarity"`
	// EnergyFloor is the mean-square level below which a frame is silence.
	EnergyFloor    float64 `yaml:"energy_floor"`
	EndOfUtterance string  `yaml:"end_of_utterance,omitempty"`
}

// DefaultParams returns the parameters used when config.yaml leaves fields
// unset.
func DefaultParams() Params {
	return Params{
		FormatVersion: FormatVersion,
		SampleRate:    DefaultSampleRate,
		Features:      features.DefaultConfig(),
		Decoder: DecoderParams{
			MinRunFrames:   3,
			FlushMinFrames: 2,
			MinSimilarity:  0.6,
			EnergyFloor:    1e-5,
		},
		VocabFile:   DefaultVocabFile,
		WeightsFile: DefaultWeightsFile,
	}
}

// Validate fills defaults and rejects incompatible or out-of-range values.
func (p *Params) Validate() error {
	if p.FormatVersion != FormatVersion {
		return fmt.Errorf("unsupported format_version %d (want %d)", p.FormatVersion, FormatVersion)
	}
	def := DefaultParams()
	if p.SampleRate == 0 {
		p.SampleRate = def.SampleRate
	}
	if p.VocabFile == "" {
		p.VocabFile = def.VocabFile
	}
	if p.WeightsFile == "" {
		p.WeightsFile = def.WeightsFile
	}

	f := &p.Features
	f.SampleRate = p.SampleRate
	if f.WindowSize == 0 {
		f.WindowSize = def.Features.WindowSize
	}
	if f.HopSize == 0 {
		f.HopSize = def.Features.HopSize
	}
	if f.FFTSize == 0 {
		f.FFTSize = def.Features.FFTSize
	}
	if f.NumMels == 0 {
		f.NumMels = def.Features.NumMels
	}
	if f.LowFreq == 0 {
		f.LowFreq = def.Features.LowFreq
	}
	if f.HighFreq == 0 {
		f.HighFreq = def.Features.HighFreq
	}
	if err := f.Validate(); err != nil {
		return err
	}

	d := &p.Decoder
	if d.MinRunFrames == 0 {
		d.MinRunFrames = def.Decoder.MinRunFrames
	}
	if d.FlushMinFrames == 0 {
		d.FlushMinFrames = def.Decoder.FlushMinFrames
	}
	if d.MinSimilarity == 0 {
		d.MinSimilarity = def.Decoder.MinSimilarity
	}
	if d.EnergyFloor == 0 {
		d.EnergyFloor = def.Decoder.EnergyFloor
	}
	switch {
	case d.MinRunFrames < 1:
		return fmt.Errorf("decoder.min_run_frames must be >= 1, got %d", d.MinRunFrames)
	case d.FlushMinFrames < 1 || d.FlushMinFrames > d.MinRunFrames:
		return fmt.Errorf("decoder.flush_min_frames must be in [1, %d], got %d", d.MinRunFrames, d.FlushMinFrames)
	case d.MinSimilarity <= -1 || d.MinSimilarity >= 1:
		return fmt.Errorf("decoder.min_similarity must be in (-1, 1), got %g", d.MinSimilarity)
	case d.EnergyFloor < 0:
		return fmt.Errorf("decoder.energy_floor must be >= 0, got %g", d.EnergyFloor)
	}
	return nil
}
