// Package audio converts WAV files and raw PCM16 into the float32 mono
// samples sessions consume.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

var (
	// ErrInvalidWAV reports input that is not a PCM WAV file.
	ErrInvalidWAV = errors.New("audio: invalid wav")
	// ErrOddPCM reports a PCM16 payload with a dangling byte.
	ErrOddPCM = errors.New("audio: pcm16 length must be even")
)

const pcmFormat = 1

// LoadWAV reads the WAV file at path and returns mono float32 samples at
// rate. Multi-channel audio is averaged and other sample rates are
// resampled.
func LoadWAV(path string, rate int) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	samples, srcRate, err := DecodeWAV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return Resample(samples, srcRate, rate)
}

// DecodeWAV decodes a PCM WAV stream into mono samples in [-1, 1] and
// returns them with the file's sample rate.
func DecodeWAV(r io.ReadSeeker) ([]float32, int, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, 0, ErrInvalidWAV
	}
	if dec.WavAudioFormat != pcmFormat {
		return nil, 0, fmt.Errorf("%w: unsupported audio format %d", ErrInvalidWAV, dec.WavAudioFormat)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
	}
	if buf == nil {
		return nil, 0, fmt.Errorf("%w: no pcm data", ErrInvalidWAV)
	}

	depth := buf.SourceBitDepth
	if depth <= 0 {
		depth = int(dec.BitDepth)
	}
	if depth <= 0 || depth > 32 {
		return nil, 0, fmt.Errorf("%w: bit depth %d", ErrInvalidWAV, depth)
	}
	channels := int(dec.NumChans)
	if buf.Format != nil && buf.Format.NumChannels > 0 {
		channels = buf.Format.NumChannels
	}
	if channels <= 0 {
		return nil, 0, fmt.Errorf("%w: no channels", ErrInvalidWAV)
	}
	rate := int(dec.SampleRate)
	if rate == 0 && buf.Format != nil {
		rate = buf.Format.SampleRate
	}
	if rate <= 0 {
		return nil, 0, fmt.Errorf("%w: missing sample rate", ErrInvalidWAV)
	}

	// 8-bit WAV is unsigned.
	var offset float64
	if depth == 8 {
		offset = 128
	}
	scale := float64(int64(1) << (depth - 1))
	frames := len(buf.Data) / channels
	out := make([]float32, frames)
	for i := range out {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(buf.Data[i*channels+c]) - offset
		}
		out[i] = clamp(sum / float64(channels) / scale)
	}
	return out, rate, nil
}

// WriteWAV encodes samples as a 16-bit mono PCM WAV.
func WriteWAV(w io.WriteSeeker, samples []float32, rate int) error {
	if rate <= 0 {
		return fmt.Errorf("audio: invalid sample rate %d", rate)
	}
	enc := wav.NewEncoder(w, rate, 16, 1, pcmFormat)
	data := make([]int, len(samples))
	for i, v := range samples {
		data[i] = int(toInt16(v))
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return err
	}
	return enc.Close()
}

// SaveWAV writes samples to a new file at path.
func SaveWAV(path string, samples []float32, rate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteWAV(f, samples, rate); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// PCM16ToFloat32 converts little-endian signed 16-bit PCM to float32.
func PCM16ToFloat32(b []byte) ([]float32, error) {
	if len(b)%2 != 0 {
		return nil, ErrOddPCM
	}
	out := make([]float32, len(b)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(b[2*i:]))) / 32768
	}
	return out, nil
}

// Float32ToPCM16 converts samples to little-endian signed 16-bit PCM,
// clipping values outside [-1, 1].
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, 2*len(samples))
	for i, v := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(toInt16(v)))
	}
	return out
}

func toInt16(v float32) int16 {
	f := float64(v)
	switch {
	case math.IsNaN(f):
		return 0
	case f >= 1:
		return math.MaxInt16
	case f <= -1:
		return math.MinInt16
	}
	return int16(math.Round(f * 32767))
}

func clamp(v float64) float32 {
	switch {
	case v > 1:
		return 1
	case v < -1:
		return -1
	}
	return float32(v)
}
