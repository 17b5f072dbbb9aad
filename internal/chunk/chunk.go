// Package chunk cuts the audio ring into fixed-size, overlapping decode
// windows.
package chunk

import (
	"errors"
	"fmt"
	"io"

	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/ring"
)

// ErrNeedMoreAudio is returned by Next when fewer than a window step of new
// samples is buffered and the stream is still open.
var ErrNeedMoreAudio = errors.New("chunk: need more audio")

// Window is one decode input.
type Window struct {
	// Start is the absolute index of Samples[0] in the session's stream.
	Start   int64
	Samples []float32
	// Final marks the last window of the stream. It may be shorter than the
	// configured size and may carry no new samples at all.
	Final bool
}

// End returns the absolute index one past the last sample.
func (w Window) End() int64 { return w.Start + int64(len(w.Samples)) }

// Chunker drains a ring into windows of size samples. Each window repeats
// the last overlap samples of its predecessor, so any span of up to overlap
// samples is contained whole in some window.
//
// A Chunker is used by a single goroutine.
type Chunker struct {
	src     *ring.Buffer[float32]
	size    int
	overlap int

	history []float32
	pos     int64
	gaps    int
	done    bool
}

// New returns a Chunker producing windows of size samples with the given
// overlap. overlap must be smaller than size.
func New(src *ring.Buffer[float32], size, overlap int) (*Chunker, error) {
	if src == nil {
		return nil, fmt.Errorf("chunk: nil source")
	}
	if overlap < 0 || size <= overlap {
		return nil, fmt.Errorf("chunk: window of %d samples cannot overlap by %d", size, overlap)
	}
	return &Chunker{src: src, size: size, overlap: overlap}, nil
}

// Size returns the window size in samples.
func (c *Chunker) Size() int { return c.size }

// Step returns the number of new samples consumed by a full window.
func (c *Chunker) Step() int { return c.size - c.overlap }

// Gaps returns how many discontinuities caused by ring overruns were seen.
func (c *Chunker) Gaps() int { return c.gaps }

// Next returns the next window, ErrNeedMoreAudio, or io.EOF once the final
// window has been returned.
func (c *Chunker) Next() (Window, error) {
	if c.done {
		return Window{}, io.EOF
	}

	step := c.Step()
	avail := c.src.Len()
	final := false
	switch {
	case avail >= step:
		avail = step
	case c.src.Closed():
		// Closed is observed after Len, so recheck: a writer may have
		// appended between the two calls before closing.
		avail = min(c.src.Len(), step)
		final = avail < step
	default:
		return Window{}, ErrNeedMoreAudio
	}

	fresh := make([]float32, avail)
	n, start := c.src.Read(fresh)
	fresh = fresh[:n]
	if start != c.pos {
		c.history = c.history[:0]
		c.gaps++
	}

	samples := make([]float32, 0, len(c.history)+n)
	samples = append(samples, c.history...)
	samples = append(samples, fresh...)
	w := Window{
		Start:   start - int64(len(c.history)),
		Samples: samples,
		Final:   final,
	}

	c.pos = start + int64(n)
	keep := min(c.overlap, len(samples))
	c.history = append(c.history[:0], samples[len(samples)-keep:]...)
	if final {
		c.done = true
	}
	return w, nil
}
