package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/accel"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/chunk"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/features"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/model"
)

// PrototypeDecoder classifies each feature frame against the model's token
// prototypes and commits a token once its label has been stable for
// MinRunFrames consecutive frames.
//
// Frames sit on a fixed grid over the whole stream and State.NextFrame makes
// sure each one is classified exactly once, so the committed tokens depend
// only on the concatenated audio, not on how it was split into windows.
type PrototypeDecoder struct {
	model  *model.Context
	params model.DecoderParams
	ex     *features.Extractor
	log    *slog.Logger
}

// NewPrototypeDecoder builds a decoder bound to ctx.
func NewPrototypeDecoder(ctx *model.Context, logger *slog.Logger) *PrototypeDecoder {
	if logger == nil {
		logger = slog.Default()
	}
	p := ctx.Params()
	return &PrototypeDecoder{
		model:  ctx,
		params: p.Decoder,
		ex:     features.New(p.Features),
		log:    logger.With("component", "engine.prototype", "model", ctx.Name()),
	}
}

// Close implements Decoder.
func (d *PrototypeDecoder) Close() error { return nil }

// Decode implements Decoder.
func (d *PrototypeDecoder) Decode(ctx context.Context, w chunk.Window, st State) ([]Token, State, error) {
	if d.model.Closed() {
		return nil, st, fmt.Errorf("%w: model context closed", ErrModelState)
	}
	cfg := d.ex.Config()
	hop, win := int64(cfg.HopSize), cfg.WindowSize

	if w.End() < st.Samples {
		return nil, st, fmt.Errorf("%w: window ends at %d before already decoded sample %d", ErrModelState, w.End(), st.Samples)
	}
	for i, v := range w.Samples {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, st, fmt.Errorf("%w: non-finite sample at %d", ErrDecode, w.Start+int64(i))
		}
	}

	first := (w.Start + hop - 1) / hop
	if st.NextFrame < first {
		// Frames were skipped, either by an overrun or a dropped window.
		st.Candidate, st.Run, st.CandidateScore = Blank, 0, 0
		st.NextFrame = first
	}

	samples := w.Samples
	if w.Final {
		samples = make([]float32, len(w.Samples)+win)
		copy(samples, w.Samples)
	}

	var starts []int
	for f := st.NextFrame; ; f++ {
		rel := f*hop - w.Start
		if w.Final {
			if rel >= int64(len(w.Samples)) {
				break
			}
		} else if rel+int64(win) > int64(len(w.Samples)) {
			break
		}
		starts = append(starts, int(rel))
	}

	frames := make([][]float32, len(starts))
	for i := range frames {
		frames[i] = make([]float32, cfg.NumMels)
	}
	began := time.Now()
	if err := d.computeFrames(ctx, samples, starts, frames); err != nil {
		return nil, st, err
	}

	var tokens []Token
	for i, rel := range starts {
		label, score := d.classify(samples[rel:rel+win], frames[i])
		if tok, ok := d.advance(&st, st.NextFrame, label, score); ok {
			tokens = append(tokens, tok)
		}
		st.NextFrame++
	}
	st.Samples = w.End()

	if w.Final {
		tokens = append(tokens, d.flush(&st)...)
	}

	d.log.Debug("window decoded",
		"start", w.Start,
		"samples", len(w.Samples),
		"frames", len(starts),
		"tokens", len(tokens),
		"final", w.Final,
		"elapsed_ms", time.Since(began).Milliseconds(),
	)
	return tokens, st, nil
}

func (d *PrototypeDecoder) computeFrames(ctx context.Context, pcm []float32, starts []int, out [][]float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if backend := accel.Active(); backend != nil {
		if err := backend.Frames(ctx, d.ex, pcm, starts, out); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %s backend: %v", ErrDecode, backend.Name(), err)
		}
		return nil
	}
	win := d.ex.Config().WindowSize
	for i, s := range starts {
		d.ex.Frame(pcm[s:s+win], out[i])
	}
	return nil
}

// classify returns the label of one frame and its similarity.
func (d *PrototypeDecoder) classify(pcm []float32, frame []float32) (int, float64) {
	if features.Energy(pcm) < d.params.EnergyFloor {
		return Blank, 0
	}
	norm := features.Center(frame)
	if norm == 0 {
		return Blank, 0
	}

	best, bestScore := Blank, math.Inf(-1)
	for _, p := range d.model.Prototypes() {
		dot := 0.0
		for m, v := range p.Vector {
			dot += float64(v) * float64(frame[m])
		}
		score := dot / norm
		if score > bestScore {
			best, bestScore = p.Token+1, score
		}
	}
	if bestScore < d.params.MinSimilarity {
		return Blank, bestScore
	}
	return best, bestScore
}

// advance feeds one frame label into the hysteresis and reports a newly
// committed token.
func (d *PrototypeDecoder) advance(st *State, frame int64, label int, score float64) (Token, bool) {
	if label == st.Candidate && st.Run > 0 {
		st.Run++
		st.CandidateScore += score
	} else {
		st.Candidate, st.Run, st.CandidateStart, st.CandidateScore = label, 1, frame, score
	}
	if st.Run < d.params.MinRunFrames || st.Candidate == st.Stable {
		return Token{}, false
	}
	st.Stable = st.Candidate
	if st.Stable == Blank {
		return Token{}, false
	}
	return d.commit(st), true
}

func (d *PrototypeDecoder) commit(st *State) Token {
	id := st.Candidate - 1
	text, _ := d.model.Vocabulary().Token(id)
	st.Committed++
	return Token{
		ID:    id,
		Text:  text,
		Frame: st.CandidateStart,
		Score: float32(st.CandidateScore / float64(st.Run)),
	}
}

// flush commits a pending label long enough to count at end of stream and
// appends the end-of-utterance marker when the model declares one.
func (d *PrototypeDecoder) flush(st *State) []Token {
	var out []Token
	if st.Candidate != Blank && st.Candidate != st.Stable && st.Run >= d.params.FlushMinFrames {
		st.Stable = st.Candidate
		out = append(out, d.commit(st))
	}
	if eou := d.model.EndOfUtterance(); eou >= 0 && st.Committed > 0 {
		text, _ := d.model.Vocabulary().Token(eou)
		out = append(out, Token{ID: eou, Text: text, Frame: st.NextFrame, Score: 1})
		st.Committed++
	}
	st.Candidate, st.Run, st.CandidateScore = Blank, 0, 0
	return out
}
