// Package engine turns audio windows into committed tokens.
package engine

import (
	"context"
	"errors"

	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/chunk"
)

var (
	// ErrDecode marks a transient failure: the window is dropped and the
	// session continues with its previous state.
	ErrDecode = errors.New("engine: decode failed")
	// ErrModelState marks a fatal failure: the session cannot continue.
	ErrModelState = errors.New("engine: invalid model state")
)

// Decoder decodes a sequence of windows. Decode must be deterministic for a
// given model, window sequence and initial state.
type Decoder interface {
	// Decode consumes one window and returns the tokens it commits together
	// with the updated rolling state. On error the returned state must be
	// ignored.
	Decode(ctx context.Context, w chunk.Window, st State) ([]Token, State, error)
	// Close releases decoder resources.
	Close() error
}

// Token is a committed decoder output.
type Token struct {
	// ID is the vocabulary index, or -1 for tokens outside the vocabulary.
	ID   int    `json:"id"`
	Text string `json:"text"`
	// Frame is the absolute feature frame where the token's evidence began.
	Frame int64 `json:"frame"`
	// Score is the mean similarity that led to the commit.
	Score float32 `json:"score"`
}

// Blank is the label of frames that carry no token.
const Blank = 0

// State is the rolling decoder state carried across windows. Labels are
// token IDs plus one so that the zero State is the initial state.
type State struct {
	// NextFrame is the first frame not yet classified.
	NextFrame int64
	// Stable is the label most recently confirmed.
	Stable int
	// Candidate is the label of the current run of frames, which may still
	// be revised.
	Candidate      int
	Run            int
	CandidateStart int64
	CandidateScore float64
	// Committed counts tokens emitted so far.
	Committed int
	// Samples counts stream samples seen, used by decoders that do not
	// classify frames.
	Samples int64
}

// Texts returns the text of each token.
func Texts(tokens []Token) []string {
	out := make([]string, len(tokens))
	for i, tok := range tokens {
		out[i] = tok.Text
	}
	return out
}
