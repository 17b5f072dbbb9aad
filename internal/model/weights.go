package model

import (
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/features"
)

// WeightsVersion is the weights.msgpack layout version.
const WeightsVersion = 1

// Weights is the on-disk weight table.
type Weights struct {
	Version    int            `msgpack:"version"`
	NumMels    int            `msgpack:"num_mels"`
	Prototypes []WeightsEntry `msgpack:"prototypes"`
}

// WeightsEntry is the mean log-mel vector of one token.
type WeightsEntry struct {
	Token int       `msgpack:"token"`
	Mean  []float32 `msgpack:"mean"`
}

// Prototype is a loaded template: mean-centred and scaled to unit length so
// that a dot product with a centred unit frame is the cosine similarity.
type Prototype struct {
	Token  int
	Vector []float32
}

func decodeWeights(r io.Reader) (Weights, error) {
	var w Weights
	if err := msgpack.NewDecoder(r).Decode(&w); err != nil {
		return Weights{}, err
	}
	return w, nil
}

func encodeWeights(wr io.Writer, w Weights) error {
	return msgpack.NewEncoder(wr).Encode(&w)
}

func buildPrototypes(w Weights, vocab *Vocabulary, numMels int) ([]Prototype, error) {
	if w.Version != WeightsVersion {
		return nil, fmt.Errorf("unsupported weights version %d (want %d)", w.Version, WeightsVersion)
	}
	if w.NumMels != numMels {
		return nil, fmt.Errorf("weights num_mels %d does not match features.num_mels %d", w.NumMels, numMels)
	}
	if len(w.Prototypes) == 0 {
		return nil, fmt.Errorf("weights contain no prototypes")
	}

	seen := make(map[int]struct{}, len(w.Prototypes))
	out := make([]Prototype, 0, len(w.Prototypes))
	for i, entry := range w.Prototypes {
		if _, ok := vocab.Token(entry.Token); !ok {
			return nil, fmt.Errorf("prototype %d references unknown token %d", i, entry.Token)
		}
		if _, dup := seen[entry.Token]; dup {
			return nil, fmt.Errorf("token %d has more than one prototype", entry.Token)
		}
		seen[entry.Token] = struct{}{}
		if len(entry.Mean) != numMels {
			return nil, fmt.Errorf("prototype %d has %d values, want %d", i, len(entry.Mean), numMels)
		}

		vec := append([]float32(nil), entry.Mean...)
		norm := features.Center(vec)
		if norm == 0 {
			return nil, fmt.Errorf("prototype %d is flat", i)
		}
		for j := range vec {
			vec[j] = float32(float64(vec[j]) / norm)
		}
		out = append(out, Prototype{Token: entry.Token, Vector: vec})
	}
	return out, nil
}
