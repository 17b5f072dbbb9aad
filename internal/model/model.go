// Package model loads Voxtral model bundles and hands out the shared,
// read-only Context used by streaming sessions.
package model

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	// ErrModelLoad wraps every failure to load a bundle.
	ErrModelLoad = errors.New("model: load failed")
	// ErrInUse is returned by Close while sessions still reference the context.
	ErrInUse = errors.New("model: context in use")
	// ErrClosed is returned when acquiring a context that has been closed.
	ErrClosed = errors.New("model: context closed")
)

// Context is a loaded model. Everything reachable from it is immutable after
// Load, so it can be shared by any number of sessions.
type Context struct {
	dir        string
	params     Params
	vocab      *Vocabulary
	prototypes []Prototype
	eou        int
	log        *slog.Logger

	mu     sync.Mutex
	refs   int
	closed bool
}

// Load reads and validates the bundle stored in dir.
func Load(dir string, logger *slog.Logger) (*Context, error) {
	if logger == nil {
		logger = slog.Default()
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, loadErr("stat %s: %v", dir, err)
	}
	if !info.IsDir() {
		return nil, loadErr("%s is not a directory", dir)
	}

	raw, err := os.ReadFile(filepath.Join(dir, ConfigFile))
	if err != nil {
		return nil, loadErr("read %s: %v", ConfigFile, err)
	}
	var params Params
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&params); err != nil {
		return nil, loadErr("decode %s: %v", ConfigFile, err)
	}
	if err := params.Validate(); err != nil {
		return nil, loadErr("%s: %v", ConfigFile, err)
	}
	if err := verifyChecksums(dir, params.Checksums); err != nil {
		return nil, loadErr("%v", err)
	}

	vf, err := os.Open(filepath.Join(dir, params.VocabFile))
	if err != nil {
		return nil, loadErr("open vocabulary: %v", err)
	}
	vocab, err := readVocabulary(vf)
	vf.Close()
	if err != nil {
		return nil, loadErr("%s: %v", params.VocabFile, err)
	}

	wf, err := os.Open(filepath.Join(dir, params.WeightsFile))
	if err != nil {
		return nil, loadErr("open weights: %v", err)
	}
	weights, err := decodeWeights(wf)
	wf.Close()
	if err != nil {
		return nil, loadErr("decode %s: %v", params.WeightsFile, err)
	}
	prototypes, err := buildPrototypes(weights, vocab, params.Features.NumMels)
	if err != nil {
		return nil, loadErr("%s: %v", params.WeightsFile, err)
	}

	eou := -1
	if marker := params.Decoder.EndOfUtterance; marker != "" {
		id, ok := vocab.ID(marker)
		if !ok {
			return nil, loadErr("end_of_utterance %q is not in the vocabulary", marker)
		}
		eou = id
	}

	ctx := &Context{
		dir:        dir,
		params:     params,
		vocab:      vocab,
		prototypes: prototypes,
		eou:        eou,
		log:        logger.With("component", "model.Context", "model", params.Name),
	}
	ctx.log.Info("model loaded",
		"dir", dir,
		"sample_rate", params.SampleRate,
		"vocab_size", vocab.Len(),
		"prototypes", len(prototypes),
	)
	return ctx, nil
}

func loadErr(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrModelLoad}, args...)...)
}

// Dir returns the bundle directory.
func (c *Context) Dir() string { return c.dir }

// Name returns the model name declared in config.yaml.
func (c *Context) Name() string { return c.params.Name }

// SampleRate returns the PCM rate sessions must feed.
func (c *Context) SampleRate() int { return c.params.SampleRate }

// Params returns a copy of the validated bundle parameters.
func (c *Context) Params() Params {
	p := c.params
	p.Checksums = nil
	return p
}

// Vocabulary returns the token table.
func (c *Context) Vocabulary() *Vocabulary { return c.vocab }

// Prototypes returns the normalised token templates. Callers must not
// modify the returned vectors.
func (c *Context) Prototypes() []Prototype { return c.prototypes }

// EndOfUtterance returns the marker token ID, or -1 when the model has none.
func (c *Context) EndOfUtterance() int { return c.eou }

// Acquire registers a user of the context.
func (c *Context) Acquire() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.refs++
	return nil
}

// Release drops a reference taken by Acquire.
func (c *Context) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refs > 0 {
		c.refs--
	}
}

// Refs returns the number of live references.
func (c *Context) Refs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refs
}

// Closed reports whether Close has succeeded.
func (c *Context) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close releases the model. It fails with ErrInUse while sessions hold
// references and is a no-op once closed.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	if c.refs > 0 {
		return fmt.Errorf("%w: %d live sessions", ErrInUse, c.refs)
	}
	c.closed = true
	c.log.Info("model released")
	return nil
}
