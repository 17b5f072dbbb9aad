// Command build_model estimates a prototype model bundle from labelled WAV
// clips, one clip per token:
//
//	build_model -dir models/voxtral -sample hello=hello.wav -sample world=world.wav
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/audio"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/features"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/model"
)

// samples collects repeated -sample token=path flags in order.
type samples []sample

type sample struct {
	token string
	path  string
}

func (s *samples) String() string {
	parts := make([]string, len(*s))
	for i, v := range *s {
		parts[i] = v.token + "=" + v.path
	}
	return strings.Join(parts, ",")
}

func (s *samples) Set(value string) error {
	token, path, ok := strings.Cut(value, "=")
	if !ok || strings.TrimSpace(token) == "" || strings.TrimSpace(path) == "" {
		return fmt.Errorf("expected token=path, got %q", value)
	}
	*s = append(*s, sample{token: strings.TrimSpace(token), path: strings.TrimSpace(path)})
	return nil
}

type options struct {
	dir     string
	name    string
	eou     string
	extra   []string
	samples samples
}

func main() {
	var (
		opts  options
		extra string
	)
	flag.StringVar(&opts.dir, "dir", "", "output bundle directory")
	flag.StringVar(&opts.name, "name", "voxtral-prototype", "model name recorded in config.yaml")
	flag.StringVar(&opts.eou, "eou", "", "end-of-utterance token appended to the vocabulary")
	flag.StringVar(&extra, "extra", "", "comma separated tokens without prototypes")
	flag.Var(&opts.samples, "sample", "token=path.wav, repeatable")
	flag.Parse()

	if strings.TrimSpace(opts.dir) == "" {
		fmt.Fprintln(os.Stderr, "build_model: -dir must not be empty")
		os.Exit(2)
	}
	for _, tok := range strings.Split(extra, ",") {
		if tok = strings.TrimSpace(tok); tok != "" {
			opts.extra = append(opts.extra, tok)
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	if err := build(opts, logger); err != nil {
		fmt.Fprintf(os.Stderr, "build_model: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Model bundle ready at %s\n", opts.dir)
}

func build(opts options, logger *slog.Logger) error {
	if len(opts.samples) == 0 {
		return errors.New("at least one -sample is required")
	}
	params := model.DefaultParams()
	params.Name = opts.name
	if opts.eou != "" {
		params.Decoder.EndOfUtterance = opts.eou
	}
	if err := params.Validate(); err != nil {
		return err
	}
	ex := features.New(params.Features)

	var (
		tokens  []string
		weights = model.Weights{NumMels: params.Features.NumMels}
	)
	for _, s := range opts.samples {
		pcm, err := audio.LoadWAV(s.path, params.SampleRate)
		if err != nil {
			return fmt.Errorf("token %q: %w", s.token, err)
		}
		mean, err := model.EstimatePrototype(ex, pcm, params.Decoder.EnergyFloor)
		if err != nil {
			return fmt.Errorf("token %q: %w", s.token, err)
		}
		tokens = append(tokens, s.token)
		weights.Prototypes = append(weights.Prototypes, model.WeightsEntry{Token: len(tokens) - 1, Mean: mean})
		logger.Info("prototype estimated", "token", s.token, "path", s.path, "samples", len(pcm))
	}
	tokens = append(tokens, opts.extra...)
	if opts.eou != "" {
		tokens = append(tokens, opts.eou)
	}

	return model.WriteBundle(opts.dir, model.Bundle{
		Params:  params,
		Tokens:  tokens,
		Weights: weights,
	})
}
