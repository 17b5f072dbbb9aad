package model

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Bundle is the in-memory form of a model directory, used to write one.
type Bundle struct {
	Params  Params
	Tokens  []string
	Weights Weights
}

// WriteBundle writes config.yaml, the vocabulary and the weights into dir,
// creating it if needed. Params are validated first; checksums for the
// vocabulary and weights files are recorded in config.yaml.
func WriteBundle(dir string, b Bundle) error {
	params := b.Params
	if err := params.Validate(); err != nil {
		return fmt.Errorf("model: invalid params: %w", err)
	}
	if _, err := NewVocabulary(b.Tokens); err != nil {
		return fmt.Errorf("model: invalid vocabulary: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("model: create %s: %w", dir, err)
	}

	vocabPath := filepath.Join(dir, params.VocabFile)
	if err := os.WriteFile(vocabPath, []byte(strings.Join(b.Tokens, "\n")+"\n"), 0o644); err != nil {
		return fmt.Errorf("model: write vocabulary: %w", err)
	}

	weights := b.Weights
	if weights.Version == 0 {
		weights.Version = WeightsVersion
	}
	if weights.NumMels == 0 {
		weights.NumMels = params.Features.NumMels
	}
	wf, err := os.Create(filepath.Join(dir, params.WeightsFile))
	if err != nil {
		return fmt.Errorf("model: create weights: %w", err)
	}
	bw := bufio.NewWriter(wf)
	if err := encodeWeights(bw, weights); err != nil {
		wf.Close()
		return fmt.Errorf("model: encode weights: %w", err)
	}
	if err := bw.Flush(); err != nil {
		wf.Close()
		return fmt.Errorf("model: write weights: %w", err)
	}
	if err := wf.Close(); err != nil {
		return fmt.Errorf("model: write weights: %w", err)
	}

	params.Checksums = nil
	if err := writeParams(dir, params); err != nil {
		return err
	}
	_, err = UpdateChecksums(dir)
	return err
}

// UpdateChecksums recomputes the sha256 of every file referenced by
// config.yaml and stores them in its checksums map.
func UpdateChecksums(dir string) (map[string]string, error) {
	raw, err := os.ReadFile(filepath.Join(dir, ConfigFile))
	if err != nil {
		return nil, fmt.Errorf("model: read %s: %w", ConfigFile, err)
	}
	var params Params
	if err := yaml.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("model: decode %s: %w", ConfigFile, err)
	}
	if params.VocabFile == "" {
		params.VocabFile = DefaultVocabFile
	}
	if params.WeightsFile == "" {
		params.WeightsFile = DefaultWeightsFile
	}

	sums := make(map[string]string, 2)
	for _, name := range []string{params.VocabFile, params.WeightsFile} {
		sum, err := fileDigest(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("model: hash %s: %w", name, err)
		}
		sums[name] = sum
	}
	params.Checksums = sums
	if err := writeParams(dir, params); err != nil {
		return nil, err
	}
	return sums, nil
}

func writeParams(dir string, params Params) error {
	out, err := yaml.Marshal(&params)
	if err != nil {
		return fmt.Errorf("model: encode %s: %w", ConfigFile, err)
	}
	if err := os.WriteFile(filepath.Join(dir, ConfigFile), out, 0o644); err != nil {
		return fmt.Errorf("model: write %s: %w", ConfigFile, err)
	}
	return nil
}

func verifyChecksums(dir string, sums map[string]string) error {
	names := make([]string, 0, len(sums))
	for name := range sums {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if filepath.Base(name) != name {
			return fmt.Errorf("checksum entry %q must name a file in the bundle", name)
		}
		got, err := fileDigest(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("hash %s: %v", name, err)
		}
		if !strings.EqualFold(got, sums[name]) {
			return fmt.Errorf("%s: checksum mismatch", name)
		}
	}
	return nil
}

func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
