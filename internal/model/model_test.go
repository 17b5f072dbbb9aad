package model_test

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/model"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/model/modeltest"
)

func TestLoadBundle(t *testing.T) {
	ctx := modeltest.Load(t, modeltest.Options{Extra: []string{"<eou>"}, Mutate: func(p *model.Params) {
		p.Decoder.EndOfUtterance = "<eou>"
	}})

	if ctx.SampleRate() != 16000 {
		t.Fatalf("unexpected sample rate %d", ctx.SampleRate())
	}
	vocab := ctx.Vocabulary()
	if vocab.Len() != 3 {
		t.Fatalf("unexpected vocabulary size %d", vocab.Len())
	}
	if id, ok := vocab.ID("world"); !ok || id != 1 {
		t.Fatalf("ID(world) = %d, %v", id, ok)
	}
	if tok, ok := vocab.Token(0); !ok || tok != "hello" {
		t.Fatalf("Token(0) = %q, %v", tok, ok)
	}
	if ctx.EndOfUtterance() != 2 {
		t.Fatalf("unexpected end-of-utterance id %d", ctx.EndOfUtterance())
	}

	for _, p := range ctx.Prototypes() {
		norm := 0.0
		for _, v := range p.Vector {
			norm += float64(v) * float64(v)
		}
		if math.Abs(norm-1) > 1e-4 {
			t.Fatalf("prototype %d not unit length: %g", p.Token, norm)
		}
	}
}

func TestLoadErrors(t *testing.T) {
	cases := []struct {
		name    string
		corrupt func(t *testing.T, dir string)
	}{
		{
			name: "missing directory",
			corrupt: func(t *testing.T, dir string) {
				if err := os.RemoveAll(dir); err != nil {
					t.Fatalf("RemoveAll: %v", err)
				}
			},
		},
		{
			name: "missing weights",
			corrupt: func(t *testing.T, dir string) {
				if err := os.Remove(filepath.Join(dir, model.DefaultWeightsFile)); err != nil {
					t.Fatalf("Remove: %v", err)
				}
			},
		},
		{
			name: "corrupt weights",
			corrupt: func(t *testing.T, dir string) {
				writeFile(t, filepath.Join(dir, model.DefaultWeightsFile), "garbage")
			},
		},
		{
			name: "version mismatch",
			corrupt: func(t *testing.T, dir string) {
				editConfig(t, dir, "format_version: 1", "format_version: 2")
			},
		},
		{
			name: "unknown config field",
			corrupt: func(t *testing.T, dir string) {
				editConfig(t, dir, "name: tone-test", "name: tone-test\nlayers: 12")
			},
		},
		{
			name: "duplicate vocabulary entry",
			corrupt: func(t *testing.T, dir string) {
				writeFile(t, filepath.Join(dir, model.DefaultVocabFile), "hello\nhello\n")
				if _, err := model.UpdateChecksums(dir); err != nil {
					t.Fatalf("UpdateChecksums: %v", err)
				}
			},
		},
		{
			name: "prototype references missing token",
			corrupt: func(t *testing.T, dir string) {
				writeFile(t, filepath.Join(dir, model.DefaultVocabFile), "hello\n")
				if _, err := model.UpdateChecksums(dir); err != nil {
					t.Fatalf("UpdateChecksums: %v", err)
				}
			},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			dir := modeltest.WriteBundle(t, modeltest.Options{})
			tc.corrupt(t, dir)
			_, err := model.Load(dir, modeltest.Logger())
			if !errors.Is(err, model.ErrModelLoad) {
				t.Fatalf("expected ErrModelLoad, got %v", err)
			}
		})
	}
}

func TestCloseRefusesWhileInUse(t *testing.T) {
	ctx, err := model.Load(modeltest.WriteBundle(t, modeltest.Options{}), modeltest.Logger())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := ctx.Acquire(); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := ctx.Close(); !errors.Is(err, model.ErrInUse) {
		t.Fatalf("expected ErrInUse, got %v", err)
	}
	ctx.Release()
	if err := ctx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := ctx.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := ctx.Acquire(); !errors.Is(err, model.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestNewVocabularyRejectsInvalidTokens(t *testing.T) {
	for _, tokens := range [][]string{
		{"a", ""},
		{"a", "b", "a"},
		{"\xff"},
		{"a\nb"},
	} {
		if _, err := model.NewVocabulary(tokens); err == nil {
			t.Fatalf("expected error for %q", tokens)
		}
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func editConfig(t *testing.T, dir, old, replacement string) {
	t.Helper()
	path := filepath.Join(dir, model.ConfigFile)
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(raw), old) {
		t.Fatalf("config.yaml does not contain %q:\n%s", old, raw)
	}
	writeFile(t, path, strings.Replace(string(raw), old, replacement, 1))
}
