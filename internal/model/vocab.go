package model

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// Vocabulary is the ordered token table of a model. Token IDs are line
// numbers in vocab.txt, starting at zero.
type Vocabulary struct {
	tokens []string
	index  map[string]int
}

// NewVocabulary builds a vocabulary from tokens, rejecting duplicates and
// strings that are empty or not valid UTF-8.
func NewVocabulary(tokens []string) (*Vocabulary, error) {
	v := &Vocabulary{
		tokens: make([]string, 0, len(tokens)),
		index:  make(map[string]int, len(tokens)),
	}
	for i, tok := range tokens {
		if tok == "" {
			return nil, fmt.Errorf("token %d is empty", i)
		}
		if !utf8.ValidString(tok) {
			return nil, fmt.Errorf("token %d is not valid UTF-8", i)
		}
		if strings.ContainsAny(tok, "\r\n") {
			return nil, fmt.Errorf("token %d contains a line break", i)
		}
		if prev, ok := v.index[tok]; ok {
			return nil, fmt.Errorf("token %q duplicated at %d and %d", tok, prev, i)
		}
		v.index[tok] = i
		v.tokens = append(v.tokens, tok)
	}
	return v, nil
}

func readVocabulary(r io.Reader) (*Vocabulary, error) {
	var tokens []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		tokens = append(tokens, strings.TrimSuffix(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("vocabulary is empty")
	}
	return NewVocabulary(tokens)
}

// Len returns the number of tokens.
func (v *Vocabulary) Len() int { return len(v.tokens) }

// Token returns the string for id.
func (v *Vocabulary) Token(id int) (string, bool) {
	if id < 0 || id >= len(v.tokens) {
		return "", false
	}
	return v.tokens[id], true
}

// ID returns the index of tok.
func (v *Vocabulary) ID(tok string) (int, bool) {
	id, ok := v.index[tok]
	return id, ok
}

// Tokens returns a copy of the token table.
func (v *Vocabulary) Tokens() []string {
	return append([]string(nil), v.tokens...)
}
