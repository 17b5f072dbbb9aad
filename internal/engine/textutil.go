package engine

import "strings"

// ContinuationPrefix marks a token that continues the previous word.
const ContinuationPrefix = "##"

// JoinText renders token strings as a transcript: words are separated by a
// single space and continuation tokens are glued to their predecessor.
func JoinText(tokens []string) string {
	var b strings.Builder
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(tok, ContinuationPrefix); ok && b.Len() > 0 {
			b.WriteString(rest)
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(strings.TrimPrefix(tok, ContinuationPrefix))
	}
	return b.String()
}
