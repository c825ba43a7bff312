package markov

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrInvalidToken is returned when a word restored into a Matrix is empty or
// contains whitespace. Tokenize can never produce such a word.
var ErrInvalidToken = errors.New("markov: token must be non-empty and contain no whitespace")

// Tokenize splits text on every single whitespace character and trims each
// piece. Runs of whitespace produce empty strings; training skips them, but
// they keep their index so chunk boundaries fall on raw input positions.
func Tokenize(text string) []string {
	if text == "" {
		return nil
	}
	var tokens []string
	start := 0
	for i, r := range text {
		if unicode.IsSpace(r) {
			tokens = append(tokens, text[start:i])
			start = i + len(string(r))
		}
	}
	tokens = append(tokens, text[start:])
	return tokens
}

// cleanToken trims surrounding whitespace. An empty result means the token is skipped.
func cleanToken(raw string) string {
	return strings.TrimSpace(raw)
}

// checkToken fails with ErrInvalidToken unless word is a single token.
func checkToken(word string) error {
	if word == "" || strings.IndexFunc(word, unicode.IsSpace) >= 0 {
		return fmt.Errorf("%w: %q", ErrInvalidToken, word)
	}
	return nil
}
