package textprep

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/CTAG07/Bigram/pkg/markov"
)

// defaultStopWords is a common English stop-word list.
var defaultStopWords = []string{
	"a", "about", "above", "after", "again", "against", "all", "am", "an", "and",
	"any", "are", "as", "at", "be", "because", "been", "before", "being", "below",
	"between", "both", "but", "by", "can", "could", "did", "do", "does", "doing",
	"down", "during", "each", "few", "for", "from", "further", "had", "has", "have",
	"having", "he", "her", "here", "hers", "herself", "him", "himself", "his", "how",
	"i", "if", "in", "into", "is", "it", "its", "itself", "just", "me",
	"more", "most", "my", "myself", "no", "nor", "not", "now", "of", "off",
	"on", "once", "only", "or", "other", "our", "ours", "ourselves", "out", "over",
	"own", "same", "she", "should", "so", "some", "such", "than", "that", "the",
	"their", "theirs", "them", "themselves", "then", "there", "these", "they", "this", "those",
	"through", "to", "too", "under", "until", "up", "very", "was", "we", "were",
	"what", "when", "where", "which", "while", "who", "whom", "why", "will", "with",
	"would", "you", "your", "yours", "yourself", "yourselves",
}

// DefaultStopWords returns a fresh copy of the built-in English stop words.
func DefaultStopWords() markov.StopWords {
	return NewStopWords(defaultStopWords...)
}

// NewStopWords builds a stop-word set from words, lower-cased and trimmed.
func NewStopWords(words ...string) markov.StopWords {
	set := make(markov.StopWords, len(words))
	for _, w := range words {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			set[w] = struct{}{}
		}
	}
	return set
}

// ReadStopWords reads one stop word per line. Blank lines and lines starting
// with '#' are skipped.
func ReadStopWords(r io.Reader) (markov.StopWords, error) {
	var words []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		words = append(words, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read stop words: %w", err)
	}
	return NewStopWords(words...), nil
}
