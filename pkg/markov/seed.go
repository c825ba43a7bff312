package markov

import (
	"strings"
)

// StopWords is the set of words ignored when suggesting a seed.
type StopWords map[string]struct{}

// Contains reports whether word is a stop word. A nil set contains nothing.
func (s StopWords) Contains(word string) bool {
	_, ok := s[word]
	return ok
}

type seedOptions struct {
	exactMatch bool
}

// SeedOption configures SuggestSeed.
type SeedOption func(*seedOptions)

// WithExactMatch makes the single-word fallback match whole context words
// instead of substrings of the joined context. Default: false, so "cat" also
// matches a context containing "category".
func WithExactMatch(exact bool) SeedOption {
	return func(o *seedOptions) { o.exactMatch = exact }
}

// SuggestSeed picks a starting context related to seed. The seed is split on
// single spaces and stop words are dropped. Contexts formed by any ordered
// pair of remaining words are preferred; failing that, contexts containing
// any single remaining word; failing that, a uniformly random context. The
// pick among candidates is uniform. ok is false only for an empty matrix.
func (m *Matrix) SuggestSeed(seed string, stop StopWords, opts ...SeedOption) (Key, bool) {
	var o seedOptions
	for _, opt := range opts {
		opt(&o)
	}

	var words []string
	for _, w := range strings.Split(seed, " ") {
		if w == "" || stop.Contains(w) {
			continue
		}
		words = append(words, w)
	}

	var candidates []Key
	for i := 0; i < len(words); i++ {
		for j := i + 1; j < len(words); j++ {
			a, b := words[i], words[j]
			forward, reverse := m.KeysContainingPair(a, b)
			if forward {
				candidates = append(candidates, Key{A: a, B: b})
			}
			if reverse {
				candidates = append(candidates, Key{A: b, B: a})
			}
		}
	}

	if len(candidates) == 0 {
		for _, w := range words {
			keys := m.KeysMatching(w)
			if o.exactMatch {
				keys = m.KeysContaining(w)
			}
			for k := range keys {
				candidates = append(candidates, k)
			}
		}
	}

	if len(candidates) == 0 {
		m.logger.Debug("No seed candidates, using random start", "seed", seed)
		return m.RandomStart()
	}
	return candidates[m.rng.IntN(len(candidates))], true
}
