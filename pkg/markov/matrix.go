package markov

import (
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"
	"sync"
)

// Key is a two-word context. Equality is exact string equality of both words.
type Key struct {
	A string
	B string
}

// String joins the two words with a single space.
func (k Key) String() string {
	return k.A + " " + k.B
}

// Matrix maps two-word contexts to the Sampler of their observed
// continuations. It only grows: keys are never removed and every key has a
// non-empty sampler.
//
// Writers (training) take the exclusive lock; generation and seed suggestion
// share the read lock. Lazy sampler normalization is guarded per sampler.
type Matrix struct {
	mu       sync.RWMutex
	samplers map[Key]*Sampler
	keys     []Key // insertion order, for uniform RandomStart
	rng      Rand
	logger   *slog.Logger
}

// MatrixOption configures a Matrix.
type MatrixOption func(*Matrix)

// WithRand sets the randomness source used for sampling and random starts.
// Default: the top-level math/rand/v2 functions.
func WithRand(r Rand) MatrixOption {
	return func(m *Matrix) {
		if r != nil {
			m.rng = r
		}
	}
}

// WithLogger sets the logger. Default: all logs are discarded.
func WithLogger(logger *slog.Logger) MatrixOption {
	return func(m *Matrix) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewMatrix returns an empty Matrix.
func NewMatrix(opts ...MatrixOption) *Matrix {
	m := &Matrix{
		samplers: make(map[Key]*Sampler),
		rng:      globalRand{},
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetLogger replaces the logger. A nil logger is ignored.
func (m *Matrix) SetLogger(logger *slog.Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// RecordTransition records one observation of next following (a, b).
func (m *Matrix) RecordTransition(a, b, next string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(Key{A: a, B: b}, next)
}

// record increments next under key. Callers must hold the write lock.
func (m *Matrix) record(key Key, next string) {
	s, ok := m.samplers[key]
	if !ok {
		s = NewSampler()
		m.samplers[key] = s
		m.keys = append(m.keys, key)
	}
	s.Increment(next)
}

// Add inserts value with an explicit frequency under key. It is the restore
// path for persisted models; frequencies below 1 are rejected so that no key
// ever maps to an unsampleable sampler, and every word must pass as a token.
func (m *Matrix) Add(key Key, value string, frequency int) error {
	for _, word := range [...]string{key.A, key.B, value} {
		if err := checkToken(word); err != nil {
			return fmt.Errorf("link %q -> %q: %w", key.String(), value, err)
		}
	}
	if frequency < 1 {
		return fmt.Errorf("%w: %d for %q after %q", ErrInvalidFrequency, frequency, value, key.String())
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.samplers[key]
	if !ok {
		s = NewSampler()
		if err := s.Add(value, frequency); err != nil {
			return err
		}
		m.samplers[key] = s
		m.keys = append(m.keys, key)
		return nil
	}
	return s.Add(value, frequency)
}

// Lookup returns the sampler for (a, b) and whether the context exists.
func (m *Matrix) Lookup(a, b string) (*Sampler, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.samplers[Key{A: a, B: b}]
	return s, ok
}

// Next draws the word that follows key. ok is false at a dead end. A non-nil
// error means an existing context yielded nothing and the matrix is corrupt.
func (m *Matrix) Next(key Key) (word string, ok bool, err error) {
	s, found := m.Lookup(key.A, key.B)
	if !found {
		return "", false, nil
	}
	word, err = s.SelectRandom(m.rng)
	if err != nil {
		return "", false, fmt.Errorf("context %q: %w", key.String(), err)
	}
	return word, true, nil
}

// Len returns the number of contexts.
func (m *Matrix) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.keys)
}

// RandomStart returns a context chosen uniformly from all contexts. ok is
// false only when the matrix is empty.
func (m *Matrix) RandomStart() (Key, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.keys) == 0 {
		return Key{}, false
	}
	return m.keys[m.rng.IntN(len(m.keys))], true
}

// Keys yields every context in insertion order. The read lock is held for the
// duration of the iteration, so the loop body must not train the matrix.
func (m *Matrix) Keys() iter.Seq[Key] {
	return func(yield func(Key) bool) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		for _, k := range m.keys {
			if !yield(k) {
				return
			}
		}
	}
}

// Transitions yields each context with a copy of its frequency table.
func (m *Matrix) Transitions() iter.Seq2[Key, []Entry] {
	return func(yield func(Key, []Entry) bool) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		for _, k := range m.keys {
			if !yield(k, m.samplers[k].Entries()) {
				return
			}
		}
	}
}

// KeysContaining yields the contexts in which either word equals word.
func (m *Matrix) KeysContaining(word string) iter.Seq[Key] {
	return func(yield func(Key) bool) {
		for k := range m.Keys() {
			if k.A == word || k.B == word {
				if !yield(k) {
					return
				}
			}
		}
	}
}

// KeysMatching yields the contexts whose space-joined form contains substr.
// "cat" matches "category list".
func (m *Matrix) KeysMatching(substr string) iter.Seq[Key] {
	return func(yield func(Key) bool) {
		for k := range m.Keys() {
			if strings.Contains(k.String(), substr) {
				if !yield(k) {
					return
				}
			}
		}
	}
}

// KeysContainingPair reports whether (a, b) and (b, a) are contexts.
func (m *Matrix) KeysContainingPair(a, b string) (forward, reverse bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, forward = m.samplers[Key{A: a, B: b}]
	_, reverse = m.samplers[Key{A: b, B: a}]
	return forward, reverse
}
