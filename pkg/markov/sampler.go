package markov

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
)

var (
	// ErrEmptySampler is returned when a draw is requested from a sampler that
	// holds no entries. A Matrix never stores such a sampler, so seeing this
	// error means the matrix bookkeeping is broken.
	ErrEmptySampler = errors.New("markov: sampler has no entries")
	// ErrDuplicateValue is returned by Add when the value is already present.
	// Use Increment for values that may already exist.
	ErrDuplicateValue = errors.New("markov: value already present in sampler")
	// ErrInvalidFrequency is returned by Add for negative frequencies.
	ErrInvalidFrequency = errors.New("markov: frequency must not be negative")
)

// Rand is the randomness a Matrix draws from. *rand.Rand from math/rand/v2
// satisfies it. Implementations shared by concurrent generators must be safe
// for concurrent use.
type Rand interface {
	Float64() float64
	IntN(n int) int
}

// globalRand uses the goroutine-safe top-level functions of math/rand/v2.
type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }
func (globalRand) IntN(n int) int   { return rand.IntN(n) }

// Entry is a single value in a Sampler along with how often it was observed.
type Entry struct {
	Value     string `json:"value"`
	Frequency int    `json:"frequency"`
}

type weighted struct {
	Entry
	order       int
	probability float64
}

// Sampler holds the observed continuations of one context and draws from them
// with probability proportional to frequency.
//
// Probabilities and the descending-probability ordering are derived lazily:
// every mutation marks the sampler dirty and the next draw rebuilds them.
type Sampler struct {
	mu      sync.Mutex
	entries []*weighted
	byValue map[string]*weighted
	total   int

	dirty  bool
	sorted []*weighted
}

// NewSampler returns an empty Sampler.
func NewSampler() *Sampler {
	return &Sampler{byValue: make(map[string]*weighted)}
}

// Add inserts value with the given frequency. It fails with ErrDuplicateValue
// if value is already present.
func (s *Sampler) Add(value string, frequency int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.add(value, frequency)
}

func (s *Sampler) add(value string, frequency int) error {
	if frequency < 0 {
		return fmt.Errorf("%w: %d for %q", ErrInvalidFrequency, frequency, value)
	}
	if _, ok := s.byValue[value]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateValue, value)
	}
	w := &weighted{Entry: Entry{Value: value, Frequency: frequency}, order: len(s.entries)}
	s.entries = append(s.entries, w)
	s.byValue[value] = w
	s.total += frequency
	s.dirty = true
	return nil
}

// Increment adds one observation of value, inserting it first if needed.
func (s *Sampler) Increment(value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.byValue[value]
	if !ok {
		// add cannot fail here: the value is absent and zero is a valid frequency.
		_ = s.add(value, 0)
		w = s.byValue[value]
	}
	w.Frequency++
	s.total++
	s.dirty = true
}

// Len returns the number of distinct values.
func (s *Sampler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Total returns the sum of all frequencies.
func (s *Sampler) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// Frequency returns the frequency of value, or 0 if it was never observed.
func (s *Sampler) Frequency(value string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.byValue[value]; ok {
		return w.Frequency
	}
	return 0
}

// Probability returns frequency(value) / total, normalizing first if needed.
func (s *Sampler) Probability(value string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.byValue[value]
	if !ok {
		return 0
	}
	s.normalize()
	return w.probability
}

// Entries returns a copy of the frequency table in insertion order.
func (s *Sampler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	for i, w := range s.entries {
		out[i] = w.Entry
	}
	return out
}

// normalize rebuilds probabilities and the descending ordering when dirty.
// Callers must hold s.mu.
func (s *Sampler) normalize() {
	if !s.dirty && s.sorted != nil {
		return
	}
	for _, w := range s.entries {
		if s.total > 0 {
			w.probability = float64(w.Frequency) / float64(s.total)
		} else {
			w.probability = 0
		}
	}

	// Ties keep insertion order so equal weights draw deterministically for a given u.
	sorted := make([]*weighted, len(s.entries))
	copy(sorted, s.entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].probability > sorted[j].probability
	})
	s.sorted = sorted
	s.dirty = false
}

// SelectRandom draws a value using r.
func (s *Sampler) SelectRandom(r Rand) (string, error) {
	if r == nil {
		r = globalRand{}
	}
	return s.selectWith(r.Float64())
}

// selectWith walks the sorted entries subtracting probabilities from u in [0,1).
func (s *Sampler) selectWith(u float64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return "", ErrEmptySampler
	}
	s.normalize()

	var last *weighted
	for _, w := range s.sorted {
		if w.Frequency == 0 {
			continue
		}
		last = w
		if u -= w.probability; u <= 0 {
			return w.Value, nil
		}
	}
	if last == nil {
		// Only zero-frequency placeholders remain.
		return "", ErrEmptySampler
	}
	// Floating-point residue left u slightly above zero.
	return last.Value, nil
}
