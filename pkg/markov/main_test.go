package markov

import (
	"math/rand/v2"
	"testing"
)

const exampleCorpus = "the cat sat on the mat the cat ran"

// newTestMatrix returns a Matrix with a fixed random source so draws are reproducible.
func newTestMatrix(t testing.TB, seed uint64) *Matrix {
	t.Helper()
	return NewMatrix(WithRand(rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))))
}

// snapshot flattens a matrix into plain maps for equality checks.
func snapshot(m *Matrix) map[Key]map[string]int {
	out := make(map[Key]map[string]int)
	for key, entries := range m.Transitions() {
		row := make(map[string]int, len(entries))
		for _, e := range entries {
			row[e.Value] = e.Frequency
		}
		out[key] = row
	}
	return out
}

// chiSquared returns the chi-squared statistic of observed counts against expected counts.
func chiSquared(observed, expected []float64) float64 {
	var sum float64
	for i := range observed {
		d := observed[i] - expected[i]
		sum += d * d / expected[i]
	}
	return sum
}
