package markov

// Stats holds aggregated statistics for a Matrix.
type Stats struct {
	Contexts       int `json:"contexts"`        // The number of distinct two-word contexts.
	Transitions    int `json:"transitions"`     // The number of distinct context->next links.
	TotalFrequency int `json:"total_frequency"` // The sum of all frequencies; the total number of trained transitions.
	Vocabulary     int `json:"vocabulary"`      // The number of distinct words seen as a context word or continuation.
}

// Stats returns a snapshot of statistics for the matrix.
func (m *Matrix) Stats() Stats {
	var st Stats
	vocab := make(map[string]struct{})
	for key, entries := range m.Transitions() {
		st.Contexts++
		vocab[key.A] = struct{}{}
		vocab[key.B] = struct{}{}
		for _, e := range entries {
			st.Transitions++
			st.TotalFrequency += e.Frequency
			vocab[e.Value] = struct{}{}
		}
	}
	st.Vocabulary = len(vocab)
	return st
}
