package store

import (
	"context"
)

// DBStats holds aggregated statistics for the entire database, including a
// list of all models and their individual stats.
type DBStats struct {
	Models     []ModelInfo        `json:"models"`      // A list of models in the database
	Stats      map[int]ModelStats `json:"stats"`       // A mapping of model ids to their stats
	VocabSize  int                `json:"vocab_size"`  // The number of unique tokens in all models' vocabularies
	PrefixSize int                `json:"prefix_size"` // The number of unique contexts in all models' chains
}

// ModelStats holds aggregated statistics for a single stored model.
type ModelStats struct {
	TotalChains    int `json:"total_chains"`    // The number of unique context->next links.
	TotalContexts  int `json:"total_contexts"`  // The number of unique contexts.
	TotalFrequency int `json:"total_frequency"` // The sum of frequencies of all links; the total number of trained transitions.
}

// GetStats returns a snapshot of statistics for the entire database,
// including global counts and per-model stats.
func (s *Store) GetStats(ctx context.Context) (*DBStats, error) {
	models, err := s.Models(ctx)
	if err != nil {
		return nil, err
	}

	var vocabLen int
	if err = s.stmtGetVocabLen.QueryRowContext(ctx).Scan(&vocabLen); err != nil {
		return nil, err
	}

	var prefixLen int
	if err = s.stmtGetPrefixLen.QueryRowContext(ctx).Scan(&prefixLen); err != nil {
		return nil, err
	}

	modelStats := make(map[int]ModelStats, len(models))
	for _, model := range models {
		var st ModelStats
		if err = s.stmtModelChains.QueryRowContext(ctx, model.Id).Scan(&st.TotalChains); err != nil {
			return nil, err
		}
		if err = s.stmtModelContexts.QueryRowContext(ctx, model.Id).Scan(&st.TotalContexts); err != nil {
			return nil, err
		}
		if err = s.stmtModelFreq.QueryRowContext(ctx, model.Id).Scan(&st.TotalFrequency); err != nil {
			return nil, err
		}
		modelStats[model.Id] = st
	}

	return &DBStats{
		Models:     models,
		Stats:      modelStats,
		VocabSize:  vocabLen,
		PrefixSize: prefixLen,
	}, nil
}
