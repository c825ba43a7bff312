package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/CTAG07/Bigram/pkg/markov"
	"github.com/CTAG07/Bigram/pkg/store"
	"github.com/dustin/go-humanize"
)

// ErrModelExists is returned when creating a model whose name is taken.
var ErrModelExists = errors.New("model already exists")

// liveModel is a stored model with its matrix held in memory.
type liveModel struct {
	info   store.ModelInfo
	matrix *markov.Matrix
	saveMu sync.Mutex // serializes snapshots of this model
}

// ModelRegistry keeps every stored model loaded in memory and writes trained
// matrices back to the store.
type ModelRegistry struct {
	store  *store.Store
	logger *slog.Logger
	mu     sync.RWMutex
	models map[string]*liveModel
}

// NewModelRegistry loads every model in st into memory.
func NewModelRegistry(ctx context.Context, st *store.Store, logger *slog.Logger) (*ModelRegistry, error) {
	r := &ModelRegistry{
		store:  st,
		logger: logger,
		models: make(map[string]*liveModel),
	}
	infos, err := st.Models(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	for _, info := range infos {
		if err = r.Reload(ctx, info); err != nil {
			return nil, err
		}
	}
	logger.Info("Models loaded", "count", len(infos))
	return r, nil
}

// Reload replaces the in-memory matrix of info with the stored one.
func (r *ModelRegistry) Reload(ctx context.Context, info store.ModelInfo) error {
	start := time.Now()
	m, err := r.store.Load(ctx, info, markov.WithLogger(r.logger))
	if err != nil {
		return fmt.Errorf("failed to load model '%s': %w", info.Name, err)
	}
	r.mu.Lock()
	r.models[info.Name] = &liveModel{info: info, matrix: m}
	r.mu.Unlock()

	st := m.Stats()
	r.logger.Debug("Model matrix ready",
		slog.String("model_name", info.Name),
		slog.String("contexts", humanize.Comma(int64(st.Contexts))),
		slog.String("total_frequency", humanize.Comma(int64(st.TotalFrequency))),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// Get returns the live model called name, or an error wrapping
// store.ErrModelNotFound.
func (r *ModelRegistry) Get(name string) (*liveModel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lm, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", store.ErrModelNotFound, name)
	}
	return lm, nil
}

// List returns every live model in creation order.
func (r *ModelRegistry) List() []store.ModelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]store.ModelInfo, 0, len(r.models))
	for _, lm := range r.models {
		infos = append(infos, lm.info)
	}
	slices.SortFunc(infos, func(a, b store.ModelInfo) int { return a.Id - b.Id })
	return infos
}

// Create stores a new, empty model and makes it live.
func (r *ModelRegistry) Create(ctx context.Context, name string) (store.ModelInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.models[name]; ok {
		return store.ModelInfo{}, fmt.Errorf("%w: '%s'", ErrModelExists, name)
	}
	info, err := r.store.CreateModel(ctx, name)
	if err != nil {
		return store.ModelInfo{}, err
	}
	r.models[name] = &liveModel{info: info, matrix: markov.NewMatrix(markov.WithLogger(r.logger))}
	return info, nil
}

// Remove deletes the model called name from the store and from memory.
func (r *ModelRegistry) Remove(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	lm, ok := r.models[name]
	if !ok {
		return fmt.Errorf("%w: '%s'", store.ErrModelNotFound, name)
	}
	if err := r.store.RemoveModel(ctx, lm.info); err != nil {
		return err
	}
	delete(r.models, name)
	return nil
}

// Save writes a snapshot of lm's matrix to the store. A model removed or
// reloaded since lm was fetched is not written.
func (r *ModelRegistry) Save(ctx context.Context, lm *liveModel) error {
	lm.saveMu.Lock()
	defer lm.saveMu.Unlock()
	if current, err := r.Get(lm.info.Name); err != nil || current != lm {
		return fmt.Errorf("%w: '%s' is no longer live", store.ErrModelNotFound, lm.info.Name)
	}
	if err := r.store.Save(ctx, lm.info, lm.matrix); err != nil {
		return fmt.Errorf("failed to save model '%s': %w", lm.info.Name, err)
	}
	return nil
}

// Stats returns the in-memory statistics of every live model, keyed by name.
func (r *ModelRegistry) Stats() map[string]markov.Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := make(map[string]markov.Stats, len(r.models))
	for name, lm := range r.models {
		stats[name] = lm.matrix.Stats()
	}
	return stats
}
