package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/CTAG07/Bigram/pkg/markov"
)

// ExportedModel is the serializable representation of a trained model, used
// for JSON-based import and export.
type ExportedModel struct {
	Name     string            `json:"name"`
	Contexts []ExportedContext `json:"contexts"`
}

// ExportedContext is one two-word context and its continuation frequencies.
type ExportedContext struct {
	A    string         `json:"a"`
	B    string         `json:"b"`
	Next []markov.Entry `json:"next"`
}

// NewExportedModel builds the serializable form of m.
func NewExportedModel(name string, m *markov.Matrix) ExportedModel {
	exported := ExportedModel{Name: name, Contexts: make([]ExportedContext, 0, m.Len())}
	for key, entries := range m.Transitions() {
		exported.Contexts = append(exported.Contexts, ExportedContext{A: key.A, B: key.B, Next: entries})
	}
	return exported
}

// Matrix rebuilds a Matrix from the exported frequencies.
func (e ExportedModel) Matrix(opts ...markov.MatrixOption) (*markov.Matrix, error) {
	m := markov.NewMatrix(opts...)
	for _, c := range e.Contexts {
		key := markov.Key{A: c.A, B: c.B}
		for _, next := range c.Next {
			if err := m.Add(key, next.Value, next.Frequency); err != nil {
				return nil, fmt.Errorf("invalid exported link %q -> %q: %w", key.String(), next.Value, err)
			}
		}
	}
	return m, nil
}

// ExportModel loads model and writes it as indented JSON to w.
func (s *Store) ExportModel(ctx context.Context, model ModelInfo, w io.Writer) error {
	m, err := s.Load(ctx, model)
	if err != nil {
		return fmt.Errorf("could not load model for export: %w", err)
	}
	exported := NewExportedModel(model.Name, m)

	s.logger.InfoContext(ctx, "Model exported",
		slog.String("model_name", model.Name),
		slog.Int("model_id", model.Id),
		slog.Int("contexts_exported", len(exported.Contexts)),
	)

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(exported)
}

// DecodeExportedModel reads a JSON model from r. The links are not checked;
// Matrix does that.
func DecodeExportedModel(r io.Reader) (ExportedModel, error) {
	var imported ExportedModel
	if err := json.NewDecoder(r).Decode(&imported); err != nil {
		return ExportedModel{}, fmt.Errorf("failed to decode json model: %w", err)
	}
	if imported.Name == "" {
		return ExportedModel{}, errors.New("imported model has no name")
	}
	return imported, nil
}

// ImportModel reads a JSON model from r and merges it into the database. If
// the model name already exists, imported frequencies are added to the stored
// ones; otherwise the model is created. Every link is validated before
// anything is written, and the write is transactional.
func (s *Store) ImportModel(ctx context.Context, r io.Reader) (ModelInfo, error) {
	imported, err := DecodeExportedModel(r)
	if err != nil {
		return ModelInfo{}, err
	}
	return s.Import(ctx, imported)
}

// Import merges an already decoded model into the database, like ImportModel.
func (s *Store) Import(ctx context.Context, imported ExportedModel) (ModelInfo, error) {
	if imported.Name == "" {
		return ModelInfo{}, errors.New("imported model has no name")
	}
	m, err := imported.Matrix()
	if err != nil {
		return ModelInfo{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ModelInfo{}, fmt.Errorf("could not begin transaction for import: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	model := ModelInfo{Name: imported.Name}
	err = tx.QueryRowContext(ctx, "SELECT model_id FROM markov_models WHERE model_name = ?", imported.Name).Scan(&model.Id)
	if errors.Is(err, sql.ErrNoRows) {
		err = tx.QueryRowContext(ctx, "INSERT INTO markov_models (model_name) VALUES (?) RETURNING model_id", imported.Name).Scan(&model.Id)
		if err != nil {
			return ModelInfo{}, fmt.Errorf("failed to insert new model '%s': %w", imported.Name, err)
		}
	} else if err != nil {
		return ModelInfo{}, fmt.Errorf("failed to query for model '%s': %w", imported.Name, err)
	}

	w, err := s.newChainWriter(ctx, tx, model.Id)
	if err != nil {
		return ModelInfo{}, err
	}
	defer w.close()

	for key, entries := range m.Transitions() {
		if err = w.write(key, entries); err != nil {
			return ModelInfo{}, err
		}
	}

	s.logger.InfoContext(ctx, "Model imported successfully",
		slog.String("model_name", model.Name),
		slog.Int("target_model_id", model.Id),
		slog.Int("contexts_merged", m.Len()),
		slog.Int("chains_merged", w.written),
	)

	if err = tx.Commit(); err != nil {
		return ModelInfo{}, err
	}
	return model, nil
}
