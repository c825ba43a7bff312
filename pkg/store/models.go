package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
)

// ModelInfo identifies a stored model.
type ModelInfo struct {
	Id   int    `json:"id"`
	Name string `json:"name"`
}

// CreateModel inserts a new, empty model. Names are unique.
func (s *Store) CreateModel(ctx context.Context, name string) (ModelInfo, error) {
	var id int
	if err := s.stmtAddModel.QueryRowContext(ctx, name).Scan(&id); err != nil {
		return ModelInfo{}, fmt.Errorf("failed to create model '%s': %w", name, err)
	}
	s.logger.InfoContext(ctx, "Model created", slog.String("model_name", name), slog.Int("model_id", id))
	return ModelInfo{Id: id, Name: name}, nil
}

// GetModel looks up a model by name. It returns ErrModelNotFound if no such
// model exists.
func (s *Store) GetModel(ctx context.Context, name string) (ModelInfo, error) {
	var id int
	err := s.stmtGetModel.QueryRowContext(ctx, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return ModelInfo{}, fmt.Errorf("%w: '%s'", ErrModelNotFound, name)
	}
	if err != nil {
		return ModelInfo{}, err
	}
	return ModelInfo{Id: id, Name: name}, nil
}

// Models lists every stored model in creation order.
func (s *Store) Models(ctx context.Context) ([]ModelInfo, error) {
	rows, err := s.stmtGetModels.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	models := make([]ModelInfo, 0)
	for rows.Next() {
		var model ModelInfo
		if err = rows.Scan(&model.Id, &model.Name); err != nil {
			return nil, err
		}
		models = append(models, model)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return models, nil
}

// RemoveModel deletes a model and all of its chain data. The operation is
// performed within a transaction.
func (s *Store) RemoveModel(ctx context.Context, model ModelInfo) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if _, err = tx.ExecContext(ctx, "DELETE FROM markov_chains WHERE model_id = ?", model.Id); err != nil {
		return fmt.Errorf("failed to remove chains for model %d: %w", model.Id, err)
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM markov_models WHERE model_id = ?", model.Id)
	if err != nil {
		return fmt.Errorf("failed to remove model %d: %w", model.Id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: '%s'", ErrModelNotFound, model.Name)
	}

	s.logger.InfoContext(ctx, "Model removed successfully",
		slog.String("model_name", model.Name),
		slog.Int("model_id", model.Id),
	)

	return tx.Commit()
}
