package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/CTAG07/Bigram/pkg/markov"
)

const insertChainStmt = `
INSERT INTO markov_chains (model_id, prefix_id, next_token_id, frequency) VALUES (?, ?, ?, ?)
ON CONFLICT(model_id, prefix_id, next_token_id) DO UPDATE SET frequency = frequency + excluded.frequency;
`

// chainWriter inserts transitions inside one transaction, caching vocabulary
// and prefix IDs. Frequencies for an existing link are added together.
type chainWriter struct {
	ctx          context.Context
	modelID      int
	insertVocab  *sql.Stmt
	insertPrefix *sql.Stmt
	insertChain  *sql.Stmt
	tokenCache   map[string]int
	prefixCache  map[markov.Key]int
	written      int
}

func (s *Store) newChainWriter(ctx context.Context, tx *sql.Tx, modelID int) (*chainWriter, error) {
	insertChain, err := tx.PrepareContext(ctx, insertChainStmt)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare chain insert statement: %w", err)
	}
	return &chainWriter{
		ctx:          ctx,
		modelID:      modelID,
		insertVocab:  tx.StmtContext(ctx, s.stmtInsertVocab),
		insertPrefix: tx.StmtContext(ctx, s.stmtGetOrInsertPrefix),
		insertChain:  insertChain,
		tokenCache:   make(map[string]int),
		prefixCache:  make(map[markov.Key]int),
	}, nil
}

func (w *chainWriter) close() {
	_ = w.insertChain.Close()
}

func (w *chainWriter) tokenID(text string) (int, error) {
	if id, ok := w.tokenCache[text]; ok {
		return id, nil
	}
	var id int
	if err := w.insertVocab.QueryRowContext(w.ctx, text).Scan(&id); err != nil {
		return 0, fmt.Errorf("sql insert vocabulary error for token '%s': %w", text, err)
	}
	w.tokenCache[text] = id
	return id, nil
}

func (w *chainWriter) prefixID(key markov.Key) (int, error) {
	if id, ok := w.prefixCache[key]; ok {
		return id, nil
	}
	a, err := w.tokenID(key.A)
	if err != nil {
		return 0, err
	}
	b, err := w.tokenID(key.B)
	if err != nil {
		return 0, err
	}
	prefixText := strconv.Itoa(a) + " " + strconv.Itoa(b)
	var id int
	if err := w.insertPrefix.QueryRowContext(w.ctx, prefixText).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to get or insert prefix '%s': %w", prefixText, err)
	}
	w.prefixCache[key] = id
	return id, nil
}

func (w *chainWriter) write(key markov.Key, entries []markov.Entry) error {
	prefixID, err := w.prefixID(key)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Frequency < 1 {
			return fmt.Errorf("%w: %d for %q after %q", markov.ErrInvalidFrequency, e.Frequency, e.Value, key.String())
		}
		nextID, err := w.tokenID(e.Value)
		if err != nil {
			return err
		}
		if _, err := w.insertChain.ExecContext(w.ctx, w.modelID, prefixID, nextID, e.Frequency); err != nil {
			return fmt.Errorf("failed to insert chain link (%d -> %d): %w", prefixID, nextID, err)
		}
		w.written++
	}
	return nil
}

// Save replaces the stored chains of model with a snapshot of m. The whole
// snapshot is written in one transaction.
func (s *Store) Save(ctx context.Context, model ModelInfo, m *markov.Matrix) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if _, err = tx.ExecContext(ctx, "DELETE FROM markov_chains WHERE model_id = ?", model.Id); err != nil {
		return fmt.Errorf("failed to clear chains for model %d: %w", model.Id, err)
	}

	w, err := s.newChainWriter(ctx, tx, model.Id)
	if err != nil {
		return err
	}
	defer w.close()

	for key, entries := range m.Transitions() {
		if err = w.write(key, entries); err != nil {
			return err
		}
	}

	s.logger.InfoContext(ctx, "Model saved",
		slog.String("model_name", model.Name),
		slog.Int("model_id", model.Id),
		slog.Int("chains_written", w.written),
	)
	return tx.Commit()
}

// Load reads model into a new Matrix configured with opts.
func (s *Store) Load(ctx context.Context, model ModelInfo, opts ...markov.MatrixOption) (*markov.Matrix, error) {
	vocab, err := s.vocabulary(ctx, model.Id)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT p.prefix_text, c.next_token_id, c.frequency
FROM markov_chains c JOIN markov_prefixes p ON p.prefix_id = c.prefix_id
WHERE c.model_id = ?
ORDER BY c.rowid;`, model.Id)
	if err != nil {
		return nil, fmt.Errorf("could not query chains for model %d: %w", model.Id, err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	m := markov.NewMatrix(opts...)
	links := 0
	for rows.Next() {
		var prefixText string
		var nextID, freq int
		if err = rows.Scan(&prefixText, &nextID, &freq); err != nil {
			return nil, err
		}
		key, err := decodePrefix(prefixText, vocab)
		if err != nil {
			return nil, err
		}
		next, ok := vocab[nextID]
		if !ok {
			return nil, fmt.Errorf("consistency error: token id %d not found in vocabulary", nextID)
		}
		if err = m.Add(key, next, freq); err != nil {
			return nil, fmt.Errorf("failed to restore link %q -> %q: %w", key.String(), next, err)
		}
		links++
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Model loaded",
		slog.String("model_name", model.Name),
		slog.Int("model_id", model.Id),
		slog.Int("chains_loaded", links),
		slog.Int("contexts", m.Len()),
	)
	return m, nil
}

// vocabulary maps token IDs to text for every token a model references.
func (s *Store) vocabulary(ctx context.Context, modelID int) (map[int]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT token_id, token_text FROM markov_vocabulary;`)
	if err != nil {
		return nil, fmt.Errorf("could not query vocabulary for model %d: %w", modelID, err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	vocab := make(map[int]string)
	for rows.Next() {
		var id int
		var text string
		if err = rows.Scan(&id, &text); err != nil {
			return nil, err
		}
		vocab[id] = text
	}
	return vocab, rows.Err()
}

func decodePrefix(prefixText string, vocab map[int]string) (markov.Key, error) {
	idA, idB, ok := strings.Cut(prefixText, " ")
	if !ok {
		return markov.Key{}, fmt.Errorf("consistency error: malformed prefix '%s'", prefixText)
	}
	var key markov.Key
	for i, idStr := range []string{idA, idB} {
		id, err := strconv.Atoi(idStr)
		if err != nil {
			return markov.Key{}, fmt.Errorf("consistency error: malformed prefix '%s': %w", prefixText, err)
		}
		text, ok := vocab[id]
		if !ok {
			return markov.Key{}, fmt.Errorf("consistency error: token id %d in prefix not found in vocabulary", id)
		}
		if i == 0 {
			key.A = text
		} else {
			key.B = text
		}
	}
	return key, nil
}
