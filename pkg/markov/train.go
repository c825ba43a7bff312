package markov

import (
	"log/slog"
)

// DefaultTrainChunkSize is the number of raw tokens a TrainTask consumes per step.
const DefaultTrainChunkSize = 1000

// TrainCursor is the resumable state of one training run: the sliding
// two-word window plus counters. The zero value is the start of a run.
type TrainCursor struct {
	// Seen is how many non-empty tokens have been taken into the window so far.
	// Below 2 the cursor is still seeking its first context.
	Seen int
	// Window holds the last two non-empty tokens once Seen >= 2.
	Window Key
	// Consumed is the number of raw tokens processed, empty ones included.
	Consumed int
	// Transitions is the number of transitions recorded.
	Transitions int
}

// Seeking reports whether the cursor has not yet collected its first context.
func (c TrainCursor) Seeking() bool {
	return c.Seen < 2
}

// TrainChunk feeds raw tokens through the cursor and returns the advanced
// cursor. Feeding one stream in any split produces the same matrix as feeding
// it whole.
func (m *Matrix) TrainChunk(c TrainCursor, tokens []string) TrainCursor {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, raw := range tokens {
		c.Consumed++
		word := cleanToken(raw)
		if word == "" {
			continue
		}
		switch c.Seen {
		case 0:
			c.Window.A = word
			c.Seen++
		case 1:
			c.Window.B = word
			c.Seen++
		default:
			m.record(c.Window, word)
			c.Transitions++
			c.Window = Key{A: c.Window.B, B: word}
			c.Seen++
		}
	}
	return c
}

// Train tokenizes text and trains it in a single pass. It returns the number
// of transitions recorded. Empty or whitespace-only text records nothing.
func (m *Matrix) Train(text string) int {
	c := m.TrainChunk(TrainCursor{}, Tokenize(text))
	m.logger.Info("Training completed",
		slog.Int("tokens", c.Consumed),
		slog.Int("transitions", c.Transitions),
		slog.Int("contexts", m.Len()),
	)
	return c.Transitions
}

// TrainOption configures a TrainTask.
type TrainOption func(*trainOptions)

type trainOptions struct {
	chunkSize  int
	onProgress func(completed, total int)
	onComplete func()
}

// WithTrainChunkSize sets how many raw tokens are consumed per step.
// Default: DefaultTrainChunkSize. Values below 1 are ignored.
func WithTrainChunkSize(n int) TrainOption {
	return func(o *trainOptions) {
		if n > 0 {
			o.chunkSize = n
		}
	}
}

// WithTrainProgress sets a callback invoked after each chunk with the number
// of chunks completed and the total number of chunks.
func WithTrainProgress(fn func(completed, total int)) TrainOption {
	return func(o *trainOptions) { o.onProgress = fn }
}

// WithTrainComplete sets a callback invoked once after the final chunk.
func WithTrainComplete(fn func()) TrainOption {
	return func(o *trainOptions) { o.onComplete = fn }
}

// TrainTask is a chunked, resumable training run over one text. Each call to
// Step trains one chunk; between calls the caller is free to do other work.
// A TrainTask is single-use.
type TrainTask struct {
	m      *Matrix
	tokens []string
	opts   trainOptions
	cursor TrainCursor
	chunk  int
	total  int
	done   bool
}

// NewTrainTask prepares a chunked training run of text into m. Nothing is
// trained until Step is called.
func (m *Matrix) NewTrainTask(text string, opts ...TrainOption) *TrainTask {
	o := trainOptions{chunkSize: DefaultTrainChunkSize}
	for _, opt := range opts {
		opt(&o)
	}
	tokens := Tokenize(text)
	return &TrainTask{
		m:      m,
		tokens: tokens,
		opts:   o,
		total:  (len(tokens) + o.chunkSize - 1) / o.chunkSize,
	}
}

// Step trains the next chunk. It returns true once the run is complete;
// stepping a completed task returns ErrTaskDone.
func (t *TrainTask) Step() (bool, error) {
	if t.done {
		return true, ErrTaskDone
	}
	if t.chunk < t.total {
		start := t.chunk * t.opts.chunkSize
		end := min(start+t.opts.chunkSize, len(t.tokens))
		t.cursor = t.m.TrainChunk(t.cursor, t.tokens[start:end])
		t.chunk++
		if t.opts.onProgress != nil {
			t.opts.onProgress(t.chunk, t.total)
		}
	}
	if t.chunk < t.total {
		return false, nil
	}

	t.done = true
	t.m.logger.Info("Training completed",
		slog.Int("tokens", t.cursor.Consumed),
		slog.Int("chunks", t.total),
		slog.Int("transitions", t.cursor.Transitions),
		slog.Int("contexts", t.m.Len()),
	)
	if t.opts.onComplete != nil {
		t.opts.onComplete()
	}
	return true, nil
}

// Progress returns the number of chunks completed and the total.
func (t *TrainTask) Progress() (completed, total int) {
	return t.chunk, t.total
}

// Cursor returns the current training state.
func (t *TrainTask) Cursor() TrainCursor {
	return t.cursor
}

// Done reports whether the run has completed.
func (t *TrainTask) Done() bool {
	return t.done
}
