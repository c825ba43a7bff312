package markov

import (
	"fmt"
	"log/slog"
	"strings"
)

// DefaultWordsPerChunk is the number of words a GenerateTask emits per step.
const DefaultWordsPerChunk = 1

// GenerateCursor is the resumable state of one generation run.
type GenerateCursor struct {
	// Window is the current two-word context.
	Window Key
	// Generated is the number of words produced so far.
	Generated int
	// DeadEnd is set once Window had no recorded continuations.
	DeadEnd bool
}

// GenerateChunk produces up to n more words, never exceeding length in total,
// appending each to out with a leading space. It stops early at a dead end.
func (m *Matrix) GenerateChunk(c GenerateCursor, length, n int, out *strings.Builder) (GenerateCursor, error) {
	for i := 0; i < n && c.Generated < length && !c.DeadEnd; i++ {
		word, ok, err := m.Next(c.Window)
		if err != nil {
			return c, err
		}
		if !ok {
			c.DeadEnd = true
			m.logger.Debug("Generation terminated due to dead-end",
				slog.String("last_context", c.Window.String()),
				slog.Int("generated_length", c.Generated),
			)
			break
		}
		out.WriteByte(' ')
		out.WriteString(word)
		c.Window = Key{A: c.Window.B, B: word}
		c.Generated++
	}
	return c, nil
}

// Generate walks the chain from start for at most length words. Every word,
// the first included, is preceded by a single space. Reaching a context with
// no continuations ends generation early and returns what was produced.
// The only error is a corrupt matrix.
func (m *Matrix) Generate(start Key, length int) (string, error) {
	var out strings.Builder
	c, err := m.GenerateChunk(GenerateCursor{Window: start}, length, max(length, 0), &out)
	if err != nil {
		return "", fmt.Errorf("generate from %q: %w", start.String(), err)
	}
	m.logger.Debug("Generation completed",
		slog.String("start", start.String()),
		slog.Int("requested_length", length),
		slog.Int("generated_length", c.Generated),
		slog.Bool("dead_end", c.DeadEnd),
	)
	return out.String(), nil
}

// GenerateOption configures a GenerateTask.
type GenerateOption func(*generateOptions)

type generateOptions struct {
	wordsPerChunk int
	onProgress    func(partial string)
	onComplete    func(final string)
}

// WithWordsPerChunk sets how many words are produced per step.
// Default: DefaultWordsPerChunk. Values below 1 are ignored.
func WithWordsPerChunk(n int) GenerateOption {
	return func(o *generateOptions) {
		if n > 0 {
			o.wordsPerChunk = n
		}
	}
}

// WithGenerateProgress sets a callback invoked after each chunk with all text
// generated so far.
func WithGenerateProgress(fn func(partial string)) GenerateOption {
	return func(o *generateOptions) { o.onProgress = fn }
}

// WithGenerateComplete sets a callback invoked once with the final text, when
// the requested length is reached or the chain dead-ends.
func WithGenerateComplete(fn func(final string)) GenerateOption {
	return func(o *generateOptions) { o.onComplete = fn }
}

// GenerateTask is a chunked, resumable generation run. Each task owns its
// cursor and output; tasks over the same Matrix do not share state.
type GenerateTask struct {
	m      *Matrix
	length int
	opts   generateOptions
	cursor GenerateCursor
	out    strings.Builder
	done   bool
}

// NewGenerateTask prepares a chunked generation of up to length words from start.
func (m *Matrix) NewGenerateTask(start Key, length int, opts ...GenerateOption) *GenerateTask {
	o := generateOptions{wordsPerChunk: DefaultWordsPerChunk}
	for _, opt := range opts {
		opt(&o)
	}
	return &GenerateTask{
		m:      m,
		length: length,
		opts:   o,
		cursor: GenerateCursor{Window: start},
	}
}

// Step generates the next chunk. It returns true once the requested length
// was reached or the chain dead-ended; stepping a completed task returns
// ErrTaskDone.
func (t *GenerateTask) Step() (bool, error) {
	if t.done {
		return true, ErrTaskDone
	}
	var err error
	t.cursor, err = t.m.GenerateChunk(t.cursor, t.length, t.opts.wordsPerChunk, &t.out)
	if err != nil {
		t.done = true
		return true, fmt.Errorf("generate chunk: %w", err)
	}
	if t.opts.onProgress != nil {
		t.opts.onProgress(t.out.String())
	}
	if !t.cursor.DeadEnd && t.cursor.Generated < t.length {
		return false, nil
	}

	t.done = true
	if t.opts.onComplete != nil {
		t.opts.onComplete(t.out.String())
	}
	return true, nil
}

// Text returns everything generated so far.
func (t *GenerateTask) Text() string {
	return t.out.String()
}

// Cursor returns the current generation state.
func (t *GenerateTask) Cursor() GenerateCursor {
	return t.cursor
}

// Done reports whether the run has completed.
func (t *GenerateTask) Done() bool {
	return t.done
}
