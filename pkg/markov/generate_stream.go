package markov

import (
	"context"
	"log/slog"
)

// GenerateStream runs a chunked generation in its own goroutine and sends the
// text of each chunk on the returned channel, one send per chunk. The channel
// is closed once generation completes, the chain dead-ends, or ctx is
// cancelled. A corrupt matrix is logged and ends the stream.
func (m *Matrix) GenerateStream(ctx context.Context, start Key, length int, opts ...GenerateOption) <-chan string {
	chunks := make(chan string)
	task := m.NewGenerateTask(start, length, opts...)

	go func() {
		defer close(chunks)
		sent := 0
		for {
			select {
			case <-ctx.Done():
				m.logger.DebugContext(ctx, "Generation stream cancelled by context")
				return
			default:
			}

			done, err := task.Step()
			if err != nil {
				m.logger.ErrorContext(ctx, "Generation stream failed", slog.Any("error", err))
				return
			}

			text := task.Text()
			if chunk := text[sent:]; chunk != "" {
				select {
				case <-ctx.Done():
					return
				case chunks <- chunk:
				}
				sent = len(text)
			}
			if done {
				return
			}
		}
	}()

	return chunks
}
