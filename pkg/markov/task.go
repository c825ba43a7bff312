package markov

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
)

// ErrTaskDone is returned when stepping a task that has already completed.
var ErrTaskDone = errors.New("markov: task already completed")

// Task is one unit of chunked work. Step performs the next chunk and reports
// whether the task is finished. TrainTask and GenerateTask implement it.
type Task interface {
	Step() (done bool, err error)
}

// Run drives t to completion, one chunk at a time, waiting interval between
// chunks. Cancelling ctx stops scheduling further chunks and returns
// ctx.Err(); the task keeps whatever state its completed chunks produced.
// An interval of zero or less runs chunks back to back, still checking ctx
// between them.
func Run(ctx context.Context, t Task, interval time.Duration) error {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	limiter := rate.NewLimiter(limit, 1)

	for {
		if err := limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
		done, err := t.Step()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}
