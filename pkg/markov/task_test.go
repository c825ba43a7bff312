package markov

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunTrainTask(t *testing.T) {
	text := strings.Repeat("a b c d ", 10)
	want := NewMatrix()
	want.Train(text)

	m := NewMatrix()
	task := m.NewTrainTask(text, WithTrainChunkSize(7))
	require.NoError(t, Run(context.Background(), task, time.Millisecond))
	assert.True(t, task.Done())
	assert.Equal(t, snapshot(want), snapshot(m))
}

func TestRunGenerateTask(t *testing.T) {
	m := NewMatrix()
	m.Train("x y x y x")
	var final string
	task := m.NewGenerateTask(Key{A: "x", B: "y"}, 6, WithWordsPerChunk(4), WithGenerateComplete(func(s string) { final = s }))
	require.NoError(t, Run(context.Background(), task, 0))
	assert.Equal(t, " x y x y x y", final)
}

func TestRunCancellation(t *testing.T) {
	m := NewMatrix()
	ctx, cancel := context.WithCancel(context.Background())
	chunks := 0
	task := m.NewTrainTask(strings.Repeat("w ", 100), WithTrainChunkSize(1),
		WithTrainProgress(func(done, _ int) {
			chunks = done
			if done == 3 {
				cancel()
			}
		}))

	err := Run(ctx, task, time.Millisecond)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, chunks, "no chunk is scheduled after cancellation")
	assert.False(t, task.Done())

	// The task can be resumed by a new driver.
	require.NoError(t, Run(context.Background(), task, 0))
	assert.True(t, task.Done())
}

type failingTask struct{ steps int }

func (f *failingTask) Step() (bool, error) {
	f.steps++
	return false, errors.New("boom")
}

func TestRunStepError(t *testing.T) {
	task := &failingTask{}
	err := Run(context.Background(), task, 0)
	require.EqualError(t, err, "boom")
	assert.Equal(t, 1, task.steps)
}
