package main

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a background job.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// JobInfo is a snapshot of a background job's progress.
type JobInfo struct {
	ID        string     `json:"id"`
	Model     string     `json:"model"`
	Status    JobStatus  `json:"status"`
	Completed int        `json:"completed"`
	Total     int        `json:"total"`
	Error     string     `json:"error,omitempty"`
	Started   time.Time  `json:"started"`
	Finished  *time.Time `json:"finished,omitempty"`
}

// JobFunc is the body of a background job. It reports chunk progress through
// progress and must return promptly once ctx is cancelled.
type JobFunc func(ctx context.Context, progress func(completed, total int)) error

// JobManager runs background jobs, tracks their progress by ID and cancels
// them on shutdown.
type JobManager struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
	jobs   map[string]*JobInfo
	logger *slog.Logger
}

// NewJobManager creates an empty JobManager.
func NewJobManager(logger *slog.Logger) *JobManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &JobManager{
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]*JobInfo),
		logger: logger,
	}
}

// Start runs fn in the background for model and returns the new job's ID.
func (j *JobManager) Start(model string, fn JobFunc) string {
	job := &JobInfo{
		ID:      uuid.NewString(),
		Model:   model,
		Status:  JobRunning,
		Started: time.Now(),
	}
	j.mu.Lock()
	j.jobs[job.ID] = job
	j.mu.Unlock()

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		err := fn(j.ctx, func(completed, total int) {
			j.mu.Lock()
			job.Completed, job.Total = completed, total
			j.mu.Unlock()
		})
		j.finish(job, err)
	}()

	j.logger.Info("Job started", "job_id", job.ID, "model_name", model)
	return job.ID
}

func (j *JobManager) finish(job *JobInfo, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := time.Now()
	job.Finished = &now
	switch {
	case err == nil:
		job.Status = JobCompleted
	case errors.Is(err, context.Canceled):
		job.Status = JobCancelled
		job.Error = err.Error()
	default:
		job.Status = JobFailed
		job.Error = err.Error()
	}
	j.logger.Info("Job finished",
		"job_id", job.ID,
		"model_name", job.Model,
		"status", job.Status,
		"elapsed", now.Sub(job.Started),
	)
}

// Get returns a snapshot of the job with the given ID.
func (j *JobManager) Get(id string) (JobInfo, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	job, ok := j.jobs[id]
	if !ok {
		return JobInfo{}, false
	}
	return *job, true
}

// Running reports whether any job for model is still running.
func (j *JobManager) Running(model string) bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	for _, job := range j.jobs {
		if job.Model == model && job.Status == JobRunning {
			return true
		}
	}
	return false
}

// List returns a snapshot of every job, oldest first.
func (j *JobManager) List() []JobInfo {
	j.mu.RLock()
	defer j.mu.RUnlock()
	jobs := make([]JobInfo, 0, len(j.jobs))
	for _, job := range j.jobs {
		jobs = append(jobs, *job)
	}
	slices.SortFunc(jobs, func(a, b JobInfo) int { return a.Started.Compare(b.Started) })
	return jobs
}

// Shutdown cancels every running job and waits for them to return, or for
// ctx to expire.
func (j *JobManager) Shutdown(ctx context.Context) error {
	j.cancel()
	done := make(chan struct{})
	go func() {
		j.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
