package queue

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryQueue is an in-process queue: a buffered channel drained by a fixed
// pool of workers. Jobs do not survive a restart; the reconciliation sweep
// re-enqueues anything left behind.
//
// Only queued and running jobs are tracked in full. Finished jobs move to a
// bounded LRU with the same TTL semantics as the Redis status hash.
type MemoryQueue struct {
	jobsCh     chan string
	maxRetries int
	retryDelay time.Duration

	mu       sync.RWMutex
	jobs     map[string]JobStatus
	finished *expirable.LRU[string, JobStatus]
	closed   bool
}

type MemoryQueueConfig struct {
	Buffer     int
	MaxRetries int
	RetryDelay time.Duration
	// MaxFinished caps how many finished jobs stay visible to GetJob.
	MaxFinished int
	JobTTL      time.Duration
}

func NewMemoryQueue(cfg MemoryQueueConfig) *MemoryQueue {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	if cfg.MaxFinished <= 0 {
		cfg.MaxFinished = 1024
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = 24 * time.Hour
	}
	return &MemoryQueue{
		jobsCh:     make(chan string, cfg.Buffer),
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		jobs:       make(map[string]JobStatus),
		finished:   expirable.NewLRU[string, JobStatus](cfg.MaxFinished, nil, cfg.JobTTL),
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, submissionID string) (JobStatus, error) {
	submissionID = strings.TrimSpace(submissionID)
	if submissionID == "" {
		return JobStatus{}, ErrSubmissionIDRequired
	}
	now := time.Now().UTC()
	job := JobStatus{
		ID:           uuid.NewString(),
		SubmissionID: submissionID,
		Status:       StatusQueued,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return JobStatus{}, ErrQueueClosed
	}
	select {
	case q.jobsCh <- job.ID:
	default:
		return JobStatus{}, ErrQueueFull
	}
	q.jobs[job.ID] = job
	return job, nil
}

func (q *MemoryQueue) GetJob(_ context.Context, jobID string) (JobStatus, bool, error) {
	q.mu.RLock()
	job, ok := q.jobs[jobID]
	q.mu.RUnlock()
	if ok {
		return job, true, nil
	}
	job, ok = q.finished.Get(jobID)
	return job, ok, nil
}

// Start launches concurrency workers that run until ctx is canceled or the
// queue is closed.
func (q *MemoryQueue) Start(ctx context.Context, concurrency int, handler Handler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	for i := 0; i < concurrency; i++ {
		go q.worker(ctx, handler)
	}
}

func (q *MemoryQueue) Ping(context.Context) error { return nil }

// Close stops accepting jobs. Workers exit once the buffer drains.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.jobsCh)
	}
	return nil
}

func (q *MemoryQueue) worker(ctx context.Context, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case jobID, ok := <-q.jobsCh:
			if !ok {
				return
			}
			q.run(ctx, jobID, handler)
		}
	}
}

func (q *MemoryQueue) run(ctx context.Context, jobID string, handler Handler) {
	for {
		job := q.update(jobID, func(j *JobStatus) {
			j.Attempts++
			j.Status = StatusProcessing
		})
		err := handler(ctx, job)
		if err == nil {
			q.finish(jobID, func(j *JobStatus) {
				j.Status = StatusDone
				j.ErrorMessage = ""
			})
			return
		}
		if job.Attempts >= q.maxRetries {
			slog.Error("queue job failed", "job_id", jobID, "submission_id", job.SubmissionID, "attempts", job.Attempts, "err", err)
			q.finish(jobID, func(j *JobStatus) {
				j.Status = StatusFailed
				j.ErrorMessage = err.Error()
			})
			return
		}
		slog.Warn("queue job retry", "job_id", jobID, "submission_id", job.SubmissionID, "attempts", job.Attempts, "err", err)
		q.update(jobID, func(j *JobStatus) {
			j.Status = StatusQueued
			j.ErrorMessage = err.Error()
		})
		if q.retryDelay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(q.retryDelay):
			}
		}
	}
}

func (q *MemoryQueue) update(jobID string, fn func(*JobStatus)) JobStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	job := q.jobs[jobID]
	fn(&job)
	job.UpdatedAt = time.Now().UTC()
	q.jobs[jobID] = job
	return job
}

// finish applies the final update and moves the job out of the active set.
func (q *MemoryQueue) finish(jobID string, fn func(*JobStatus)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job := q.jobs[jobID]
	fn(&job)
	job.UpdatedAt = time.Now().UTC()
	delete(q.jobs, jobID)
	q.finished.Add(jobID, job)
}

func (q *MemoryQueue) activeJobs() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.jobs)
}
