package queue

import (
	"context"
	"errors"
	"time"
)

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

var (
	ErrSubmissionIDRequired = errors.New("submission id required")
	ErrQueueFull            = errors.New("queue full")
	ErrQueueClosed          = errors.New("queue closed")
)

// JobStatus tracks one delivery of a submission to the analysis workers.
type JobStatus struct {
	ID           string    `json:"id"`
	SubmissionID string    `json:"submissionId"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	Attempts     int       `json:"attempts"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Handler processes one job. A non-nil error schedules a retry until the
// queue's retry budget is spent.
type Handler func(ctx context.Context, job JobStatus) error

// Queue hands submission ids to background workers.
type Queue interface {
	Enqueue(ctx context.Context, submissionID string) (JobStatus, error)
	GetJob(ctx context.Context, jobID string) (JobStatus, bool, error)
	Start(ctx context.Context, concurrency int, handler Handler)
	Ping(ctx context.Context) error
	Close() error
}
