package store

import (
	"context"
	"errors"
	"time"

	"greenlight/pkg/domain"
)

var (
	// ErrInvalidID is returned before any query when an id is not in the
	// store's identifier format.
	ErrInvalidID = errors.New("invalid id")
	// ErrNotFound is returned by writes that target a missing record.
	ErrNotFound = errors.New("submission not found")
	// ErrStoreUnavailable wraps connectivity and driver failures.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Store defines persistence operations for submissions and email signups.
type Store interface {
	// submissions
	InsertSubmission(ctx context.Context, s domain.Submission) (domain.Submission, error)
	GetSubmission(ctx context.Context, id string) (domain.Submission, bool, error)
	UpdateSubmission(ctx context.Context, id string, patch domain.SubmissionPatch) error
	TransitionSubmission(ctx context.Context, id string, cond Condition, patch domain.SubmissionPatch) (bool, error)
	ListStaleSubmissions(ctx context.Context, statuses []domain.SubmissionStatus, before time.Time, limit int) ([]domain.Submission, error)

	// signups
	InsertEmailSignup(ctx context.Context, e domain.EmailSignup) (domain.EmailSignup, error)

	Ping(ctx context.Context) error
	Close() error
}

// Condition guards TransitionSubmission. The patch applies only when the
// record's status is one of Statuses and, if UpdatedBefore is set, the record
// was last updated before it.
type Condition struct {
	Statuses      []domain.SubmissionStatus
	UpdatedBefore time.Time
}

// InStatus builds a Condition on status alone.
func InStatus(statuses ...domain.SubmissionStatus) Condition {
	return Condition{Statuses: statuses}
}

func (c Condition) matches(s domain.Submission) bool {
	ok := false
	for _, st := range c.Statuses {
		if s.Status == st {
			ok = true
			break
		}
	}
	if !ok {
		return false
	}
	if !c.UpdatedBefore.IsZero() && !s.UpdatedAt.Before(c.UpdatedBefore) {
		return false
	}
	return true
}

func statusStrings(statuses []domain.SubmissionStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}
