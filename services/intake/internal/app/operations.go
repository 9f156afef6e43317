package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"greenlight/internal/util"
	"greenlight/pkg/domain"
	"greenlight/pkg/queue"
)

type queueJob = queue.JobStatus

// SignupInput is a request to be notified about a submission.
type SignupInput struct {
	Email        string `validate:"required,email,max=254"`
	SubmissionID string
}

// Signup records an email signup. The submission id must be well formed but
// the submission does not have to exist.
func (a *App) Signup(ctx context.Context, in SignupInput) (domain.EmailSignup, error) {
	in.Email = strings.TrimSpace(in.Email)
	in.SubmissionID = strings.TrimSpace(in.SubmissionID)
	if err := a.validate.Struct(in); err != nil {
		return domain.EmailSignup{}, fmt.Errorf("%w: a valid email address is required", ErrInvalidEmail)
	}
	if !util.ValidID(in.SubmissionID) {
		return domain.EmailSignup{}, ErrInvalidID
	}
	signup, err := a.store.InsertEmailSignup(ctx, domain.EmailSignup{
		Email:        in.Email,
		SubmissionID: in.SubmissionID,
	})
	if err != nil {
		return domain.EmailSignup{}, fmt.Errorf("save signup: %w", err)
	}
	util.LoggerFromContext(ctx).Info("email signup recorded", "submission_id", in.SubmissionID)
	return signup, nil
}

// BookMetadata looks up publication details for a published title.
func (a *App) BookMetadata(ctx context.Context, title string) (domain.BookMetadata, error) {
	ctx, cancel := context.WithTimeout(ctx, a.analysisTimeout)
	defer cancel()
	return a.analyzer.BookMetadata(ctx, title)
}

// BookDetails returns a quick market read of a manuscript excerpt.
func (a *App) BookDetails(ctx context.Context, text string) (domain.BookDetails, error) {
	ctx, cancel := context.WithTimeout(ctx, a.analysisTimeout)
	defer cancel()
	return a.analyzer.BookDetails(ctx, text)
}

// Reconcile re-enqueues submissions that were never picked up or whose
// processing lease has gone stale. It returns how many were enqueued.
func (a *App) Reconcile(ctx context.Context) (int, error) {
	stale, err := a.store.ListStaleSubmissions(ctx,
		[]domain.SubmissionStatus{domain.StatusUploaded, domain.StatusProcessing},
		a.staleCutoff(), reconcileBatch)
	if err != nil {
		return 0, fmt.Errorf("list stale submissions: %w", err)
	}
	var enqueued atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, sub := range stale {
		id := sub.ID
		g.Go(func() error {
			if _, err := a.queue.Enqueue(gctx, id); err != nil {
				return fmt.Errorf("enqueue %s: %w", id, err)
			}
			enqueued.Add(1)
			return nil
		})
	}
	err = g.Wait()
	n := int(enqueued.Load())
	a.metrics.Requeued(n)
	return n, err
}

// DependencyStatus is the health of one backing service.
type DependencyStatus struct {
	OK    bool   `json:"success"`
	Error string `json:"error,omitempty"`
}

// ConnectionReport is returned by CheckConnections.
type ConnectionReport struct {
	Database DependencyStatus  `json:"database"`
	Queue    DependencyStatus  `json:"queue"`
	Storage  *DependencyStatus `json:"storage,omitempty"`
}

// Healthy reports whether every checked dependency is reachable.
func (r ConnectionReport) Healthy() bool {
	return r.Database.OK && r.Queue.OK && (r.Storage == nil || r.Storage.OK)
}

// CheckConnections pings the store, the queue backend and, when
// configured, the object store.
func (a *App) CheckConnections(ctx context.Context) ConnectionReport {
	report := ConnectionReport{
		Database: dependencyStatus(a.store.Ping(ctx)),
		Queue:    dependencyStatus(a.queue.Ping(ctx)),
	}
	if a.objects != nil {
		st := dependencyStatus(a.objects.Ping(ctx))
		report.Storage = &st
	}
	return report
}

func dependencyStatus(err error) DependencyStatus {
	if err == nil {
		return DependencyStatus{OK: true}
	}
	msg := err.Error()
	if errors.Is(err, context.DeadlineExceeded) {
		msg = "timed out"
	}
	return DependencyStatus{Error: msg}
}
