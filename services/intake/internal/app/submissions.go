package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"greenlight/internal/util"
	"greenlight/pkg/analysis"
	"greenlight/pkg/domain"
	"greenlight/pkg/storage"
	"greenlight/pkg/store"
)

// SubmitInput is one manuscript upload.
type SubmitInput struct {
	FileName string
	Data     []byte
	Synopsis string
}

// Outcome summarizes what Process observed or did.
type Outcome string

const (
	OutcomeCompleted  Outcome = "completed"
	OutcomeFailed     Outcome = "failed"
	OutcomeInProgress Outcome = "in_progress"
)

// ProcessResult reports the state of a submission after Process.
type ProcessResult struct {
	Outcome    Outcome
	Submission domain.Submission
}

// Submit validates the upload, extracts its text and records a new
// submission, then hands it to the analysis workers. Nothing is stored when
// validation fails.
func (a *App) Submit(ctx context.Context, in SubmitInput) (domain.Submission, error) {
	logger := util.LoggerFromContext(ctx)
	if err := a.checkSynopsis(in.Synopsis); err != nil {
		a.metrics.SubmissionRejected()
		return domain.Submission{}, err
	}

	extractCtx, cancel := context.WithTimeout(ctx, a.extractTimeout)
	doc, err := a.extractor.Extract(extractCtx, in.Data)
	cancel()
	if err != nil {
		a.metrics.SubmissionRejected()
		return domain.Submission{}, err
	}

	fileName := filepath.Base(strings.ReplaceAll(in.FileName, "\\", "/"))
	if fileName == "." || fileName == "/" {
		fileName = ""
	}
	sub, err := a.store.InsertSubmission(ctx, domain.Submission{
		Synopsis: in.Synopsis,
		Text:     doc.Text,
		FileName: fileName,
		FileSize: int64(len(in.Data)),
	})
	if err != nil {
		return domain.Submission{}, fmt.Errorf("save submission: %w", err)
	}
	a.metrics.SubmissionAccepted()
	logger.Info("submission created", "submission_id", sub.ID, "pages", doc.Pages, "bytes", sub.FileSize)

	if a.objects != nil {
		a.archive(ctx, &sub, in.Data)
	}
	if _, err := a.queue.Enqueue(ctx, sub.ID); err != nil {
		// the reconciliation sweep picks it up later
		logger.Warn("enqueue analysis failed", "submission_id", sub.ID, "err", err)
	}
	return sub, nil
}

func (a *App) checkSynopsis(synopsis string) error {
	if strings.TrimSpace(synopsis) == "" {
		return fmt.Errorf("%w: synopsis is required", ErrInvalidSynopsis)
	}
	if n := utf8.RuneCountInString(synopsis); n > a.synopsisMax {
		return fmt.Errorf("%w: synopsis is %d characters, limit is %d", ErrInvalidSynopsis, n, a.synopsisMax)
	}
	return nil
}

func (a *App) archive(ctx context.Context, sub *domain.Submission, data []byte) {
	logger := util.LoggerFromContext(ctx)
	key := storage.ManuscriptKey(sub.ID, sub.FileName)
	if err := a.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), "application/pdf"); err != nil {
		logger.Warn("archive manuscript failed", "submission_id", sub.ID, "err", err)
		return
	}
	if err := a.store.UpdateSubmission(ctx, sub.ID, domain.SubmissionPatch{StorageKey: &key}); err != nil {
		logger.Warn("record storage key failed", "submission_id", sub.ID, "err", err)
		_ = a.objects.Delete(ctx, key)
		return
	}
	sub.StorageKey = key
}

// GetStatus returns the current state of a submission.
func (a *App) GetStatus(ctx context.Context, id string) (domain.Submission, error) {
	sub, ok, err := a.store.GetSubmission(ctx, id)
	if err != nil {
		return domain.Submission{}, err
	}
	if !ok {
		return domain.Submission{}, ErrNotFound
	}
	return sub, nil
}

// Process runs the analysis for a submission at most once. Terminal records
// are reported without calling the provider; a record another worker holds
// is reported as ErrInProgress unless its lease has gone stale.
func (a *App) Process(ctx context.Context, id string) (ProcessResult, error) {
	if !util.ValidID(id) {
		return ProcessResult{}, ErrInvalidID
	}
	sub, err := a.GetStatus(ctx, id)
	if err != nil {
		return ProcessResult{}, err
	}

	// a lost claim means another caller moved the record; report what it
	// became, and only retry the claim if it is still claimable
	for range 3 {
		if res, done, err := a.observe(sub); done {
			return res, err
		}
		claimed, err := a.claim(ctx, &sub)
		if err != nil {
			return ProcessResult{}, err
		}
		if claimed {
			return a.run(ctx, sub)
		}
		if sub, err = a.GetStatus(ctx, id); err != nil {
			return ProcessResult{}, err
		}
	}
	return ProcessResult{Outcome: OutcomeInProgress, Submission: sub}, ErrInProgress
}

// observe reports sub when it needs no work from this caller.
func (a *App) observe(sub domain.Submission) (ProcessResult, bool, error) {
	switch sub.Status {
	case domain.StatusCompleted:
		return ProcessResult{Outcome: OutcomeCompleted, Submission: sub}, true, nil
	case domain.StatusError:
		return ProcessResult{Outcome: OutcomeFailed, Submission: sub}, true, nil
	case domain.StatusProcessing:
		if !sub.UpdatedAt.Before(a.staleCutoff()) {
			return ProcessResult{Outcome: OutcomeInProgress, Submission: sub}, true, ErrInProgress
		}
	}
	return ProcessResult{}, false, nil
}

func (a *App) staleCutoff() time.Time {
	return a.now().Add(-a.staleAfter)
}

func claimCondition(sub domain.Submission, cutoff time.Time) store.Condition {
	if sub.Status == domain.StatusProcessing {
		return store.Condition{Statuses: []domain.SubmissionStatus{domain.StatusProcessing}, UpdatedBefore: cutoff}
	}
	return store.InStatus(domain.StatusUploaded)
}

// claim moves sub into processing. Records that used up their attempts are
// failed instead; sub is updated in place when the claim wins.
func (a *App) claim(ctx context.Context, sub *domain.Submission) (bool, error) {
	cond := claimCondition(*sub, a.staleCutoff())
	attempts := sub.Attempts + 1
	if attempts > a.maxAttempts {
		msg := fmt.Sprintf("analysis abandoned after %d attempts", sub.Attempts)
		won, err := a.store.TransitionSubmission(ctx, sub.ID, cond, domain.FailedPatch(msg, a.now()))
		if err != nil {
			return false, err
		}
		if won {
			a.metrics.AnalysisFinished("abandoned", 0)
			util.LoggerFromContext(ctx).Warn("analysis abandoned", "submission_id", sub.ID, "attempts", sub.Attempts)
		}
		// either way the record is no longer claimable by us
		return false, nil
	}
	won, err := a.store.TransitionSubmission(ctx, sub.ID, cond, domain.ClaimPatch(attempts))
	if err != nil {
		return false, err
	}
	if won {
		domain.ClaimPatch(attempts).Apply(sub)
	}
	return won, nil
}

// run performs the analysis for a claimed record and stores the outcome.
// The work is detached from ctx cancellation so that a client hanging up
// does not leave the record half-processed.
func (a *App) run(ctx context.Context, sub domain.Submission) (ProcessResult, error) {
	logger := util.LoggerFromContext(ctx).With("submission_id", sub.ID, "attempt", sub.Attempts)
	base := context.WithoutCancel(ctx)

	analyzeCtx, cancel := context.WithTimeout(base, a.analysisTimeout)
	start := time.Now()
	result, err := a.analyzer.Analyze(analyzeCtx, sub.Text, sub.Synopsis)
	cancel()
	elapsed := time.Since(start)

	writeCtx, cancelWrite := context.WithTimeout(base, finalizeTimeout)
	defer cancelWrite()
	processing := store.InStatus(domain.StatusProcessing)

	if err != nil {
		msg := failureMessage(err)
		logger.Warn("analysis failed", "err", err, "duration", elapsed)
		if _, werr := a.store.TransitionSubmission(writeCtx, sub.ID, processing, domain.FailedPatch(msg, a.now())); werr != nil {
			return ProcessResult{}, fmt.Errorf("record analysis failure: %w", werr)
		}
		a.metrics.AnalysisFinished("failed", elapsed)
	} else {
		if _, werr := a.store.TransitionSubmission(writeCtx, sub.ID, processing, domain.CompletedPatch(result, a.now())); werr != nil {
			return ProcessResult{}, fmt.Errorf("record analysis: %w", werr)
		}
		a.metrics.AnalysisFinished("completed", elapsed)
		logger.Info("analysis completed", "genre", result.Genre, "duration", elapsed)
	}

	// report the stored state, which may differ if the lease was lost
	final, gerr := a.GetStatus(writeCtx, sub.ID)
	if gerr != nil {
		return ProcessResult{}, gerr
	}
	res, _, oerr := a.observe(final)
	if res.Outcome == "" {
		return ProcessResult{Outcome: OutcomeInProgress, Submission: final}, ErrInProgress
	}
	return res, oerr
}

// failureMessage is the error text recorded on a failed submission.
func failureMessage(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "analysis timed out"
	case errors.Is(err, analysis.ErrNoContent):
		return "submission has no text to analyze"
	default:
		return err.Error()
	}
}

// handleJob is the queue handler. Only infrastructure failures are returned
// for the queue to retry; every analysis outcome is already recorded on the
// submission.
func (a *App) handleJob(ctx context.Context, job queueJob) error {
	logger := slog.Default().With("job_id", job.ID, "submission_id", job.SubmissionID)
	ctx = util.ContextWithLogger(ctx, logger)
	res, err := a.Process(ctx, job.SubmissionID)
	switch {
	case err == nil:
		logger.Debug("job finished", "outcome", res.Outcome)
		return nil
	case errors.Is(err, ErrInProgress), errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidID):
		logger.Debug("job skipped", "reason", err)
		return nil
	case errors.Is(err, store.ErrStoreUnavailable):
		return err
	default:
		logger.Error("job failed", "err", err)
		return nil
	}
}
