package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"greenlight/pkg/ai"
	"greenlight/pkg/domain"
	"greenlight/pkg/pdftext"
	"greenlight/pkg/pdftext/pdftest"
	"greenlight/pkg/queue"
	"greenlight/pkg/storage"
	"greenlight/pkg/store"
)

const analysisReply = `{"genre":"Literary Fiction","themes":["grief","memory"],"bestComps":[{"title":"Station Eleven","author":"Emily St. John Mandel","year":2014}],"recentComps":[]}`

type fakeGenerator struct {
	mu       sync.Mutex
	response string
	err      error
	calls    int
	release  chan struct{}
}

func (f *fakeGenerator) GenerateText(ctx context.Context, _, _ string) (string, error) {
	f.mu.Lock()
	f.calls++
	release := f.release
	f.mu.Unlock()
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.response, f.err
}

func (f *fakeGenerator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeQueue struct {
	mu       sync.Mutex
	enqueued []string
	pingErr  error
}

func (q *fakeQueue) Enqueue(_ context.Context, submissionID string) (queue.JobStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqueued = append(q.enqueued, submissionID)
	return queue.JobStatus{ID: "job-" + submissionID, SubmissionID: submissionID, Status: queue.StatusQueued}, nil
}

func (q *fakeQueue) GetJob(context.Context, string) (queue.JobStatus, bool, error) {
	return queue.JobStatus{}, false, nil
}

func (q *fakeQueue) Start(context.Context, int, queue.Handler) {}
func (q *fakeQueue) Ping(context.Context) error                { return q.pingErr }
func (q *fakeQueue) Close() error                              { return nil }

func (q *fakeQueue) ids() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.enqueued...)
}

type testEnv struct {
	app     *App
	store   *store.MemoryStore
	queue   *fakeQueue
	objects *storage.MemoryStore
	gen     *fakeGenerator
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	env := &testEnv{
		store:   store.NewMemoryStore(),
		queue:   &fakeQueue{},
		objects: storage.NewMemoryStore(),
		gen:     &fakeGenerator{response: analysisReply},
	}
	cfg := Config{
		Store:             env.store,
		Queue:             env.queue,
		Objects:           env.objects,
		Generator:         env.gen,
		ReconcileSchedule: "off",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(a.Close)
	env.app = a
	return env
}

// later moves the app clock past the stale-lease window.
func (e *testEnv) later() {
	e.app.now = func() time.Time { return time.Now().UTC().Add(10 * time.Minute) }
}

func (e *testEnv) submit(t *testing.T) domain.Submission {
	t.Helper()
	sub, err := e.app.Submit(context.Background(), SubmitInput{
		FileName: "novel.pdf",
		Data:     pdftest.Build("It was a dark and stormy night."),
		Synopsis: "A storm, a house, a secret.",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return sub
}

func TestSubmitThenProcessCompletes(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	sub := env.submit(t)

	if sub.Status != domain.StatusUploaded || !strings.Contains(sub.Text, "stormy night") {
		t.Fatalf("unexpected submission: %+v", sub)
	}
	if sub.Synopsis != "A storm, a house, a secret." || sub.FileName != "novel.pdf" {
		t.Fatalf("input not preserved: %+v", sub)
	}
	if got := env.queue.ids(); len(got) != 1 || got[0] != sub.ID {
		t.Fatalf("expected submission to be enqueued, got %v", got)
	}
	if sub.StorageKey == "" {
		t.Fatalf("expected manuscript to be archived")
	}
	if _, ok := env.objects.Get(sub.StorageKey); !ok {
		t.Fatalf("object %q not stored", sub.StorageKey)
	}

	res, err := env.app.Process(ctx, sub.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Outcome != OutcomeCompleted || res.Submission.Analysis == nil {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Submission.Analysis.Genre != "Literary Fiction" || res.Submission.Attempts != 1 {
		t.Fatalf("unexpected analysis: %+v", res.Submission)
	}

	// a second call reports the stored result without a new provider call
	res, err = env.app.Process(ctx, sub.ID)
	if err != nil || res.Outcome != OutcomeCompleted {
		t.Fatalf("second process: outcome=%s err=%v", res.Outcome, err)
	}
	if env.gen.callCount() != 1 {
		t.Fatalf("expected one provider call, got %d", env.gen.callCount())
	}
}

func TestSubmitRejectsInvalidInput(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.SynopsisMaxChars = 10 })
	ctx := context.Background()
	pdf := pdftest.Build("Hello world")

	tests := []struct {
		name string
		in   SubmitInput
		want error
	}{
		{"missing synopsis", SubmitInput{Data: pdf, Synopsis: "  "}, ErrInvalidSynopsis},
		{"synopsis too long", SubmitInput{Data: pdf, Synopsis: "ééééééééééé"}, ErrInvalidSynopsis},
		{"not a pdf", SubmitInput{Data: []byte("hello"), Synopsis: "ok"}, pdftext.ErrInvalidFormat},
		{"blank pdf", SubmitInput{Data: pdftest.Build(""), Synopsis: "ok"}, pdftext.ErrEmptyContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.app.Submit(ctx, tt.in); !errors.Is(err, tt.want) {
				t.Fatalf("Submit() err = %v, want %v", err, tt.want)
			}
		})
	}
	if got := env.queue.ids(); len(got) != 0 {
		t.Fatalf("rejected uploads must not be enqueued: %v", got)
	}
	stale, _ := env.store.ListStaleSubmissions(ctx, []domain.SubmissionStatus{domain.StatusUploaded}, time.Now().Add(time.Hour), 10)
	if len(stale) != 0 {
		t.Fatalf("rejected uploads must not be stored, found %d", len(stale))
	}
}

func TestSynopsisAtLimitAccepted(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.SynopsisMaxChars = 10 })
	_, err := env.app.Submit(context.Background(), SubmitInput{
		Data:     pdftest.Build("Hello world"),
		Synopsis: "éééééééééé",
	})
	if err != nil {
		t.Fatalf("synopsis of exactly the limit rejected: %v", err)
	}
}

func TestProcessMalformedReplyFails(t *testing.T) {
	env := newTestEnv(t, nil)
	env.gen.response = "I think this book is great!"
	sub := env.submit(t)

	res, err := env.app.Process(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Outcome != OutcomeFailed || res.Submission.Status != domain.StatusError {
		t.Fatalf("expected failure, got %+v", res)
	}
	if res.Submission.Analysis != nil || res.Submission.Error == "" {
		t.Fatalf("error record must carry a message and no analysis: %+v", res.Submission)
	}
}

// Transient upstream failures are recorded, not retried: the submission
// ends in error after a single provider call and the queue handler reports
// success so the job is not redelivered.
func TestProcessTransientProviderErrorIsNotRetried(t *testing.T) {
	env := newTestEnv(t, nil)
	env.gen.err = ai.StatusError(ai.ProviderOpenAI, http.StatusServiceUnavailable, "upstream unavailable")
	sub := env.submit(t)

	if err := env.app.handleJob(context.Background(), queue.JobStatus{SubmissionID: sub.ID}); err != nil {
		t.Fatalf("handler asked for a retry: %v", err)
	}
	got, err := env.app.GetStatus(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if got.Status != domain.StatusError || !strings.Contains(got.Error, "upstream unavailable") {
		t.Fatalf("unexpected record: %+v", got)
	}
	if env.gen.callCount() != 1 {
		t.Fatalf("expected a single provider call, got %d", env.gen.callCount())
	}
}

func TestProcessInProgress(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	sub := env.submit(t)
	if ok, err := env.store.TransitionSubmission(ctx, sub.ID, store.InStatus(domain.StatusUploaded), domain.ClaimPatch(1)); err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}

	res, err := env.app.Process(ctx, sub.ID)
	if !errors.Is(err, ErrInProgress) || res.Outcome != OutcomeInProgress {
		t.Fatalf("expected in progress, got outcome=%s err=%v", res.Outcome, err)
	}
	if env.gen.callCount() != 0 {
		t.Fatalf("provider must not be called for a held record")
	}
}

func TestProcessReclaimsStaleLease(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	sub := env.submit(t)
	_, _ = env.store.TransitionSubmission(ctx, sub.ID, store.InStatus(domain.StatusUploaded), domain.ClaimPatch(1))
	env.later()

	res, err := env.app.Process(ctx, sub.ID)
	if err != nil || res.Outcome != OutcomeCompleted {
		t.Fatalf("expected stale lease to be reclaimed: outcome=%s err=%v", res.Outcome, err)
	}
	if res.Submission.Attempts != 2 {
		t.Fatalf("expected attempt 2, got %d", res.Submission.Attempts)
	}
}

func TestProcessAbandonsAfterMaxAttempts(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.MaxAttempts = 1 })
	ctx := context.Background()
	sub := env.submit(t)
	_, _ = env.store.TransitionSubmission(ctx, sub.ID, store.InStatus(domain.StatusUploaded), domain.ClaimPatch(1))
	env.later()

	res, err := env.app.Process(ctx, sub.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Outcome != OutcomeFailed || !strings.Contains(res.Submission.Error, "abandoned") {
		t.Fatalf("expected abandoned record, got %+v", res.Submission)
	}
	if env.gen.callCount() != 0 {
		t.Fatalf("abandoned record must not reach the provider")
	}
}

func TestConcurrentProcessCallsProviderOnce(t *testing.T) {
	env := newTestEnv(t, nil)
	env.gen.release = make(chan struct{})
	sub := env.submit(t)

	type outcome struct {
		res ProcessResult
		err error
	}
	results := make(chan outcome, 2)
	for range 2 {
		go func() {
			res, err := env.app.Process(context.Background(), sub.ID)
			results <- outcome{res, err}
		}()
	}

	// exactly one caller wins the claim; the other sees a fresh lease
	first := <-results
	if !errors.Is(first.err, ErrInProgress) {
		t.Fatalf("expected the losing caller to report in progress, got %v", first.err)
	}
	close(env.gen.release)
	second := <-results
	if second.err != nil || second.res.Outcome != OutcomeCompleted {
		t.Fatalf("winning caller: outcome=%s err=%v", second.res.Outcome, second.err)
	}
	if env.gen.callCount() != 1 {
		t.Fatalf("expected one provider call, got %d", env.gen.callCount())
	}
}

func TestProcessUnknownAndMalformedIDs(t *testing.T) {
	env := newTestEnv(t, nil)
	if _, err := env.app.Process(context.Background(), "65a1b2c3d4e5f60718293a4b"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := env.app.Process(context.Background(), "../etc"); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
}

func TestReconcileRequeuesStalledWork(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	a := env.submit(t)
	b := env.submit(t)
	done := env.submit(t)
	if _, err := env.app.Process(ctx, done.ID); err != nil {
		t.Fatalf("process: %v", err)
	}
	_, _ = env.store.TransitionSubmission(ctx, b.ID, store.InStatus(domain.StatusUploaded), domain.ClaimPatch(1))

	// nothing is stale yet
	if n, err := env.app.Reconcile(ctx); err != nil || n != 0 {
		t.Fatalf("expected no requeues, got n=%d err=%v", n, err)
	}

	env.later()
	before := len(env.queue.ids())
	n, err := env.app.Reconcile(ctx)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 requeues, got n=%d err=%v", n, err)
	}
	requeued := env.queue.ids()[before:]
	got := map[string]bool{}
	for _, id := range requeued {
		got[id] = true
	}
	if !got[a.ID] || !got[b.ID] || got[done.ID] {
		t.Fatalf("unexpected requeued ids: %v", requeued)
	}
}

func TestSignup(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	id := "65a1b2c3d4e5f60718293a4b"

	signup, err := env.app.Signup(ctx, SignupInput{Email: " reader@example.com ", SubmissionID: id})
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if signup.Email != "reader@example.com" || signup.SubmissionID != id {
		t.Fatalf("unexpected signup: %+v", signup)
	}
	if _, err := env.app.Signup(ctx, SignupInput{Email: "not-an-email", SubmissionID: id}); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}
	if _, err := env.app.Signup(ctx, SignupInput{Email: "reader@example.com", SubmissionID: "nope"}); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
}

type unavailableStore struct {
	store.Store
}

func (unavailableStore) GetSubmission(context.Context, string) (domain.Submission, bool, error) {
	return domain.Submission{}, false, store.ErrStoreUnavailable
}

func (unavailableStore) Ping(context.Context) error { return store.ErrStoreUnavailable }

func TestHandleJobRetriesOnlyStoreFailures(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	if err := env.app.handleJob(ctx, queue.JobStatus{SubmissionID: "65a1b2c3d4e5f60718293a4b"}); err != nil {
		t.Fatalf("unknown submission must not be retried: %v", err)
	}
	env.gen.response = "garbage"
	sub := env.submit(t)
	if err := env.app.handleJob(ctx, queue.JobStatus{SubmissionID: sub.ID}); err != nil {
		t.Fatalf("failed analysis must not be retried: %v", err)
	}

	down := newTestEnv(t, func(c *Config) { c.Store = unavailableStore{Store: store.NewMemoryStore()} })
	err := down.app.handleJob(ctx, queue.JobStatus{SubmissionID: "65a1b2c3d4e5f60718293a4b"})
	if !errors.Is(err, store.ErrStoreUnavailable) {
		t.Fatalf("expected store failure to be retried, got %v", err)
	}
}

func TestCheckConnections(t *testing.T) {
	env := newTestEnv(t, nil)
	report := env.app.CheckConnections(context.Background())
	if !report.Healthy() || report.Storage == nil {
		t.Fatalf("expected healthy report with storage, got %+v", report)
	}

	env.queue.pingErr = errors.New("connection refused")
	report = env.app.CheckConnections(context.Background())
	if report.Healthy() || report.Queue.OK || report.Queue.Error != "connection refused" || !report.Database.OK {
		t.Fatalf("unexpected report: %+v", report)
	}

	down := newTestEnv(t, func(c *Config) {
		c.Store = unavailableStore{Store: store.NewMemoryStore()}
		c.Objects = nil
	})
	report = down.app.CheckConnections(context.Background())
	if report.Database.OK || report.Storage != nil {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestNewMemoryDriverWithoutRedis(t *testing.T) {
	a, err := New(Config{DatabaseDriver: "memory", Generator: &fakeGenerator{}, ReconcileSchedule: "off"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer a.Close()
	if a.Redis() != nil {
		t.Fatalf("redis client must be nil when not configured")
	}
	if _, ok := a.queue.(*queue.MemoryQueue); !ok {
		t.Fatalf("expected in-process queue, got %T", a.queue)
	}
	if _, err := New(Config{DatabaseDriver: "oracle", Generator: &fakeGenerator{}}); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	env := newTestEnv(t, nil)
	env.app.reconcileSchedule = "every now and then"
	if err := env.app.Start(context.Background()); err == nil {
		t.Fatalf("expected schedule parse error")
	}
}
