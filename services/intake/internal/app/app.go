package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"greenlight/internal/metrics"
	"greenlight/pkg/ai"
	"greenlight/pkg/analysis"
	"greenlight/pkg/pdftext"
	"greenlight/pkg/queue"
	"greenlight/pkg/storage"
	"greenlight/pkg/store"
)

const (
	defaultExtractTimeout  = 30 * time.Second
	defaultAnalysisTimeout = 60 * time.Second
	defaultStaleAfter      = 5 * time.Minute
	defaultMaxAttempts     = 3
	defaultSynopsisMax     = 1000
	reconcileBatch         = 100
	finalizeTimeout        = 10 * time.Second
)

// Config holds runtime configuration for the intake service. Store, Queue,
// Objects and Generator are used as given when set; otherwise they are built
// from the connection settings.
type Config struct {
	Store     store.Store
	Queue     queue.Queue
	Objects   storage.ObjectStore
	Generator ai.TextGenerator
	Metrics   *metrics.Metrics

	DatabaseDriver string
	DatabaseURL    string

	RedisAddr        string
	RedisPassword    string
	QueueName        string
	QueueGroup       string
	QueueConcurrency int
	QueueMaxRetries  int
	QueueRetryDelay  time.Duration

	Minio storage.MinioConfig
	LLM   ai.GeneratorConfig

	MaxUploadBytes   int64
	MaxPages         int
	SynopsisMaxChars int
	ExcerptChars     int
	CacheTTL         time.Duration
	CacheMaxEntries  int

	ExtractTimeout    time.Duration
	AnalysisTimeout   time.Duration
	StaleAfter        time.Duration
	MaxAttempts       int
	ReconcileSchedule string
}

// App coordinates the submission lifecycle: intake, background analysis
// and recovery of stalled work.
type App struct {
	store     store.Store
	queue     queue.Queue
	objects   storage.ObjectStore
	extractor *pdftext.Extractor
	analyzer  *analysis.Client
	metrics   *metrics.Metrics
	validate  *validator.Validate
	redis     *redis.Client
	cron      *cron.Cron

	concurrency       int
	synopsisMax       int
	extractTimeout    time.Duration
	analysisTimeout   time.Duration
	staleAfter        time.Duration
	maxAttempts       int
	reconcileSchedule string
	now               func() time.Time
}

// New constructs the application and its backing services.
func New(cfg Config) (*App, error) {
	a := &App{
		objects:           cfg.Objects,
		metrics:           cfg.Metrics,
		validate:          validator.New(),
		concurrency:       cfg.QueueConcurrency,
		synopsisMax:       cfg.SynopsisMaxChars,
		extractTimeout:    cfg.ExtractTimeout,
		analysisTimeout:   cfg.AnalysisTimeout,
		staleAfter:        cfg.StaleAfter,
		maxAttempts:       cfg.MaxAttempts,
		reconcileSchedule: strings.TrimSpace(cfg.ReconcileSchedule),
		now:               func() time.Time { return time.Now().UTC() },
	}
	if a.metrics == nil {
		a.metrics = metrics.New()
	}
	if a.concurrency <= 0 {
		a.concurrency = 4
	}
	if a.synopsisMax <= 0 {
		a.synopsisMax = defaultSynopsisMax
	}
	if a.extractTimeout <= 0 {
		a.extractTimeout = defaultExtractTimeout
	}
	if a.analysisTimeout <= 0 {
		a.analysisTimeout = defaultAnalysisTimeout
	}
	if a.staleAfter <= 0 {
		a.staleAfter = defaultStaleAfter
	}
	if a.maxAttempts <= 0 {
		a.maxAttempts = defaultMaxAttempts
	}

	a.extractor = pdftext.New(pdftext.Options{MaxBytes: cfg.MaxUploadBytes, MaxPages: cfg.MaxPages})

	gen := cfg.Generator
	if gen == nil {
		var err error
		gen, err = ai.NewGenerator(cfg.LLM)
		if err != nil {
			return nil, fmt.Errorf("init llm provider: %w", err)
		}
	}
	a.analyzer = analysis.New(gen, analysis.Config{
		ExcerptChars:    cfg.ExcerptChars,
		CacheTTL:        cfg.CacheTTL,
		CacheMaxEntries: cfg.CacheMaxEntries,
	})

	if err := a.initStore(cfg); err != nil {
		return nil, err
	}
	if err := a.initQueue(cfg); err != nil {
		_ = a.store.Close()
		return nil, err
	}
	if a.objects == nil && strings.TrimSpace(cfg.Minio.Endpoint) != "" {
		objects, err := storage.NewMinioStore(cfg.Minio)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init object store: %w", err)
		}
		a.objects = objects
	}
	return a, nil
}

func (a *App) initStore(cfg Config) error {
	if cfg.Store != nil {
		a.store = cfg.Store
		return nil
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.DatabaseDriver))
	switch driver {
	case "memory":
		slog.Warn("using in-memory store; submissions are lost on restart")
		a.store = store.NewMemoryStore()
		return nil
	case "", store.DriverPostgres, store.DriverSQLite:
		if cfg.DatabaseURL == "" {
			return errors.New("database URL required")
		}
		if driver == "" {
			driver = store.DriverPostgres
		}
		s, err := store.NewGormStore(cfg.DatabaseURL, store.WithDriver(driver))
		if err != nil {
			return fmt.Errorf("init %s store: %w", driver, err)
		}
		a.store = s
		return nil
	default:
		return fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
	}
}

func (a *App) initQueue(cfg Config) error {
	if strings.TrimSpace(cfg.RedisAddr) != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	}
	if cfg.Queue != nil {
		a.queue = cfg.Queue
		return nil
	}
	if a.redis == nil {
		slog.Warn("redis not configured; using in-process queue")
		a.queue = queue.NewMemoryQueue(queue.MemoryQueueConfig{
			MaxRetries: cfg.QueueMaxRetries,
			RetryDelay: cfg.QueueRetryDelay,
		})
		return nil
	}
	name := strings.TrimSpace(cfg.QueueName)
	if name == "" {
		name = "greenlight:analysis"
	}
	q, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
		Client:     a.redis,
		Stream:     name,
		Group:      cfg.QueueGroup,
		MaxRetries: cfg.QueueMaxRetries,
		RetryDelay: cfg.QueueRetryDelay,
	})
	if err != nil {
		return fmt.Errorf("init queue: %w", err)
	}
	a.queue = q
	return nil
}

// Start launches the analysis workers and the reconciliation schedule. Both
// stop when ctx is canceled or Close is called.
func (a *App) Start(ctx context.Context) error {
	a.queue.Start(ctx, a.concurrency, a.handleJob)

	if a.reconcileSchedule == "" || a.reconcileSchedule == "off" {
		return nil
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc(a.reconcileSchedule, func() {
		n, err := a.Reconcile(ctx)
		if err != nil {
			slog.Warn("reconcile failed", "err", err, "requeued", n)
			return
		}
		if n > 0 {
			slog.Info("reconcile requeued submissions", "count", n)
		}
	}); err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", a.reconcileSchedule, err)
	}
	c.Start()
	a.cron = c
	return nil
}

// Close stops the scheduler and releases the queue, store and Redis client.
func (a *App) Close() {
	if a.cron != nil {
		<-a.cron.Stop().Done()
	}
	if a.queue != nil {
		if err := a.queue.Close(); err != nil {
			slog.Warn("close queue", "err", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			slog.Warn("close store", "err", err)
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}

// Redis returns the shared Redis client, or nil when Redis is not configured.
func (a *App) Redis() *redis.Client { return a.redis }

// Metrics returns the collectors used by the app.
func (a *App) Metrics() *metrics.Metrics { return a.metrics }

// MaxUploadBytes is the largest accepted PDF.
func (a *App) MaxUploadBytes() int64 { return a.extractor.MaxBytes() }
