package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"greenlight/internal/util"
	"greenlight/pkg/domain"
)

const migrateLockID int64 = 47110815

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type GormStoreOptions struct {
	Driver   string
	LogLevel gormlogger.LogLevel
}

type GormStoreOption func(*GormStoreOptions)

// WithDriver selects the SQL dialect (postgres or sqlite).
func WithDriver(driver string) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.Driver = driver
	}
}

// WithLogLevel overrides the GORM logger level.
func WithLogLevel(level gormlogger.LogLevel) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.LogLevel = level
	}
}

// GormStore implements Store using GORM over Postgres or SQLite.
type GormStore struct {
	db     *gorm.DB
	driver string
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string, options ...GormStoreOption) (*GormStore, error) {
	opts := GormStoreOptions{Driver: DriverPostgres, LogLevel: gormlogger.Warn}
	for _, option := range options {
		if option != nil {
			option(&opts)
		}
	}

	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  opts.LogLevel,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	var dialector gorm.Dialector
	switch opts.Driver {
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	case DriverSQLite:
		if dsn == "" {
			dsn = "file::memory:"
		}
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if opts.Driver == DriverSQLite {
		// a single connection keeps in-memory databases shared and writes serialized
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("get sql db: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	migrate := func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&SubmissionModel{}, &EmailSignupModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}
	if opts.Driver == DriverPostgres {
		err = withMigrationLock(db, migrate)
	} else {
		err = migrate(db)
	}
	if err != nil {
		return nil, err
	}
	return &GormStore{db: db, driver: opts.Driver}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// InsertSubmission assigns an id, stamps timestamps and stores the record as
// uploaded.
func (s *GormStore) InsertSubmission(ctx context.Context, sub domain.Submission) (domain.Submission, error) {
	now := time.Now().UTC()
	sub.ID = util.NewID()
	sub.Status = domain.StatusUploaded
	sub.Attempts = 0
	sub.Analysis = nil
	sub.Error = ""
	sub.CompletedAt = nil
	sub.CreatedAt = now
	sub.UpdatedAt = now
	model, err := submissionToModel(sub)
	if err != nil {
		return domain.Submission{}, err
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.Submission{}, unavailable("insert submission", err)
	}
	return sub, nil
}

// GetSubmission retrieves a submission. Malformed ids fail before the query.
func (s *GormStore) GetSubmission(ctx context.Context, id string) (domain.Submission, bool, error) {
	if !util.ValidID(id) {
		return domain.Submission{}, false, ErrInvalidID
	}
	var model SubmissionModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Submission{}, false, nil
		}
		return domain.Submission{}, false, unavailable("get submission", err)
	}
	sub, err := submissionFromModel(model)
	if err != nil {
		return domain.Submission{}, false, err
	}
	return sub, true, nil
}

// UpdateSubmission merges patch into the record (last writer wins).
func (s *GormStore) UpdateSubmission(ctx context.Context, id string, patch domain.SubmissionPatch) error {
	if !util.ValidID(id) {
		return ErrInvalidID
	}
	cols, err := patchColumns(patch)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&SubmissionModel{}).Where("id = ?", id).Updates(cols)
	if res.Error != nil {
		return unavailable("update submission", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// TransitionSubmission applies patch only if the record satisfies cond. The
// check and write are a single UPDATE, so at most one concurrent caller wins.
func (s *GormStore) TransitionSubmission(ctx context.Context, id string, cond Condition, patch domain.SubmissionPatch) (bool, error) {
	if !util.ValidID(id) {
		return false, ErrInvalidID
	}
	if len(cond.Statuses) == 0 {
		return false, errors.New("transition requires at least one expected status")
	}
	cols, err := patchColumns(patch)
	if err != nil {
		return false, err
	}
	tx := s.db.WithContext(ctx).Model(&SubmissionModel{}).
		Where("id = ?", id).
		Where("status IN ?", statusStrings(cond.Statuses))
	if !cond.UpdatedBefore.IsZero() {
		tx = tx.Where("updated_at < ?", cond.UpdatedBefore.UTC())
	}
	res := tx.Updates(cols)
	if res.Error != nil {
		return false, unavailable("transition submission", res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&SubmissionModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, unavailable("transition submission", err)
	}
	if count == 0 {
		return false, ErrNotFound
	}
	return false, nil
}

// ListStaleSubmissions returns records in one of statuses whose last update is
// older than before, oldest first. Text is not loaded.
func (s *GormStore) ListStaleSubmissions(ctx context.Context, statuses []domain.SubmissionStatus, before time.Time, limit int) ([]domain.Submission, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []SubmissionModel
	if err := s.db.WithContext(ctx).
		Omit("text").
		Where("status IN ?", statusStrings(statuses)).
		Where("updated_at < ?", before.UTC()).
		Order("updated_at ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, unavailable("list stale submissions", err)
	}
	res := make([]domain.Submission, 0, len(models))
	for _, m := range models {
		sub, err := submissionFromModel(m)
		if err != nil {
			return nil, err
		}
		res = append(res, sub)
	}
	return res, nil
}

// InsertEmailSignup records a signup.
func (s *GormStore) InsertEmailSignup(ctx context.Context, e domain.EmailSignup) (domain.EmailSignup, error) {
	e.ID = util.NewID()
	e.CreatedAt = time.Now().UTC()
	model := EmailSignupModel{
		ID:           e.ID,
		Email:        e.Email,
		SubmissionID: e.SubmissionID,
		CreatedAt:    e.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.EmailSignup{}, unavailable("insert email signup", err)
	}
	return e, nil
}

// Ping checks DB connectivity.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return unavailable("ping", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func patchColumns(p domain.SubmissionPatch) (map[string]any, error) {
	cols := map[string]any{
		"updated_at": time.Now().UTC(),
	}
	if p.Status != nil {
		cols["status"] = string(*p.Status)
	}
	if p.Attempts != nil {
		cols["attempts"] = *p.Attempts
	}
	if p.ClearAnalysis {
		cols["analysis"] = nil
	}
	if p.Analysis != nil {
		raw, err := json.Marshal(p.Analysis)
		if err != nil {
			return nil, fmt.Errorf("marshal analysis: %w", err)
		}
		cols["analysis"] = datatypes.JSON(raw)
	}
	if p.Error != nil {
		cols["error_message"] = *p.Error
	}
	if p.CompletedAt != nil {
		cols["completed_at"] = p.CompletedAt.UTC()
	}
	if p.StorageKey != nil {
		cols["storage_key"] = *p.StorageKey
	}
	return cols, nil
}

func submissionToModel(s domain.Submission) (SubmissionModel, error) {
	m := SubmissionModel{
		ID:           s.ID,
		Synopsis:     s.Synopsis,
		Text:         s.Text,
		FileName:     s.FileName,
		FileSize:     s.FileSize,
		StorageKey:   s.StorageKey,
		Status:       string(s.Status),
		Attempts:     s.Attempts,
		ErrorMessage: s.Error,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
		CompletedAt:  s.CompletedAt,
	}
	if s.Analysis != nil {
		raw, err := json.Marshal(s.Analysis)
		if err != nil {
			return SubmissionModel{}, fmt.Errorf("marshal analysis: %w", err)
		}
		m.Analysis = datatypes.JSON(raw)
	}
	return m, nil
}

func submissionFromModel(m SubmissionModel) (domain.Submission, error) {
	s := domain.Submission{
		ID:          m.ID,
		Synopsis:    m.Synopsis,
		Text:        m.Text,
		FileName:    m.FileName,
		FileSize:    m.FileSize,
		StorageKey:  m.StorageKey,
		Status:      domain.SubmissionStatus(m.Status),
		Attempts:    m.Attempts,
		Error:       m.ErrorMessage,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
		CompletedAt: m.CompletedAt,
	}
	if len(m.Analysis) > 0 && string(m.Analysis) != "null" {
		var result domain.AnalysisResult
		if err := json.Unmarshal(m.Analysis, &result); err != nil {
			return domain.Submission{}, fmt.Errorf("decode analysis for %s: %w", m.ID, err)
		}
		s.Analysis = &result
	}
	return s, nil
}
