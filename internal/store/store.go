// Package store implements the durable job record (C1): a write-through
// GORM-backed map from job id to Job, with per-id serialized mutation and
// a single update-by-mutator primitive that is the only write path, the
// same shape as the teacher's generic Repository[T] plus its WAL-mode
// SQLite setup in internal/database.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"transcriflow/internal/models"
	"transcriflow/pkg/logger"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Sentinel errors for the store's write API (spec §4.1).
var (
	ErrAlreadyExists    = errors.New("job already exists")
	ErrNotFound         = errors.New("job not found")
	ErrIllegalTransition = errors.New("illegal status transition")
)

// Publisher is the notification hook the store calls after every successful
// mutation. It must not block. The store is the only component allowed to
// call it (spec §4.5 "Workers never publish directly").
type Publisher interface {
	Publish(models.ProgressEvent)
}

// Filter narrows a List call.
type Filter struct {
	Status *models.JobStatus
	Limit  int
}

// Store is the durable job record contract (spec §4.1).
type Store struct {
	db        *gorm.DB
	publisher Publisher

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// Open connects to (and migrates) the SQLite-backed store at path, using
// the same WAL/pool tuning as the teacher's internal/database.Initialize.
func Open(path string, pub Publisher) (*Store, error) {
	dsn := fmt.Sprintf("%s?"+
		"_pragma=foreign_keys(1)&"+
		"_pragma=journal_mode(WAL)&"+
		"_pragma=synchronous(NORMAL)&"+
		"_pragma=cache_size(-64000)&"+
		"_pragma=temp_store(MEMORY)&"+
		"_timeout=30000", path)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := db.AutoMigrate(&models.Job{}, &models.Attempt{}, &models.Batch{}); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	return &Store{
		db:        db,
		publisher: pub,
		locks:     make(map[string]*sync.Mutex),
	}, nil
}

// NewInMemory wraps an already-open *gorm.DB, for tests that want a fresh
// in-memory SQLite database instead of a file on disk.
func NewInMemory(db *gorm.DB, pub Publisher) (*Store, error) {
	if err := db.AutoMigrate(&models.Job{}, &models.Attempt{}, &models.Batch{}); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return &Store{db: db, publisher: pub, locks: make(map[string]*sync.Mutex)}, nil
}

func (s *Store) lockFor(jobID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[jobID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[jobID] = l
	}
	return l
}

// Create persists a new job. It fails with ErrAlreadyExists if the id is
// already taken.
func (s *Store) Create(ctx context.Context, job *models.Job) error {
	lock := s.lockFor(job.ID)
	lock.Lock()
	defer lock.Unlock()

	var existing models.Job
	err := s.db.WithContext(ctx).Where("id = ?", job.ID).First(&existing).Error
	if err == nil {
		return ErrAlreadyExists
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	logger.Info("job created", "job_id", job.ID, "kind", job.Kind)
	return nil
}

// Get returns the current record, or nil, nil if absent.
func (s *Store) Get(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	err := s.db.WithContext(ctx).Where("id = ?", jobID).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// Mutator mutates a loaded job in place. It returns an error to abort the
// update without persisting (e.g. a domain-level validation failure).
type Mutator func(*models.Job) error

// Update loads the current record under the job's lock, applies mutator,
// validates the resulting status transition, writes durably, and emits a
// broker event. This is the only write path that can change an existing
// job (spec §4.1/§4.5).
func (s *Store) Update(ctx context.Context, jobID string, mutate Mutator) (*models.Job, error) {
	lock := s.lockFor(jobID)
	lock.Lock()
	defer lock.Unlock()

	var job models.Job
	if err := s.db.WithContext(ctx).Where("id = ?", jobID).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	before := job.Status
	if err := mutate(&job); err != nil {
		return nil, err
	}

	if job.Status != before && !before.CanTransitionTo(job.Status) {
		return nil, ErrIllegalTransition
	}
	if job.Status == models.StatusCompleted && job.Progress != 100 {
		return nil, fmt.Errorf("%w: completed job must have progress=100", ErrIllegalTransition)
	}
	if job.Status == models.StatusCompleted && job.ResultRef == nil {
		return nil, fmt.Errorf("%w: completed job must set result_ref", ErrIllegalTransition)
	}
	if job.Status == models.StatusFailed && job.Error() == nil {
		return nil, fmt.Errorf("%w: failed job must set error", ErrIllegalTransition)
	}

	if err := s.db.WithContext(ctx).Save(&job).Error; err != nil {
		return nil, fmt.Errorf("persist update: %w", err)
	}

	if s.publisher != nil {
		s.publisher.Publish(models.FromJob(&job))
	}
	return &job, nil
}

// List returns jobs ordered by created_at desc, optionally filtered by
// status and capped at a limit.
func (s *Store) List(ctx context.Context, f Filter) ([]models.Job, error) {
	q := s.db.WithContext(ctx).Model(&models.Job{}).Order("created_at DESC")
	if f.Status != nil {
		q = q.Where("status = ?", *f.Status)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var jobs []models.Job
	if err := q.Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// DeleteTerminalOlderThan removes terminal job records (and their attempt
// history) whose updated_at is older than horizon. Returns the deleted
// jobs so the caller (the retention sweeper) can remove the associated
// artifact files.
func (s *Store) DeleteTerminalOlderThan(ctx context.Context, horizon time.Duration) ([]models.Job, error) {
	cutoff := time.Now().Add(-horizon)
	var victims []models.Job
	err := s.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", []models.JobStatus{
			models.StatusCompleted, models.StatusFailed, models.StatusCancelled,
		}, cutoff).
		Find(&victims).Error
	if err != nil {
		return nil, err
	}
	if len(victims) == 0 {
		return nil, nil
	}

	ids := make([]string, len(victims))
	for i, v := range victims {
		ids[i] = v.ID
	}
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.Job{}).Error; err != nil {
		return nil, fmt.Errorf("delete terminal jobs: %w", err)
	}
	if err := s.db.WithContext(ctx).Where("job_id IN ?", ids).Delete(&models.Attempt{}).Error; err != nil {
		logger.Warn("failed to delete attempt history for swept jobs", "error", err)
	}
	return victims, nil
}

// RecordAttempt logs one worker execution. Attempts are additive
// bookkeeping and never affect the job state machine.
func (s *Store) RecordAttempt(ctx context.Context, a *models.Attempt) error {
	return s.db.WithContext(ctx).Create(a).Error
}

// RehydrateInFlight implements the crash-recovery policy from spec §9: any
// job left `processing` across a restart is transitioned to `failed` with
// error.kind=server, since no subprocess survives the restart to resume.
// Called once at startup before the worker pool starts claiming jobs.
func (s *Store) RehydrateInFlight(ctx context.Context) (int, error) {
	status := models.StatusProcessing
	stale, err := s.List(ctx, Filter{Status: &status})
	if err != nil {
		return 0, err
	}
	for _, j := range stale {
		_, err := s.Update(ctx, j.ID, func(job *models.Job) error {
			job.Status = models.StatusFailed
			job.SetError(models.JobError{Kind: models.ErrKindServer, Message: "interrupted by restart"})
			return nil
		})
		if err != nil {
			logger.Error("failed to mark stale job as failed on rehydrate", "job_id", j.ID, "error", err)
		}
	}
	return len(stale), nil
}

// DB exposes the underlying *gorm.DB for direct queries outside the
// Store's own methods; within this module only tests call it.
func (s *Store) DB() *gorm.DB {
	return s.db
}
