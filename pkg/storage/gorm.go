package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jdziat/durable-queue/pkg/core"
	"github.com/jdziat/durable-queue/pkg/security"
)

// DriverName is the default backend name of GormStorage.
const DriverName = "gorm"

// popRetries bounds how often Pop retries after losing a claim race.
const popRetries = 5

// GormStorage implements core.Storage using GORM.
type GormStorage struct {
	db   *gorm.DB
	name string
	now  func() time.Time
}

// Option configures a GormStorage.
type Option interface {
	apply(*GormStorage)
}

type optionFunc func(*GormStorage)

func (f optionFunc) apply(s *GormStorage) { f(s) }

// WithName sets the backend name recorded on jobs pushed through this store.
func WithName(name string) Option {
	return optionFunc(func(s *GormStorage) {
		s.name = name
	})
}

// WithClock replaces the time source. Returned times are converted to UTC.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(s *GormStorage) {
		s.now = func() time.Time { return now().UTC() }
	})
}

// NewGormStorage creates a new GORM-backed storage.
func NewGormStorage(db *gorm.DB, opts ...Option) *GormStorage {
	s := &GormStorage{
		db:   db,
		name: DriverName,
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt.apply(s)
	}
	return s
}

// DB returns the underlying database handle.
func (s *GormStorage) DB() *gorm.DB {
	return s.db
}

// IsSQLite reports whether the store runs on SQLite.
func (s *GormStorage) IsSQLite() bool {
	return s.db != nil && s.db.Dialector.Name() == "sqlite"
}

// IsPostgres reports whether the store runs on PostgreSQL.
func (s *GormStorage) IsPostgres() bool {
	return s.db != nil && s.db.Dialector.Name() == "postgres"
}

// Name implements core.Driver.
func (s *GormStorage) Name() string {
	return s.name
}

// Migrate creates the necessary tables.
func (s *GormStorage) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&core.Job{},
		&core.FailedJob{},
		&core.Chain{},
		&core.Batch{},
		&core.Snapshot{},
		&core.UniqueLock{},
		&core.RateHit{},
		&core.QueueState{},
	)
}

// Ping checks that the database is reachable.
func (s *GormStorage) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return core.Infra("ping", err)
	}
	return core.Infra("ping", sqlDB.PingContext(ctx))
}

func (s *GormStorage) prepare(job *core.Job, now time.Time) {
	if job.ID == "" {
		job.ID = core.NewJobID()
	}
	if job.Queue == "" {
		job.Queue = core.DefaultQueue
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = 1
	}
	if job.AvailableAt.IsZero() {
		job.AvailableAt = now
	}
	job.AvailableAt = job.AvailableAt.UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.CreatedAt = job.CreatedAt.UTC()
	job.Backend = s.name
}

// Push adds a job to the queue.
func (s *GormStorage) Push(ctx context.Context, job *core.Job) error {
	s.prepare(job, s.now())
	return core.Infra("push", s.db.WithContext(ctx).Create(job).Error)
}

// PushBatch adds several jobs in one transaction.
func (s *GormStorage) PushBatch(ctx context.Context, jobs []*core.Job) error {
	if len(jobs) == 0 {
		return nil
	}
	now := s.now()
	for _, job := range jobs {
		s.prepare(job, now)
	}
	return core.Infra("push batch", s.db.WithContext(ctx).CreateInBatches(jobs, 100).Error)
}

// Pop reserves the highest-priority, earliest-available job of queue.
// The candidate is selected inside a transaction (FOR UPDATE SKIP LOCKED on
// PostgreSQL) and claimed with a compare-and-set on the reserved flag, so
// two workers never hold the same job. Returns nil when nothing is ready.
func (s *GormStorage) Pop(ctx context.Context, queue string, owner string) (*core.Job, error) {
	for range popRetries {
		job, lost, err := s.tryPop(ctx, queue, owner)
		if err != nil {
			return nil, core.Infra("pop", err)
		}
		if !lost {
			return job, nil
		}
	}
	return nil, nil
}

func (s *GormStorage) tryPop(ctx context.Context, queue, owner string) (*core.Job, bool, error) {
	var claimed *core.Job
	lost := false
	now := s.now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.
			Where("queue = ?", queue).
			Where("reserved = ?", false).
			Where("available_at <= ?", now).
			Order("priority DESC, available_at ASC, created_at ASC, id ASC").
			Limit(1)
		if s.IsPostgres() {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var candidates []core.Job
		if err := q.Find(&candidates).Error; err != nil {
			return err
		}
		if len(candidates) == 0 {
			return nil
		}
		job := candidates[0]

		result := tx.Model(&core.Job{}).
			Where("id = ? AND reserved = ?", job.ID, false).
			Updates(map[string]any{
				"reserved":    true,
				"reserved_by": owner,
				"reserved_at": now,
				"attempts":    gorm.Expr("attempts + 1"),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			lost = true
			return nil
		}

		job.Reserved = true
		job.ReservedBy = owner
		job.ReservedAt = &now
		job.Attempts++
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return claimed, lost, nil
}

// ownershipError explains why an owner-guarded update matched no rows.
func (s *GormStorage) ownershipError(ctx context.Context, jobID string) error {
	var count int64
	err := s.db.WithContext(ctx).Model(&core.Job{}).Where("id = ?", jobID).Count(&count).Error
	if err != nil {
		return err
	}
	if count == 0 {
		return core.ErrJobNotFound
	}
	return core.ErrJobNotOwned
}

// Release returns a reserved job to the pool, available again at
// availableAt. When attempt is non-nil it is appended to the job history,
// otherwise the attempt counted by Pop is returned.
// Validates that the worker owns the job.
func (s *GormStorage) Release(ctx context.Context, jobID string, owner string, availableAt time.Time, attempt *core.AttemptRecord) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var jobs []core.Job
		err := tx.
			Where("id = ? AND reserved = ? AND reserved_by = ?", jobID, true, owner).
			Limit(1).
			Find(&jobs).Error
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			return s.ownershipErrorTx(tx, jobID)
		}
		job := jobs[0]

		updates := map[string]any{
			"reserved":     false,
			"reserved_by":  "",
			"reserved_at":  nil,
			"available_at": availableAt.UTC(),
		}
		if attempt != nil {
			rec := *attempt
			rec.At = rec.At.UTC()
			rec.Error = security.SanitizeErrorMessage(rec.Error)
			job.History = append(job.History, rec)
			updates["history"] = job.History
			updates["last_error"] = rec.Error
		} else if job.Attempts > 0 {
			updates["attempts"] = gorm.Expr("attempts - 1")
		}

		return tx.Model(&core.Job{}).
			Where("id = ? AND reserved_by = ?", jobID, owner).
			Updates(updates).Error
	})
	return core.Infra("release", err)
}

func (s *GormStorage) ownershipErrorTx(tx *gorm.DB, jobID string) error {
	var count int64
	if err := tx.Model(&core.Job{}).Where("id = ?", jobID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return core.ErrJobNotFound
	}
	return core.ErrJobNotOwned
}

// Delete removes a completed job. Validates that the worker owns it.
func (s *GormStorage) Delete(ctx context.Context, jobID string, owner string) error {
	result := s.db.WithContext(ctx).
		Where("id = ? AND reserved = ? AND reserved_by = ?", jobID, true, owner).
		Delete(&core.Job{})
	if result.Error != nil {
		return core.Infra("delete", result.Error)
	}
	if result.RowsAffected == 0 {
		return core.Infra("delete", s.ownershipError(ctx, jobID))
	}
	return nil
}

// Bury moves a reserved job into failed_jobs in one transaction.
func (s *GormStorage) Bury(ctx context.Context, jobID string, owner string, failed *core.FailedJob) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.
			Where("id = ? AND reserved = ? AND reserved_by = ?", jobID, true, owner).
			Delete(&core.Job{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return s.ownershipErrorTx(tx, jobID)
		}
		s.prepareFailed(failed)
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(failed).Error
	})
	return core.Infra("bury", err)
}

// Remove deletes an unreserved job.
func (s *GormStorage) Remove(ctx context.Context, jobID string) (bool, error) {
	result := s.db.WithContext(ctx).
		Where("id = ? AND reserved = ?", jobID, false).
		Delete(&core.Job{})
	if result.Error != nil {
		return false, core.Infra("remove", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// RemoveBatch deletes every unreserved member of a batch.
func (s *GormStorage) RemoveBatch(ctx context.Context, batchID string) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("batch_id = ? AND reserved = ?", batchID, false).
		Delete(&core.Job{})
	return result.RowsAffected, core.Infra("remove batch", result.Error)
}

// Get retrieves a job by ID.
func (s *GormStorage) Get(ctx context.Context, jobID string) (*core.Job, error) {
	var job core.Job
	err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrJobNotFound
	}
	if err != nil {
		return nil, core.Infra("get", err)
	}
	return &job, nil
}

// Size counts the jobs of queue that are ready to run.
func (s *GormStorage) Size(ctx context.Context, queue string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("queue = ? AND reserved = ? AND available_at <= ?", queue, false, s.now()).
		Count(&count).Error
	return count, core.Infra("size", err)
}

// Clear deletes every live job of queue, reserved or not.
func (s *GormStorage) Clear(ctx context.Context, queue string) (int64, error) {
	result := s.db.WithContext(ctx).Where("queue = ?", queue).Delete(&core.Job{})
	return result.RowsAffected, core.Infra("clear", result.Error)
}

// ReleaseStuck returns reservations older than olderThan to the pool. Their
// consumed attempt stays counted.
func (s *GormStorage) ReleaseStuck(ctx context.Context, queue string, olderThan time.Duration) (int64, error) {
	cutoff := s.now().Add(-olderThan)
	q := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("reserved = ? AND reserved_at < ?", true, cutoff)
	if queue != "" {
		q = q.Where("queue = ?", queue)
	}
	result := q.Updates(map[string]any{
		"reserved":    false,
		"reserved_by": "",
		"reserved_at": nil,
	})
	return result.RowsAffected, core.Infra("release stuck", result.Error)
}
