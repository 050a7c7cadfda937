package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/claimcheck/backend/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore persists jobs in postgres. Optimistic concurrency is realized as
// an UPDATE guarded by the expected version; leases use an upsert that only
// succeeds when the previous lease is expired or already ours.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, now: time.Now}
}

// AutoMigrate creates or updates the job and lease tables.
func (s *GormStore) AutoMigrate() error {
	return s.db.AutoMigrate(&models.JobRecord{}, &models.JobLease{})
}

func (s *GormStore) Create(ctx context.Context, job *models.Job) (string, error) {
	stored := job.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	now := s.now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	if stored.Stage == "" {
		stored.Stage = models.StageQueued
	}
	if stored.Run == 0 {
		stored.Run = 1
	}
	stored.Version = 1

	rec, err := stored.ToRecord()
	if err != nil {
		return "", err
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return "", fmt.Errorf("failed to create job: %w", err)
	}
	return stored.ID, nil
}

func (s *GormStore) Get(ctx context.Context, id string) (*models.Job, error) {
	var rec models.JobRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return rec.ToJob()
}

func (s *GormStore) CompareAndSwap(ctx context.Context, id string, expectedVersion int64, mutate Mutator) (*models.Job, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Version != expectedVersion {
		return nil, ErrVersionConflict
	}
	next, err := applyMutation(current, mutate, s.now())
	if err != nil {
		return nil, err
	}
	rec, err := next.ToRecord()
	if err != nil {
		return nil, err
	}

	res := s.db.WithContext(ctx).
		Model(&models.JobRecord{}).
		Where("id = ? AND version = ?", id, expectedVersion).
		Select("*").
		Omit("id", "created_at").
		Updates(rec)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to update job %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrVersionConflict
	}
	return next, nil
}

func (s *GormStore) ListPendingReview(ctx context.Context, limit, offset int) ([]*models.Job, int64, error) {
	filter := Filter{Stages: []models.Stage{models.StagePendingReview}, Limit: limit, Offset: offset}

	var total int64
	if err := s.filtered(ctx, Filter{Stages: filter.Stages}).Model(&models.JobRecord{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count pending review jobs: %w", err)
	}
	jobs, err := s.ListByFilter(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

func (s *GormStore) ListByFilter(ctx context.Context, filter Filter) ([]*models.Job, error) {
	query := s.filtered(ctx, filter).Order("created_at ASC, id ASC")
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var recs []models.JobRecord
	if err := query.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]*models.Job, 0, len(recs))
	for i := range recs {
		job, err := recs[i].ToJob()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (s *GormStore) filtered(ctx context.Context, filter Filter) *gorm.DB {
	query := s.db.WithContext(ctx)
	if len(filter.Stages) > 0 {
		query = query.Where("stage IN ?", filter.Stages)
	}
	if filter.Language != "" {
		query = query.Where("language = ?", filter.Language)
	}
	if filter.Platform != "" {
		query = query.Where("platform = ?", filter.Platform)
	}
	if filter.Fingerprint != "" {
		query = query.Where("fingerprint = ?", filter.Fingerprint)
	}
	if !filter.From.IsZero() {
		query = query.Where("created_at >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		query = query.Where("created_at < ?", filter.To)
	}
	return query
}

func (s *GormStore) FindCompletedByFingerprint(ctx context.Context, fingerprint string) (*models.Job, error) {
	jobs, err := s.ListByFilter(ctx, Filter{
		Fingerprint: fingerprint,
		Stages:      []models.Stage{models.StageCompleted, models.StagePendingReview},
		Limit:       1,
	})
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, ErrNotFound
	}
	return jobs[0], nil
}

func (s *GormStore) AcquireLease(ctx context.Context, jobID, owner string, ttl time.Duration) error {
	now := s.now()
	lease := models.JobLease{JobID: jobID, Owner: owner, ExpiresAt: now.Add(ttl)}

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "job_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"owner", "expires_at", "updated_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "job_leases.expires_at <= ? OR job_leases.owner = ?", Vars: []interface{}{now, owner}},
		}},
	}).Create(&lease)
	if res.Error != nil {
		return fmt.Errorf("failed to acquire lease for job %s: %w", jobID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrLeaseHeld
	}
	return nil
}

func (s *GormStore) RenewLease(ctx context.Context, jobID, owner string, ttl time.Duration) error {
	res := s.db.WithContext(ctx).
		Model(&models.JobLease{}).
		Where("job_id = ? AND owner = ?", jobID, owner).
		Update("expires_at", s.now().Add(ttl))
	if res.Error != nil {
		return fmt.Errorf("failed to renew lease for job %s: %w", jobID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (s *GormStore) ReleaseLease(ctx context.Context, jobID, owner string) error {
	err := s.db.WithContext(ctx).
		Where("job_id = ? AND owner = ?", jobID, owner).
		Delete(&models.JobLease{}).Error
	if err != nil {
		return fmt.Errorf("failed to release lease for job %s: %w", jobID, err)
	}
	return nil
}

func (s *GormStore) ListExpiredLeases(ctx context.Context, now time.Time) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&models.JobLease{}).
		Where("expires_at <= ?", now).
		Order("job_id").
		Pluck("job_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list expired leases: %w", err)
	}
	return ids, nil
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
