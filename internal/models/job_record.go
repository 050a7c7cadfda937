package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// JobRecord is the persisted row for a Job. Nested stage outputs are stored
// as JSON columns; Version backs optimistic concurrency.
type JobRecord struct {
	ID             string         `gorm:"primaryKey;size:36"`
	Fingerprint    string         `gorm:"index;size:64;not null"`
	Text           string         `gorm:"type:text;not null"`
	Language       string         `gorm:"index;size:16"`
	Platform       string         `gorm:"size:64"`
	Stage          Stage          `gorm:"index;size:32;not null;default:'queued'"`
	Version        int64          `gorm:"not null;default:0"`
	Run            int            `gorm:"not null;default:1"`
	Claims         datatypes.JSON `gorm:"type:jsonb"`
	Evidence       datatypes.JSON `gorm:"type:jsonb"`
	Stances        datatypes.JSON `gorm:"type:jsonb"`
	Verdict        datatypes.JSON `gorm:"type:jsonb"`
	ReviewDecision datatypes.JSON `gorm:"type:jsonb"`
	Error          datatypes.JSON `gorm:"type:jsonb"`
	FromCache      bool           `gorm:"not null;default:false"`
	CreatedAt      time.Time      `gorm:"index"`
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

func (JobRecord) TableName() string {
	return "verification_jobs"
}

// JobLease is the advisory lock a worker holds while running a job's state
// machine. A lease past ExpiresAt may be taken over by any worker.
type JobLease struct {
	JobID     string    `gorm:"primaryKey;size:36"`
	Owner     string    `gorm:"size:64;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (JobLease) TableName() string {
	return "job_leases"
}

// ToRecord flattens a Job into its row form.
func (j *Job) ToRecord() (*JobRecord, error) {
	rec := &JobRecord{
		ID:          j.ID,
		Fingerprint: j.Fingerprint,
		Text:        j.Text,
		Language:    j.Language,
		Platform:    j.Platform,
		Stage:       j.Stage,
		Version:     j.Version,
		Run:         j.Run,
		FromCache:   j.FromCache,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
		CompletedAt: j.CompletedAt,
	}
	fields := []struct {
		name string
		src  interface{}
		dst  *datatypes.JSON
	}{
		{"claims", j.Claims, &rec.Claims},
		{"evidence", j.Evidence, &rec.Evidence},
		{"stances", j.Stances, &rec.Stances},
		{"verdict", j.Verdict, &rec.Verdict},
		{"review decision", j.ReviewDecision, &rec.ReviewDecision},
		{"error", j.Error, &rec.Error},
	}
	for _, f := range fields {
		raw, err := json.Marshal(f.src)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", f.name, err)
		}
		*f.dst = datatypes.JSON(raw)
	}
	return rec, nil
}

// ToJob expands a row back into a Job.
func (r *JobRecord) ToJob() (*Job, error) {
	job := &Job{
		ID:          r.ID,
		Fingerprint: r.Fingerprint,
		Text:        r.Text,
		Language:    r.Language,
		Platform:    r.Platform,
		Stage:       r.Stage,
		Version:     r.Version,
		Run:         r.Run,
		FromCache:   r.FromCache,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		CompletedAt: r.CompletedAt,
	}
	fields := []struct {
		name string
		src  datatypes.JSON
		dst  interface{}
	}{
		{"claims", r.Claims, &job.Claims},
		{"evidence", r.Evidence, &job.Evidence},
		{"stances", r.Stances, &job.Stances},
		{"verdict", r.Verdict, &job.Verdict},
		{"review decision", r.ReviewDecision, &job.ReviewDecision},
		{"error", r.Error, &job.Error},
	}
	for _, f := range fields {
		if len(f.src) == 0 {
			continue
		}
		if err := json.Unmarshal(f.src, f.dst); err != nil {
			return nil, fmt.Errorf("failed to decode %s for job %s: %w", f.name, r.ID, err)
		}
	}
	return job, nil
}
