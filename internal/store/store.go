// Package store persists verification jobs and the leases workers hold on them.
// Every job mutation goes through CompareAndSwap so concurrent writers never
// silently overwrite each other.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/claimcheck/backend/internal/models"
)

var (
	ErrNotFound        = errors.New("job not found")
	ErrVersionConflict = errors.New("job version conflict")
	ErrLeaseHeld       = errors.New("job lease held by another worker")
	ErrLeaseLost       = errors.New("job lease no longer held")
	ErrIllegalStage    = errors.New("illegal stage transition")
)

// Mutator edits a private copy of a job. Returning an error aborts the write.
type Mutator func(job *models.Job) error

// Filter selects jobs for listing and analytics. Zero fields match everything.
type Filter struct {
	Stages      []models.Stage
	Language    string
	Platform    string
	Fingerprint string
	From        time.Time
	To          time.Time
	Limit       int
	Offset      int
}

// JobStore is the durable record of every job.
type JobStore interface {
	Create(ctx context.Context, job *models.Job) (string, error)
	Get(ctx context.Context, id string) (*models.Job, error)
	// CompareAndSwap applies mutate only if the stored version equals
	// expectedVersion, then bumps the version. It returns ErrVersionConflict
	// when the version moved and ErrIllegalStage when mutate regresses the stage.
	CompareAndSwap(ctx context.Context, id string, expectedVersion int64, mutate Mutator) (*models.Job, error)
	ListPendingReview(ctx context.Context, limit, offset int) ([]*models.Job, int64, error)
	ListByFilter(ctx context.Context, filter Filter) ([]*models.Job, error)
	// FindCompletedByFingerprint returns the oldest job with a verdict for
	// the fingerprint, or ErrNotFound.
	FindCompletedByFingerprint(ctx context.Context, fingerprint string) (*models.Job, error)

	LeaseStore
	Ping(ctx context.Context) error
}

// LeaseStore serializes state machine execution per job across workers.
type LeaseStore interface {
	// AcquireLease takes the lease if it is free, expired, or already owned
	// by owner; otherwise it returns ErrLeaseHeld.
	AcquireLease(ctx context.Context, jobID, owner string, ttl time.Duration) error
	// RenewLease extends a lease owner still holds, or returns ErrLeaseLost.
	RenewLease(ctx context.Context, jobID, owner string, ttl time.Duration) error
	ReleaseLease(ctx context.Context, jobID, owner string) error
	// ListExpiredLeases returns the ids of jobs whose lease expired before now.
	ListExpiredLeases(ctx context.Context, now time.Time) ([]string, error)
}

// applyMutation runs mutate against a copy of current and enforces the stage
// ordering. The returned job carries the bumped version and timestamp.
func applyMutation(current *models.Job, mutate Mutator, now time.Time) (*models.Job, error) {
	next := current.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	if !models.CanTransition(current.Stage, next.Stage) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalStage, current.Stage, next.Stage)
	}
	next.ID = current.ID
	next.CreatedAt = current.CreatedAt
	next.Version = current.Version + 1
	next.UpdatedAt = now
	return next, nil
}

// Matches reports whether job satisfies every set field of f.
func (f Filter) Matches(job *models.Job) bool {
	if len(f.Stages) > 0 {
		found := false
		for _, s := range f.Stages {
			if job.Stage == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Language != "" && job.Language != f.Language {
		return false
	}
	if f.Platform != "" && job.Platform != f.Platform {
		return false
	}
	if f.Fingerprint != "" && job.Fingerprint != f.Fingerprint {
		return false
	}
	if !f.From.IsZero() && job.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !job.CreatedAt.Before(f.To) {
		return false
	}
	return true
}
