package services

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/claimcheck/backend/internal/cache"
	"github.com/claimcheck/backend/internal/logger"
	"github.com/claimcheck/backend/internal/models"
	"github.com/claimcheck/backend/internal/store"
)

const MaxTextLength = 20000

// Enqueuer schedules a job id for a worker.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobID string) error
}

type SubmitRequest struct {
	Text     string
	Language string
	Platform string
}

// SubmitResult reports the job serving a submission. Existing is set when
// an earlier completed job with the same fingerprint was returned.
type SubmitResult struct {
	Job      *models.Job
	Existing bool
}

// VerificationService accepts submissions and manages job lifecycles.
type VerificationService struct {
	store    store.JobStore
	enqueuer Enqueuer
}

func NewVerificationService(jobStore store.JobStore, enqueuer Enqueuer) *VerificationService {
	return &VerificationService{store: jobStore, enqueuer: enqueuer}
}

// Submit validates and fingerprints the text. If a completed job already
// carries the fingerprint its id is returned; otherwise a new job is
// created and enqueued.
func (s *VerificationService) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	text := strings.TrimSpace(cache.VisibleText(req.Text))
	if text == "" {
		return nil, &ValidationError{Field: "text", Message: "is required"}
	}
	if utf8.RuneCountInString(text) > MaxTextLength {
		return nil, &ValidationError{Field: "text", Message: "exceeds maximum length"}
	}
	if strings.TrimSpace(req.Language) == "" {
		return nil, &ValidationError{Field: "language", Message: "is required"}
	}
	language := cache.NormalizeLanguage(req.Language)
	fingerprint := cache.Fingerprint(text, language)

	existing, err := s.store.FindCompletedByFingerprint(ctx, fingerprint)
	if err == nil {
		logger.Info("Returning existing job for duplicate submission", map[string]interface{}{
			"job_id":      existing.ID,
			"fingerprint": fingerprint,
		})
		return &SubmitResult{Job: existing, Existing: true}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	job := &models.Job{
		Fingerprint: fingerprint,
		Text:        text,
		Language:    language,
		Platform:    strings.TrimSpace(req.Platform),
		Stage:       models.StageQueued,
	}
	id, err := s.store.Create(ctx, job)
	if err != nil {
		return nil, err
	}
	created, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	// A job that fails to enqueue stays Queued and is picked up by recovery.
	if err := s.enqueuer.Enqueue(ctx, id); err != nil {
		return nil, err
	}

	logger.WithJob(id, string(created.Stage)).WithFields(map[string]interface{}{
		"language": language,
		"platform": created.Platform,
	}).Info("Verification job submitted")
	return &SubmitResult{Job: created}, nil
}

func (s *VerificationService) Get(ctx context.Context, jobID string) (*models.Job, error) {
	return s.store.Get(ctx, jobID)
}

// Resubmit resets a failed job to Queued under the same id, clearing its
// outputs and error, and enqueues it again.
func (s *VerificationService) Resubmit(ctx context.Context, jobID string) (*models.Job, error) {
	for {
		job, err := s.store.Get(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if job.Stage != models.StageFailed {
			return nil, ErrNotFailed
		}

		updated, err := s.store.CompareAndSwap(ctx, jobID, job.Version, func(j *models.Job) error {
			j.ResetOutputs()
			j.Run++
			j.Stage = models.StageQueued
			return nil
		})
		if errors.Is(err, store.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}

		if err := s.enqueuer.Enqueue(ctx, jobID); err != nil {
			return nil, err
		}
		logger.WithJob(jobID, string(updated.Stage)).WithField("run", updated.Run).Info("Job resubmitted")
		return updated, nil
	}
}
