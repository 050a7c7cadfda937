package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/claimcheck/backend/internal/logger"
	"github.com/claimcheck/backend/internal/models"
	"github.com/claimcheck/backend/internal/store"
)

// ReviewService reconciles human decisions with automatic verdicts. The
// automatic verdict is never rewritten; the decision sits beside it.
type ReviewService struct {
	store store.JobStore
	now   func() time.Time
}

func NewReviewService(jobStore store.JobStore) *ReviewService {
	return &ReviewService{store: jobStore, now: time.Now}
}

// ListPending returns a page of jobs waiting for a reviewer, oldest first,
// plus the total number waiting.
func (s *ReviewService) ListPending(ctx context.Context, limit, offset int) ([]*models.Job, int64, error) {
	return s.store.ListPendingReview(ctx, limit, offset)
}

// RequestReview flags a completed job for human review. Requesting review of
// a job already pending is a no-op.
func (s *ReviewService) RequestReview(ctx context.Context, jobID string) (*models.Job, error) {
	for {
		job, err := s.store.Get(ctx, jobID)
		if err != nil {
			return nil, err
		}
		switch {
		case job.Stage == models.StagePendingReview:
			return job, nil
		case job.ReviewDecision != nil:
			return nil, ErrAlreadyReviewed
		case job.Stage != models.StageCompleted:
			return nil, ErrNotCompleted
		}

		updated, err := s.store.CompareAndSwap(ctx, jobID, job.Version, func(j *models.Job) error {
			j.Stage = models.StagePendingReview
			return nil
		})
		if errors.Is(err, store.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}

		logger.WithJob(jobID, string(updated.Stage)).Info("Review requested")
		return updated, nil
	}
}

// SubmitReview records a reviewer's decision. The job must have a verdict.
// A second decision for the same job fails with ErrAlreadyReviewed.
func (s *ReviewService) SubmitReview(ctx context.Context, jobID string, label models.VerdictLabel, reviewerID, rationale string) (*models.Job, error) {
	if !label.Valid() {
		return nil, &ValidationError{Field: "decided_label", Message: "must be one of True, False, Misleading, Unverified"}
	}
	reviewerID = strings.TrimSpace(reviewerID)
	if reviewerID == "" {
		return nil, &ValidationError{Field: "reviewer_id", Message: "is required"}
	}

	for {
		job, err := s.store.Get(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if job.Verdict == nil {
			return nil, ErrNotReady
		}
		if job.ReviewDecision != nil {
			return nil, ErrAlreadyReviewed
		}

		decision := models.ReviewDecision{
			DecidedLabel: label,
			ReviewerID:   reviewerID,
			Rationale:    strings.TrimSpace(rationale),
			DecidedAt:    s.now(),
		}
		updated, err := s.store.CompareAndSwap(ctx, jobID, job.Version, func(j *models.Job) error {
			if j.ReviewDecision != nil {
				return ErrAlreadyReviewed
			}
			j.ReviewDecision = &decision
			if j.Stage == models.StagePendingReview {
				j.Stage = models.StageCompleted
			}
			return nil
		})
		if errors.Is(err, store.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}

		logger.WithJob(jobID, string(updated.Stage)).WithFields(map[string]interface{}{
			"reviewer_id":   reviewerID,
			"decided_label": label,
			"auto_label":    updated.Verdict.Label,
		}).Info("Review decision recorded")
		return updated, nil
	}
}
