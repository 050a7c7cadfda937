package services

import (
	"context"

	"github.com/claimcheck/backend/internal/models"
	"github.com/claimcheck/backend/internal/store"
)

// ReviewStats summarizes reviewer decisions against automatic verdicts.
type ReviewStats struct {
	Pending      int     `json:"pending"`
	Decided      int     `json:"decided"`
	Agreed       int     `json:"agreed"`
	Overridden   int     `json:"overridden"`
	OverrideRate float64 `json:"override_rate"`
}

type AnalyticsSnapshot struct {
	TotalJobs            int                         `json:"total_jobs"`
	ByStage              map[models.Stage]int        `json:"by_stage"`
	ByLanguage           map[string]int              `json:"by_language"`
	ByPlatform           map[string]int              `json:"by_platform"`
	ByVerdict            map[models.VerdictLabel]int `json:"by_verdict"`
	FailuresByKind       map[models.ErrorKind]int    `json:"failures_by_kind"`
	CacheHits            int                         `json:"cache_hits"`
	Reviews              ReviewStats                 `json:"reviews"`
	ClaimsTotal          int                         `json:"claims_total"`
	AvgClaimsPerJob      float64                     `json:"avg_claims_per_job"`
	AvgCompletionSeconds float64                     `json:"avg_completion_seconds"`
}

// AnalyticsService derives aggregate counts and timings from stored jobs.
type AnalyticsService struct {
	store store.JobStore
}

func NewAnalyticsService(jobStore store.JobStore) *AnalyticsService {
	return &AnalyticsService{store: jobStore}
}

// Snapshot aggregates every job matching filter. Limit and Offset are ignored.
func (s *AnalyticsService) Snapshot(ctx context.Context, filter store.Filter) (*AnalyticsSnapshot, error) {
	filter.Limit, filter.Offset = 0, 0
	jobs, err := s.store.ListByFilter(ctx, filter)
	if err != nil {
		return nil, err
	}

	snap := &AnalyticsSnapshot{
		ByStage:        make(map[models.Stage]int),
		ByLanguage:     make(map[string]int),
		ByPlatform:     make(map[string]int),
		ByVerdict:      make(map[models.VerdictLabel]int),
		FailuresByKind: make(map[models.ErrorKind]int),
	}

	var completionSeconds float64
	completed := 0
	for _, job := range jobs {
		snap.TotalJobs++
		snap.ByStage[job.Stage]++
		snap.ByLanguage[job.Language]++
		if job.Platform != "" {
			snap.ByPlatform[job.Platform]++
		}
		snap.ClaimsTotal += len(job.Claims)

		if label := job.DisplayLabel(); label != "" {
			snap.ByVerdict[label]++
		}
		if job.FromCache {
			snap.CacheHits++
		}
		if job.Stage == models.StageFailed && job.Error != nil {
			snap.FailuresByKind[job.Error.Kind]++
		}
		if job.Stage == models.StagePendingReview {
			snap.Reviews.Pending++
		}
		if job.ReviewDecision != nil && job.Verdict != nil {
			snap.Reviews.Decided++
			if job.ReviewDecision.DecidedLabel == job.Verdict.Label {
				snap.Reviews.Agreed++
			} else {
				snap.Reviews.Overridden++
			}
		}
		if job.CompletedAt != nil && !job.FromCache {
			completionSeconds += job.CompletedAt.Sub(job.CreatedAt).Seconds()
			completed++
		}
	}

	if snap.TotalJobs > 0 {
		snap.AvgClaimsPerJob = float64(snap.ClaimsTotal) / float64(snap.TotalJobs)
	}
	if completed > 0 {
		snap.AvgCompletionSeconds = completionSeconds / float64(completed)
	}
	if snap.Reviews.Decided > 0 {
		snap.Reviews.OverrideRate = float64(snap.Reviews.Overridden) / float64(snap.Reviews.Decided)
	}
	return snap, nil
}
