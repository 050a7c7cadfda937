package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/claimcheck/backend/internal/models"
	"github.com/claimcheck/backend/internal/store"
)

func completedJob(t *testing.T, env *testEnv) *models.Job {
	t.Helper()
	job := env.run(t, env.submit(t, "The moon is made of cheese.").ID)
	if job.Stage != models.StageCompleted {
		t.Fatalf("Expected completed job, got %s", job.Stage)
	}
	return job
}

func TestSubmitReviewNeverTouchesVerdict(t *testing.T) {
	env := newTestEnv(t, refutingAgents())
	reviews := NewReviewService(env.store)
	job := completedJob(t, env)

	before, _ := json.Marshal(job.Verdict)

	updated, err := reviews.SubmitReview(context.Background(), job.ID, models.VerdictMisleading, "reviewer-7", "satire source")
	if err != nil {
		t.Fatalf("SubmitReview failed: %v", err)
	}

	stored, _ := env.store.Get(context.Background(), job.ID)
	after, _ := json.Marshal(stored.Verdict)
	if !bytes.Equal(before, after) {
		t.Errorf("Verdict changed by review:\nbefore %s\nafter  %s", before, after)
	}
	if updated.ReviewDecision == nil || updated.ReviewDecision.DecidedLabel != models.VerdictMisleading {
		t.Fatalf("Expected reviewer decision to be recorded, got %+v", updated.ReviewDecision)
	}
	if updated.DisplayLabel() != models.VerdictMisleading {
		t.Errorf("Expected display label to prefer the reviewer decision, got %s", updated.DisplayLabel())
	}
	if updated.Stage != models.StageCompleted {
		t.Errorf("Expected stage to stay completed, got %s", updated.Stage)
	}
}

func TestRequestReviewThenDecide(t *testing.T) {
	env := newTestEnv(t, refutingAgents())
	reviews := NewReviewService(env.store)
	job := completedJob(t, env)
	ctx := context.Background()

	pending, err := reviews.RequestReview(ctx, job.ID)
	if err != nil {
		t.Fatalf("RequestReview failed: %v", err)
	}
	if pending.Stage != models.StagePendingReview {
		t.Fatalf("Expected pending_review, got %s", pending.Stage)
	}
	if again, err := reviews.RequestReview(ctx, job.ID); err != nil || again.Version != pending.Version {
		t.Errorf("Expected repeated request to be a no-op, got %v", err)
	}

	list, total, err := reviews.ListPending(ctx, 10, 0)
	if err != nil || total != 1 || len(list) != 1 || list[0].ID != job.ID {
		t.Fatalf("Expected the job in the pending list, got %d/%d %v", len(list), total, err)
	}

	decided, err := reviews.SubmitReview(ctx, job.ID, models.VerdictFalse, "reviewer-1", "agree")
	if err != nil {
		t.Fatalf("SubmitReview failed: %v", err)
	}
	if decided.Stage != models.StageCompleted {
		t.Errorf("Expected decision to close review back to completed, got %s", decided.Stage)
	}
	if _, total, _ := reviews.ListPending(ctx, 10, 0); total != 0 {
		t.Errorf("Expected empty pending list, got %d", total)
	}
}

func TestReviewPreconditions(t *testing.T) {
	env := newTestEnv(t, refutingAgents())
	reviews := NewReviewService(env.store)
	ctx := context.Background()

	queued := env.submit(t, "Water boils at one hundred degrees.")
	if _, err := reviews.SubmitReview(ctx, queued.ID, models.VerdictTrue, "r", ""); !errors.Is(err, ErrNotReady) {
		t.Errorf("Expected ErrNotReady, got %v", err)
	}
	if _, err := reviews.RequestReview(ctx, queued.ID); !errors.Is(err, ErrNotCompleted) {
		t.Errorf("Expected ErrNotCompleted, got %v", err)
	}
	if _, err := reviews.SubmitReview(ctx, "missing", models.VerdictTrue, "r", ""); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	var verr *ValidationError
	if _, err := reviews.SubmitReview(ctx, queued.ID, "Probably", "r", ""); !errors.As(err, &verr) {
		t.Errorf("Expected ValidationError for unknown label, got %v", err)
	}
	if _, err := reviews.SubmitReview(ctx, queued.ID, models.VerdictTrue, "  ", ""); !errors.As(err, &verr) {
		t.Errorf("Expected ValidationError for missing reviewer, got %v", err)
	}

	job := completedJob(t, env)
	if _, err := reviews.SubmitReview(ctx, job.ID, models.VerdictTrue, "r1", ""); err != nil {
		t.Fatalf("SubmitReview failed: %v", err)
	}
	if _, err := reviews.SubmitReview(ctx, job.ID, models.VerdictFalse, "r2", ""); !errors.Is(err, ErrAlreadyReviewed) {
		t.Errorf("Expected ErrAlreadyReviewed, got %v", err)
	}
	if _, err := reviews.RequestReview(ctx, job.ID); !errors.Is(err, ErrAlreadyReviewed) {
		t.Errorf("Expected ErrAlreadyReviewed for reviewed job, got %v", err)
	}
}

func TestConcurrentReviewsHaveOneWinner(t *testing.T) {
	env := newTestEnv(t, refutingAgents())
	reviews := NewReviewService(env.store)
	job := completedJob(t, env)

	const reviewers = 8
	var wg sync.WaitGroup
	errs := make(chan error, reviewers)
	for i := 0; i < reviewers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := reviews.SubmitReview(context.Background(), job.ID, models.VerdictTrue, "reviewer", "")
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case !errors.Is(err, ErrAlreadyReviewed):
			t.Errorf("Unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("Expected exactly one decision to land, got %d", wins)
	}
}
