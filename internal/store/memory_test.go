package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/claimcheck/backend/internal/models"
)

func newJob(fp string) *models.Job {
	return &models.Job{Fingerprint: fp, Text: "text", Language: "en"}
}

func TestCreateAssignsIdentityAndVersion(t *testing.T) {
	s := NewMemoryStore()
	id, err := s.Create(context.Background(), newJob("fp"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	job, err := s.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.Version != 1 || job.Stage != models.StageQueued || job.Run != 1 {
		t.Errorf("unexpected initial job: %+v", job)
	}
	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCompareAndSwapRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	id, _ := s.Create(ctx, newJob("fp"))

	updated, err := s.CompareAndSwap(ctx, id, 1, func(j *models.Job) error {
		j.Stage = models.StageExtractingClaims
		return nil
	})
	if err != nil {
		t.Fatalf("CompareAndSwap: %v", err)
	}
	if updated.Version != 2 {
		t.Errorf("expected version 2, got %d", updated.Version)
	}

	_, err = s.CompareAndSwap(ctx, id, 1, func(j *models.Job) error {
		j.Stage = models.StageFailed
		return nil
	})
	if !errors.Is(err, ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict, got %v", err)
	}

	job, _ := s.Get(ctx, id)
	if job.Stage != models.StageExtractingClaims {
		t.Errorf("stale write must not land, stage is %s", job.Stage)
	}
}

func TestCompareAndSwapRejectsRegression(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	id, _ := s.Create(ctx, newJob("fp"))
	s.CompareAndSwap(ctx, id, 1, func(j *models.Job) error {
		j.Stage = models.StageScoringStance
		return nil
	})

	_, err := s.CompareAndSwap(ctx, id, 2, func(j *models.Job) error {
		j.Stage = models.StageExtractingClaims
		return nil
	})
	if !errors.Is(err, ErrIllegalStage) {
		t.Errorf("expected ErrIllegalStage, got %v", err)
	}
}

func TestCompareAndSwapMutatorErrorAborts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	id, _ := s.Create(ctx, newJob("fp"))
	boom := errors.New("boom")

	if _, err := s.CompareAndSwap(ctx, id, 1, func(j *models.Job) error {
		j.Text = "changed"
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected mutator error, got %v", err)
	}
	job, _ := s.Get(ctx, id)
	if job.Text != "text" || job.Version != 1 {
		t.Errorf("aborted mutation leaked: %+v", job)
	}
}

func TestConcurrentCompareAndSwapExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	id, _ := s.Create(ctx, newJob("fp"))

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.CompareAndSwap(ctx, id, 1, func(j *models.Job) error {
				j.Stage = models.StageExtractingClaims
				return nil
			}); err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("expected one winner, got %d", wins)
	}
}

func TestListByFilterAndPendingReview(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	en1, _ := s.Create(ctx, &models.Job{Fingerprint: "a", Language: "en"})
	hi1, _ := s.Create(ctx, &models.Job{Fingerprint: "b", Language: "hi"})
	en2, _ := s.Create(ctx, &models.Job{Fingerprint: "c", Language: "en"})

	for _, id := range []string{en1, hi1} {
		s.CompareAndSwap(ctx, id, 1, func(j *models.Job) error {
			j.Stage = models.StageCompleted
			j.Verdict = &models.Verdict{Label: models.VerdictTrue}
			return nil
		})
	}
	s.CompareAndSwap(ctx, hi1, 2, func(j *models.Job) error {
		j.Stage = models.StagePendingReview
		return nil
	})

	english, _ := s.ListByFilter(ctx, Filter{Language: "en"})
	if len(english) != 2 || english[0].ID != en1 || english[1].ID != en2 {
		t.Errorf("expected both english jobs oldest first, got %d", len(english))
	}

	completedEnglish, _ := s.ListByFilter(ctx, Filter{Language: "en", Stages: []models.Stage{models.StageCompleted}})
	if len(completedEnglish) != 1 || completedEnglish[0].ID != en1 {
		t.Errorf("stage filter failed: %+v", completedEnglish)
	}

	windowed, _ := s.ListByFilter(ctx, Filter{From: base.Add(2 * time.Minute), To: base.Add(3 * time.Minute)})
	if len(windowed) != 1 || windowed[0].ID != hi1 {
		t.Errorf("time range filter failed: %d jobs", len(windowed))
	}

	pending, total, _ := s.ListPendingReview(ctx, 10, 0)
	if total != 1 || len(pending) != 1 || pending[0].ID != hi1 {
		t.Errorf("expected one pending review job, got %d/%d", len(pending), total)
	}

	found, err := s.FindCompletedByFingerprint(ctx, "a")
	if err != nil || found.ID != en1 {
		t.Errorf("FindCompletedByFingerprint: %v", err)
	}
	if _, err := s.FindCompletedByFingerprint(ctx, "c"); !errors.Is(err, ErrNotFound) {
		t.Errorf("queued job should not count as completed, got %v", err)
	}
}

func TestLeaseLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	if err := s.AcquireLease(ctx, "j1", "w1", time.Minute); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := s.AcquireLease(ctx, "j1", "w2", time.Minute); !errors.Is(err, ErrLeaseHeld) {
		t.Errorf("expected ErrLeaseHeld, got %v", err)
	}
	if err := s.AcquireLease(ctx, "j1", "w1", time.Minute); err != nil {
		t.Errorf("owner should be able to re-acquire: %v", err)
	}

	expired, _ := s.ListExpiredLeases(ctx, now.Add(30*time.Second))
	if len(expired) != 0 {
		t.Errorf("lease should still be live")
	}

	now = now.Add(2 * time.Minute)
	expired, _ = s.ListExpiredLeases(ctx, now)
	if len(expired) != 1 || expired[0] != "j1" {
		t.Errorf("expected j1 expired, got %v", expired)
	}
	if err := s.AcquireLease(ctx, "j1", "w2", time.Minute); err != nil {
		t.Errorf("expired lease should be recoverable: %v", err)
	}
	if err := s.RenewLease(ctx, "j1", "w1", time.Minute); !errors.Is(err, ErrLeaseLost) {
		t.Errorf("previous owner should have lost the lease, got %v", err)
	}

	s.ReleaseLease(ctx, "j1", "w1")
	if err := s.RenewLease(ctx, "j1", "w2", time.Minute); err != nil {
		t.Errorf("release by non-owner must be a no-op: %v", err)
	}
	s.ReleaseLease(ctx, "j1", "w2")
	if err := s.AcquireLease(ctx, "j1", "w3", time.Minute); err != nil {
		t.Errorf("released lease should be free: %v", err)
	}
}
