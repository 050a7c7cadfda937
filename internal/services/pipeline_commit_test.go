package services

import (
	"context"
	"sync"
	"testing"

	"github.com/claimcheck/backend/internal/models"
	"github.com/claimcheck/backend/internal/store"
)

// interferingStore lets another writer land one mutation just before the
// first pipeline write made while the job sits in stage at.
type interferingStore struct {
	*store.MemoryStore
	at        models.Stage
	interfere store.Mutator

	mu         sync.Mutex
	interfered bool
}

func (s *interferingStore) CompareAndSwap(ctx context.Context, id string, expectedVersion int64, mutate store.Mutator) (*models.Job, error) {
	s.mu.Lock()
	if !s.interfered {
		if job, err := s.MemoryStore.Get(ctx, id); err == nil && job.Stage == s.at {
			s.interfered = true
			if _, err := s.MemoryStore.CompareAndSwap(ctx, id, job.Version, s.interfere); err != nil {
				s.mu.Unlock()
				return nil, err
			}
		}
	}
	s.mu.Unlock()
	return s.MemoryStore.CompareAndSwap(ctx, id, expectedVersion, mutate)
}

func newInterferingEnv(t *testing.T, at models.Stage, interfere store.Mutator) (*testEnv, *interferingStore) {
	t.Helper()
	env := newTestEnv(t, refutingAgents())
	st := &interferingStore{MemoryStore: env.store, at: at, interfere: interfere}
	exec := NewExecutors(env.counts.wrap(refutingAgents()), fastRetry(), nil)
	env.pipeline = NewPipeline(st, env.cache, exec, PipelineConfig{ClaimConcurrency: 2})
	return env, st
}

func TestPipelineRetriesWriteAfterConcurrentSameStageUpdate(t *testing.T) {
	env, st := newInterferingEnv(t, models.StageExtractingClaims, func(j *models.Job) error {
		j.Platform = "reddit"
		return nil
	})
	job := env.submit(t, "The moon is made of cheese.")

	done := env.run(t, job.ID)

	if !st.interfered {
		t.Fatal("Expected a concurrent write during extraction")
	}
	if done.Stage != models.StageCompleted {
		t.Fatalf("Expected completed, got %s (error %+v)", done.Stage, done.Error)
	}
	if got := env.counts.extract.Load(); got != 1 {
		t.Errorf("Expected extraction to run once, got %d", got)
	}
	if len(done.Claims) != 1 || done.Claims[0].Text != "The moon is made of cheese." {
		t.Errorf("Expected the extracted claim to be written, got %+v", done.Claims)
	}
	if done.Platform != "reddit" {
		t.Errorf("Expected the concurrent update to survive, got platform %q", done.Platform)
	}
}

func TestPipelineKeepsStageAdvancedByAnotherWriter(t *testing.T) {
	other := models.Claim{ClaimID: "other-1", Text: "Another writer extracted this.", Language: "en"}
	env, st := newInterferingEnv(t, models.StageExtractingClaims, func(j *models.Job) error {
		j.Claims = []models.Claim{other}
		j.Stage = models.StageRetrievingEvidence
		return nil
	})
	job := env.submit(t, "The moon is made of cheese.")

	done := env.run(t, job.ID)

	if !st.interfered {
		t.Fatal("Expected a concurrent write during extraction")
	}
	if done.Stage != models.StageCompleted {
		t.Fatalf("Expected completed, got %s (error %+v)", done.Stage, done.Error)
	}
	if len(done.Claims) != 1 || done.Claims[0] != other {
		t.Errorf("Expected the other writer's claims to be kept, got %+v", done.Claims)
	}
	if len(done.Stances) != 1 || done.Stances[0].ClaimID != other.ClaimID {
		t.Errorf("Expected later stages to run on the other writer's claims, got %+v", done.Stances)
	}
	if got := env.counts.extract.Load(); got != 1 {
		t.Errorf("Expected extraction to run once, got %d", got)
	}
}
