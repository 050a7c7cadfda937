package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/claimcheck/backend/internal/agents"
	"github.com/claimcheck/backend/internal/cache"
	"github.com/claimcheck/backend/internal/models"
	"github.com/claimcheck/backend/internal/store"
)

type extractorFunc func(ctx context.Context, text, language string) ([]models.Claim, error)

func (f extractorFunc) ExtractClaims(ctx context.Context, text, language string) ([]models.Claim, error) {
	return f(ctx, text, language)
}

type retrieverFunc func(ctx context.Context, claim models.Claim) ([]models.Evidence, error)

func (f retrieverFunc) Retrieve(ctx context.Context, claim models.Claim) ([]models.Evidence, error) {
	return f(ctx, claim)
}

type scorerFunc func(ctx context.Context, claim models.Claim, evidence []models.Evidence) (models.Stance, error)

func (f scorerFunc) ScoreStance(ctx context.Context, claim models.Claim, evidence []models.Evidence) (models.Stance, error) {
	return f(ctx, claim, evidence)
}

// countingAgents wraps a Set and counts calls per collaborator.
type countingAgents struct {
	extract  atomic.Int32
	retrieve atomic.Int32
	score    atomic.Int32
}

func (c *countingAgents) wrap(set agents.Set) agents.Set {
	inner := set
	return agents.Set{
		Extractor: extractorFunc(func(ctx context.Context, text, language string) ([]models.Claim, error) {
			c.extract.Add(1)
			return inner.Extractor.ExtractClaims(ctx, text, language)
		}),
		Retriever: retrieverFunc(func(ctx context.Context, claim models.Claim) ([]models.Evidence, error) {
			c.retrieve.Add(1)
			return inner.Retriever.Retrieve(ctx, claim)
		}),
		Scorer: scorerFunc(func(ctx context.Context, claim models.Claim, evidence []models.Evidence) (models.Stance, error) {
			c.score.Add(1)
			return inner.Scorer.ScoreStance(ctx, claim, evidence)
		}),
		Aggregator: inner.Aggregator,
	}
}

func (c *countingAgents) total() int32 {
	return c.extract.Load() + c.retrieve.Load() + c.score.Load()
}

// refutingAgents extracts sentences and refutes every claim with confidence 0.9.
func refutingAgents() agents.Set {
	return agents.Set{
		Extractor: agents.NewSentenceExtractor(),
		Retriever: retrieverFunc(func(ctx context.Context, claim models.Claim) ([]models.Evidence, error) {
			return []models.Evidence{{
				SourceRef:      "https://example.org/moon-geology",
				Text:           "Lunar samples are silicate rock; no dairy products were found.",
				RelevanceScore: 0.95,
			}}, nil
		}),
		Scorer: scorerFunc(func(ctx context.Context, claim models.Claim, evidence []models.Evidence) (models.Stance, error) {
			return models.Stance{Label: models.StanceRefute, Confidence: 0.9}, nil
		}),
		Aggregator: NewMajorityAggregator(0.5),
	}
}

type recordingEnqueuer struct {
	mu  sync.Mutex
	ids []string
}

func (e *recordingEnqueuer) Enqueue(ctx context.Context, jobID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ids = append(e.ids, jobID)
	return nil
}

func (e *recordingEnqueuer) enqueued() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.ids...)
}

type testEnv struct {
	store    *store.MemoryStore
	cache    cache.Cache
	counts   *countingAgents
	pipeline *Pipeline
	verify   *VerificationService
	enqueuer *recordingEnqueuer
}

func fastRetry() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     4 * time.Millisecond,
		CallTimeout:    time.Second,
	}
}

func newTestEnv(t *testing.T, set agents.Set) *testEnv {
	t.Helper()
	return newTestEnvWithConfig(t, set, PipelineConfig{StageTimeout: 2 * time.Second, ClaimConcurrency: 4})
}

func newTestEnvWithConfig(t *testing.T, set agents.Set, config PipelineConfig) *testEnv {
	t.Helper()
	st := store.NewMemoryStore()
	verdicts := cache.NewLRUCache(100)
	counts := &countingAgents{}
	exec := NewExecutors(counts.wrap(set), fastRetry(), nil)
	enq := &recordingEnqueuer{}
	return &testEnv{
		store:    st,
		cache:    verdicts,
		counts:   counts,
		pipeline: NewPipeline(st, verdicts, exec, config),
		verify:   NewVerificationService(st, enq),
		enqueuer: enq,
	}
}

func (e *testEnv) submit(t *testing.T, text string) *models.Job {
	t.Helper()
	res, err := e.verify.Submit(context.Background(), SubmitRequest{Text: text, Language: "en"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	return res.Job
}

func (e *testEnv) run(t *testing.T, jobID string) *models.Job {
	t.Helper()
	job, err := e.pipeline.Run(context.Background(), jobID)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return job
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}
