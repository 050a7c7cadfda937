package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/claimcheck/backend/internal/agents"
	"github.com/claimcheck/backend/internal/models"
)

func TestRetryPolicyBackoff(t *testing.T) {
	p := RetryPolicy{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{10, time.Second},
	}
	for _, tt := range tests {
		if got := p.Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

func TestRetryPolicyDo(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		permanent bool
		wantCalls int
		wantKind  models.ErrorKind
	}{
		{name: "succeeds first time", failures: 0, wantCalls: 1},
		{name: "recovers after transient failure", failures: 2, wantCalls: 3},
		{name: "exhausts transient retries", failures: 5, wantCalls: 3, wantKind: models.ErrorKindTransient},
		{name: "permanent stops immediately", failures: 5, permanent: true, wantCalls: 1, wantKind: models.ErrorKindPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := fastRetry().Do(context.Background(), "op", nil, func(ctx context.Context) error {
				calls++
				if calls <= tt.failures {
					if tt.permanent {
						return agents.Permanent(errors.New("bad input"))
					}
					return agents.Transient(errors.New("try later"))
				}
				return nil
			})

			if calls != tt.wantCalls {
				t.Errorf("Expected %d calls, got %d", tt.wantCalls, calls)
			}
			if tt.wantKind == "" {
				if err != nil {
					t.Errorf("Expected success, got %v", err)
				}
				return
			}
			var ee *ExecutorError
			if !errors.As(err, &ee) || ee.Kind != tt.wantKind {
				t.Fatalf("Expected %s, got %v", tt.wantKind, err)
			}
			if ee.Attempts != tt.wantCalls {
				t.Errorf("Expected %d recorded attempts, got %d", tt.wantCalls, ee.Attempts)
			}
		})
	}
}

func TestRetryPolicyCallTimeout(t *testing.T) {
	p := fastRetry()
	p.CallTimeout = 10 * time.Millisecond

	err := p.Do(context.Background(), "slow", nil, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	var ee *ExecutorError
	if !errors.As(err, &ee) || ee.Kind != models.ErrorKindTimeout || ee.Attempts != 3 {
		t.Errorf("Expected timeout after 3 attempts, got %v", err)
	}
}

func TestExecutorsValidateOutputs(t *testing.T) {
	set := refutingAgents()
	set.Scorer = scorerFunc(func(ctx context.Context, claim models.Claim, evidence []models.Evidence) (models.Stance, error) {
		return models.Stance{Label: models.StanceSupport, Confidence: 1.7}, nil
	})
	exec := NewExecutors(set, fastRetry(), nil)

	stance, err := exec.ScoreStance(context.Background(), models.Claim{ClaimID: "c", Text: "x"}, nil)
	if err != nil {
		t.Fatalf("ScoreStance failed: %v", err)
	}
	if stance.Confidence != 1 {
		t.Errorf("Expected confidence clamped to 1, got %v", stance.Confidence)
	}

	set.Scorer = scorerFunc(func(ctx context.Context, claim models.Claim, evidence []models.Evidence) (models.Stance, error) {
		return models.Stance{Label: "Maybe"}, nil
	})
	exec = NewExecutors(set, fastRetry(), nil)
	if _, err := exec.ScoreStance(context.Background(), models.Claim{ClaimID: "c"}, nil); errorKind(err) != models.ErrorKindPermanent {
		t.Errorf("Expected permanent error for unknown label, got %v", err)
	}
}

func TestExecutorsExtractClaims(t *testing.T) {
	set := refutingAgents()
	set.Extractor = extractorFunc(func(ctx context.Context, text, language string) ([]models.Claim, error) {
		return []models.Claim{{Text: " First claim here "}, {Text: ""}, {ClaimID: "dup", Text: "Second claim"}, {ClaimID: "dup", Text: "Third claim"}}, nil
	})
	exec := NewExecutors(set, fastRetry(), nil)

	claims, err := exec.ExtractClaims(context.Background(), "text", "en")
	if err != nil {
		t.Fatalf("ExtractClaims failed: %v", err)
	}
	if len(claims) != 3 {
		t.Fatalf("Expected 3 claims, got %d", len(claims))
	}
	ids := map[string]bool{}
	for _, c := range claims {
		if c.ClaimID == "" || ids[c.ClaimID] {
			t.Errorf("Expected unique non-empty claim ids, got %q", c.ClaimID)
		}
		ids[c.ClaimID] = true
		if c.Language != "en" {
			t.Errorf("Expected language to default to en, got %q", c.Language)
		}
	}

	if _, err := exec.ExtractClaims(context.Background(), "   ", "en"); errorKind(err) != models.ErrorKindPermanent {
		t.Errorf("Expected permanent error for empty input, got %v", err)
	}

	set.Extractor = extractorFunc(func(ctx context.Context, text, language string) ([]models.Claim, error) {
		return nil, nil
	})
	exec = NewExecutors(set, fastRetry(), nil)
	if _, err := exec.ExtractClaims(context.Background(), "Is it?", "en"); errorKind(err) != models.ErrorKindPermanent {
		t.Errorf("Expected permanent error when nothing is extracted, got %v", err)
	}
}

func TestLimiterPerCollaborator(t *testing.T) {
	l := NewLimiter(1000, 1)
	if l.getLimiter("a") == l.getLimiter("b") {
		t.Error("Expected separate limiters per collaborator")
	}
	if l.getLimiter("a") != l.getLimiter("a") {
		t.Error("Expected the same limiter for repeated lookups")
	}
	if err := l.Wait(context.Background(), "a"); err != nil {
		t.Errorf("Wait failed: %v", err)
	}

	var nilLimiter *Limiter
	if err := nilLimiter.Wait(context.Background(), "a"); err != nil {
		t.Errorf("Expected nil limiter to allow calls, got %v", err)
	}
}

func TestLimiterConfigureRates(t *testing.T) {
	l := NewLimiter(0, 3)
	if err := l.ConfigureRates(map[string]float64{opRetrieve: 2}); err != nil {
		t.Fatalf("ConfigureRates failed: %v", err)
	}

	retrieve := l.getLimiter(opRetrieve)
	if retrieve.Limit() != 2 || retrieve.Burst() != 3 {
		t.Errorf("Expected 2 req/s burst 3 for retrieval, got %v burst %d", retrieve.Limit(), retrieve.Burst())
	}
	if got := l.getLimiter(opExtract).Limit(); got != rate.Inf {
		t.Errorf("Expected other collaborators to keep the default rate, got %v", got)
	}

	if err := l.ConfigureRates(map[string]float64{"retrieve": 1}); err == nil {
		t.Error("Expected unknown collaborator to be rejected")
	}
}
