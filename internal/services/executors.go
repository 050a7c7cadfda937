package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/claimcheck/backend/internal/agents"
	"github.com/claimcheck/backend/internal/models"
)

const (
	opExtract   = "extract_claims"
	opRetrieve  = "retrieve_evidence"
	opStance    = "score_stance"
	opAggregate = "aggregate_veracity"
)

func knownOp(name string) bool {
	switch name {
	case opExtract, opRetrieve, opStance, opAggregate:
		return true
	}
	return false
}

// RetryPolicy bounds each executor call: a per-call timeout, at most
// MaxAttempts invocations, and exponential backoff between them.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	CallTimeout    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		CallTimeout:    30 * time.Second,
	}
}

// Backoff returns the wait before the attempt following attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.InitialBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// Do invokes fn until it succeeds, fails permanently, or exhausts
// MaxAttempts. Every failure comes back as an *ExecutorError.
func (p RetryPolicy) Do(ctx context.Context, op string, limiter *Limiter, fn func(ctx context.Context) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	for attempt := 1; ; attempt++ {
		if err := limiter.Wait(ctx, op); err != nil {
			return &ExecutorError{Kind: models.ErrorKindTimeout, Op: op, Attempts: attempt - 1, Err: err}
		}

		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, p.CallTimeout)
		}
		err := fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}

		switch {
		case ctx.Err() != nil:
			return &ExecutorError{Kind: models.ErrorKindTimeout, Op: op, Attempts: attempt, Err: err}
		case agents.IsPermanent(err):
			return &ExecutorError{Kind: models.ErrorKindPermanent, Op: op, Attempts: attempt, Err: err}
		case attempt >= maxAttempts:
			kind := models.ErrorKindTransient
			if errors.Is(err, context.DeadlineExceeded) {
				kind = models.ErrorKindTimeout
			}
			return &ExecutorError{Kind: kind, Op: op, Attempts: attempt, Err: err}
		}

		select {
		case <-ctx.Done():
			return &ExecutorError{Kind: models.ErrorKindTimeout, Op: op, Attempts: attempt, Err: ctx.Err()}
		case <-time.After(p.Backoff(attempt)):
		}
	}
}

// Executors wraps each collaborator with the retry, timeout and
// classification contract. They hold no job state, so a stage can be
// re-run freely.
type Executors struct {
	agents  agents.Set
	retry   RetryPolicy
	limiter *Limiter
}

func NewExecutors(set agents.Set, retry RetryPolicy, limiter *Limiter) *Executors {
	return &Executors{agents: set, retry: retry, limiter: limiter}
}

// ExtractClaims fails permanently on empty input or when nothing is extracted.
func (e *Executors) ExtractClaims(ctx context.Context, text, language string) ([]models.Claim, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &ExecutorError{Kind: models.ErrorKindPermanent, Op: opExtract, Err: errors.New("empty input")}
	}

	var claims []models.Claim
	err := e.retry.Do(ctx, opExtract, e.limiter, func(ctx context.Context) error {
		var err error
		claims, err = e.agents.Extractor.ExtractClaims(ctx, text, language)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]models.Claim, 0, len(claims))
	seen := make(map[string]bool, len(claims))
	for _, c := range claims {
		c.Text = strings.TrimSpace(c.Text)
		if c.Text == "" {
			continue
		}
		if c.ClaimID == "" || seen[c.ClaimID] {
			c.ClaimID = agents.ClaimID(len(out), c.Text)
		}
		if c.Language == "" {
			c.Language = language
		}
		seen[c.ClaimID] = true
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, &ExecutorError{Kind: models.ErrorKindPermanent, Op: opExtract, Attempts: 1, Err: errors.New("no claims extracted")}
	}
	return out, nil
}

func (e *Executors) RetrieveEvidence(ctx context.Context, claim models.Claim) ([]models.Evidence, error) {
	var evidence []models.Evidence
	err := e.retry.Do(ctx, opRetrieve, e.limiter, func(ctx context.Context) error {
		var err error
		evidence, err = e.agents.Retriever.Retrieve(ctx, claim)
		return err
	})
	if err != nil {
		return nil, err
	}
	if evidence == nil {
		evidence = []models.Evidence{}
	}
	return evidence, nil
}

func (e *Executors) ScoreStance(ctx context.Context, claim models.Claim, evidence []models.Evidence) (models.Stance, error) {
	var stance models.Stance
	err := e.retry.Do(ctx, opStance, e.limiter, func(ctx context.Context) error {
		var err error
		stance, err = e.agents.Scorer.ScoreStance(ctx, claim, evidence)
		return err
	})
	if err != nil {
		return models.Stance{}, err
	}
	if !stance.Label.Valid() {
		return models.Stance{}, &ExecutorError{
			Kind: models.ErrorKindPermanent, Op: opStance, Attempts: 1,
			Err: fmt.Errorf("unknown stance label %q", stance.Label),
		}
	}
	stance.Confidence = clamp01(stance.Confidence)
	return stance, nil
}

func (e *Executors) AggregateVeracity(ctx context.Context, claims []models.Claim, stances []models.ClaimStance) (models.Verdict, error) {
	var verdict models.Verdict
	err := e.retry.Do(ctx, opAggregate, e.limiter, func(ctx context.Context) error {
		var err error
		verdict, err = e.agents.Aggregator.Aggregate(ctx, claims, stances)
		return err
	})
	if err != nil {
		return models.Verdict{}, err
	}
	if !verdict.Label.Valid() {
		return models.Verdict{}, &ExecutorError{
			Kind: models.ErrorKindPermanent, Op: opAggregate, Attempts: 1,
			Err: fmt.Errorf("unknown verdict label %q", verdict.Label),
		}
	}
	verdict.Confidence = clamp01(verdict.Confidence)
	return verdict, nil
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
