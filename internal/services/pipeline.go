package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/claimcheck/backend/internal/cache"
	"github.com/claimcheck/backend/internal/logger"
	"github.com/claimcheck/backend/internal/models"
	"github.com/claimcheck/backend/internal/store"
)

// PipelineConfig bounds a single pipeline run.
type PipelineConfig struct {
	StageTimeout     time.Duration
	ClaimConcurrency int
}

// StageObserver is told about every stage a job is persisted in.
type StageObserver func(jobID string, stage models.Stage)

// Pipeline drives one job through the verification stages. Each stage's
// output and the advance to the next stage land in a single
// compare-and-swap, so a job interrupted anywhere resumes at the last
// persisted stage.
type Pipeline struct {
	store     store.JobStore
	cache     cache.Cache
	exec      *Executors
	config    PipelineConfig
	observers []StageObserver
	now       func() time.Time
}

func NewPipeline(jobStore store.JobStore, verdicts cache.Cache, exec *Executors, config PipelineConfig) *Pipeline {
	if config.ClaimConcurrency <= 0 {
		config.ClaimConcurrency = 4
	}
	return &Pipeline{
		store:  jobStore,
		cache:  verdicts,
		exec:   exec,
		config: config,
		now:    time.Now,
	}
}

// Observe registers fn to be told about every stage a job is persisted in.
// It must be called before any job runs.
func (p *Pipeline) Observe(fn StageObserver) {
	p.observers = append(p.observers, fn)
}

// Run advances the job until it reaches a terminal stage. A cancelled ctx
// stops the run without failing the job.
func (p *Pipeline) Run(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := p.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	for !job.Stage.Terminal() {
		if err := ctx.Err(); err != nil {
			return job, err
		}

		if verdict, ok := p.cache.Get(job.Fingerprint); ok {
			job, err = p.completeFromCache(ctx, job, *verdict)
		} else {
			job, err = p.step(ctx, job)
		}
		if err != nil {
			return job, err
		}
	}
	return job, nil
}

// step runs the executors for the job's current stage and persists the result.
func (p *Pipeline) step(ctx context.Context, job *models.Job) (*models.Job, error) {
	stage := job.Stage
	log := logger.WithJob(job.ID, string(stage))

	stageCtx := ctx
	if p.config.StageTimeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(ctx, p.config.StageTimeout)
		defer cancel()
	}

	switch stage {
	case models.StageQueued:
		return p.commit(ctx, job, func(j *models.Job) error {
			j.Stage = stage.Next()
			return nil
		})

	case models.StageExtractingClaims:
		claims := job.Claims
		if len(claims) == 0 {
			var err error
			claims, err = p.exec.ExtractClaims(stageCtx, job.Text, job.Language)
			if err != nil {
				return p.fail(ctx, job, err, nil)
			}
		}
		log.WithField("claims", len(claims)).Debug("Claims extracted")
		return p.commit(ctx, job, func(j *models.Job) error {
			j.Claims = claims
			j.Stage = stage.Next()
			return nil
		})

	case models.StageRetrievingEvidence:
		evidence := job.Evidence
		var claimErrs []error
		if len(evidence) != len(job.Claims) {
			var err error
			evidence, claimErrs, err = p.retrieveAll(stageCtx, job.Claims)
			if err != nil {
				return p.fail(ctx, job, err, nil)
			}
		}
		if err := allFailed(opRetrieve, len(job.Claims), claimErrs); err != nil {
			return p.fail(ctx, job, err, func(j *models.Job) { j.Evidence = evidence })
		}
		return p.commit(ctx, job, func(j *models.Job) error {
			j.Evidence = evidence
			j.Stage = stage.Next()
			return nil
		})

	case models.StageScoringStance:
		stances := job.Stances
		var claimErrs []error
		if len(stances) != len(job.Claims) {
			var err error
			stances, claimErrs, err = p.scoreAll(stageCtx, job.Claims, job.Evidence)
			if err != nil {
				return p.fail(ctx, job, err, nil)
			}
		}
		if err := allFailed(opStance, len(job.Claims), claimErrs); err != nil {
			return p.fail(ctx, job, err, func(j *models.Job) { j.Stances = stances })
		}
		return p.commit(ctx, job, func(j *models.Job) error {
			j.Stances = stances
			j.Stage = stage.Next()
			return nil
		})

	case models.StageAggregatingVerdict:
		var verdict models.Verdict
		if job.Verdict != nil {
			verdict = *job.Verdict
		} else {
			var err error
			verdict, err = p.exec.AggregateVeracity(stageCtx, job.Claims, job.Stances)
			if err != nil {
				return p.fail(ctx, job, err, nil)
			}
		}
		completed, err := p.commit(ctx, job, func(j *models.Job) error {
			v := verdict
			now := p.now()
			j.Verdict = &v
			j.Stage = stage.Next()
			j.CompletedAt = &now
			return nil
		})
		if err != nil {
			return completed, err
		}
		if completed.Stage == models.StageCompleted && completed.Verdict != nil {
			p.cache.Put(completed.Fingerprint, *completed.Verdict)
		}
		log.WithFields(map[string]interface{}{
			"verdict":    verdict.Label,
			"confidence": verdict.Confidence,
		}).Info("Job completed")
		return completed, nil
	}

	return job, fmt.Errorf("%w: no step for stage %q", store.ErrIllegalStage, stage)
}

func (p *Pipeline) completeFromCache(ctx context.Context, job *models.Job, verdict models.Verdict) (*models.Job, error) {
	logger.WithJob(job.ID, string(job.Stage)).Info("Fingerprint cache hit, completing job")
	return p.commit(ctx, job, func(j *models.Job) error {
		now := p.now()
		j.Verdict = &verdict
		j.FromCache = true
		j.Stage = models.StageCompleted
		j.CompletedAt = &now
		return nil
	})
}

// retrieveAll fans out one retrieval per claim. A failed claim keeps an
// entry carrying its error, and the error itself is returned at the same
// index of the second slice. If the stage deadline passes first the
// outstanding calls are abandoned.
func (p *Pipeline) retrieveAll(ctx context.Context, claims []models.Claim) ([]models.ClaimEvidence, []error, error) {
	results := make([]models.ClaimEvidence, len(claims))
	errs := make([]error, len(claims))
	err := p.fanOut(ctx, len(claims), func(i int) {
		claim := claims[i]
		items, err := p.exec.RetrieveEvidence(ctx, claim)
		if err != nil {
			results[i] = models.ClaimEvidence{ClaimID: claim.ClaimID, Items: []models.Evidence{}, Error: err.Error()}
			errs[i] = err
			return
		}
		results[i] = models.ClaimEvidence{ClaimID: claim.ClaimID, Items: items}
	})
	if err != nil {
		return nil, nil, err
	}
	return results, errs, nil
}

// scoreAll scores every claim that has evidence. Claims whose retrieval
// failed are carried through with an error and never scored.
func (p *Pipeline) scoreAll(ctx context.Context, claims []models.Claim, evidence []models.ClaimEvidence) ([]models.ClaimStance, []error, error) {
	byClaim := make(map[string]models.ClaimEvidence, len(evidence))
	for _, ce := range evidence {
		byClaim[ce.ClaimID] = ce
	}

	results := make([]models.ClaimStance, len(claims))
	errs := make([]error, len(claims))
	err := p.fanOut(ctx, len(claims), func(i int) {
		claim := claims[i]
		ce, ok := byClaim[claim.ClaimID]
		if !ok || !ce.OK() {
			errs[i] = &ExecutorError{Kind: models.ErrorKindPermanent, Op: opStance, Err: errors.New("no evidence retrieved")}
			results[i] = models.ClaimStance{ClaimID: claim.ClaimID, Error: errs[i].Error()}
			return
		}
		stance, err := p.exec.ScoreStance(ctx, claim, ce.Items)
		if err != nil {
			errs[i] = err
			results[i] = models.ClaimStance{ClaimID: claim.ClaimID, Error: err.Error()}
			return
		}
		results[i] = models.ClaimStance{ClaimID: claim.ClaimID, Stance: &stance}
	})
	if err != nil {
		return nil, nil, err
	}
	return results, errs, nil
}

// fanOut runs fn for every index with at most ClaimConcurrency in flight and
// waits for all of them or for ctx, whichever comes first.
func (p *Pipeline) fanOut(ctx context.Context, n int, fn func(i int)) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		var g errgroup.Group
		g.SetLimit(p.config.ClaimConcurrency)
		for i := 0; i < n; i++ {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				fn(i)
				return nil
			})
		}
		_ = g.Wait()
	}()

	select {
	case <-done:
		if err := ctx.Err(); err != nil {
			return &ExecutorError{Kind: models.ErrorKindTimeout, Op: "stage", Err: err}
		}
		return nil
	case <-ctx.Done():
		return &ExecutorError{Kind: models.ErrorKindTimeout, Op: "stage", Err: ctx.Err()}
	}
}

// allFailed returns the first claim error when none of the n claims
// succeeded. A stage with no claims at all fails permanently.
func allFailed(op string, n int, errs []error) error {
	if n == 0 {
		return &ExecutorError{Kind: models.ErrorKindPermanent, Op: op, Err: errors.New("no claims to process")}
	}
	if len(errs) != n {
		return nil
	}
	var first error
	for _, err := range errs {
		if err == nil {
			return nil
		}
		if first == nil {
			first = err
		}
	}
	return fmt.Errorf("%s failed for every claim: %w", op, first)
}

// commit applies mutate under compare-and-swap. On a version conflict it
// reloads; if another writer already moved the job on, the fresh job is
// returned instead of writing again.
func (p *Pipeline) commit(ctx context.Context, job *models.Job, mutate store.Mutator) (*models.Job, error) {
	current := job
	for {
		updated, err := p.store.CompareAndSwap(ctx, current.ID, current.Version, mutate)
		if err == nil {
			p.notify(updated)
			return updated, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return current, err
		}

		fresh, getErr := p.store.Get(ctx, current.ID)
		if getErr != nil {
			return current, getErr
		}
		if fresh.Stage != current.Stage || fresh.Run != current.Run {
			logger.WithJob(current.ID, string(current.Stage)).WithField("now", fresh.Stage).
				Debug("Job moved by another writer, skipping write")
			return fresh, nil
		}
		current = fresh
	}
}

// fail moves the job to Failed with err recorded, unless ctx itself was
// cancelled, in which case the job is left for another worker to resume.
// keep may add partial output from the failing stage.
func (p *Pipeline) fail(ctx context.Context, job *models.Job, cause error, keep func(*models.Job)) (*models.Job, error) {
	if ctx.Err() != nil {
		return job, ctx.Err()
	}

	jobErr := &models.JobError{
		Kind:     errorKind(cause),
		Message:  cause.Error(),
		Stage:    job.Stage,
		Attempts: errorAttempts(cause),
		At:       p.now(),
	}
	logger.WithJob(job.ID, string(job.Stage)).WithFields(map[string]interface{}{
		"kind":     jobErr.Kind,
		"attempts": jobErr.Attempts,
		"error":    jobErr.Message,
	}).Warn("Job failed")

	return p.commit(ctx, job, func(j *models.Job) error {
		if keep != nil {
			keep(j)
		}
		j.Stage = models.StageFailed
		j.Error = jobErr
		return nil
	})
}

func (p *Pipeline) notify(job *models.Job) {
	for _, fn := range p.observers {
		fn(job.ID, job.Stage)
	}
}
