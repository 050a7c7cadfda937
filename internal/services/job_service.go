package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/claimcheck/backend/internal/logger"
	"github.com/claimcheck/backend/internal/models"
	"github.com/claimcheck/backend/internal/store"
)

// JobServiceConfig sizes the worker pool and its leases.
type JobServiceConfig struct {
	Workers        int
	LeaseTTL       time.Duration
	ReaperInterval time.Duration
}

// JobService runs a fixed pool of workers that pull job ids off the queue
// and drive them through the pipeline. A worker holds the job's lease for
// the whole run, so a job never has two active executions.
type JobService struct {
	store    store.JobStore
	pipeline *Pipeline
	queue    Queue
	config   JobServiceConfig
	instance string

	cancel   context.CancelFunc
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewJobService(jobStore store.JobStore, pipeline *Pipeline, queue Queue, config JobServiceConfig) *JobService {
	if config.Workers <= 0 {
		config.Workers = 2
	}
	if config.LeaseTTL <= 0 {
		config.LeaseTTL = time.Minute
	}
	if config.ReaperInterval <= 0 {
		config.ReaperInterval = config.LeaseTTL / 4
	}
	return &JobService{
		store:    jobStore,
		pipeline: pipeline,
		queue:    queue,
		config:   config,
		instance: uuid.NewString()[:8],
		stopChan: make(chan struct{}),
	}
}

// Start re-enqueues unfinished jobs and launches the workers and the lease reaper.
func (js *JobService) Start(ctx context.Context) error {
	ctx, js.cancel = context.WithCancel(ctx)

	for i := 0; i < js.config.Workers; i++ {
		js.wg.Add(1)
		go js.worker(ctx, i)
	}

	js.wg.Add(1)
	go js.reaper(ctx)

	recovered, err := js.Recover(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover unfinished jobs: %w", err)
	}

	logger.Info("Job service started", map[string]interface{}{
		"workers":   js.config.Workers,
		"lease_ttl": js.config.LeaseTTL.String(),
		"recovered": recovered,
		"instance":  js.instance,
	})
	return nil
}

// Stop cancels in-flight runs and waits for every worker to exit. Jobs cut
// off mid-stage keep their last persisted stage.
func (js *JobService) Stop() {
	js.stopOnce.Do(func() {
		close(js.stopChan)
		if js.cancel != nil {
			js.cancel()
		}
		js.queue.Close()
	})
	js.wg.Wait()
	logger.Info("Job service stopped", nil)
}

// Enqueue schedules a job for execution.
func (js *JobService) Enqueue(ctx context.Context, jobID string) error {
	select {
	case <-js.stopChan:
		return ErrQueueClosed
	default:
	}
	return js.queue.Enqueue(ctx, jobID)
}

// Recover enqueues every job left in a non-terminal stage, typically by a
// previous process that crashed or was stopped mid-run.
func (js *JobService) Recover(ctx context.Context) (int, error) {
	jobs, err := js.store.ListByFilter(ctx, store.Filter{Stages: models.PipelineStages})
	if err != nil {
		return 0, err
	}
	for _, job := range jobs {
		if err := js.Enqueue(ctx, job.ID); err != nil {
			return 0, err
		}
	}
	return len(jobs), nil
}

func (js *JobService) worker(ctx context.Context, id int) {
	defer js.wg.Done()
	log := logger.WithWorker(id)

	for {
		jobID, err := js.queue.Dequeue(ctx)
		if err != nil {
			log.Debug("Worker stopping")
			return
		}
		js.process(ctx, id, jobID)
	}
}

func (js *JobService) owner(workerID int) string {
	return fmt.Sprintf("%s/worker-%d", js.instance, workerID)
}

// process runs one job under its lease. A job whose lease is held by
// another worker is skipped; that worker is already driving it.
func (js *JobService) process(ctx context.Context, workerID int, jobID string) {
	log := logger.WithWorker(workerID).WithField("job_id", jobID)
	owner := js.owner(workerID)

	if err := js.store.AcquireLease(ctx, jobID, owner, js.config.LeaseTTL); err != nil {
		if errors.Is(err, store.ErrLeaseHeld) {
			log.Debug("Job lease held elsewhere, skipping")
			return
		}
		log.WithError(err).Error("Failed to acquire job lease")
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		js.heartbeat(runCtx, cancel, jobID, owner)
	}()

	started := time.Now()
	job, err := js.pipeline.Run(runCtx, jobID)
	cancel()
	<-heartbeatDone

	releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer releaseCancel()
	if relErr := js.store.ReleaseLease(releaseCtx, jobID, owner); relErr != nil && !errors.Is(relErr, store.ErrLeaseLost) {
		log.WithError(relErr).Warn("Failed to release job lease")
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info("Job run interrupted, will resume from last persisted stage")
			return
		}
		log.WithError(err).Error("Job run aborted")
		return
	}
	log.WithFields(map[string]interface{}{
		"stage":    job.Stage,
		"duration": time.Since(started).String(),
	}).Info("Job run finished")
}

// heartbeat renews the lease until ctx ends. Losing the lease cancels the run.
func (js *JobService) heartbeat(ctx context.Context, cancel context.CancelFunc, jobID, owner string) {
	ticker := time.NewTicker(js.config.LeaseTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := js.store.RenewLease(ctx, jobID, owner, js.config.LeaseTTL); err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.WithJob(jobID, "").WithError(err).Warn("Lost job lease, abandoning run")
				cancel()
				return
			}
		}
	}
}

// reaper periodically re-enqueues jobs whose worker stopped renewing its lease.
func (js *JobService) reaper(ctx context.Context) {
	defer js.wg.Done()
	ticker := time.NewTicker(js.config.ReaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := js.ReapExpiredLeases(ctx); err != nil {
				logger.WithError(err, "job_service").Warn("Lease reaper pass failed")
			} else if n > 0 {
				logger.Info("Re-enqueued stalled jobs", map[string]interface{}{"count": n})
			}
		}
	}
}

// ReapExpiredLeases re-enqueues every unfinished job whose lease expired and
// clears stale leases on finished ones. It returns the number re-enqueued.
func (js *JobService) ReapExpiredLeases(ctx context.Context) (int, error) {
	ids, err := js.store.ListExpiredLeases(ctx, time.Now())
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, id := range ids {
		job, err := js.store.Get(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return requeued, err
		}

		if job.Stage.Terminal() {
			reaper := js.instance + "/reaper"
			if err := js.store.AcquireLease(ctx, id, reaper, time.Second); err == nil {
				_ = js.store.ReleaseLease(ctx, id, reaper)
			}
			continue
		}
		if err := js.Enqueue(ctx, id); err != nil {
			return requeued, err
		}
		requeued++
	}
	return requeued, nil
}
