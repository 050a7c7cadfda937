package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/claimcheck/backend/internal/models"
	"github.com/google/uuid"
)

type lease struct {
	owner     string
	expiresAt time.Time
}

// MemoryStore is a single-process JobStore. Jobs are cloned on the way in and
// out so callers never share memory with stored state.
type MemoryStore struct {
	mu     sync.RWMutex
	jobs   map[string]*models.Job
	leases map[string]lease
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:   make(map[string]*models.Job),
		leases: make(map[string]lease),
		now:    time.Now,
	}
}

func (s *MemoryStore) Create(ctx context.Context, job *models.Job) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := job.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if _, exists := s.jobs[stored.ID]; exists {
		return "", ErrVersionConflict
	}
	now := s.now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	if stored.Stage == "" {
		stored.Stage = models.StageQueued
	}
	if stored.Run == 0 {
		stored.Run = 1
	}
	stored.Version = 1
	s.jobs[stored.ID] = stored
	return stored.ID, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return job.Clone(), nil
}

func (s *MemoryStore) CompareAndSwap(ctx context.Context, id string, expectedVersion int64, mutate Mutator) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if current.Version != expectedVersion {
		return nil, ErrVersionConflict
	}
	next, err := applyMutation(current, mutate, s.now())
	if err != nil {
		return nil, err
	}
	s.jobs[id] = next
	return next.Clone(), nil
}

func (s *MemoryStore) ListPendingReview(ctx context.Context, limit, offset int) ([]*models.Job, int64, error) {
	all, err := s.ListByFilter(ctx, Filter{Stages: []models.Stage{models.StagePendingReview}})
	if err != nil {
		return nil, 0, err
	}
	return paginate(all, limit, offset), int64(len(all)), nil
}

func (s *MemoryStore) ListByFilter(ctx context.Context, filter Filter) ([]*models.Job, error) {
	s.mu.RLock()
	var out []*models.Job
	for _, job := range s.jobs {
		if filter.Matches(job) {
			out = append(out, job.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return paginate(out, filter.Limit, filter.Offset), nil
}

func (s *MemoryStore) FindCompletedByFingerprint(ctx context.Context, fingerprint string) (*models.Job, error) {
	jobs, err := s.ListByFilter(ctx, Filter{
		Fingerprint: fingerprint,
		Stages:      []models.Stage{models.StageCompleted, models.StagePendingReview},
		Limit:       1,
	})
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, ErrNotFound
	}
	return jobs[0], nil
}

func (s *MemoryStore) AcquireLease(ctx context.Context, jobID, owner string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if l, ok := s.leases[jobID]; ok && l.owner != owner && now.Before(l.expiresAt) {
		return ErrLeaseHeld
	}
	s.leases[jobID] = lease{owner: owner, expiresAt: now.Add(ttl)}
	return nil
}

func (s *MemoryStore) RenewLease(ctx context.Context, jobID, owner string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.leases[jobID]
	if !ok || l.owner != owner {
		return ErrLeaseLost
	}
	s.leases[jobID] = lease{owner: owner, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) ReleaseLease(ctx context.Context, jobID, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.leases[jobID]; ok && l.owner == owner {
		delete(s.leases, jobID)
	}
	return nil
}

func (s *MemoryStore) ListExpiredLeases(ctx context.Context, now time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, l := range s.leases {
		if !now.Before(l.expiresAt) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func paginate(jobs []*models.Job, limit, offset int) []*models.Job {
	if offset > 0 {
		if offset >= len(jobs) {
			return nil
		}
		jobs = jobs[offset:]
	}
	if limit > 0 && limit < len(jobs) {
		jobs = jobs[:limit]
	}
	return jobs
}
