package mocks

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tetherhq/tether-api/internal/domain"
	"github.com/tetherhq/tether-api/internal/store"
)

// MemoryJobStore implements store.JobStore with a mutex-guarded map. The
// compare-and-set semantics match the PostgreSQL implementation, so
// at-most-one-claim behavior can be tested with real goroutine races.
type MemoryJobStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*domain.Job

	// Overridable behavior for error injection
	EnqueueFn   func(ctx context.Context, job *domain.Job) (uuid.UUID, error)
	ClaimFn     func(ctx context.Context, jobID uuid.UUID, expected domain.JobStatus) (*domain.Job, error)
	MarkDoneFn  func(ctx context.Context, jobID uuid.UUID) error
	MarkErrorFn func(ctx context.Context, jobID uuid.UUID, errMsg string) error
	ListFn      func(ctx context.Context, ownerID uuid.UUID, opts store.ListJobsOptions) ([]*domain.Job, error)
}

// NewMemoryJobStore creates an empty in-memory job store.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs: make(map[uuid.UUID]*domain.Job),
	}
}

// Ensure MemoryJobStore implements store.JobStore
var _ store.JobStore = (*MemoryJobStore)(nil)

// Enqueue implements store.JobStore.Enqueue.
func (m *MemoryJobStore) Enqueue(ctx context.Context, job *domain.Job) (uuid.UUID, error) {
	if m.EnqueueFn != nil {
		return m.EnqueueFn(ctx, job)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if job.BatchID != "" {
		for _, existing := range m.jobs {
			if existing.OwnerID == job.OwnerID && existing.Kind == job.Kind && existing.BatchID == job.BatchID {
				return existing.ID, nil
			}
		}
	}

	clone := *job
	m.jobs[job.ID] = &clone
	return job.ID, nil
}

// GetByID implements store.JobStore.GetByID.
func (m *MemoryJobStore) GetByID(ctx context.Context, ownerID, jobID uuid.UUID) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok || job.OwnerID != ownerID {
		return nil, store.ErrJobNotFound
	}

	clone := *job
	return &clone, nil
}

// Claim implements store.JobStore.Claim with the same compare-and-set
// contract as the PostgreSQL store: exactly one concurrent caller wins.
func (m *MemoryJobStore) Claim(ctx context.Context, jobID uuid.UUID, expected domain.JobStatus) (*domain.Job, error) {
	if m.ClaimFn != nil {
		return m.ClaimFn(ctx, jobID, expected)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok || job.Status != expected {
		return nil, store.ErrClaimConflict
	}

	job.Status = domain.JobStatusProcessing
	job.Attempts++
	job.UpdatedAt = time.Now().UTC()

	clone := *job
	return &clone, nil
}

// MarkDone implements store.JobStore.MarkDone.
func (m *MemoryJobStore) MarkDone(ctx context.Context, jobID uuid.UUID) error {
	if m.MarkDoneFn != nil {
		return m.MarkDoneFn(ctx, jobID)
	}
	return m.transition(jobID, domain.JobStatusProcessing, domain.JobStatusDone, "")
}

// MarkError implements store.JobStore.MarkError.
func (m *MemoryJobStore) MarkError(ctx context.Context, jobID uuid.UUID, errMsg string) error {
	if m.MarkErrorFn != nil {
		return m.MarkErrorFn(ctx, jobID, errMsg)
	}
	return m.transition(jobID, domain.JobStatusProcessing, domain.JobStatusError, errMsg)
}

func (m *MemoryJobStore) transition(jobID uuid.UUID, from, to domain.JobStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok || job.Status != from {
		return store.ErrClaimConflict
	}

	job.Status = to
	if errMsg != "" {
		job.LastError = errMsg
	}
	job.UpdatedAt = time.Now().UTC()
	return nil
}

// Requeue implements store.JobStore.Requeue.
func (m *MemoryJobStore) Requeue(ctx context.Context, jobID uuid.UUID, to domain.JobStatus, notBefore *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return store.ErrClaimConflict
	}
	if job.Status != domain.JobStatusError && job.Status != domain.JobStatusRetrying {
		return store.ErrClaimConflict
	}

	job.Status = to
	job.NotBefore = notBefore
	job.UpdatedAt = time.Now().UTC()
	return nil
}

// ListEligible implements store.JobStore.ListEligible.
func (m *MemoryJobStore) ListEligible(ctx context.Context, ownerID uuid.UUID, opts store.ListJobsOptions) ([]*domain.Job, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx, ownerID, opts)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	var eligible []*domain.Job
	for _, job := range m.jobs {
		if job.OwnerID != ownerID {
			continue
		}
		if !job.Eligible(now, opts.IncludeRetrying) {
			continue
		}
		if opts.BatchID != "" && job.BatchID != opts.BatchID {
			continue
		}
		if len(opts.JobIDs) > 0 && !containsID(opts.JobIDs, job.ID) {
			continue
		}
		if len(opts.Kinds) > 0 && !containsKind(opts.Kinds, job.Kind) {
			continue
		}
		clone := *job
		eligible = append(eligible, &clone)
	}

	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})

	if opts.Limit > 0 && len(eligible) > opts.Limit {
		eligible = eligible[:opts.Limit]
	}

	return eligible, nil
}

// ListStuck implements store.JobStore.ListStuck.
func (m *MemoryJobStore) ListStuck(ctx context.Context, ownerID uuid.UUID, threshold time.Duration) ([]*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	var stuck []*domain.Job
	for _, job := range m.jobs {
		if job.OwnerID != ownerID || !job.Stuck(now, threshold) {
			continue
		}
		clone := *job
		stuck = append(stuck, &clone)
	}

	sort.Slice(stuck, func(i, j int) bool {
		return stuck[i].CreatedAt.Before(stuck[j].CreatedAt)
	})

	return stuck, nil
}

// ResetStuck implements store.JobStore.ResetStuck.
func (m *MemoryJobStore) ResetStuck(ctx context.Context, ownerID uuid.UUID, threshold time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	var reset int64
	for _, job := range m.jobs {
		if job.OwnerID == ownerID && job.Stuck(now, threshold) {
			job.Status = domain.JobStatusQueued
			job.UpdatedAt = now
			reset++
		}
	}

	return reset, nil
}

// ListByStatus implements store.JobStore.ListByStatus.
func (m *MemoryJobStore) ListByStatus(ctx context.Context, ownerID uuid.UUID, status domain.JobStatus) ([]*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*domain.Job
	for _, job := range m.jobs {
		if job.OwnerID != ownerID || job.Status != status {
			continue
		}
		clone := *job
		matched = append(matched, &clone)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	return matched, nil
}

// DeleteCompletedBefore implements store.JobStore.DeleteCompletedBefore.
func (m *MemoryJobStore) DeleteCompletedBefore(ctx context.Context, ownerID uuid.UUID, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for id, job := range m.jobs {
		if job.OwnerID == ownerID && job.Status == domain.JobStatusDone && job.UpdatedAt.Before(cutoff) {
			delete(m.jobs, id)
			removed++
		}
	}

	return removed, nil
}

// WithTx implements store.JobStore.WithTx. Transactions are not modeled in
// memory; the same store is returned.
func (m *MemoryJobStore) WithTx(tx *sql.Tx) store.JobStore {
	return m
}

// Put seeds the store with a job, bypassing enqueue semantics.
func (m *MemoryJobStore) Put(job *domain.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *job
	m.jobs[job.ID] = &clone
}

// Snapshot returns a copy of the stored job for assertions.
func (m *MemoryJobStore) Snapshot(jobID uuid.UUID) (*domain.Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, false
	}
	clone := *job
	return &clone, true
}

func containsKind(kinds []domain.JobKind, kind domain.JobKind) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
