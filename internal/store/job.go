package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/tetherhq/tether-api/internal/domain"
)

// ListJobsOptions narrows the set of jobs returned by ListEligible.
type ListJobsOptions struct {
	// JobIDs restricts results to the given jobs. Empty means no restriction.
	JobIDs []uuid.UUID

	// Kinds restricts results to the given job kinds. Empty means all kinds.
	Kinds []domain.JobKind

	// BatchID restricts results to jobs created under one batch key.
	BatchID string

	// IncludeRetrying widens the eligible status set from {queued} to
	// {queued, retrying}.
	IncludeRetrying bool

	// Limit caps the number of returned jobs. Zero means no cap.
	Limit int
}

// JobStore defines the interface for persisting jobs and driving the job
// status state machine. All status transitions are atomic compare-and-set
// operations keyed on (id, expected status); a transition that does not
// match the expected current status returns ErrClaimConflict.
type JobStore interface {
	// Enqueue persists a new queued job. When the job carries a batch ID,
	// enqueueing is idempotent per (owner, kind, batch): a duplicate call
	// returns the existing job's ID instead of creating a second row.
	Enqueue(ctx context.Context, job *domain.Job) (uuid.UUID, error)

	// GetByID retrieves a single job scoped to its owner.
	GetByID(ctx context.Context, ownerID, jobID uuid.UUID) (*domain.Job, error)

	// Claim atomically transitions a job from the expected status into
	// processing and increments its attempt counter. Exactly one concurrent
	// caller succeeds; the others receive ErrClaimConflict.
	Claim(ctx context.Context, jobID uuid.UUID, expected domain.JobStatus) (*domain.Job, error)

	// MarkDone transitions a processing job to done.
	MarkDone(ctx context.Context, jobID uuid.UUID) error

	// MarkError transitions a processing job to error, recording the failure
	// message.
	MarkError(ctx context.Context, jobID uuid.UUID, errMsg string) error

	// Requeue transitions a terminal error job back into the given status
	// (queued or retrying) with an optional not-before gate. The attempt
	// counter is not touched; it only increments when the job is actually
	// claimed again.
	Requeue(ctx context.Context, jobID uuid.UUID, to domain.JobStatus, notBefore *time.Time) error

	// ListEligible returns the owner's claimable jobs oldest-first. Jobs with
	// a not-before gate in the future are excluded, as are stuck jobs.
	ListEligible(ctx context.Context, ownerID uuid.UUID, opts ListJobsOptions) ([]*domain.Job, error)

	// ListStuck returns the owner's jobs that have been in processing longer
	// than the given threshold.
	ListStuck(ctx context.Context, ownerID uuid.UUID, threshold time.Duration) ([]*domain.Job, error)

	// ResetStuck moves the owner's stuck jobs back to queued so they become
	// claimable again. This is an explicit operator action, never automatic;
	// it returns the number of jobs reset.
	ResetStuck(ctx context.Context, ownerID uuid.UUID, threshold time.Duration) (int64, error)

	// ListByStatus returns the owner's jobs in the given status, oldest-first.
	ListByStatus(ctx context.Context, ownerID uuid.UUID, status domain.JobStatus) ([]*domain.Job, error)

	// DeleteCompletedBefore prunes done jobs whose last update predates the
	// cutoff, returning the number of rows removed.
	DeleteCompletedBefore(ctx context.Context, ownerID uuid.UUID, cutoff time.Time) (int64, error)

	// WithTx returns a new JobStore instance that uses the provided transaction.
	// This allows for multiple operations to be executed within a single transaction.
	// The transaction should be created and managed by the caller (typically a service).
	WithTx(tx *sql.Tx) JobStore
}
