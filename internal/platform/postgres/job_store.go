package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tetherhq/tether-api/internal/domain"
	"github.com/tetherhq/tether-api/internal/platform/logger"
	"github.com/tetherhq/tether-api/internal/store"
)

// jobColumns is the canonical select list shared by every job query.
const jobColumns = `id, owner_id, kind, status, attempts, batch_id, payload, last_error, not_before, created_at, updated_at`

// PostgresJobStore implements the store.JobStore interface using PostgreSQL.
// Status transitions are single-statement compare-and-set updates keyed on
// (id, expected status), which is the subsystem's only mutual-exclusion
// mechanism: concurrent claimers race on the row and exactly one wins.
type PostgresJobStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresJobStore creates a new PostgreSQL implementation of the
// JobStore interface. It accepts a database connection or transaction that
// should be initialized and managed by the caller.
func NewPostgresJobStore(db store.DBTX, logger *slog.Logger) *PostgresJobStore {
	if db == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresJobStore{
		db:     db,
		logger: logger.With(slog.String("component", "job_store")),
	}
}

// Ensure PostgresJobStore implements store.JobStore interface
var _ store.JobStore = (*PostgresJobStore)(nil)

// Enqueue implements store.JobStore.Enqueue.
// When the job carries a batch ID, a partial unique index on
// (owner_id, kind, batch_id) makes the insert idempotent: the conflicting
// insert is a no-op and the existing job's ID is returned instead.
func (s *PostgresJobStore) Enqueue(ctx context.Context, job *domain.Job) (uuid.UUID, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := job.Validate(); err != nil {
		log.Warn("job validation failed during enqueue",
			slog.String("error", err.Error()),
			slog.String("job_id", job.ID.String()))
		return uuid.Nil, err
	}

	query := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, NULLIF($8, ''), $9, $10, $11)
		ON CONFLICT (owner_id, kind, batch_id) WHERE batch_id IS NOT NULL
		DO NOTHING
	`
	result, err := s.db.ExecContext(
		ctx,
		query,
		job.ID,
		job.OwnerID,
		job.Kind,
		job.Status,
		job.Attempts,
		job.BatchID,
		job.Payload,
		job.LastError,
		job.NotBefore,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to enqueue job",
			slog.String("job_id", job.ID.String()),
			slog.String("kind", string(job.Kind)),
			slog.String("error", err.Error()))
		return uuid.Nil, MapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected > 0 {
		return job.ID, nil
	}

	// The batch key already has a job; return the existing row's ID.
	var existingID uuid.UUID
	err = s.db.QueryRowContext(
		ctx,
		`SELECT id FROM jobs WHERE owner_id = $1 AND kind = $2 AND batch_id = $3`,
		job.OwnerID,
		job.Kind,
		job.BatchID,
	).Scan(&existingID)
	if err != nil {
		return uuid.Nil, MapError(err)
	}

	log.Debug("enqueue deduplicated by batch key",
		slog.String("batch_id", job.BatchID),
		slog.String("existing_job_id", existingID.String()))
	return existingID, nil
}

// GetByID implements store.JobStore.GetByID.
func (s *PostgresJobStore) GetByID(ctx context.Context, ownerID, jobID uuid.UUID) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1 AND owner_id = $2`
	row := s.db.QueryRowContext(ctx, query, jobID, ownerID)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrJobNotFound
		}
		return nil, MapError(err)
	}

	return job, nil
}

// Claim implements store.JobStore.Claim.
// The UPDATE's status precondition is the compare-and-set: when a
// concurrent runner has already moved the job, zero rows match and the
// caller receives store.ErrClaimConflict. The attempt counter increments
// here, on entry into processing, and nowhere else.
func (s *PostgresJobStore) Claim(ctx context.Context, jobID uuid.UUID, expected domain.JobStatus) (*domain.Job, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE jobs
		SET status = $1, attempts = attempts + 1, updated_at = $2
		WHERE id = $3 AND status = $4
		RETURNING ` + jobColumns
	row := s.db.QueryRowContext(
		ctx,
		query,
		domain.JobStatusProcessing,
		time.Now().UTC(),
		jobID,
		expected,
	)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("claim lost to concurrent runner",
				slog.String("job_id", jobID.String()),
				slog.String("expected_status", string(expected)))
			return nil, store.ErrClaimConflict
		}
		return nil, MapError(err)
	}

	return job, nil
}

// MarkDone implements store.JobStore.MarkDone.
// Done is terminal: the transition only fires from processing, so a job
// completes exactly once per successful run.
func (s *PostgresJobStore) MarkDone(ctx context.Context, jobID uuid.UUID) error {
	return s.transition(ctx, jobID, domain.JobStatusProcessing, domain.JobStatusDone, "")
}

// MarkError implements store.JobStore.MarkError.
func (s *PostgresJobStore) MarkError(ctx context.Context, jobID uuid.UUID, errMsg string) error {
	return s.transition(ctx, jobID, domain.JobStatusProcessing, domain.JobStatusError, errMsg)
}

// transition performs a compare-and-set status update from one expected
// status to another, optionally recording a failure message.
func (s *PostgresJobStore) transition(
	ctx context.Context,
	jobID uuid.UUID,
	from, to domain.JobStatus,
	errMsg string,
) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE jobs
		SET status = $1, last_error = NULLIF($2, ''), updated_at = $3
		WHERE id = $4 AND status = $5
	`
	result, err := s.db.ExecContext(ctx, query, to, errMsg, time.Now().UTC(), jobID, from)
	if err != nil {
		log.Error("failed to transition job status",
			slog.String("job_id", jobID.String()),
			slog.String("to_status", string(to)),
			slog.String("error", err.Error()))
		return MapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return store.ErrClaimConflict
	}

	return nil
}

// Requeue implements store.JobStore.Requeue.
// Only terminal error jobs (or jobs already parked in retrying) can be
// re-activated, and only into queued or retrying. The attempt counter is
// untouched; it increments when the job is claimed again.
func (s *PostgresJobStore) Requeue(
	ctx context.Context,
	jobID uuid.UUID,
	to domain.JobStatus,
	notBefore *time.Time,
) error {
	if to != domain.JobStatusQueued && to != domain.JobStatusRetrying {
		return fmt.Errorf("%w: cannot requeue into status %q", store.ErrInvalidEntity, to)
	}

	query := `
		UPDATE jobs
		SET status = $1, not_before = $2, updated_at = $3
		WHERE id = $4 AND status IN ($5, $6)
	`
	result, err := s.db.ExecContext(
		ctx,
		query,
		to,
		notBefore,
		time.Now().UTC(),
		jobID,
		domain.JobStatusError,
		domain.JobStatusRetrying,
	)
	if err != nil {
		return MapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return store.ErrClaimConflict
	}

	return nil
}

// ListEligible implements store.JobStore.ListEligible.
// Results are ordered oldest-first so one run cannot starve old work, and
// jobs with a not-before gate in the future stay invisible until the gate
// passes.
func (s *PostgresJobStore) ListEligible(
	ctx context.Context,
	ownerID uuid.UUID,
	opts store.ListJobsOptions,
) ([]*domain.Job, error) {
	statuses := []string{string(domain.JobStatusQueued)}
	if opts.IncludeRetrying {
		statuses = append(statuses, string(domain.JobStatusRetrying))
	}

	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE owner_id = $1
		  AND status = ANY($2)
		  AND (not_before IS NULL OR not_before <= $3)
	`
	args := []any{ownerID, statuses, time.Now().UTC()}

	if len(opts.JobIDs) > 0 {
		ids := make([]string, len(opts.JobIDs))
		for i, id := range opts.JobIDs {
			ids[i] = id.String()
		}
		args = append(args, ids)
		query += fmt.Sprintf(" AND id = ANY($%d)", len(args))
	}

	if len(opts.Kinds) > 0 {
		kinds := make([]string, len(opts.Kinds))
		for i, k := range opts.Kinds {
			kinds[i] = string(k)
		}
		args = append(args, kinds)
		query += fmt.Sprintf(" AND kind = ANY($%d)", len(args))
	}

	if opts.BatchID != "" {
		args = append(args, opts.BatchID)
		query += fmt.Sprintf(" AND batch_id = $%d", len(args))
	}

	query += " ORDER BY created_at ASC"

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	return s.queryJobs(ctx, query, args...)
}

// ListStuck implements store.JobStore.ListStuck.
func (s *PostgresJobStore) ListStuck(
	ctx context.Context,
	ownerID uuid.UUID,
	threshold time.Duration,
) ([]*domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE owner_id = $1 AND status = $2 AND updated_at < $3
		ORDER BY created_at ASC
	`
	cutoff := time.Now().UTC().Add(-threshold)
	return s.queryJobs(ctx, query, ownerID, domain.JobStatusProcessing, cutoff)
}

// ResetStuck implements store.JobStore.ResetStuck.
func (s *PostgresJobStore) ResetStuck(
	ctx context.Context,
	ownerID uuid.UUID,
	threshold time.Duration,
) (int64, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE jobs
		SET status = $1, updated_at = $2
		WHERE owner_id = $3 AND status = $4 AND updated_at < $5
	`
	now := time.Now().UTC()
	result, err := s.db.ExecContext(
		ctx,
		query,
		domain.JobStatusQueued,
		now,
		ownerID,
		domain.JobStatusProcessing,
		now.Add(-threshold),
	)
	if err != nil {
		return 0, MapError(err)
	}

	reset, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if reset > 0 {
		log.Info("reset stuck jobs",
			slog.String("owner_id", ownerID.String()),
			slog.Int64("count", reset))
	}

	return reset, nil
}

// ListByStatus implements store.JobStore.ListByStatus.
func (s *PostgresJobStore) ListByStatus(
	ctx context.Context,
	ownerID uuid.UUID,
	status domain.JobStatus,
) ([]*domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE owner_id = $1 AND status = $2
		ORDER BY created_at ASC
	`
	return s.queryJobs(ctx, query, ownerID, status)
}

// DeleteCompletedBefore implements store.JobStore.DeleteCompletedBefore.
func (s *PostgresJobStore) DeleteCompletedBefore(
	ctx context.Context,
	ownerID uuid.UUID,
	cutoff time.Time,
) (int64, error) {
	query := `DELETE FROM jobs WHERE owner_id = $1 AND status = $2 AND updated_at < $3`
	result, err := s.db.ExecContext(ctx, query, ownerID, domain.JobStatusDone, cutoff.UTC())
	if err != nil {
		return 0, MapError(err)
	}

	return result.RowsAffected()
}

// WithTx implements store.JobStore.WithTx.
func (s *PostgresJobStore) WithTx(tx *sql.Tx) store.JobStore {
	return &PostgresJobStore{
		db:     tx,
		logger: s.logger,
	}
}

// queryJobs runs a select over jobColumns and scans the rows.
func (s *PostgresJobStore) queryJobs(ctx context.Context, query string, args ...any) ([]*domain.Job, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to query jobs", slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job rows: %w", err)
	}

	return jobs, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanJob.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanJob reads one jobColumns row into a domain.Job.
func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job       domain.Job
		batchID   sql.NullString
		payload   []byte
		lastError sql.NullString
		notBefore sql.NullTime
	)

	err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&job.Kind,
		&job.Status,
		&job.Attempts,
		&batchID,
		&payload,
		&lastError,
		&notBefore,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.BatchID = batchID.String
	job.Payload = payload
	job.LastError = lastError.String
	if notBefore.Valid {
		t := notBefore.Time
		job.NotBefore = &t
	}

	return &job, nil
}
