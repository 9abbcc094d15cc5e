package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/tetherhq/tether-api/internal/domain"
)

// ErrorRecordFilter narrows the set of error records returned by List.
// Zero values mean "no constraint".
type ErrorRecordFilter struct {
	// Since excludes records that occurred before the given instant.
	Since time.Time

	// Provider restricts results to one origin system.
	Provider string

	// Stage restricts results to one pipeline stage.
	Stage domain.ErrorStage

	// Severity restricts results to one classification severity.
	Severity domain.ErrorSeverity

	// Category restricts results to one classification category.
	Category domain.ErrorCategory

	// IncludeResolved keeps records whose ResolvedAt is set; by default
	// only open records are returned.
	IncludeResolved bool

	// OnlyRetryable keeps only records whose classification is retryable.
	OnlyRetryable bool

	// Limit caps the number of returned records. Zero means no cap.
	Limit int
}

// ErrorStore defines the interface for persisting classified failure
// occurrences. Reads must tolerate partial data: legacy rows persisted
// without a classification scan with category "unknown" rather than
// failing.
type ErrorStore interface {
	// Insert persists a new error record.
	Insert(ctx context.Context, record *domain.ErrorRecord) error

	// GetByID retrieves a single record scoped to its owner.
	GetByID(ctx context.Context, ownerID, recordID uuid.UUID) (*domain.ErrorRecord, error)

	// List returns the owner's records matching the filter, most recent first.
	List(ctx context.Context, ownerID uuid.UUID, filter ErrorRecordFilter) ([]*domain.ErrorRecord, error)

	// MarkResolved sets ResolvedAt on an open record. Resolving an already
	// resolved record is a no-op.
	MarkResolved(ctx context.Context, ownerID, recordID uuid.UUID, at time.Time) error

	// IncrementRetryCount bumps the record's retry counter to mirror a retry
	// attempt made against the underlying job.
	IncrementRetryCount(ctx context.Context, ownerID, recordID uuid.UUID) error

	// Acknowledge marks the record as seen by the user.
	Acknowledge(ctx context.Context, ownerID, recordID uuid.UUID) error

	// DeleteResolvedBefore prunes resolved records older than the cutoff,
	// returning the number of rows removed.
	DeleteResolvedBefore(ctx context.Context, ownerID uuid.UUID, cutoff time.Time) (int64, error)

	// WithTx returns a new ErrorStore instance that uses the provided transaction.
	WithTx(tx *sql.Tx) ErrorStore
}
