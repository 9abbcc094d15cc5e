package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/tetherhq/tether-api/internal/domain"
)

// IngestionStore defines the interface for persisting externally sourced
// records. The tuple (owner, source, source ID) is unique; Upsert is the
// only write path and is convergent across repeated sync runs.
type IngestionStore interface {
	// Upsert inserts the record or, when the uniqueness tuple already
	// exists, updates the mutable fields of the existing row while
	// preserving its ID and any contact association established earlier.
	// It returns the stable record ID either way.
	Upsert(ctx context.Context, record *domain.IngestionRecord) (uuid.UUID, error)

	// GetBySourceID retrieves a record by its external identity.
	GetBySourceID(ctx context.Context, ownerID uuid.UUID, source, sourceID string) (*domain.IngestionRecord, error)

	// GetByID retrieves a record by its stable internal ID.
	GetByID(ctx context.Context, ownerID, recordID uuid.UUID) (*domain.IngestionRecord, error)

	// ListBySource returns the owner's records for one origin system,
	// most recent first.
	ListBySource(ctx context.Context, ownerID uuid.UUID, source string, limit int) ([]*domain.IngestionRecord, error)

	// SetContactID establishes the record's contact association.
	SetContactID(ctx context.Context, ownerID, recordID, contactID uuid.UUID) error

	// WithTx returns a new IngestionStore instance that uses the provided transaction.
	WithTx(tx *sql.Tx) IngestionStore
}
