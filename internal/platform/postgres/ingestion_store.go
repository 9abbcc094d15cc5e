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

// ingestionColumns is the canonical select list for ingestion_records.
const ingestionColumns = `id, owner_id, source, source_id, kind, title, body, metadata, occurred_at, contact_id, created_at, updated_at`

// PostgresIngestionStore implements the store.IngestionStore interface
// using PostgreSQL.
type PostgresIngestionStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresIngestionStore creates a new PostgreSQL implementation of the
// IngestionStore interface.
func NewPostgresIngestionStore(db store.DBTX, logger *slog.Logger) *PostgresIngestionStore {
	if db == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresIngestionStore{
		db:     db,
		logger: logger.With(slog.String("component", "ingestion_store")),
	}
}

// Ensure PostgresIngestionStore implements store.IngestionStore interface
var _ store.IngestionStore = (*PostgresIngestionStore)(nil)

// Upsert implements store.IngestionStore.Upsert.
// The unique index on (owner_id, source, source_id) resolves conflicts: a
// repeated sync of the same external item updates the mutable fields in
// place while the row keeps its ID and contact association, so re-running
// a sync job is convergent rather than duplicating data.
func (s *PostgresIngestionStore) Upsert(ctx context.Context, record *domain.IngestionRecord) (uuid.UUID, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := record.Validate(); err != nil {
		log.Warn("ingestion record validation failed during upsert",
			slog.String("error", err.Error()),
			slog.String("record_id", record.ID.String()))
		return uuid.Nil, err
	}

	query := `
		INSERT INTO ingestion_records (` + ingestionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (owner_id, source, source_id) DO UPDATE
		SET kind = EXCLUDED.kind,
		    title = EXCLUDED.title,
		    body = EXCLUDED.body,
		    metadata = EXCLUDED.metadata,
		    occurred_at = EXCLUDED.occurred_at,
		    updated_at = EXCLUDED.updated_at
		RETURNING id
	`
	var id uuid.UUID
	err := s.db.QueryRowContext(
		ctx,
		query,
		record.ID,
		record.OwnerID,
		record.Source,
		record.SourceID,
		record.Kind,
		record.Title,
		record.Body,
		record.Metadata,
		record.OccurredAt,
		record.ContactID,
		record.CreatedAt,
		time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		log.Error("failed to upsert ingestion record",
			slog.String("source", record.Source),
			slog.String("source_id", record.SourceID),
			slog.String("error", err.Error()))
		return uuid.Nil, MapError(err)
	}

	return id, nil
}

// GetBySourceID implements store.IngestionStore.GetBySourceID.
func (s *PostgresIngestionStore) GetBySourceID(
	ctx context.Context,
	ownerID uuid.UUID,
	source, sourceID string,
) (*domain.IngestionRecord, error) {
	query := `
		SELECT ` + ingestionColumns + `
		FROM ingestion_records
		WHERE owner_id = $1 AND source = $2 AND source_id = $3
	`
	row := s.db.QueryRowContext(ctx, query, ownerID, source, sourceID)

	record, err := scanIngestionRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrIngestionRecordNotFound
		}
		return nil, MapError(err)
	}

	return record, nil
}

// GetByID implements store.IngestionStore.GetByID.
func (s *PostgresIngestionStore) GetByID(ctx context.Context, ownerID, recordID uuid.UUID) (*domain.IngestionRecord, error) {
	query := `SELECT ` + ingestionColumns + ` FROM ingestion_records WHERE id = $1 AND owner_id = $2`
	row := s.db.QueryRowContext(ctx, query, recordID, ownerID)

	record, err := scanIngestionRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrIngestionRecordNotFound
		}
		return nil, MapError(err)
	}

	return record, nil
}

// ListBySource implements store.IngestionStore.ListBySource.
func (s *PostgresIngestionStore) ListBySource(
	ctx context.Context,
	ownerID uuid.UUID,
	source string,
	limit int,
) ([]*domain.IngestionRecord, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT ` + ingestionColumns + `
		FROM ingestion_records
		WHERE owner_id = $1 AND source = $2
		ORDER BY occurred_at DESC
	`
	args := []any{ownerID, source}
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to query ingestion records", slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var records []*domain.IngestionRecord
	for rows.Next() {
		record, err := scanIngestionRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ingestion record row: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ingestion record rows: %w", err)
	}

	return records, nil
}

// SetContactID implements store.IngestionStore.SetContactID.
func (s *PostgresIngestionStore) SetContactID(ctx context.Context, ownerID, recordID, contactID uuid.UUID) error {
	query := `
		UPDATE ingestion_records
		SET contact_id = $1, updated_at = $2
		WHERE id = $3 AND owner_id = $4
	`
	result, err := s.db.ExecContext(ctx, query, contactID, time.Now().UTC(), recordID, ownerID)
	if err != nil {
		return MapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return store.ErrIngestionRecordNotFound
	}

	return nil
}

// WithTx implements store.IngestionStore.WithTx.
func (s *PostgresIngestionStore) WithTx(tx *sql.Tx) store.IngestionStore {
	return &PostgresIngestionStore{
		db:     tx,
		logger: s.logger,
	}
}

// scanIngestionRecord reads one ingestionColumns row into a domain.IngestionRecord.
func scanIngestionRecord(row rowScanner) (*domain.IngestionRecord, error) {
	var (
		record    domain.IngestionRecord
		metadata  []byte
		contactID uuid.NullUUID
	)

	err := row.Scan(
		&record.ID,
		&record.OwnerID,
		&record.Source,
		&record.SourceID,
		&record.Kind,
		&record.Title,
		&record.Body,
		&metadata,
		&record.OccurredAt,
		&contactID,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	record.Metadata = metadata
	if contactID.Valid {
		id := contactID.UUID
		record.ContactID = &id
	}

	return &record, nil
}
