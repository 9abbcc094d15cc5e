package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tetherhq/tether-api/internal/domain"
	"github.com/tetherhq/tether-api/internal/platform/logger"
	"github.com/tetherhq/tether-api/internal/store"
)

// errorRecordColumns is the canonical select list shared by every
// error_records query. Category, severity, and retryable are denormalized
// out of the classification document so filters stay plain SQL.
const errorRecordColumns = `id, owner_id, job_id, provider, stage, occurred_at, raw_message, category, severity, retryable, classification, retry_count, user_acknowledged, resolved_at`

// PostgresErrorStore implements the store.ErrorStore interface using PostgreSQL.
type PostgresErrorStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresErrorStore creates a new PostgreSQL implementation of the
// ErrorStore interface.
func NewPostgresErrorStore(db store.DBTX, logger *slog.Logger) *PostgresErrorStore {
	if db == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresErrorStore{
		db:     db,
		logger: logger.With(slog.String("component", "error_store")),
	}
}

// Ensure PostgresErrorStore implements store.ErrorStore interface
var _ store.ErrorStore = (*PostgresErrorStore)(nil)

// Insert implements store.ErrorStore.Insert.
func (s *PostgresErrorStore) Insert(ctx context.Context, record *domain.ErrorRecord) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := record.Validate(); err != nil {
		log.Warn("error record validation failed during insert",
			slog.String("error", err.Error()),
			slog.String("record_id", record.ID.String()))
		return err
	}

	classification, err := json.Marshal(record.Classification)
	if err != nil {
		return fmt.Errorf("failed to marshal classification: %w", err)
	}

	query := `
		INSERT INTO error_records (` + errorRecordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	var jobID uuid.NullUUID
	if record.JobID != nil {
		jobID = uuid.NullUUID{UUID: *record.JobID, Valid: true}
	}

	_, err = s.db.ExecContext(
		ctx,
		query,
		record.ID,
		record.OwnerID,
		jobID,
		record.Provider,
		record.Stage,
		record.OccurredAt,
		record.RawMessage,
		record.Classification.Category,
		record.Classification.Severity,
		record.Classification.Retryable,
		classification,
		record.RetryCount,
		record.UserAcknowledged,
		record.ResolvedAt,
	)
	if err != nil {
		log.Error("failed to insert error record",
			slog.String("record_id", record.ID.String()),
			slog.String("error", err.Error()))
		return MapError(err)
	}

	return nil
}

// GetByID implements store.ErrorStore.GetByID.
func (s *PostgresErrorStore) GetByID(ctx context.Context, ownerID, recordID uuid.UUID) (*domain.ErrorRecord, error) {
	query := `SELECT ` + errorRecordColumns + ` FROM error_records WHERE id = $1 AND owner_id = $2`
	row := s.db.QueryRowContext(ctx, query, recordID, ownerID)

	record, err := s.scanErrorRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrErrorRecordNotFound
		}
		return nil, MapError(err)
	}

	return record, nil
}

// List implements store.ErrorStore.List.
func (s *PostgresErrorStore) List(
	ctx context.Context,
	ownerID uuid.UUID,
	filter store.ErrorRecordFilter,
) ([]*domain.ErrorRecord, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `SELECT ` + errorRecordColumns + ` FROM error_records WHERE owner_id = $1`
	args := []any{ownerID}

	if !filter.Since.IsZero() {
		args = append(args, filter.Since.UTC())
		query += fmt.Sprintf(" AND occurred_at >= $%d", len(args))
	}

	if filter.Provider != "" {
		args = append(args, filter.Provider)
		query += fmt.Sprintf(" AND provider = $%d", len(args))
	}

	if filter.Stage != "" {
		args = append(args, filter.Stage)
		query += fmt.Sprintf(" AND stage = $%d", len(args))
	}

	if filter.Severity != "" {
		args = append(args, filter.Severity)
		query += fmt.Sprintf(" AND severity = $%d", len(args))
	}

	if filter.Category != "" {
		args = append(args, filter.Category)
		query += fmt.Sprintf(" AND category = $%d", len(args))
	}

	if !filter.IncludeResolved {
		query += " AND resolved_at IS NULL"
	}

	if filter.OnlyRetryable {
		query += " AND retryable = TRUE"
	}

	query += " ORDER BY occurred_at DESC"

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to query error records", slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var records []*domain.ErrorRecord
	for rows.Next() {
		record, err := s.scanErrorRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan error record row: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating error record rows: %w", err)
	}

	return records, nil
}

// MarkResolved implements store.ErrorStore.MarkResolved.
// The resolved_at IS NULL guard makes resolution single-shot; resolving an
// already resolved record affects zero rows and is treated as a no-op.
func (s *PostgresErrorStore) MarkResolved(ctx context.Context, ownerID, recordID uuid.UUID, at time.Time) error {
	query := `
		UPDATE error_records
		SET resolved_at = $1
		WHERE id = $2 AND owner_id = $3 AND resolved_at IS NULL
	`
	_, err := s.db.ExecContext(ctx, query, at.UTC(), recordID, ownerID)
	if err != nil {
		return MapError(err)
	}

	return nil
}

// IncrementRetryCount implements store.ErrorStore.IncrementRetryCount.
func (s *PostgresErrorStore) IncrementRetryCount(ctx context.Context, ownerID, recordID uuid.UUID) error {
	query := `
		UPDATE error_records
		SET retry_count = retry_count + 1
		WHERE id = $1 AND owner_id = $2
	`
	result, err := s.db.ExecContext(ctx, query, recordID, ownerID)
	if err != nil {
		return MapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return store.ErrErrorRecordNotFound
	}

	return nil
}

// Acknowledge implements store.ErrorStore.Acknowledge.
func (s *PostgresErrorStore) Acknowledge(ctx context.Context, ownerID, recordID uuid.UUID) error {
	query := `
		UPDATE error_records
		SET user_acknowledged = TRUE
		WHERE id = $1 AND owner_id = $2
	`
	result, err := s.db.ExecContext(ctx, query, recordID, ownerID)
	if err != nil {
		return MapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return store.ErrErrorRecordNotFound
	}

	return nil
}

// DeleteResolvedBefore implements store.ErrorStore.DeleteResolvedBefore.
func (s *PostgresErrorStore) DeleteResolvedBefore(
	ctx context.Context,
	ownerID uuid.UUID,
	cutoff time.Time,
) (int64, error) {
	query := `
		DELETE FROM error_records
		WHERE owner_id = $1 AND resolved_at IS NOT NULL AND resolved_at < $2
	`
	result, err := s.db.ExecContext(ctx, query, ownerID, cutoff.UTC())
	if err != nil {
		return 0, MapError(err)
	}

	return result.RowsAffected()
}

// WithTx implements store.ErrorStore.WithTx.
func (s *PostgresErrorStore) WithTx(tx *sql.Tx) store.ErrorStore {
	return &PostgresErrorStore{
		db:     tx,
		logger: s.logger,
	}
}

// scanErrorRecord reads one errorRecordColumns row into a domain.ErrorRecord.
// Legacy rows persisted before classification existed scan with category
// "unknown" and severity "low" rather than failing the whole read.
func (s *PostgresErrorStore) scanErrorRecord(row rowScanner) (*domain.ErrorRecord, error) {
	var (
		record         domain.ErrorRecord
		jobID          uuid.NullUUID
		category       sql.NullString
		severity       sql.NullString
		retryable      sql.NullBool
		classification []byte
		resolvedAt     sql.NullTime
	)

	err := row.Scan(
		&record.ID,
		&record.OwnerID,
		&jobID,
		&record.Provider,
		&record.Stage,
		&record.OccurredAt,
		&record.RawMessage,
		&category,
		&severity,
		&retryable,
		&classification,
		&record.RetryCount,
		&record.UserAcknowledged,
		&resolvedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(classification) > 0 {
		if err := json.Unmarshal(classification, &record.Classification); err != nil {
			s.logger.Warn("discarding malformed classification document",
				slog.String("record_id", record.ID.String()),
				slog.String("error", err.Error()))
			record.Classification = domain.Classification{}
		}
	}

	// The denormalized columns are authoritative for filtering; make the
	// embedded value object agree with them.
	if category.Valid {
		record.Classification.Category = domain.ErrorCategory(category.String)
	}
	if severity.Valid {
		record.Classification.Severity = domain.ErrorSeverity(severity.String)
	}
	if retryable.Valid {
		record.Classification.Retryable = retryable.Bool
	}

	if record.Classification.Category == "" {
		record.Classification.Category = domain.ErrorCategoryUnknown
	}
	if record.Classification.Severity == "" {
		record.Classification.Severity = domain.ErrorSeverityLow
	}

	if jobID.Valid {
		id := jobID.UUID
		record.JobID = &id
	}

	if resolvedAt.Valid {
		t := resolvedAt.Time
		record.ResolvedAt = &t
	}

	return &record, nil
}
