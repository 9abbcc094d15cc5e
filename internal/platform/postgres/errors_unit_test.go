package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetherhq/tether-api/internal/store"
)

// mockResult implements sql.Result for testing
type mockResult struct {
	rowsAffected int64
	err          error
}

func (m mockResult) LastInsertId() (int64, error) {
	return 0, nil
}

func (m mockResult) RowsAffected() (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	return m.rowsAffected, nil
}

func TestMapError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		err           error
		expectedError error
	}{
		{
			name:          "nil_error",
			err:           nil,
			expectedError: nil,
		},
		{
			name:          "sql_no_rows",
			err:           sql.ErrNoRows,
			expectedError: store.ErrNotFound,
		},
		{
			name: "unique_violation",
			err: &pgconn.PgError{
				Code:           uniqueViolationCode,
				ConstraintName: "jobs_owner_kind_batch_idx",
			},
			expectedError: store.ErrDuplicate,
		},
		{
			name: "foreign_key_violation",
			err: &pgconn.PgError{
				Code:           foreignKeyViolationCode,
				ConstraintName: "error_records_job_id_fkey",
			},
			expectedError: store.ErrInvalidEntity,
		},
		{
			name: "check_constraint_violation",
			err: &pgconn.PgError{
				Code:           checkViolationCode,
				ConstraintName: "jobs_status_check",
			},
			expectedError: store.ErrInvalidEntity,
		},
		{
			name: "not_null_violation",
			err: &pgconn.PgError{
				Code:       notNullViolationCode,
				ColumnName: "owner_id",
			},
			expectedError: store.ErrInvalidEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			result := MapError(tt.err)

			if tt.expectedError == nil {
				assert.NoError(t, result)
				return
			}
			assert.ErrorIs(t, result, tt.expectedError)
		})
	}

	t.Run("unmapped errors pass through", func(t *testing.T) {
		t.Parallel()
		original := errors.New("connection refused")
		assert.Equal(t, original, MapError(original))

		pgErr := &pgconn.PgError{Code: "99999", Message: "unknown"}
		assert.Equal(t, error(pgErr), MapError(pgErr))
	})
}

func TestViolationPredicates(t *testing.T) {
	t.Parallel()

	unique := &pgconn.PgError{Code: uniqueViolationCode}
	foreign := &pgconn.PgError{Code: foreignKeyViolationCode}
	check := &pgconn.PgError{Code: checkViolationCode}
	notNull := &pgconn.PgError{Code: notNullViolationCode}
	plain := errors.New("not a pg error")

	assert.True(t, IsUniqueViolation(unique))
	assert.False(t, IsUniqueViolation(foreign))
	assert.False(t, IsUniqueViolation(plain))

	assert.True(t, IsForeignKeyViolation(foreign))
	assert.False(t, IsForeignKeyViolation(unique))

	assert.True(t, IsCheckConstraintViolation(check))
	assert.False(t, IsCheckConstraintViolation(notNull))

	assert.True(t, IsNotNullViolation(notNull))
	assert.False(t, IsNotNullViolation(check))

	// Predicates follow error wrapping
	wrapped := fmt.Errorf("enqueue failed: %w", unique)
	assert.True(t, IsUniqueViolation(wrapped))
}

func TestIsNotFoundError(t *testing.T) {
	t.Parallel()

	assert.True(t, IsNotFoundError(sql.ErrNoRows))
	assert.True(t, IsNotFoundError(store.ErrNotFound))
	assert.True(t, IsNotFoundError(store.ErrJobNotFound))
	assert.True(t, IsNotFoundError(fmt.Errorf("lookup: %w", store.ErrErrorRecordNotFound)))
	assert.False(t, IsNotFoundError(errors.New("other")))
	assert.False(t, IsNotFoundError(nil))
}

func TestCheckRowsAffected(t *testing.T) {
	t.Parallel()

	t.Run("rows affected passes", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, CheckRowsAffected(mockResult{rowsAffected: 1}, "job"))
	})

	t.Run("zero rows is not found", func(t *testing.T) {
		t.Parallel()
		err := CheckRowsAffected(mockResult{rowsAffected: 0}, "job")
		require.Error(t, err)
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.Contains(t, err.Error(), "job")
	})

	t.Run("zero rows without entity name", func(t *testing.T) {
		t.Parallel()
		err := CheckRowsAffected(mockResult{rowsAffected: 0}, "")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("result error propagates", func(t *testing.T) {
		t.Parallel()
		resultErr := errors.New("driver does not support RowsAffected")
		err := CheckRowsAffected(mockResult{err: resultErr}, "job")
		require.Error(t, err)
		assert.ErrorIs(t, err, resultErr)
	})

	t.Run("nil result is an error", func(t *testing.T) {
		t.Parallel()
		assert.Error(t, CheckRowsAffected(nil, "job"))
	})
}

func TestMapUniqueViolation(t *testing.T) {
	t.Parallel()

	unique := &pgconn.PgError{Code: uniqueViolationCode, ConstraintName: "ingestion_records_natural_key_idx"}

	t.Run("specific error wins", func(t *testing.T) {
		t.Parallel()
		err := MapUniqueViolation(unique, "batch", "", store.ErrBatchExists)
		assert.ErrorIs(t, err, store.ErrBatchExists)
	})

	t.Run("entity name message", func(t *testing.T) {
		t.Parallel()
		err := MapUniqueViolation(unique, "ingestion record", "", nil)
		assert.ErrorIs(t, err, store.ErrDuplicate)
		assert.Contains(t, err.Error(), "ingestion record already exists")
	})

	t.Run("non-unique errors pass through", func(t *testing.T) {
		t.Parallel()
		original := errors.New("timeout")
		assert.Equal(t, original, MapUniqueViolation(original, "job", "", store.ErrBatchExists))
	})
}
