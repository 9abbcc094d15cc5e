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

// MemoryErrorStore implements store.ErrorStore with a mutex-guarded map.
type MemoryErrorStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]*domain.ErrorRecord

	// Overridable behavior for error injection
	InsertFn func(ctx context.Context, record *domain.ErrorRecord) error
	ListFn   func(ctx context.Context, ownerID uuid.UUID, filter store.ErrorRecordFilter) ([]*domain.ErrorRecord, error)
}

// NewMemoryErrorStore creates an empty in-memory error store.
func NewMemoryErrorStore() *MemoryErrorStore {
	return &MemoryErrorStore{
		records: make(map[uuid.UUID]*domain.ErrorRecord),
	}
}

// Ensure MemoryErrorStore implements store.ErrorStore
var _ store.ErrorStore = (*MemoryErrorStore)(nil)

// Insert implements store.ErrorStore.Insert.
func (m *MemoryErrorStore) Insert(ctx context.Context, record *domain.ErrorRecord) error {
	if m.InsertFn != nil {
		return m.InsertFn(ctx, record)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *record
	m.records[record.ID] = &clone
	return nil
}

// GetByID implements store.ErrorStore.GetByID.
func (m *MemoryErrorStore) GetByID(ctx context.Context, ownerID, recordID uuid.UUID) (*domain.ErrorRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[recordID]
	if !ok || record.OwnerID != ownerID {
		return nil, store.ErrErrorRecordNotFound
	}

	clone := *record
	return &clone, nil
}

// List implements store.ErrorStore.List.
func (m *MemoryErrorStore) List(ctx context.Context, ownerID uuid.UUID, filter store.ErrorRecordFilter) ([]*domain.ErrorRecord, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx, ownerID, filter)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*domain.ErrorRecord
	for _, record := range m.records {
		if record.OwnerID != ownerID {
			continue
		}
		if !filter.Since.IsZero() && record.OccurredAt.Before(filter.Since) {
			continue
		}
		if filter.Provider != "" && record.Provider != filter.Provider {
			continue
		}
		if filter.Stage != "" && record.Stage != filter.Stage {
			continue
		}
		if filter.Severity != "" && record.Classification.Severity != filter.Severity {
			continue
		}
		if filter.Category != "" && record.Classification.Category != filter.Category {
			continue
		}
		if !filter.IncludeResolved && record.IsResolved() {
			continue
		}
		if filter.OnlyRetryable && !record.Classification.Retryable {
			continue
		}
		clone := *record
		matched = append(matched, &clone)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].OccurredAt.After(matched[j].OccurredAt)
	})

	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}

	return matched, nil
}

// MarkResolved implements store.ErrorStore.MarkResolved.
func (m *MemoryErrorStore) MarkResolved(ctx context.Context, ownerID, recordID uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[recordID]
	if !ok || record.OwnerID != ownerID || record.IsResolved() {
		return nil
	}

	resolved := at.UTC()
	record.ResolvedAt = &resolved
	return nil
}

// IncrementRetryCount implements store.ErrorStore.IncrementRetryCount.
func (m *MemoryErrorStore) IncrementRetryCount(ctx context.Context, ownerID, recordID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[recordID]
	if !ok || record.OwnerID != ownerID {
		return store.ErrErrorRecordNotFound
	}

	record.RetryCount++
	return nil
}

// Acknowledge implements store.ErrorStore.Acknowledge.
func (m *MemoryErrorStore) Acknowledge(ctx context.Context, ownerID, recordID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[recordID]
	if !ok || record.OwnerID != ownerID {
		return store.ErrErrorRecordNotFound
	}

	record.UserAcknowledged = true
	return nil
}

// DeleteResolvedBefore implements store.ErrorStore.DeleteResolvedBefore.
func (m *MemoryErrorStore) DeleteResolvedBefore(ctx context.Context, ownerID uuid.UUID, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for id, record := range m.records {
		if record.OwnerID == ownerID && record.IsResolved() && record.ResolvedAt.Before(cutoff) {
			delete(m.records, id)
			removed++
		}
	}

	return removed, nil
}

// WithTx implements store.ErrorStore.WithTx.
func (m *MemoryErrorStore) WithTx(tx *sql.Tx) store.ErrorStore {
	return m
}

// Put seeds the store with a record.
func (m *MemoryErrorStore) Put(record *domain.ErrorRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *record
	m.records[record.ID] = &clone
}

// Count returns the number of stored records, for assertions.
func (m *MemoryErrorStore) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
