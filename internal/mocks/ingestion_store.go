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

// ingestionKey is the uniqueness tuple for ingestion records.
type ingestionKey struct {
	ownerID  uuid.UUID
	source   string
	sourceID string
}

// MemoryIngestionStore implements store.IngestionStore with a
// mutex-guarded map keyed by the uniqueness tuple, matching the upsert
// convergence contract of the PostgreSQL implementation.
type MemoryIngestionStore struct {
	mu      sync.Mutex
	records map[ingestionKey]*domain.IngestionRecord

	// Overridable behavior for error injection
	UpsertFn func(ctx context.Context, record *domain.IngestionRecord) (uuid.UUID, error)
}

// NewMemoryIngestionStore creates an empty in-memory ingestion store.
func NewMemoryIngestionStore() *MemoryIngestionStore {
	return &MemoryIngestionStore{
		records: make(map[ingestionKey]*domain.IngestionRecord),
	}
}

// Ensure MemoryIngestionStore implements store.IngestionStore
var _ store.IngestionStore = (*MemoryIngestionStore)(nil)

// Upsert implements store.IngestionStore.Upsert. On conflict the mutable
// fields are replaced while the existing ID and contact association are
// preserved.
func (m *MemoryIngestionStore) Upsert(ctx context.Context, record *domain.IngestionRecord) (uuid.UUID, error) {
	if m.UpsertFn != nil {
		return m.UpsertFn(ctx, record)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := ingestionKey{record.OwnerID, record.Source, record.SourceID}

	if existing, ok := m.records[key]; ok {
		existing.Kind = record.Kind
		existing.Title = record.Title
		existing.Body = record.Body
		existing.Metadata = record.Metadata
		existing.OccurredAt = record.OccurredAt
		existing.UpdatedAt = time.Now().UTC()
		return existing.ID, nil
	}

	clone := *record
	m.records[key] = &clone
	return record.ID, nil
}

// GetBySourceID implements store.IngestionStore.GetBySourceID.
func (m *MemoryIngestionStore) GetBySourceID(ctx context.Context, ownerID uuid.UUID, source, sourceID string) (*domain.IngestionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[ingestionKey{ownerID, source, sourceID}]
	if !ok {
		return nil, store.ErrIngestionRecordNotFound
	}

	clone := *record
	return &clone, nil
}

// GetByID implements store.IngestionStore.GetByID.
func (m *MemoryIngestionStore) GetByID(ctx context.Context, ownerID, recordID uuid.UUID) (*domain.IngestionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, record := range m.records {
		if record.ID == recordID && record.OwnerID == ownerID {
			clone := *record
			return &clone, nil
		}
	}

	return nil, store.ErrIngestionRecordNotFound
}

// ListBySource implements store.IngestionStore.ListBySource.
func (m *MemoryIngestionStore) ListBySource(ctx context.Context, ownerID uuid.UUID, source string, limit int) ([]*domain.IngestionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*domain.IngestionRecord
	for _, record := range m.records {
		if record.OwnerID != ownerID || record.Source != source {
			continue
		}
		clone := *record
		matched = append(matched, &clone)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].OccurredAt.After(matched[j].OccurredAt)
	})

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	return matched, nil
}

// SetContactID implements store.IngestionStore.SetContactID.
func (m *MemoryIngestionStore) SetContactID(ctx context.Context, ownerID, recordID, contactID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, record := range m.records {
		if record.ID == recordID && record.OwnerID == ownerID {
			id := contactID
			record.ContactID = &id
			record.UpdatedAt = time.Now().UTC()
			return nil
		}
	}

	return store.ErrIngestionRecordNotFound
}

// WithTx implements store.IngestionStore.WithTx.
func (m *MemoryIngestionStore) WithTx(tx *sql.Tx) store.IngestionStore {
	return m
}

// Count returns the number of stored records, for assertions.
func (m *MemoryIngestionStore) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
