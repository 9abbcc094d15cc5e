package domain

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common validation errors for IngestionRecord
var (
	ErrEmptyIngestionID       = errors.New("ingestion record ID cannot be empty")
	ErrEmptyIngestionOwnerID  = errors.New("ingestion record owner ID cannot be empty")
	ErrEmptyIngestionSource   = errors.New("ingestion record source cannot be empty")
	ErrEmptyIngestionSourceID = errors.New("ingestion record source ID cannot be empty")
)

// IngestionRecord is an externally sourced item (a synced message or
// calendar event) normalized into the system. The tuple
// (OwnerID, Source, SourceID) is unique: re-ingesting the same external
// item updates the existing row rather than creating a duplicate.
type IngestionRecord struct {
	ID         uuid.UUID       `json:"id"`
	OwnerID    uuid.UUID       `json:"owner_id"`
	Source     string          `json:"source"`
	SourceID   string          `json:"source_id"`
	Kind       string          `json:"kind"`
	Title      string          `json:"title"`
	Body       string          `json:"body"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`

	// ContactID links the record to a matched contact. The association is
	// established once and preserved across subsequent upserts of the same
	// external item.
	ContactID *uuid.UUID `json:"contact_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewIngestionRecord creates a new IngestionRecord for the given owner
// and external identity.
func NewIngestionRecord(
	ownerID uuid.UUID,
	source, sourceID string,
	fields IngestionFields,
) (*IngestionRecord, error) {
	now := time.Now().UTC()
	record := &IngestionRecord{
		ID:         uuid.New(),
		OwnerID:    ownerID,
		Source:     source,
		SourceID:   sourceID,
		Kind:       fields.Kind,
		Title:      fields.Title,
		Body:       fields.Body,
		Metadata:   fields.Metadata,
		OccurredAt: fields.OccurredAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := record.Validate(); err != nil {
		return nil, err
	}

	return record, nil
}

// IngestionFields carries the mutable portion of an ingestion record,
// the part an upsert overwrites on conflict.
type IngestionFields struct {
	Kind       string          `json:"kind"`
	Title      string          `json:"title"`
	Body       string          `json:"body"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Validate checks if the IngestionRecord has valid data.
func (r *IngestionRecord) Validate() error {
	if r.ID == uuid.Nil {
		return ErrEmptyIngestionID
	}

	if r.OwnerID == uuid.Nil {
		return ErrEmptyIngestionOwnerID
	}

	if r.Source == "" {
		return ErrEmptyIngestionSource
	}

	if r.SourceID == "" {
		return ErrEmptyIngestionSourceID
	}

	return nil
}
