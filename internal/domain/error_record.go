package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrorStage identifies the pipeline stage a failure occurred in.
type ErrorStage string

// Possible stage values
const (
	ErrorStageIngestion     ErrorStage = "ingestion"
	ErrorStageNormalization ErrorStage = "normalization"
	ErrorStageProcessing    ErrorStage = "processing"
)

// Common validation errors for ErrorRecord
var (
	ErrEmptyErrorRecordID      = errors.New("error record ID cannot be empty")
	ErrEmptyErrorRecordOwnerID = errors.New("error record owner ID cannot be empty")
	ErrEmptyErrorRecordMessage = errors.New("error record raw message cannot be empty")
	ErrInvalidErrorStage       = errors.New("invalid error stage")
	ErrInvalidErrorCategory    = errors.New("invalid error category")
	ErrInvalidErrorSeverity    = errors.New("invalid error severity")
	ErrAlreadyResolved         = errors.New("error record is already resolved")
)

// ErrorRecord captures one classified failure occurrence. Every job
// failure produces exactly one record.
type ErrorRecord struct {
	ID      uuid.UUID `json:"id"`
	OwnerID uuid.UUID `json:"owner_id"`

	// JobID links the record to the failed job, when the failure came out
	// of the queue. Records from outside the job pipeline leave it nil.
	JobID *uuid.UUID `json:"job_id,omitempty"`
	Provider         string         `json:"provider"`
	Stage            ErrorStage     `json:"stage"`
	OccurredAt       time.Time      `json:"occurred_at"`
	RawMessage       string         `json:"raw_message"`
	Classification   Classification `json:"classification"`
	RetryCount       int            `json:"retry_count"`
	UserAcknowledged bool           `json:"user_acknowledged"`
	ResolvedAt       *time.Time     `json:"resolved_at,omitempty"`
}

// NewErrorRecord creates a new ErrorRecord for the given owner and
// classified failure. It generates a new UUID and stamps the occurrence
// time.
func NewErrorRecord(
	ownerID uuid.UUID,
	provider string,
	stage ErrorStage,
	rawMessage string,
	classification Classification,
) (*ErrorRecord, error) {
	record := &ErrorRecord{
		ID:             uuid.New(),
		OwnerID:        ownerID,
		Provider:       provider,
		Stage:          stage,
		OccurredAt:     time.Now().UTC(),
		RawMessage:     rawMessage,
		Classification: classification,
	}

	if err := record.Validate(); err != nil {
		return nil, err
	}

	return record, nil
}

// Validate checks if the ErrorRecord has valid data.
func (r *ErrorRecord) Validate() error {
	if r.ID == uuid.Nil {
		return ErrEmptyErrorRecordID
	}

	if r.OwnerID == uuid.Nil {
		return ErrEmptyErrorRecordOwnerID
	}

	if r.RawMessage == "" {
		return ErrEmptyErrorRecordMessage
	}

	if !isValidErrorStage(r.Stage) {
		return ErrInvalidErrorStage
	}

	if !isValidErrorCategory(r.Classification.Category) {
		return ErrInvalidErrorCategory
	}

	if !isValidErrorSeverity(r.Classification.Severity) {
		return ErrInvalidErrorSeverity
	}

	return nil
}

// Resolve marks the record as resolved at the given instant. ResolvedAt
// is set exactly once; resolving an already-resolved record is an error.
func (r *ErrorRecord) Resolve(at time.Time) error {
	if r.ResolvedAt != nil {
		return ErrAlreadyResolved
	}

	resolved := at.UTC()
	r.ResolvedAt = &resolved
	return nil
}

// IsResolved reports whether the underlying condition no longer applies.
func (r *ErrorRecord) IsResolved() bool {
	return r.ResolvedAt != nil
}

// isValidErrorStage checks if the given stage is known.
func isValidErrorStage(stage ErrorStage) bool {
	switch stage {
	case ErrorStageIngestion, ErrorStageNormalization, ErrorStageProcessing:
		return true
	default:
		return false
	}
}
