package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func validClassification() Classification {
	return Classification{
		Category:    ErrorCategoryNetwork,
		Severity:    ErrorSeverityMedium,
		Retryable:   true,
		UserMessage: "Connection problem while syncing.",
	}
}

func TestNewErrorRecord(t *testing.T) {
	t.Parallel()

	ownerID := uuid.New()

	record, err := NewErrorRecord(ownerID, "gmail", ErrorStageIngestion,
		"dial tcp: i/o timeout", validClassification())

	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if record.ID == uuid.Nil {
		t.Error("Expected non-nil UUID, got nil UUID")
	}

	if record.OwnerID != ownerID {
		t.Errorf("Expected owner ID %s, got %s", ownerID, record.OwnerID)
	}

	if record.OccurredAt.IsZero() {
		t.Error("Expected non-zero OccurredAt time")
	}

	if record.IsResolved() {
		t.Error("Expected new record to be unresolved")
	}

	// Test invalid ownerID
	_, err = NewErrorRecord(uuid.Nil, "gmail", ErrorStageIngestion,
		"boom", validClassification())
	if err != ErrEmptyErrorRecordOwnerID {
		t.Errorf("Expected error %v, got %v", ErrEmptyErrorRecordOwnerID, err)
	}

	// Test empty message
	_, err = NewErrorRecord(ownerID, "gmail", ErrorStageIngestion,
		"", validClassification())
	if err != ErrEmptyErrorRecordMessage {
		t.Errorf("Expected error %v, got %v", ErrEmptyErrorRecordMessage, err)
	}

	// Test invalid stage
	_, err = NewErrorRecord(ownerID, "gmail", ErrorStage("transit"),
		"boom", validClassification())
	if err != ErrInvalidErrorStage {
		t.Errorf("Expected error %v, got %v", ErrInvalidErrorStage, err)
	}
}

func TestErrorRecordResolve(t *testing.T) {
	t.Parallel()

	record, err := NewErrorRecord(uuid.New(), "calendar", ErrorStageProcessing,
		"handler fault", validClassification())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	at := time.Now()
	if err := record.Resolve(at); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if !record.IsResolved() {
		t.Error("Expected record to be resolved")
	}

	// ResolvedAt is set only once
	if err := record.Resolve(at.Add(time.Hour)); err != ErrAlreadyResolved {
		t.Errorf("Expected error %v, got %v", ErrAlreadyResolved, err)
	}
}

func TestErrorRecordValidateClassification(t *testing.T) {
	t.Parallel()

	record := ErrorRecord{
		ID:         uuid.New(),
		OwnerID:    uuid.New(),
		Stage:      ErrorStageIngestion,
		RawMessage: "boom",
		Classification: Classification{
			Category: ErrorCategory("cosmic_rays"),
			Severity: ErrorSeverityLow,
		},
	}

	if err := record.Validate(); err != ErrInvalidErrorCategory {
		t.Errorf("Expected error %v, got %v", ErrInvalidErrorCategory, err)
	}

	record.Classification = Classification{
		Category: ErrorCategoryUnknown,
		Severity: ErrorSeverity("apocalyptic"),
	}
	if err := record.Validate(); err != ErrInvalidErrorSeverity {
		t.Errorf("Expected error %v, got %v", ErrInvalidErrorSeverity, err)
	}

	// Legacy records without classification default to unknown/low upstream;
	// unknown must validate.
	record.Classification = Classification{
		Category: ErrorCategoryUnknown,
		Severity: ErrorSeverityLow,
	}
	if err := record.Validate(); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
}
