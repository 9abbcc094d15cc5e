package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tetherhq/tether-api/internal/domain"
	"github.com/tetherhq/tether-api/internal/platform/logger"
	"github.com/tetherhq/tether-api/internal/store"
)

// enqueuer is the slice of the job enqueuer the ingestion service needs
// to hand a finished batch off for downstream processing.
type enqueuer interface {
	Enqueue(ctx context.Context, ownerID uuid.UUID, kind domain.JobKind, payload json.RawMessage, batchID string) (uuid.UUID, error)
}

// Item is one external record offered for ingestion.
type Item struct {
	SourceID string                 `json:"source_id"`
	Fields   domain.IngestionFields `json:"fields"`
}

// ItemError reports one item that failed to ingest.
type ItemError struct {
	SourceID string `json:"source_id"`
	Message  string `json:"message"`
}

// BatchResult aggregates one IngestBatch call.
type BatchResult struct {
	Upserted  int         `json:"upserted"`
	Failed    int         `json:"failed"`
	RecordIDs []uuid.UUID `json:"record_ids"`
	Errors    []ItemError `json:"errors,omitempty"`

	// JobID identifies the follow-up processing job, when one was
	// enqueued.
	JobID uuid.UUID `json:"job_id,omitempty"`
}

// BatchPayload is the payload of the follow-up job a batch enqueues. The
// batch handler fans the records out into normalization work.
type BatchPayload struct {
	Source    string      `json:"source"`
	BatchID   string      `json:"batch_id"`
	RecordIDs []uuid.UUID `json:"record_ids"`
}

// Service is the idempotent write path for externally sourced records.
// Re-running a sync with overlapping data converges on one row per
// external item instead of accumulating duplicates.
type Service struct {
	ingestionStore store.IngestionStore
	enqueuer       enqueuer
	logger         *slog.Logger
}

// NewService creates a new ingestion Service. The enqueuer may be nil
// when no downstream processing should follow a batch.
func NewService(ingestionStore store.IngestionStore, enq enqueuer, logger *slog.Logger) *Service {
	if ingestionStore == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("ingestion store cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		ingestionStore: ingestionStore,
		enqueuer:       enq,
		logger:         logger.With(slog.String("component", "ingest_service")),
	}
}

// Upsert ingests one external item. The first call for an (owner, source,
// sourceID) tuple creates the record; later calls update its mutable
// fields while preserving the stable record ID and any contact
// association. The returned ID is the same across repeats.
func (s *Service) Upsert(
	ctx context.Context,
	ownerID uuid.UUID,
	source, sourceID string,
	fields domain.IngestionFields,
) (uuid.UUID, error) {
	record, err := domain.NewIngestionRecord(ownerID, source, sourceID, fields)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid ingestion record: %w", err)
	}

	recordID, err := s.ingestionStore.Upsert(ctx, record)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to upsert ingestion record: %w", err)
	}

	return recordID, nil
}

// IngestBatch ingests a batch of items from one origin system, then
// enqueues a follow-up processing job keyed to batchID so the hand-off is
// idempotent too. Item-level failures do not abort the batch; they are
// reported in the result.
func (s *Service) IngestBatch(
	ctx context.Context,
	ownerID uuid.UUID,
	source string,
	items []Item,
	batchID string,
) (*BatchResult, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	result := &BatchResult{}
	for _, item := range items {
		recordID, err := s.Upsert(ctx, ownerID, source, item.SourceID, item.Fields)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, ItemError{
				SourceID: item.SourceID,
				Message:  err.Error(),
			})
			log.Warn("failed to ingest item",
				slog.String("source", source),
				slog.String("source_id", item.SourceID),
				slog.String("error", err.Error()))
			continue
		}
		result.Upserted++
		result.RecordIDs = append(result.RecordIDs, recordID)
	}

	if s.enqueuer == nil || result.Upserted == 0 {
		return result, nil
	}

	payload, err := json.Marshal(BatchPayload{
		Source:    source,
		BatchID:   batchID,
		RecordIDs: result.RecordIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch payload: %w", err)
	}

	jobID, err := s.enqueuer.Enqueue(ctx, ownerID, domain.JobKindIngestionBatch, payload, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue batch job: %w", err)
	}
	result.JobID = jobID

	log.Info("batch ingested",
		slog.String("source", source),
		slog.String("batch_id", batchID),
		slog.Int("upserted", result.Upserted),
		slog.Int("failed", result.Failed),
		slog.String("job_id", jobID.String()))

	return result, nil
}

// LinkContact establishes the contact association for an ingested record.
func (s *Service) LinkContact(ctx context.Context, ownerID, recordID, contactID uuid.UUID) error {
	if err := s.ingestionStore.SetContactID(ctx, ownerID, recordID, contactID); err != nil {
		return fmt.Errorf("failed to link contact: %w", err)
	}
	return nil
}
