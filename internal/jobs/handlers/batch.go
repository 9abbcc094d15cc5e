package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tetherhq/tether-api/internal/domain"
	"github.com/tetherhq/tether-api/internal/ingest"
)

// enqueuer is the slice of the job enqueuer the batch handler needs.
type enqueuer interface {
	Enqueue(ctx context.Context, ownerID uuid.UUID, kind domain.JobKind, payload json.RawMessage, batchID string) (uuid.UUID, error)
}

// IngestionBatchHandler fans one ingested batch out into per-record
// normalize jobs. Each fan-out job carries a batch key derived from the
// parent batch and the record, so re-running the batch job creates no
// duplicate work.
type IngestionBatchHandler struct {
	enqueuer enqueuer
	logger   *slog.Logger
}

// NewIngestionBatchHandler creates a new IngestionBatchHandler.
func NewIngestionBatchHandler(enq enqueuer, logger *slog.Logger) *IngestionBatchHandler {
	if enq == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("enqueuer cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &IngestionBatchHandler{
		enqueuer: enq,
		logger:   logger.With(slog.String("component", "ingestion_batch_handler")),
	}
}

// Kind implements jobs.Handler.
func (h *IngestionBatchHandler) Kind() domain.JobKind { return domain.JobKindIngestionBatch }

// Handle implements jobs.Handler.
func (h *IngestionBatchHandler) Handle(ctx context.Context, job *domain.Job) error {
	var payload ingest.BatchPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("malformed batch payload: %w", err)
	}
	if len(payload.RecordIDs) == 0 {
		h.logger.DebugContext(ctx, "empty batch, nothing to fan out")
		return nil
	}

	parentBatch := payload.BatchID
	if parentBatch == "" {
		parentBatch = job.ID.String()
	}

	enqueued := 0
	for _, recordID := range payload.RecordIDs {
		childPayload, err := json.Marshal(NormalizePayload{RecordID: recordID})
		if err != nil {
			return fmt.Errorf("failed to encode normalize payload: %w", err)
		}

		childBatch := fmt.Sprintf("%s/%s", parentBatch, recordID)
		if _, err := h.enqueuer.Enqueue(ctx, job.OwnerID, domain.JobKindNormalize, childPayload, childBatch); err != nil {
			return fmt.Errorf("failed to enqueue normalize job for record %s: %w", recordID, err)
		}
		enqueued++
	}

	h.logger.InfoContext(ctx, "batch fanned out",
		slog.String("batch_id", parentBatch),
		slog.Int("jobs", enqueued))

	return nil
}
