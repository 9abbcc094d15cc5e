// Package errtrack persists classified failures and aggregates them into
// health summaries for the calling layer. Recording is deliberately
// forgiving: a tracker write failure must never prevent the caller's own
// error handling from completing.
package errtrack

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tetherhq/tether-api/internal/classify"
	"github.com/tetherhq/tether-api/internal/domain"
	"github.com/tetherhq/tether-api/internal/platform/logger"
	"github.com/tetherhq/tether-api/internal/store"
)

// recentSampleCap bounds the sample of most recent records embedded in a
// summary.
const recentSampleCap = 10

// Tracker records classified failures and computes summaries.
type Tracker struct {
	store  store.ErrorStore
	logger *slog.Logger
}

// NewTracker creates a new Tracker backed by the given error store.
func NewTracker(errorStore store.ErrorStore, logger *slog.Logger) *Tracker {
	if errorStore == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("error store cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Tracker{
		store:  errorStore,
		logger: logger.With(slog.String("component", "error_tracker")),
	}
}

// Record classifies the raw failure and persists one ErrorRecord for it.
// It always returns a usable record: persistence failures are logged and
// swallowed so the caller's own failure handling can complete.
func (t *Tracker) Record(
	ctx context.Context,
	ownerID uuid.UUID,
	rawErr error,
	classifyCtx classify.Context,
) *domain.ErrorRecord {
	return t.RecordJob(ctx, ownerID, uuid.Nil, rawErr, classifyCtx)
}

// RecordJob is Record with the failed job's identity attached, linking
// the record to the job so a later retry can find its way back.
func (t *Tracker) RecordJob(
	ctx context.Context,
	ownerID uuid.UUID,
	jobID uuid.UUID,
	rawErr error,
	classifyCtx classify.Context,
) *domain.ErrorRecord {
	log := logger.FromContextOrDefault(ctx, t.logger)

	rawMessage := "unknown error"
	if rawErr != nil {
		rawMessage = rawErr.Error()
	}

	stage := classifyCtx.Stage
	if stage == "" {
		stage = domain.ErrorStageProcessing
	}

	classification := classify.Classify(rawErr, classifyCtx)

	record, err := domain.NewErrorRecord(ownerID, classifyCtx.Provider, stage, rawMessage, classification)
	if err != nil {
		// Construction only fails on bad input; still hand the caller
		// something useful rather than failing their error path.
		log.Error("failed to construct error record",
			slog.String("error", err.Error()),
			slog.String("owner_id", ownerID.String()))
		record = &domain.ErrorRecord{
			ID:             uuid.New(),
			OwnerID:        ownerID,
			Provider:       classifyCtx.Provider,
			Stage:          stage,
			OccurredAt:     time.Now().UTC(),
			RawMessage:     rawMessage,
			Classification: classification,
		}
	}

	if jobID != uuid.Nil {
		record.JobID = &jobID
	}

	if err := t.store.Insert(ctx, record); err != nil {
		log.Error("failed to persist error record, continuing",
			slog.String("error", err.Error()),
			slog.String("record_id", record.ID.String()),
			slog.String("category", string(classification.Category)))
	}

	return record
}

// Resolve marks the record's underlying condition as no longer applying,
// typically because a retry succeeded.
func (t *Tracker) Resolve(ctx context.Context, ownerID, recordID uuid.UUID) error {
	return t.store.MarkResolved(ctx, ownerID, recordID, time.Now().UTC())
}
