package jobs

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

// Enqueuer creates job rows from upstream triggers (sync completion,
// manual requests). It is the only write path into the queue from outside
// the subsystem.
type Enqueuer struct {
	jobStore store.JobStore
	logger   *slog.Logger
}

// NewEnqueuer creates a new Enqueuer.
func NewEnqueuer(jobStore store.JobStore, logger *slog.Logger) *Enqueuer {
	if jobStore == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("job store cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Enqueuer{
		jobStore: jobStore,
		logger:   logger.With(slog.String("component", "enqueuer")),
	}
}

// Enqueue creates a queued job for the owner. When batchID is non-empty
// the call is idempotent per (owner, kind, batch): a repeat returns the
// existing job's ID. An empty batchID creates a new row each call.
func (e *Enqueuer) Enqueue(
	ctx context.Context,
	ownerID uuid.UUID,
	kind domain.JobKind,
	payload json.RawMessage,
	batchID string,
) (uuid.UUID, error) {
	log := logger.FromContextOrDefault(ctx, e.logger)

	job, err := domain.NewJob(ownerID, kind, payload, batchID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to construct job: %w", err)
	}

	jobID, err := e.jobStore.Enqueue(ctx, job)
	if err != nil {
		log.Error("failed to enqueue job",
			slog.String("kind", string(kind)),
			slog.String("owner_id", ownerID.String()),
			slog.String("error", err.Error()))
		return uuid.Nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	log.Debug("job enqueued",
		slog.String("job_id", jobID.String()),
		slog.String("kind", string(kind)),
		slog.String("batch_id", batchID))

	return jobID, nil
}
