package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/tetherhq/tether-api/internal/domain"
	"github.com/tetherhq/tether-api/internal/store"
)

// defaultRetentionDays bounds how long done jobs and resolved error
// records are kept when the payload names no window.
const defaultRetentionDays = 30

// CleanupPayload optionally overrides the retention window.
type CleanupPayload struct {
	RetentionDays int `json:"retention_days,omitempty"`
}

// CleanupHandler prunes done jobs and resolved error records older than
// the retention window.
type CleanupHandler struct {
	jobStore   store.JobStore
	errorStore store.ErrorStore
	logger     *slog.Logger
}

// NewCleanupHandler creates a new CleanupHandler.
func NewCleanupHandler(jobStore store.JobStore, errorStore store.ErrorStore, logger *slog.Logger) *CleanupHandler {
	if jobStore == nil || errorStore == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("job store and error store cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &CleanupHandler{
		jobStore:   jobStore,
		errorStore: errorStore,
		logger:     logger.With(slog.String("component", "cleanup_handler")),
	}
}

// Kind implements jobs.Handler.
func (h *CleanupHandler) Kind() domain.JobKind { return domain.JobKindCleanup }

// Handle implements jobs.Handler.
func (h *CleanupHandler) Handle(ctx context.Context, job *domain.Job) error {
	var payload CleanupPayload
	if len(job.Payload) > 0 {
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("malformed cleanup payload: %w", err)
		}
	}

	retentionDays := payload.RetentionDays
	if retentionDays <= 0 {
		retentionDays = defaultRetentionDays
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	jobsDeleted, err := h.jobStore.DeleteCompletedBefore(ctx, job.OwnerID, cutoff)
	if err != nil {
		return fmt.Errorf("failed to prune completed jobs: %w", err)
	}

	errorsDeleted, err := h.errorStore.DeleteResolvedBefore(ctx, job.OwnerID, cutoff)
	if err != nil {
		return fmt.Errorf("failed to prune resolved error records: %w", err)
	}

	h.logger.InfoContext(ctx, "cleanup completed",
		slog.Int64("jobs_deleted", jobsDeleted),
		slog.Int64("errors_deleted", errorsDeleted),
		slog.Int("retention_days", retentionDays))

	return nil
}
