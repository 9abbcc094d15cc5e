package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/tetherhq/tether-api/internal/api/shared"
	"github.com/tetherhq/tether-api/internal/domain"
	"github.com/tetherhq/tether-api/internal/jobs"
	"github.com/tetherhq/tether-api/internal/platform/logger"
	"github.com/tetherhq/tether-api/internal/store"
)

// jobEnqueuer is the slice of the enqueuer the handler needs.
type jobEnqueuer interface {
	Enqueue(
		ctx context.Context,
		ownerID uuid.UUID,
		kind domain.JobKind,
		payload json.RawMessage,
		batchID string,
	) (uuid.UUID, error)
}

// jobRunner is the slice of the runner the handler needs.
type jobRunner interface {
	Run(ctx context.Context, ownerID uuid.UUID, opts jobs.RunOptions) (*jobs.RunResult, error)
}

// JobHandler handles job-related HTTP requests.
type JobHandler struct {
	enqueuer jobEnqueuer
	runner   jobRunner
	jobStore store.JobStore
	logger   *slog.Logger
}

// NewJobHandler creates a new JobHandler.
func NewJobHandler(
	enqueuer jobEnqueuer,
	runner jobRunner,
	jobStore store.JobStore,
	logger *slog.Logger,
) *JobHandler {
	if enqueuer == nil || runner == nil || jobStore == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("enqueuer, runner, and job store cannot be nil for JobHandler")
	}
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for JobHandler")
	}

	return &JobHandler{
		enqueuer: enqueuer,
		runner:   runner,
		jobStore: jobStore,
		logger:   logger.With(slog.String("component", "job_handler")),
	}
}

// EnqueueJob handles POST /jobs requests.
// It creates a queued job for the authenticated owner. Batch-keyed
// requests are idempotent: repeating the same (kind, batch_id) returns
// the existing job instead of creating a duplicate.
func (h *JobHandler) EnqueueJob(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	ownerID, ok := getUserIDFromContext(r)
	if !ok {
		log.Warn("owner ID not found or invalid in request context")
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Owner ID not found or invalid")
		return
	}

	var req EnqueueJobRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		log.Debug("failed to decode enqueue request", slog.String("error", err.Error()))
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := shared.ValidateRequest(req); err != nil {
		log.Debug("enqueue request validation failed", slog.String("error", err.Error()))
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	jobID, err := h.enqueuer.Enqueue(
		r.Context(),
		ownerID,
		domain.JobKind(req.Kind),
		req.Payload,
		req.BatchID,
	)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to enqueue job")
		return
	}

	job, err := h.jobStore.GetByID(r.Context(), ownerID, jobID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to load enqueued job")
		return
	}

	log.Debug("job enqueued via API",
		slog.String("job_id", jobID.String()),
		slog.String("kind", req.Kind),
		slog.String("batch_id", req.BatchID))

	shared.RespondWithJSON(w, r, http.StatusCreated, EnqueueJobResponse{
		JobID:   job.ID,
		Kind:    string(job.Kind),
		Status:  string(job.Status),
		BatchID: job.BatchID,
	})
}

// RunJobs handles POST /jobs/run requests.
// It triggers one processing cycle over the owner's eligible jobs and
// returns the aggregate result. Individual job failures are reported in
// the result body, not as an HTTP error.
func (h *JobHandler) RunJobs(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	ownerID, ok := getUserIDFromContext(r)
	if !ok {
		log.Warn("owner ID not found or invalid in request context")
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Owner ID not found or invalid")
		return
	}

	// An empty body means "run everything with defaults".
	var req RunJobsRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := shared.DecodeJSON(r, &req); err != nil {
			log.Debug("failed to decode run request", slog.String("error", err.Error()))
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
			return
		}

		if err := shared.ValidateRequest(req); err != nil {
			log.Debug("run request validation failed", slog.String("error", err.Error()))
			shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
			return
		}
	}

	kinds := make([]domain.JobKind, 0, len(req.Kinds))
	for _, kind := range req.Kinds {
		kinds = append(kinds, domain.JobKind(kind))
	}

	result, err := h.runner.Run(r.Context(), ownerID, jobs.RunOptions{
		Kinds:           kinds,
		BatchID:         req.BatchID,
		MaxJobs:         req.MaxJobs,
		IncludeRetrying: req.IncludeRetrying,
		SkipStuckJobs:   !req.ResetStuck,
	})
	if err != nil {
		HandleAPIError(w, r, err, "Failed to run jobs")
		return
	}

	log.Debug("job run completed via API",
		slog.Int("processed", result.Processed),
		slog.Int("succeeded", result.Succeeded),
		slog.Int("failed", result.Failed),
		slog.Int("skipped", result.Skipped))

	shared.RespondWithJSON(w, r, http.StatusOK, result)
}

// GetJob handles GET /jobs/{id} requests.
// It returns a single job scoped to the authenticated owner.
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	ownerID, jobID, ok := handleUserIDAndPathUUID(w, r, "id", log)
	if !ok {
		return
	}

	job, err := h.jobStore.GetByID(r.Context(), ownerID, jobID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to load job")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, job)
}
