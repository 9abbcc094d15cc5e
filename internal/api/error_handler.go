package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/tetherhq/tether-api/internal/api/shared"
	"github.com/tetherhq/tether-api/internal/domain"
	"github.com/tetherhq/tether-api/internal/errtrack"
	"github.com/tetherhq/tether-api/internal/platform/logger"
	"github.com/tetherhq/tether-api/internal/retry"
)

// errorTracker is the slice of the tracker the handler needs.
type errorTracker interface {
	Summary(ctx context.Context, ownerID uuid.UUID, opts errtrack.SummaryOptions) (*errtrack.Summary, error)
	Resolve(ctx context.Context, ownerID, recordID uuid.UUID) error
}

// retryOrchestrator is the slice of the orchestrator the handler needs.
type retryOrchestrator interface {
	Retry(ctx context.Context, ownerID uuid.UUID, sel retry.Selection, opts retry.Options) (*retry.Result, error)
}

// ErrorHandler handles error-record HTTP requests.
type ErrorHandler struct {
	tracker      errorTracker
	orchestrator retryOrchestrator
	logger       *slog.Logger
}

// NewErrorHandler creates a new ErrorHandler.
func NewErrorHandler(
	tracker errorTracker,
	orchestrator retryOrchestrator,
	logger *slog.Logger,
) *ErrorHandler {
	if tracker == nil || orchestrator == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("tracker and orchestrator cannot be nil for ErrorHandler")
	}
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for ErrorHandler")
	}

	return &ErrorHandler{
		tracker:      tracker,
		orchestrator: orchestrator,
		logger:       logger.With(slog.String("component", "error_handler")),
	}
}

// GetErrorSummary handles GET /errors/summary requests.
// Query parameters: hours (window width, default 24), provider, stage,
// severity, include_resolved, details.
func (h *ErrorHandler) GetErrorSummary(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	ownerID, ok := getUserIDFromContext(r)
	if !ok {
		log.Warn("owner ID not found or invalid in request context")
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Owner ID not found or invalid")
		return
	}

	opts := errtrack.SummaryOptions{
		TimeRangeHours:  24,
		Provider:        r.URL.Query().Get("provider"),
		Stage:           domain.ErrorStage(r.URL.Query().Get("stage")),
		SeverityFilter:  domain.ErrorSeverity(r.URL.Query().Get("severity")),
		IncludeResolved: r.URL.Query().Get("include_resolved") == "true",
		IncludeDetails:  r.URL.Query().Get("details") == "true",
	}
	if raw := r.URL.Query().Get("hours"); raw != "" {
		hours, err := strconv.Atoi(raw)
		if err != nil || hours < 1 {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid hours parameter")
			return
		}
		opts.TimeRangeHours = hours
	}

	summary, err := h.tracker.Summary(r.Context(), ownerID, opts)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to compute error summary")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, summary)
}

// RetryErrors handles POST /errors/retry requests.
// It requeues the failed jobs behind the selected error records. Per-record
// problems are reported in the result details; only selection or
// infrastructure failures produce an HTTP error.
func (h *ErrorHandler) RetryErrors(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	ownerID, ok := getUserIDFromContext(r)
	if !ok {
		log.Warn("owner ID not found or invalid in request context")
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Owner ID not found or invalid")
		return
	}

	var req RetryErrorsRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		log.Debug("failed to decode retry request", slog.String("error", err.Error()))
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := shared.ValidateRequest(req); err != nil {
		log.Debug("retry request validation failed", slog.String("error", err.Error()))
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	if !req.RetryAll && len(req.ErrorIDs) == 0 {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Either error_ids or retry_all must be provided")
		return
	}

	result, err := h.orchestrator.Retry(
		r.Context(),
		ownerID,
		retry.Selection{
			ErrorIDs: req.ErrorIDs,
			RetryAll: req.RetryAll,
			Provider: req.Provider,
			Category: domain.ErrorCategory(req.Category),
		},
		retry.Options{
			MaxRetries:         req.MaxRetries,
			Strategy:           retry.Strategy(req.Strategy),
			DelayMinutes:       req.DelayMinutes,
			IncludeAuthRefresh: req.IncludeAuthRefresh,
		},
	)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to retry errors")
		return
	}

	log.Debug("error retry completed via API",
		slog.Int("attempted", result.Attempted),
		slog.Int("succeeded", result.Succeeded),
		slog.Int("failed", result.Failed),
		slog.Int("skipped", result.Skipped))

	shared.RespondWithJSON(w, r, http.StatusOK, result)
}

// ResolveError handles POST /errors/{id}/resolve requests.
// It marks the error record as resolved so it drops out of summaries and
// retry-all selections.
func (h *ErrorHandler) ResolveError(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	ownerID, recordID, ok := handleUserIDAndPathUUID(w, r, "id", log)
	if !ok {
		return
	}

	if err := h.tracker.Resolve(r.Context(), ownerID, recordID); err != nil {
		HandleAPIError(w, r, err, "Failed to resolve error record")
		return
	}

	log.Debug("error record resolved via API", slog.String("error_id", recordID.String()))

	shared.RespondWithJSON(w, r, http.StatusOK, ResolveErrorResponse{
		ErrorID:  recordID,
		Resolved: true,
	})
}
