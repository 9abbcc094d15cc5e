package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tetherhq/tether-api/internal/domain"
	"github.com/tetherhq/tether-api/internal/ingest"
)

// ProviderClient pulls changed items from an external origin system.
// Implementations wrap the Gmail and Google Calendar APIs; failures they
// return surface provider errors (expired tokens, rate limits) verbatim
// so the classifier can work from the original message.
type ProviderClient interface {
	// ListChanges returns the owner's items changed since the given time.
	// A zero time means a full sync.
	ListChanges(ctx context.Context, ownerID uuid.UUID, since time.Time) ([]ingest.Item, error)
}

// SyncPayload narrows one sync run.
type SyncPayload struct {
	Since time.Time `json:"since,omitempty"`
}

// SyncHandler pulls changes from one provider and feeds them through the
// idempotent ingestion path. One instance is registered per sync kind.
type SyncHandler struct {
	kind    domain.JobKind
	source  string
	client  ProviderClient
	service *ingest.Service
	logger  *slog.Logger
}

// NewSyncHandler creates a SyncHandler for the given job kind and origin
// system label.
func NewSyncHandler(
	kind domain.JobKind,
	source string,
	client ProviderClient,
	service *ingest.Service,
	logger *slog.Logger,
) *SyncHandler {
	if client == nil || service == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("provider client and ingest service cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &SyncHandler{
		kind:    kind,
		source:  source,
		client:  client,
		service: service,
		logger:  logger.With(slog.String("component", "sync_handler"), slog.String("source", source)),
	}
}

// NewGmailSyncHandler registers the Gmail sync kind.
func NewGmailSyncHandler(client ProviderClient, service *ingest.Service, logger *slog.Logger) *SyncHandler {
	return NewSyncHandler(domain.JobKindSyncGmail, "gmail", client, service, logger)
}

// NewCalendarSyncHandler registers the Calendar sync kind.
func NewCalendarSyncHandler(client ProviderClient, service *ingest.Service, logger *slog.Logger) *SyncHandler {
	return NewSyncHandler(domain.JobKindSyncCalendar, "calendar", client, service, logger)
}

// Kind implements jobs.Handler.
func (h *SyncHandler) Kind() domain.JobKind { return h.kind }

// Handle implements jobs.Handler. Provider failures propagate unchanged;
// the runner classifies them.
func (h *SyncHandler) Handle(ctx context.Context, job *domain.Job) error {
	var payload SyncPayload
	if len(job.Payload) > 0 {
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("malformed sync payload: %w", err)
		}
	}

	items, err := h.client.ListChanges(ctx, job.OwnerID, payload.Since)
	if err != nil {
		return err
	}

	if len(items) == 0 {
		h.logger.DebugContext(ctx, "nothing to sync")
		return nil
	}

	batchID := job.BatchID
	if batchID == "" {
		batchID = fmt.Sprintf("%s-%s", h.source, job.ID)
	}

	result, err := h.service.IngestBatch(ctx, job.OwnerID, h.source, items, batchID)
	if err != nil {
		return fmt.Errorf("failed to ingest %s batch: %w", h.source, err)
	}

	if result.Failed > 0 && result.Upserted == 0 {
		return fmt.Errorf("all %d %s items failed to ingest: %s",
			result.Failed, h.source, result.Errors[0].Message)
	}

	h.logger.InfoContext(ctx, "sync completed",
		slog.Int("upserted", result.Upserted),
		slog.Int("failed", result.Failed),
		slog.String("batch_id", batchID))

	return nil
}
