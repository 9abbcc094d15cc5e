package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/tetherhq/tether-api/internal/domain"
	"github.com/tetherhq/tether-api/internal/store"
)

// NormalizePayload identifies the ingestion record to normalize.
type NormalizePayload struct {
	RecordID uuid.UUID `json:"record_id"`
}

// NormalizeHandler cleans up a raw ingestion record in place: collapsed
// whitespace, trimmed fields, a derived title when the source had none.
// Running it twice converges on the same result.
type NormalizeHandler struct {
	ingestionStore store.IngestionStore
	logger         *slog.Logger
}

// NewNormalizeHandler creates a new NormalizeHandler.
func NewNormalizeHandler(ingestionStore store.IngestionStore, logger *slog.Logger) *NormalizeHandler {
	if ingestionStore == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("ingestion store cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &NormalizeHandler{
		ingestionStore: ingestionStore,
		logger:         logger.With(slog.String("component", "normalize_handler")),
	}
}

// Kind implements jobs.Handler.
func (h *NormalizeHandler) Kind() domain.JobKind { return domain.JobKindNormalize }

// Handle implements jobs.Handler.
func (h *NormalizeHandler) Handle(ctx context.Context, job *domain.Job) error {
	var payload NormalizePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("malformed normalize payload: %w", err)
	}
	if payload.RecordID == uuid.Nil {
		return fmt.Errorf("normalize payload has no record ID")
	}

	record, err := h.ingestionStore.GetByID(ctx, job.OwnerID, payload.RecordID)
	if err != nil {
		return fmt.Errorf("failed to load ingestion record %s: %w", payload.RecordID, err)
	}

	rawBody := record.Body
	record.Title = normalizeText(record.Title)
	record.Body = normalizeText(record.Body)
	if record.Title == "" && record.Body != "" {
		record.Title = deriveTitle(rawBody)
	}

	if _, err := h.ingestionStore.Upsert(ctx, record); err != nil {
		return fmt.Errorf("failed to store normalized record %s: %w", payload.RecordID, err)
	}

	h.logger.DebugContext(ctx, "record normalized",
		slog.String("record_id", payload.RecordID.String()))

	return nil
}

// normalizeText collapses runs of whitespace into single spaces and trims
// the result.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// deriveTitle takes the first line of the body, capped at 80 runes.
func deriveTitle(body string) string {
	line := body
	if i := strings.IndexByte(body, '\n'); i >= 0 {
		line = body[:i]
	}
	line = strings.TrimSpace(line)

	runes := []rune(line)
	if len(runes) > 80 {
		return string(runes[:77]) + "..."
	}
	return line
}
