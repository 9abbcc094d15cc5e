package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tetherhq/tether-api/internal/domain"
	"github.com/tetherhq/tether-api/internal/generation"
	"github.com/tetherhq/tether-api/internal/store"
)

// EmbedPayload identifies the ingestion record to embed.
type EmbedPayload struct {
	RecordID uuid.UUID `json:"record_id"`
}

// EmbedHandler computes a text embedding for an ingestion record and
// stores it in the record's metadata for similarity search.
type EmbedHandler struct {
	ingestionStore store.IngestionStore
	generator      generation.Generator
	logger         *slog.Logger
}

// NewEmbedHandler creates a new EmbedHandler.
func NewEmbedHandler(
	ingestionStore store.IngestionStore,
	generator generation.Generator,
	logger *slog.Logger,
) *EmbedHandler {
	if ingestionStore == nil || generator == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("ingestion store and generator cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &EmbedHandler{
		ingestionStore: ingestionStore,
		generator:      generator,
		logger:         logger.With(slog.String("component", "embed_handler")),
	}
}

// Kind implements jobs.Handler.
func (h *EmbedHandler) Kind() domain.JobKind { return domain.JobKindEmbed }

// Handle implements jobs.Handler.
func (h *EmbedHandler) Handle(ctx context.Context, job *domain.Job) error {
	var payload EmbedPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("malformed embed payload: %w", err)
	}
	if payload.RecordID == uuid.Nil {
		return fmt.Errorf("embed payload has no record ID")
	}

	record, err := h.ingestionStore.GetByID(ctx, job.OwnerID, payload.RecordID)
	if err != nil {
		return fmt.Errorf("failed to load ingestion record %s: %w", payload.RecordID, err)
	}

	text := record.Title
	if record.Body != "" {
		text = record.Title + "\n" + record.Body
	}

	vector, err := h.generator.EmbedText(ctx, text)
	if err != nil {
		return fmt.Errorf("failed to embed record %s: %w", payload.RecordID, err)
	}

	if err := mergeMetadata(record, "embedding", vector); err != nil {
		return err
	}

	if _, err := h.ingestionStore.Upsert(ctx, record); err != nil {
		return fmt.Errorf("failed to store embedding for record %s: %w", payload.RecordID, err)
	}

	h.logger.DebugContext(ctx, "record embedded",
		slog.String("record_id", payload.RecordID.String()),
		slog.Int("dimensions", len(vector)))

	return nil
}

// InsightPayload carries the contact and the interaction history to
// summarize. When RecordID is set the generated insight is attached to
// that record's metadata.
type InsightPayload struct {
	ContactID uuid.UUID `json:"contact_id"`
	RecordID  uuid.UUID `json:"record_id,omitempty"`
	History   string    `json:"history"`
}

// InsightHandler generates a relationship summary for a contact from
// their interaction history.
type InsightHandler struct {
	ingestionStore store.IngestionStore
	generator      generation.Generator
	logger         *slog.Logger
}

// NewInsightHandler creates a new InsightHandler.
func NewInsightHandler(
	ingestionStore store.IngestionStore,
	generator generation.Generator,
	logger *slog.Logger,
) *InsightHandler {
	if ingestionStore == nil || generator == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("ingestion store and generator cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &InsightHandler{
		ingestionStore: ingestionStore,
		generator:      generator,
		logger:         logger.With(slog.String("component", "insight_handler")),
	}
}

// Kind implements jobs.Handler.
func (h *InsightHandler) Kind() domain.JobKind { return domain.JobKindInsight }

// Handle implements jobs.Handler.
func (h *InsightHandler) Handle(ctx context.Context, job *domain.Job) error {
	var payload InsightPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("malformed insight payload: %w", err)
	}
	if payload.ContactID == uuid.Nil {
		return fmt.Errorf("insight payload has no contact ID")
	}
	if payload.History == "" {
		return fmt.Errorf("insight payload has no history")
	}

	insight, err := h.generator.GenerateInsight(ctx, payload.ContactID, payload.History)
	if err != nil {
		return fmt.Errorf("failed to generate insight for contact %s: %w", payload.ContactID, err)
	}

	if payload.RecordID != uuid.Nil {
		record, err := h.ingestionStore.GetByID(ctx, job.OwnerID, payload.RecordID)
		if err != nil {
			return fmt.Errorf("failed to load ingestion record %s: %w", payload.RecordID, err)
		}
		if err := mergeMetadata(record, "insight", insight); err != nil {
			return err
		}
		if _, err := h.ingestionStore.Upsert(ctx, record); err != nil {
			return fmt.Errorf("failed to store insight on record %s: %w", payload.RecordID, err)
		}
	}

	h.logger.InfoContext(ctx, "insight generated",
		slog.String("contact_id", payload.ContactID.String()),
		slog.Int("topics", len(insight.Topics)))

	return nil
}

// mergeMetadata sets key to value inside the record's metadata JSON
// object, preserving unrelated keys.
func mergeMetadata(record *domain.IngestionRecord, key string, value any) error {
	meta := map[string]json.RawMessage{}
	if len(record.Metadata) > 0 {
		if err := json.Unmarshal(record.Metadata, &meta); err != nil {
			return fmt.Errorf("record %s has malformed metadata: %w", record.ID, err)
		}
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode metadata value %q: %w", key, err)
	}
	meta[key] = encoded

	merged, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	record.Metadata = merged

	return nil
}
