package generation

import (
	"context"

	"github.com/google/uuid"
)

// Insight is a generated summary of a contact relationship.
type Insight struct {
	ContactID uuid.UUID `json:"contact_id"`
	Summary   string    `json:"summary"`
	Topics    []string  `json:"topics,omitempty"`
}

// Generator defines the interface for LLM-backed content generation.
// This interface is the boundary between job handlers and external AI
// services; implementations live under internal/platform.
type Generator interface {
	// GenerateInsight summarizes the given interaction history for a
	// contact. The history is plain text, newest entries last.
	GenerateInsight(ctx context.Context, contactID uuid.UUID, history string) (*Insight, error)

	// DraftReply produces a suggested reply to the given message in the
	// owner's voice.
	DraftReply(ctx context.Context, message string) (string, error)

	// EmbedText returns a vector embedding of the given text for
	// similarity search.
	EmbedText(ctx context.Context, text string) ([]float32, error)
}
