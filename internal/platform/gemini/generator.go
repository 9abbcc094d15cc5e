package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/tetherhq/tether-api/internal/config"
	"github.com/tetherhq/tether-api/internal/generation"
)

// modelAPI is the slice of the genai client the generator uses. It exists
// so tests can substitute a fake without network access; *genai.Models
// satisfies it.
type modelAPI interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// Generator implements generation.Generator using the Gemini API.
type Generator struct {
	logger         *slog.Logger
	api            modelAPI
	model          string
	embeddingModel string
	maxRetries     int
	baseDelay      time.Duration
}

var _ generation.Generator = (*Generator)(nil)

// NewGenerator creates a Gemini-backed Generator from the LLM
// configuration.
func NewGenerator(ctx context.Context, logger *slog.Logger, cfg config.LLMConfig) (*Generator, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", generation.ErrInvalidConfig)
	}

	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", generation.ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", generation.ErrInvalidConfig, err)
	}

	return newGenerator(logger, client.Models, cfg), nil
}

func newGenerator(logger *slog.Logger, api modelAPI, cfg config.LLMConfig) *Generator {
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 3
	}

	delaySeconds := cfg.RetryDelaySeconds
	if delaySeconds < 1 {
		delaySeconds = 2
	}

	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = "text-embedding-004"
	}

	return &Generator{
		logger:         logger.With(slog.String("component", "gemini_generator")),
		api:            api,
		model:          cfg.Model,
		embeddingModel: embeddingModel,
		maxRetries:     maxRetries,
		baseDelay:      time.Duration(delaySeconds) * time.Second,
	}
}

// GenerateInsight implements generation.Generator.
func (g *Generator) GenerateInsight(ctx context.Context, contactID uuid.UUID, history string) (*generation.Insight, error) {
	if strings.TrimSpace(history) == "" {
		return nil, ErrEmptyInput
	}

	var promptBuf bytes.Buffer
	if err := insightPrompt.Execute(&promptBuf, insightPromptData{History: history}); err != nil {
		return nil, fmt.Errorf("failed to build insight prompt: %w", err)
	}

	text, err := g.callWithRetry(ctx, promptBuf.String(), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return nil, err
	}

	var parsed insightSchema
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, fmt.Errorf("%w: failed to parse insight JSON: %v", generation.ErrInvalidResponse, err)
	}

	if parsed.Summary == "" {
		return nil, fmt.Errorf("%w: insight has no summary", generation.ErrInvalidResponse)
	}

	return &generation.Insight{
		ContactID: contactID,
		Summary:   parsed.Summary,
		Topics:    parsed.Topics,
	}, nil
}

// DraftReply implements generation.Generator.
func (g *Generator) DraftReply(ctx context.Context, message string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", ErrEmptyInput
	}

	var promptBuf bytes.Buffer
	if err := replyPrompt.Execute(&promptBuf, replyPromptData{Message: message}); err != nil {
		return "", fmt.Errorf("failed to build reply prompt: %w", err)
	}

	text, err := g.callWithRetry(ctx, promptBuf.String(), nil)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(text), nil
}

// EmbedText implements generation.Generator.
func (g *Generator) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	resp, err := g.api.EmbedContent(ctx, g.embeddingModel, genai.Text(text), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding call failed: %v", generation.ErrTransientFailure, err)
	}

	if resp == nil || len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("%w: empty embedding response", generation.ErrInvalidResponse)
	}

	return resp.Embeddings[0].Values, nil
}

// callWithRetry calls the Gemini API with exponential backoff and jitter.
// Transient errors (API failures) are retried up to maxRetries times;
// permanent errors (blocked content, malformed responses) return
// immediately.
func (g *Generator) callWithRetry(ctx context.Context, prompt string, cfg *genai.GenerateContentConfig) (string, error) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		g.logger.DebugContext(ctx, "calling Gemini API",
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", g.maxRetries+1))

		text, err := g.callOnce(ctx, prompt, cfg)
		if err == nil {
			return text, nil
		}
		lastErr = err

		if errors.Is(err, generation.ErrContentBlocked) || errors.Is(err, generation.ErrInvalidResponse) {
			return "", err
		}

		if attempt >= g.maxRetries {
			break
		}

		// delay = baseDelay * 2^attempt * (0.5 + rand(0, 0.5))
		backoff := float64(g.baseDelay) * math.Pow(2, float64(attempt))
		jitter := 0.5 + rng.Float64()*0.5
		delay := time.Duration(backoff * jitter)

		g.logger.WarnContext(ctx, "Gemini API call failed, retrying",
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", fmt.Errorf("%w: cancelled during retry: %v", generation.ErrTransientFailure, ctx.Err())
		}
	}

	return "", fmt.Errorf("%w: exceeded %d attempts: %v",
		generation.ErrTransientFailure, g.maxRetries+1, lastErr)
}

func (g *Generator) callOnce(ctx context.Context, prompt string, cfg *genai.GenerateContentConfig) (string, error) {
	resp, err := g.api.GenerateContent(ctx, g.model, genai.Text(prompt), cfg)
	if err != nil {
		return "", fmt.Errorf("gemini API call failed: %w", err)
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("%w: no content generated", generation.ErrInvalidResponse)
	}

	if resp.Candidates[0].FinishReason == genai.FinishReasonSafety {
		return "", generation.ErrContentBlocked
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("%w: empty response text", generation.ErrInvalidResponse)
	}

	return text, nil
}
