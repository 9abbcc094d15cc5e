package logger_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetherhq/tether-api/internal/platform/logger"
)

func TestSetup(t *testing.T) {
	tests := []struct {
		name   string
		config logger.Config
	}{
		{"json handler", logger.Config{Level: "info", Format: "json"}},
		{"text handler", logger.Config{Level: "debug", Format: "text"}},
		{"invalid level falls back to info", logger.Config{Level: "verbose"}},
		{"empty config", logger.Config{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := logger.Setup(tt.config)
			require.NoError(t, err)
			require.NotNil(t, l)
		})
	}
}

func TestWithLogger(t *testing.T) {
	t.Parallel()

	customLogger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := logger.WithLogger(context.Background(), customLogger)

	assert.Same(t, customLogger, logger.FromContext(ctx))

	assert.Panics(t, func() {
		logger.WithLogger(context.Background(), nil)
	})
}

func TestFromContext_Default(t *testing.T) {
	t.Parallel()

	// No logger stored: falls back to slog.Default()
	assert.NotNil(t, logger.FromContext(context.Background()))
}

func TestFromContextOrDefault(t *testing.T) {
	t.Parallel()

	defaultLogger := slog.New(slog.NewTextHandler(io.Discard, nil))
	customLogger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name     string
		ctx      context.Context
		expected *slog.Logger
	}{
		{
			name:     "logger in context wins",
			ctx:      logger.WithLogger(context.Background(), customLogger),
			expected: customLogger,
		},
		{
			name:     "empty context falls back to default",
			ctx:      context.Background(),
			expected: defaultLogger,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := logger.FromContextOrDefault(tt.ctx, defaultLogger)
			assert.Same(t, tt.expected, result)
		})
	}
}
