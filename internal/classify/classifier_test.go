package classify

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetherhq/tether-api/internal/domain"
)

func TestClassify_Categories(t *testing.T) {
	t.Parallel()

	ctx := Context{Provider: "gmail", Stage: domain.ErrorStageIngestion}

	tests := []struct {
		name          string
		message       string
		wantCategory  domain.ErrorCategory
		wantRetryable bool
	}{
		{"invalid grant", "oauth2: \"invalid_grant\" token expired", domain.ErrorCategoryAuthentication, false},
		{"unauthorized status", "request failed with status 401 Unauthorized", domain.ErrorCategoryAuthentication, false},
		{"forbidden", "googleapi: Error 403: forbidden", domain.ErrorCategoryPermission, false},
		{"insufficient scope", "insufficient scope for this operation", domain.ErrorCategoryPermission, false},
		{"rate limit", "rate limit exceeded for user", domain.ErrorCategoryQuota, true},
		{"too many requests", "HTTP 429 Too Many Requests", domain.ErrorCategoryQuota, true},
		{"quota", "daily quota exhausted", domain.ErrorCategoryQuota, true},
		{"timeout", "dial tcp 142.250.0.1:443: i/o timeout", domain.ErrorCategoryNetwork, true},
		{"connection refused", "connection refused", domain.ErrorCategoryNetwork, true},
		{"bad gateway", "upstream returned 502", domain.ErrorCategoryNetwork, true},
		{"unmarshal", "json: cannot unmarshal string into Go value", domain.ErrorCategoryDataFormat, true},
		{"malformed", "malformed message envelope", domain.ErrorCategoryDataFormat, true},
		{"panic", "recovered from panic in handler", domain.ErrorCategoryProcessing, true},
		{"settings", "sync settings are invalid for this account", domain.ErrorCategoryConfiguration, false},
		{"unmatched falls back to processing", "something odd happened", domain.ErrorCategoryProcessing, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := Classify(errors.New(tt.message), ctx)

			assert.Equal(t, tt.wantCategory, c.Category)
			assert.Equal(t, tt.wantRetryable, c.Retryable)
			assert.NotEmpty(t, c.UserMessage)
			require.NotEmpty(t, c.RecoveryStrategies)
			assert.NotEmpty(t, c.RecoveryStrategies[0].Action)
		})
	}
}

func TestClassify_Precedence(t *testing.T) {
	t.Parallel()

	ctx := Context{Provider: "gmail"}

	// Authentication dominates everything downstream even when other
	// patterns also match.
	c := Classify(errors.New("401 unauthorized: rate limit reached after timeout"), ctx)
	assert.Equal(t, domain.ErrorCategoryAuthentication, c.Category)

	// Permission beats quota.
	c = Classify(errors.New("forbidden: quota check not permitted"), ctx)
	assert.Equal(t, domain.ErrorCategoryPermission, c.Category)

	// Quota beats network.
	c = Classify(errors.New("rate limit exceeded: connection reset"), ctx)
	assert.Equal(t, domain.ErrorCategoryQuota, c.Category)

	// Network beats data_format.
	c = Classify(errors.New("timeout while trying to unmarshal response"), ctx)
	assert.Equal(t, domain.ErrorCategoryNetwork, c.Category)
}

func TestClassify_Deterministic(t *testing.T) {
	t.Parallel()

	err := errors.New("oauth2: invalid_grant")
	ctx := Context{Provider: "gmail", Stage: domain.ErrorStageIngestion}

	first := Classify(err, ctx)
	second := Classify(err, ctx)

	assert.Equal(t, first, second)
	assert.Equal(t, domain.ErrorCategoryAuthentication, first.Category)
	assert.False(t, first.Retryable)
	assert.Equal(t, domain.ErrorSeverityCritical, first.Severity)
}

func TestClassify_NilError(t *testing.T) {
	t.Parallel()

	c := Classify(nil, Context{})

	assert.Equal(t, domain.ErrorCategoryProcessing, c.Category)
	assert.True(t, c.Retryable)
}

func TestClassify_ProviderInUserMessage(t *testing.T) {
	t.Parallel()

	c := Classify(errors.New("token expired"), Context{Provider: "gmail"})
	assert.Contains(t, c.UserMessage, "Gmail")

	c = Classify(errors.New("token expired"), Context{Provider: "calendar"})
	assert.Contains(t, c.UserMessage, "Google Calendar")

	c = Classify(errors.New("token expired"), Context{})
	assert.Contains(t, c.UserMessage, "the connected service")
}

func TestClassify_SeverityByCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		message string
		want    domain.ErrorSeverity
	}{
		{"invalid_grant", domain.ErrorSeverityCritical},
		{"forbidden", domain.ErrorSeverityHigh},
		{"sync settings invalid", domain.ErrorSeverityHigh},
		{"rate limit", domain.ErrorSeverityMedium},
		{"cannot unmarshal", domain.ErrorSeverityLow},
	}

	for _, tt := range tests {
		c := Classify(errors.New(tt.message), Context{})
		assert.Equal(t, tt.want, c.Severity, "message %q", tt.message)
	}
}
