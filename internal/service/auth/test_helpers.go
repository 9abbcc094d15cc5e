package auth

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/tetherhq/tether-api/internal/config"
)

// DefaultJWTConfig returns a standard configuration for JWT authentication suitable for testing.
// This is the single source of truth for JWT test config.
func DefaultJWTConfig() config.AuthConfig {
	return config.AuthConfig{
		JWTSecret:            "test-jwt-secret-that-is-32-chars-long", // At least 32 chars
		TokenLifetimeMinutes: 60,
	}
}

// NewTestJWTService creates a JWT service with default configuration for testing.
// This is the recommended way to create a JWT service for tests.
func NewTestJWTService() (JWTService, error) {
	return NewJWTService(DefaultJWTConfig())
}

// RequireTestJWTService creates a test JWT service and uses require to handle errors.
// This is the recommended way to create a JWT service in tests using testify.
func RequireTestJWTService(t *testing.T) JWTService {
	t.Helper()
	service, err := NewTestJWTService()
	require.NoError(t, err, "Failed to create test JWT service")
	return service
}

// GenerateTokenForTesting creates a JWT token for the specified user ID.
// This is a utility function for tests that need to create tokens without
// having to instantiate a JWT service.
func GenerateTokenForTesting(userID uuid.UUID) (string, error) {
	svc, err := NewTestJWTService()
	if err != nil {
		return "", fmt.Errorf("failed to create JWT service: %w", err)
	}
	return svc.GenerateToken(context.Background(), userID)
}

// GenerateAuthHeaderForTestingT is a test helper that creates an Authorization header
// and fails the test if token generation fails.
func GenerateAuthHeaderForTestingT(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	token, err := GenerateTokenForTesting(userID)
	require.NoError(t, err, "Failed to generate auth header")
	return "Bearer " + token
}
