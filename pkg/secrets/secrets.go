package secrets

import (
	"context"
	"errors"
)

// Keys looked up at startup
const (
	KeyTwilioAuthToken = "twilio_auth_token"
	KeyOpenAIAPIKey    = "openai_api_key"
)

// Common errors
var (
	ErrSecretNotFound = errors.New("secret not found")
	ErrNoVaultToken   = errors.New("no vault token provided")
	ErrNoVaultAddress = errors.New("no vault address provided")
)

// Manager provides access to secrets from various sources
type Manager interface {
	// GetSecret retrieves a secret by key
	GetSecret(ctx context.Context, key string) (string, error)

	// GetSecretWithDefault retrieves a secret with a default value if not found
	GetSecretWithDefault(ctx context.Context, key, defaultValue string) string
}

// Fill replaces every empty *target with the secret stored under its key.
// Values already set (for example from the environment) are kept.
func Fill(ctx context.Context, m Manager, targets map[string]*string) {
	for key, target := range targets {
		if *target != "" {
			continue
		}
		*target = m.GetSecretWithDefault(ctx, key, "")
	}
}
