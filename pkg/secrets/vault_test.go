package secrets

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"smile-ai/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const kvResponse = `{
  "data": {
    "data": {"twilio_auth_token": "from-vault"},
    "metadata": {"created_time": "2024-01-01T00:00:00Z", "custom_metadata": null, "deletion_time": "", "destroyed": false, "version": 1}
  }
}`

func newVault(t *testing.T) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.URL.Path != "/v1/secret/data/smile-ai" || r.Header.Get("X-Vault-Token") != "root" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(kvResponse))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestVaultManagerReadsKV(t *testing.T) {
	srv, hits := newVault(t)
	m, err := NewVaultManager(VaultConfig{Enabled: true, Address: srv.URL, Token: "root"}, logger.Discard())
	require.NoError(t, err)
	defer m.Close()

	value, err := m.GetSecret(context.Background(), KeyTwilioAuthToken)
	require.NoError(t, err)
	assert.Equal(t, "from-vault", value)

	_, err = m.GetSecret(context.Background(), KeyTwilioAuthToken)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(hits), "second read should come from cache")
}

func TestVaultManagerFallsBackToEnvironment(t *testing.T) {
	srv, _ := newVault(t)
	t.Setenv("OPENAI_API_KEY", "from-env")
	m, err := NewVaultManager(VaultConfig{Enabled: true, Address: srv.URL, Token: "root"}, logger.Discard())
	require.NoError(t, err)
	defer m.Close()

	value, err := m.GetSecret(context.Background(), KeyOpenAIAPIKey)
	require.NoError(t, err)
	assert.Equal(t, "from-env", value)
}

func TestDisabledVaultUsesEnvironmentOnly(t *testing.T) {
	t.Setenv("TWILIO_AUTH_TOKEN", "env-token")
	m, err := NewVaultManager(VaultConfig{}, logger.Discard())
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, "env-token", m.GetSecretWithDefault(context.Background(), KeyTwilioAuthToken, ""))
	assert.Equal(t, "fallback", m.GetSecretWithDefault(context.Background(), "missing-key", "fallback"))
}

func TestEnabledVaultRequiresAddressAndToken(t *testing.T) {
	_, err := NewVaultManager(VaultConfig{Enabled: true, Token: "root"}, logger.Discard())
	assert.ErrorIs(t, err, ErrNoVaultAddress)

	_, err = NewVaultManager(VaultConfig{Enabled: true, Address: "http://127.0.0.1:8200"}, logger.Discard())
	assert.ErrorIs(t, err, ErrNoVaultToken)
}

func TestFillKeepsExistingValues(t *testing.T) {
	t.Setenv("TWILIO_AUTH_TOKEN", "env-token")
	t.Setenv("OPENAI_API_KEY", "env-key")
	m, err := NewVaultManager(VaultConfig{}, logger.Discard())
	require.NoError(t, err)
	defer m.Close()

	token, apiKey := "", "explicit"
	Fill(context.Background(), m, map[string]*string{
		KeyTwilioAuthToken: &token,
		KeyOpenAIAPIKey:    &apiKey,
	})

	assert.Equal(t, "env-token", token)
	assert.Equal(t, "explicit", apiKey)
}
