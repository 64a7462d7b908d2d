package vault

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-guard/config"
)

func fakeVault(t *testing.T, calls *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		assert.Equal(t, "root-token", r.Header.Get("X-Vault-Token"))
		if r.URL.Path != "/v1/secret/data/trade-guard" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":[]}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"data": map[string]interface{}{
					"db_password": "from-vault",
					"jwt_secret":  "signing-key",
				},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGetSecretsAndCache(t *testing.T) {
	var calls int32
	srv := fakeVault(t, &calls)

	c, err := NewClient(config.VaultConfig{Enabled: true, Address: srv.URL, Token: "root-token", MountPath: "secret", SecretPath: "trade-guard"})
	require.NoError(t, err)

	s, err := c.GetSecrets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "from-vault", s.DBPassword)
	assert.Equal(t, "signing-key", s.JWTSecret)
	assert.Empty(t, s.AIAPIKey)

	_, err = c.GetSecrets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	c.ClearCache()
	_, err = c.GetSecrets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestApplyKeepsExplicitValues(t *testing.T) {
	var calls int32
	srv := fakeVault(t, &calls)

	c, err := NewClient(config.VaultConfig{Enabled: true, Address: srv.URL, Token: "root-token", MountPath: "secret", SecretPath: "trade-guard"})
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Database.Password = "from-env"
	require.NoError(t, c.Apply(context.Background(), cfg))

	assert.Equal(t, "from-env", cfg.Database.Password)
	assert.Equal(t, "signing-key", cfg.Auth.JWTSecret)
}

func TestMissingSecretIsError(t *testing.T) {
	var calls int32
	srv := fakeVault(t, &calls)

	c, err := NewClient(config.VaultConfig{Enabled: true, Address: srv.URL, Token: "root-token", MountPath: "secret", SecretPath: "other"})
	require.NoError(t, err)

	_, err = c.GetSecrets(context.Background())
	assert.Error(t, err)
}

func TestDisabledClientIsInert(t *testing.T) {
	c, err := NewClient(config.VaultConfig{})
	require.NoError(t, err)
	assert.False(t, c.IsEnabled())

	cfg := config.Default()
	require.NoError(t, c.Apply(context.Background(), cfg))
	assert.Empty(t, cfg.Auth.JWTSecret)
	assert.NoError(t, c.Health(context.Background()))
}
