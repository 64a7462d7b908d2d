package vault

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/api"

	"trade-guard/config"
	"trade-guard/internal/logging"
)

// Secrets are the credentials the guard service resolves at startup
type Secrets struct {
	DBPassword    string `json:"db_password"`
	RedisPassword string `json:"redis_password"`
	JWTSecret     string `json:"jwt_secret"`
	AIAPIKey      string `json:"ai_api_key"`
}

// Client wraps the HashiCorp Vault client
type Client struct {
	client *api.Client
	config config.VaultConfig
	mu     sync.RWMutex
	cached *Secrets
}

// NewClient creates a new Vault client. A disabled config yields a client
// whose reads return empty secrets.
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{config: cfg}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &Client{client: client, config: cfg}, nil
}

// GetSecrets reads the service secret from the KV v2 mount. The result is
// cached for the life of the client.
func (c *Client) GetSecrets(ctx context.Context) (*Secrets, error) {
	c.mu.RLock()
	if c.cached != nil {
		s := *c.cached
		c.mu.RUnlock()
		return &s, nil
	}
	c.mu.RUnlock()

	if !c.config.Enabled {
		return &Secrets{}, nil
	}

	secret, err := c.client.Logical().ReadWithContext(ctx, c.secretPath())
	if err != nil {
		return nil, fmt.Errorf("failed to read secrets from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("secret %s not found", c.secretPath())
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format at %s", c.secretPath())
	}

	s := &Secrets{
		DBPassword:    getString(data, "db_password"),
		RedisPassword: getString(data, "redis_password"),
		JWTSecret:     getString(data, "jwt_secret"),
		AIAPIKey:      getString(data, "ai_api_key"),
	}

	c.mu.Lock()
	c.cached = s
	c.mu.Unlock()

	out := *s
	return &out, nil
}

// Apply fills credentials in cfg that are still empty. Values already set by
// file or environment win.
func (c *Client) Apply(ctx context.Context, cfg *config.Config) error {
	if !c.config.Enabled {
		return nil
	}

	s, err := c.GetSecrets(ctx)
	if err != nil {
		return err
	}

	applied := 0
	fill := func(dst *string, v string) {
		if *dst == "" && v != "" {
			*dst = v
			applied++
		}
	}
	fill(&cfg.Database.Password, s.DBPassword)
	fill(&cfg.Redis.Password, s.RedisPassword)
	fill(&cfg.Auth.JWTSecret, s.JWTSecret)
	fill(&cfg.AI.APIKey, s.AIAPIKey)

	logging.WithComponent("vault").Info("secrets resolved from vault", "path", c.secretPath(), "applied", applied)
	return nil
}

// ClearCache drops the cached secrets so the next read goes to Vault
func (c *Client) ClearCache() {
	c.mu.Lock()
	c.cached = nil
	c.mu.Unlock()
}

// IsEnabled returns whether Vault is enabled
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// Health checks the Vault connection
func (c *Client) Health(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}
	return nil
}

func (c *Client) secretPath() string {
	return fmt.Sprintf("%s/data/%s", c.config.MountPath, c.config.SecretPath)
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}
