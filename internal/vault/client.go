package vault

import (
	"context"
	"fmt"
	"sync"

	"disclosure-trading-bot/config"

	"github.com/hashicorp/vault/api"
)

// BrokerCredentials represents the broker key pair stored in Vault
type BrokerCredentials struct {
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
	Mode      string `json:"mode"` // paper or live
}

// Client wraps the HashiCorp Vault client. With Vault disabled it operates
// purely on the in-memory cache, which development setups seed from config.
type Client struct {
	client       *api.Client
	config       config.VaultConfig
	mu           sync.RWMutex
	cache        map[string]*BrokerCredentials // accountID:mode -> credentials
	cacheEnabled bool
}

// NewClient creates a new Vault client
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{
			config:       cfg,
			cache:        make(map[string]*BrokerCredentials),
			cacheEnabled: true,
		}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{
			CACert: cfg.CACert,
		}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	client.SetToken(cfg.Token)

	return &Client{
		client:       client,
		config:       cfg,
		cache:        make(map[string]*BrokerCredentials),
		cacheEnabled: true,
	}, nil
}

// StoreCredentials stores a broker key pair for an account
func (c *Client) StoreCredentials(ctx context.Context, accountID string, creds BrokerCredentials) error {
	if !c.config.Enabled {
		c.mu.Lock()
		c.cache[c.cacheKey(accountID, creds.Mode)] = &creds
		c.mu.Unlock()
		return nil
	}

	path := c.secretPath(accountID, creds.Mode)

	secretData := map[string]interface{}{
		"data": map[string]interface{}{
			"api_key":    creds.APIKey,
			"secret_key": creds.SecretKey,
			"mode":       creds.Mode,
		},
	}

	if _, err := c.client.Logical().WriteWithContext(ctx, path, secretData); err != nil {
		return fmt.Errorf("failed to store credentials in vault: %w", err)
	}

	if c.cacheEnabled {
		c.mu.Lock()
		c.cache[c.cacheKey(accountID, creds.Mode)] = &creds
		c.mu.Unlock()
	}

	return nil
}

// GetCredentials retrieves an account's broker key pair
func (c *Client) GetCredentials(ctx context.Context, accountID, mode string) (*BrokerCredentials, error) {
	if c.cacheEnabled {
		c.mu.RLock()
		if cached, ok := c.cache[c.cacheKey(accountID, mode)]; ok {
			c.mu.RUnlock()
			return cached, nil
		}
		c.mu.RUnlock()
	}

	if !c.config.Enabled {
		return nil, fmt.Errorf("credentials not found for account %s and vault is disabled", accountID)
	}

	path := c.secretPath(accountID, mode)

	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("credentials not found for account %s", accountID)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format")
	}

	creds := &BrokerCredentials{
		APIKey:    getString(data, "api_key"),
		SecretKey: getString(data, "secret_key"),
		Mode:      getString(data, "mode"),
	}

	if c.cacheEnabled {
		c.mu.Lock()
		c.cache[c.cacheKey(accountID, mode)] = creds
		c.mu.Unlock()
	}

	return creds, nil
}

// DeleteCredentials removes an account's broker key pair
func (c *Client) DeleteCredentials(ctx context.Context, accountID, mode string) error {
	c.mu.Lock()
	delete(c.cache, c.cacheKey(accountID, mode))
	c.mu.Unlock()

	if !c.config.Enabled {
		return nil
	}

	path := c.metadataPath(accountID, mode)

	if _, err := c.client.Logical().DeleteWithContext(ctx, path); err != nil {
		return fmt.Errorf("failed to delete credentials from vault: %w", err)
	}
	return nil
}

// ClearCache drops all cached credentials
func (c *Client) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]*BrokerCredentials)
}

// IsEnabled reports whether Vault is backing this client
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// Health checks Vault connectivity
func (c *Client) Health(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if !health.Initialized {
		return fmt.Errorf("vault is not initialized")
	}
	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}
	return nil
}

// secretPath builds the KV v2 data path.
// Format: {mount}/data/{secret_path}/{accountID}/{mode}
func (c *Client) secretPath(accountID, mode string) string {
	return fmt.Sprintf("%s/data/%s/%s/%s", c.config.MountPath, c.config.SecretPath, accountID, mode)
}

// metadataPath builds the KV v2 metadata path, used for deletes
func (c *Client) metadataPath(accountID, mode string) string {
	return fmt.Sprintf("%s/metadata/%s/%s/%s", c.config.MountPath, c.config.SecretPath, accountID, mode)
}

func (c *Client) cacheKey(accountID, mode string) string {
	return fmt.Sprintf("%s:%s", accountID, mode)
}

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}
