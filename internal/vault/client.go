package vault

import (
	"context"
	"fmt"

	"github.com/hashicorp/vault/api"

	"scalp-trading-bot/config"
)

// Credentials holds exchange API credentials fetched from Vault.
type Credentials struct {
	APIKey    string
	SecretKey string
}

// Client wraps the HashiCorp Vault KV v2 client. When Vault is disabled the
// bot falls back to credentials from config or environment.
type Client struct {
	client *api.Client
	cfg    config.VaultConfig
}

// NewClient creates a Vault client.
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{cfg: cfg}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &Client{client: client, cfg: cfg}, nil
}

// Enabled reports whether Vault lookups are active.
func (c *Client) Enabled() bool {
	return c.cfg.Enabled
}

// ExchangeCredentials reads the exchange API key pair from the configured
// KV v2 secret path.
func (c *Client) ExchangeCredentials(ctx context.Context) (*Credentials, error) {
	if !c.cfg.Enabled {
		return nil, fmt.Errorf("vault is not enabled")
	}

	mount := c.cfg.MountPath
	if mount == "" {
		mount = "secret"
	}
	secret, err := c.client.KVv2(mount).Get(ctx, c.cfg.SecretPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read exchange credentials from vault: %w", err)
	}

	creds := &Credentials{
		APIKey:    stringField(secret.Data, "api_key"),
		SecretKey: stringField(secret.Data, "secret_key"),
	}
	if creds.APIKey == "" || creds.SecretKey == "" {
		return nil, fmt.Errorf("vault secret %s missing api_key or secret_key", c.cfg.SecretPath)
	}
	return creds, nil
}

func stringField(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}
