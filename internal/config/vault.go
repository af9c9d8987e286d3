package config

import (
	"fmt"
	"os"

	"github.com/hashicorp/vault/api"
)

// SecretManager wraps the Vault API client for reading secrets.
type SecretManager struct {
	client *api.Client
}

// NewSecretManager creates a Vault client pointed at the given address
// and authenticated with the provided token.
func NewSecretManager(address, token string) (*SecretManager, error) {
	cfg := api.DefaultConfig()
	cfg.Address = address

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault client initialization failed: %w", err)
	}
	client.SetToken(token)

	return &SecretManager{client: client}, nil
}

// GetKV2 reads from a KV v2 backend and returns the inner "data" map,
// unwrapping the v2 envelope automatically.
func (s *SecretManager) GetKV2(path string) (map[string]interface{}, error) {
	secret, err := s.client.Logical().Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret at %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no data found at %s", path)
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected data format at %s", path)
	}
	return data, nil
}

// loadVaultSecrets overwrites the connection secrets with the values stored
// under VAULT_SECRET_PATH. Keys absent from the secret keep their env values.
func (s *Settings) loadVaultSecrets(addr string) error {
	token := os.Getenv("VAULT_TOKEN")
	path := os.Getenv("VAULT_SECRET_PATH")
	if path == "" {
		path = "secret/data/atss/backend"
	}

	mgr, err := NewSecretManager(addr, token)
	if err != nil {
		return err
	}
	secrets, err := mgr.GetKV2(path)
	if err != nil {
		return fmt.Errorf("failed to load secrets from vault: %w", err)
	}

	for key, dst := range map[string]*string{
		"DATABASE_URL": &s.DatabaseURL,
		"REDIS_URL":    &s.RedisURL,
		"NATS_URL":     &s.NATSURL,
		"AUTH_SECRET":  &s.AuthSecret,
	} {
		if v, ok := secrets[key].(string); ok && v != "" {
			*dst = v
		}
	}
	return nil
}
