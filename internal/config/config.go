// Package config loads runtime settings from the environment, with an
// optional Vault KV v2 secret source for the sensitive values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Settings holds every tunable the binary reads at boot.
type Settings struct {
	// Core connections.
	DatabaseURL string
	RedisURL    string
	NATSURL     string

	// AuthSecret must be non-empty at boot; token verification depends on it.
	AuthSecret string

	// DemoNoRedis forces the in-memory event bus and disables the durable
	// consumer groups. DemoMode additionally bypasses the database entirely.
	DemoNoRedis bool
	DemoMode    bool
	// DemoFallback allows binding the in-memory bus when the durable log is
	// unreachable at startup instead of failing the boot.
	DemoFallback bool

	AutoMigrate bool

	CORSOrigins []string

	HTTPAddr     string
	OTELEndpoint string
}

// Load reads settings from the environment. If VAULT_ADDR is set, the
// connection secrets are read from Vault instead (env values act as
// fallbacks for keys missing from the secret).
func Load() (*Settings, error) {
	s := &Settings{
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisURL:     os.Getenv("REDIS_URL"),
		NATSURL:      os.Getenv("NATS_URL"),
		AuthSecret:   os.Getenv("AUTH_SECRET"),
		DemoNoRedis:  envBool("DEMO_NO_REDIS"),
		DemoMode:     envBool("DEMO_MODE"),
		DemoFallback: envBool("DEMO_FALLBACK"),
		AutoMigrate:  envBool("AUTO_MIGRATE"),
		HTTPAddr:     os.Getenv("HTTP_ADDR"),
		OTELEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
	if s.HTTPAddr == "" {
		s.HTTPAddr = ":8080"
	}

	s.CORSOrigins = splitList(os.Getenv("CORS_ORIGINS"))
	if len(s.CORSOrigins) == 0 {
		s.CORSOrigins = []string{"http://localhost:5173", "http://localhost:3000"}
	}

	if addr := os.Getenv("VAULT_ADDR"); addr != "" {
		if err := s.loadVaultSecrets(addr); err != nil {
			return nil, err
		}
	}

	if s.AuthSecret == "" {
		return nil, fmt.Errorf("AUTH_SECRET is required and must be non-empty")
	}
	if !s.DemoMode && s.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required unless DEMO_MODE is set")
	}
	if !s.DemoNoRedis && s.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required unless DEMO_NO_REDIS is set")
	}
	return s, nil
}

func envBool(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
