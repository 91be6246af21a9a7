// Package config loads the application configuration from an optional yaml
// file with environment-variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// envPrefix namespaces the override variables, e.g. SITEMEDIA_SERVER_PORT.
const envPrefix = "SITEMEDIA_"

type AppConfig struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Storage  StorageConfig  `koanf:"storage"`
	Auth     AuthConfig     `koanf:"auth"`
	Session  SessionConfig  `koanf:"session"`
	Upload   UploadConfig   `koanf:"upload"`
	Dev      bool           `koanf:"dev"`
}

type ServerConfig struct {
	Host        string   `koanf:"host"`
	Port        int      `koanf:"port"`
	MetricsPort int      `koanf:"metrics_port"`
	CORSOrigins []string `koanf:"cors_origins"`
}

type DatabaseConfig struct {
	URL string `koanf:"url"`
}

type StorageConfig struct {
	Endpoint  string `koanf:"endpoint"`
	Region    string `koanf:"region"`
	Bucket    string `koanf:"bucket"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
	PublicURL string `koanf:"public_url"` // CDN/public base for stored objects
}

type AuthConfig struct {
	JWTSecret string        `koanf:"jwt_secret"`
	TokenTTL  time.Duration `koanf:"token_ttl"`
}

type SessionConfig struct {
	Timeout       time.Duration `koanf:"timeout"`
	HiddenTimeout time.Duration `koanf:"hidden_timeout"`
	StateDir      string        `koanf:"state_dir"`
}

type UploadConfig struct {
	CredentialTTL time.Duration `koanf:"credential_ttl"`
}

// Load reads .env (if present), then the yaml file (if path is non-empty),
// then environment overrides, and applies defaults.
func Load(path string) (*AppConfig, error) {
	// Missing .env is fine; it only exists in dev checkouts.
	_ = godotenv.Load()

	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	// SITEMEDIA_SERVER_METRICS_PORT -> server.metrics_port: only the first
	// underscore separates the section from the key.
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "_", ".", 1)
	}), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &AppConfig{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.MetricsPort == 0 {
		c.Server.MetricsPort = 9090
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}
	if c.Session.Timeout == 0 {
		c.Session.Timeout = 30 * time.Minute
	}
	if c.Session.HiddenTimeout == 0 {
		c.Session.HiddenTimeout = c.Session.Timeout
	}
	if c.Upload.CredentialTTL == 0 {
		c.Upload.CredentialTTL = 5 * time.Minute
	}
}

// ListenAddr returns the host:port pair for the API server.
func (c *AppConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
