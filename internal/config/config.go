// Package config loads server settings from an optional YAML file with
// environment variable overrides for deploy-time knobs.
package config

import (
	"fmt"
	"os"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

type Config struct {
	Addr     string   `yaml:"addr"`
	Database Database `yaml:"database"`
	Auth     Auth     `yaml:"auth"`
	Relay    Relay    `yaml:"relay"`
	Logging  Logging  `yaml:"logging"`
}

type Database struct {
	Path string `yaml:"path"`
}

type Auth struct {
	JWTSecret string `yaml:"jwt_secret"`
	// TokenTTL is a Go duration string (e.g. "12h").
	TokenTTL string `yaml:"token_ttl"`
}

type Relay struct {
	MaxMessageBytes   int64   `yaml:"max_message_bytes"`
	MessagesPerSecond float64 `yaml:"messages_per_second"`
	MessageBurst      int     `yaml:"message_burst"`
	SendQueueSize     int     `yaml:"send_queue_size"`
}

type Logging struct {
	Level string `yaml:"level"`
}

func defaults() Config {
	return Config{
		Addr: ":8080",
		Database: Database{
			Path: "./data/drawbridge.db",
		},
		Auth: Auth{
			TokenTTL: "12h",
		},
		Logging: Logging{
			Level: "info",
		},
	}
}

// Load reads the config file at path (missing file is fine, defaults
// apply) and then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// defaults only
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.Addr = ":" + port
	}
	if dbPath := os.Getenv("DRAWBRIDGE_DB_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if secret := os.Getenv("DRAWBRIDGE_JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}

	if cfg.Auth.JWTSecret == "" {
		return Config{}, fmt.Errorf("auth.jwt_secret (or DRAWBRIDGE_JWT_SECRET) is required")
	}
	if _, err := cfg.TokenTTL(); err != nil {
		return Config{}, fmt.Errorf("auth.token_ttl: %w", err)
	}

	return cfg, nil
}

// TokenTTL parses the configured token lifetime.
func (c Config) TokenTTL() (time.Duration, error) {
	if c.Auth.TokenTTL == "" {
		return 12 * time.Hour, nil
	}
	return time.ParseDuration(c.Auth.TokenTTL)
}
