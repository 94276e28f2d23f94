package config

import (
	"encoding/json"
	"fmt"
	"os"
)

type Config struct {
	Server   ServerConfig   `json:"server"`
	Redis    RedisConfig    `json:"redis"`
	Postgres PostgresConfig `json:"postgres"`
	Auth     AuthConfig     `json:"auth"`
	Gate     GateConfig     `json:"gate"`
	Analyzer AnalyzerConfig `json:"analyzer"`
}

type ServerConfig struct {
	Port        string `json:"port"`
	Environment string `json:"environment"` // "development" or "production"
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Password string `json:"-"`
	DB       int    `json:"db"`
}

func (r RedisConfig) GetRedisAddr() string {
	return r.Host + ":" + r.Port
}

type PostgresConfig struct {
	DSN string `json:"-"`
}

type AuthConfig struct {
	JWTSecret string `json:"-"`
}

type GateConfig struct {
	// Per-tier overrides of the built-in limits. Names must be known tiers.
	Tiers []TierOverride `json:"tiers"`

	// How long an abuse-flagged IP stays in the in-process flag set.
	AbuseFlagTTLSeconds int `json:"abuse_flag_ttl_seconds"`

	// Capacity of the in-process flag set.
	AbuseFlagCapacity int `json:"abuse_flag_capacity"`
}

type TierOverride struct {
	Name          string `json:"name"`
	RequestLimit  int    `json:"request_limit"`
	WindowSeconds int    `json:"window_seconds"`
	StartingScans int    `json:"starting_scans"`
}

type AnalyzerConfig struct {
	URL            string `json:"url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

func Load(path string) (*Config, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	// Secrets come from the environment, never the config file
	config.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	config.Postgres.DSN = os.Getenv("POSTGRES_DSN")
	config.Redis.Password = os.Getenv("REDIS_PASSWORD")

	if config.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}

	if config.Server.Port == "" {
		config.Server.Port = "8080"
	}
	if config.Gate.AbuseFlagTTLSeconds <= 0 {
		config.Gate.AbuseFlagTTLSeconds = 900
	}
	if config.Gate.AbuseFlagCapacity <= 0 {
		config.Gate.AbuseFlagCapacity = 4096
	}
	if config.Analyzer.TimeoutSeconds <= 0 {
		config.Analyzer.TimeoutSeconds = 30
	}

	return &config, nil
}
