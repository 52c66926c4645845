package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
)

// Config is the service configuration for the run server and CLI sinks.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Archive  ArchiveConfig  `json:"archive"`
	Output   OutputConfig   `json:"output"`
	// ParamsPath is the model parameter file used when a request carries none.
	ParamsPath string `json:"params_path"`
	// EnvPath is an optional environment CSV; empty means a synthetic field.
	EnvPath string `json:"env_path"`
}

type ServerConfig struct {
	Port            int    `json:"port"`
	LogLevel        string `json:"log_level"`
	MaxConcurrent   int    `json:"max_concurrent"`
	CacheTTLMinutes int    `json:"cache_ttl_minutes"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Neo4j    Neo4jConfig    `json:"neo4j"`
	Redis    RedisConfig    `json:"redis"`
}

type PostgresConfig struct {
	DSN           string `json:"dsn"`
	MigrationsDir string `json:"migrations_dir"`
}

type Neo4jConfig struct {
	URI      string `json:"uri"`
	User     string `json:"user"`
	Password string `json:"password"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type ArchiveConfig struct {
	Path string `json:"path"`
}

type OutputConfig struct {
	Dir string `json:"dir"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal([]byte(expandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.MaxConcurrent <= 0 {
		c.Server.MaxConcurrent = 2
	}
	if c.Server.CacheTTLMinutes <= 0 {
		c.Server.CacheTTLMinutes = 60
	}
	if c.Database.Postgres.MigrationsDir == "" {
		c.Database.Postgres.MigrationsDir = "migrations"
	}
}

// expandEnv substitutes ${VAR} and ${VAR:default} with environment values.
func expandEnv(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})
}
