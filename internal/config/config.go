// Package config provides centralized configuration management, adapted
// from the teacher's internal/config.Load: a single immutable Config
// struct populated once at process start from environment variables, never
// re-read, with required fields validated eagerly so a misconfigured
// deployment fails at startup rather than on first request.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all configuration for the process.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	AWS      AWSConfig
	Vectors  VectorConfig
	Agent    AgentConfig
	Tracing  TracingConfig
}

// ServerConfig holds the HTTP listener configuration.
type ServerConfig struct {
	Port string
}

// DatabaseConfig holds the relational transcript store's connection
// string.
type DatabaseConfig struct {
	DSN string
}

// RedisConfig holds the operator/model/tool registry cache's connection
// string.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// AWSConfig holds the S3-compatible object store configuration.
type AWSConfig struct {
	S3Bucket    string
	S3URLPrefix string
}

// VectorConfig holds the knowledge-base similarity-search endpoint.
type VectorConfig struct {
	BaseURL string
}

// AgentConfig holds the agent graph engine's configurable caps, mirroring
// original_source/server/services/peng_agent.py's config.input_max_length
// and config.output_max_length.
type AgentConfig struct {
	InputMaxLength  int
	OutputMaxLength int
}

// TracingConfig toggles OpenTelemetry span emission for the provider
// adapter and agent graph engine.
type TracingConfig struct {
	Enabled bool
}

// Load reads configuration from environment variables and validates
// required fields. Returns an error describing the first missing field.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnvOrDefault("PORT", "8080"),
		},
		Database: DatabaseConfig{
			DSN: os.Getenv("DATABASE_DSN"),
		},
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getEnvIntOrDefault("REDIS_DB", 0),
		},
		AWS: AWSConfig{
			S3Bucket:    os.Getenv("S3_BUCKET"),
			S3URLPrefix: os.Getenv("S3_URL_PREFIX"),
		},
		Vectors: VectorConfig{
			BaseURL: os.Getenv("VECTOR_STORE_URL"),
		},
		Agent: AgentConfig{
			InputMaxLength:  getEnvIntOrDefault("AGENT_INPUT_MAX_LENGTH", 10240),
			OutputMaxLength: getEnvIntOrDefault("AGENT_OUTPUT_MAX_LENGTH", 10240),
		},
		Tracing: TracingConfig{
			Enabled: getEnvBoolOrDefault("OTEL_TRACING_ENABLED", false),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that every field required for the server to run at all
// is present. The vector store wiring is optional — its absence only
// disables §4.4 step 5, not the server.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("DATABASE_DSN environment variable is required")
	}
	if c.AWS.S3Bucket == "" {
		return fmt.Errorf("S3_BUCKET environment variable is required")
	}
	if c.AWS.S3URLPrefix == "" {
		return fmt.Errorf("S3_URL_PREFIX environment variable is required")
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
