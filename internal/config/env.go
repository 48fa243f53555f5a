package config

import (
	"os"
	"strconv"
	"time"
)

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv(cfg *Config) {
	if port := os.Getenv("FAILSAFE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	if logLevel := os.Getenv("FAILSAFE_LOG_LEVEL"); logLevel != "" {
		cfg.Server.LogLevel = logLevel
	}

	if interval := os.Getenv("FAILSAFE_HEALTH_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			cfg.Health.Interval = Duration(d)
		}
	}

	if threshold := os.Getenv("FAILSAFE_FAILURE_THRESHOLD"); threshold != "" {
		if n, err := strconv.Atoi(threshold); err == nil {
			cfg.Failover.FailureThreshold = n
		}
	}

	if dsn := os.Getenv("FAILSAFE_CATALOG_DSN"); dsn != "" {
		cfg.Catalog.DSN = dsn
	}

	// Storage settings
	if typ := os.Getenv("FAILSAFE_STORAGE_TYPE"); typ != "" {
		cfg.Storage.Type = typ
	}
	if base := os.Getenv("FAILSAFE_STORAGE_PATH"); base != "" {
		cfg.Storage.BasePath = base
	}
	if endpoint := os.Getenv("FAILSAFE_S3_ENDPOINT"); endpoint != "" {
		cfg.Storage.Endpoint = endpoint
	}
	if bucket := os.Getenv("FAILSAFE_S3_BUCKET"); bucket != "" {
		cfg.Storage.Bucket = bucket
	}
}

// GetEnvOrDefault returns environment variable or default value
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
