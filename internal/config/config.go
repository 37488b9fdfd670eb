// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for all databases (always absolute)
	Port     int
	LogLevel string
	DevMode  bool

	// Remote backend
	RemoteBaseURL  string        // Base URL of the portfolio backend API
	RemoteTimeout  time.Duration // Per-call timeout for remote adapter requests
	QuoteStreamURL string        // WebSocket URL for live quote updates (empty disables the stream)

	// Connectivity probing
	ProbeURL      string        // Endpoint probed to determine reachability (defaults to RemoteBaseURL/health)
	ProbeInterval time.Duration // How often the network monitor re-checks connectivity
	ProbeTimeout  time.Duration

	// Sync coordinator
	SyncBackoffBase time.Duration // Initial backoff after a failed drain
	SyncBackoffMax  time.Duration // Backoff ceiling
	SyncInterval    time.Duration // Failsafe periodic drain interval

	// Quote cache
	QuoteTTL time.Duration // Freshness window for cached quotes

	// Off-device backup (disabled unless bucket is configured)
	Backup *BackupConfig
}

// BackupConfig holds S3-compatible backup settings
type BackupConfig struct {
	Enabled   bool
	Bucket    string
	Endpoint  string // Custom endpoint for S3-compatible storage (R2, MinIO); empty for AWS
	Region    string
	AccessKey string
	SecretKey string
	Prefix    string // Key prefix for uploaded snapshots
	Keep      int    // Number of snapshot generations to retain
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("FOLIO_DATA_DIR", "")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to determine home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".folio")
	}

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	// Ensure directory exists
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	remoteBase := getEnv("FOLIO_REMOTE_URL", "http://localhost:8080")

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("FOLIO_PORT", 8001),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),

		RemoteBaseURL:  remoteBase,
		RemoteTimeout:  getEnvAsDuration("FOLIO_REMOTE_TIMEOUT", 15*time.Second),
		QuoteStreamURL: getEnv("FOLIO_QUOTE_STREAM_URL", ""),

		ProbeURL:      getEnv("FOLIO_PROBE_URL", remoteBase+"/health"),
		ProbeInterval: getEnvAsDuration("FOLIO_PROBE_INTERVAL", 30*time.Second),
		ProbeTimeout:  getEnvAsDuration("FOLIO_PROBE_TIMEOUT", 5*time.Second),

		SyncBackoffBase: getEnvAsDuration("FOLIO_SYNC_BACKOFF_BASE", 5*time.Second),
		SyncBackoffMax:  getEnvAsDuration("FOLIO_SYNC_BACKOFF_MAX", 5*time.Minute),
		SyncInterval:    getEnvAsDuration("FOLIO_SYNC_INTERVAL", 15*time.Minute),

		QuoteTTL: getEnvAsDuration("FOLIO_QUOTE_TTL", 15*time.Minute),

		Backup: loadBackupConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadBackupConfig reads backup settings; backup stays disabled without a bucket
func loadBackupConfig() *BackupConfig {
	bucket := getEnv("FOLIO_BACKUP_BUCKET", "")
	return &BackupConfig{
		Enabled:   bucket != "",
		Bucket:    bucket,
		Endpoint:  getEnv("FOLIO_BACKUP_ENDPOINT", ""),
		Region:    getEnv("FOLIO_BACKUP_REGION", "auto"),
		AccessKey: getEnv("FOLIO_BACKUP_ACCESS_KEY", ""),
		SecretKey: getEnv("FOLIO_BACKUP_SECRET_KEY", ""),
		Prefix:    getEnv("FOLIO_BACKUP_PREFIX", "folio"),
		Keep:      getEnvAsInt("FOLIO_BACKUP_KEEP", 7),
	}
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.RemoteBaseURL == "" {
		return fmt.Errorf("remote base URL must not be empty")
	}
	if c.Backup.Enabled && (c.Backup.AccessKey == "" || c.Backup.SecretKey == "") {
		return fmt.Errorf("backup enabled but credentials are missing")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
