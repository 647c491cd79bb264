package config

import (
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Storage    StorageConfig    `yaml:"storage"`
	Auth       AuthConfig       `yaml:"auth"`
	Push       PushConfig       `yaml:"push"`
	Liveness   LivenessConfig   `yaml:"liveness"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// StorageConfig holds the S3-compatible object storage configuration
// for model artifacts.
type StorageConfig struct {
	Endpoint         string        `yaml:"endpoint"`
	AccessKey        string        `yaml:"access_key"`
	SecretKey        string        `yaml:"secret_key"`
	Bucket           string        `yaml:"bucket"`
	UseSSL           bool          `yaml:"use_ssl"`
	URLExpirySeconds int           `yaml:"url_expiry_seconds"`
	URLExpiry        time.Duration `yaml:"-"` // Ignored by YAML parser
}

// AuthConfig holds the shared API key gating mutating endpoints.
type AuthConfig struct {
	APIKey string `yaml:"api_key"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// LivenessConfig controls the background sweep that marks devices
// offline once their heartbeats go stale.
type LivenessConfig struct {
	Enabled             bool          `yaml:"enabled"`
	IntervalSeconds     int           `yaml:"interval_seconds"`
	Interval            time.Duration `yaml:"-"` // Ignored by YAML parser
	OfflineAfterSeconds int           `yaml:"offline_after_seconds"`
	OfflineAfter        time.Duration `yaml:"-"` // Ignored by YAML parser
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if cfg.Storage.URLExpirySeconds <= 0 {
		cfg.Storage.URLExpirySeconds = 3600
	}
	cfg.Storage.URLExpiry = time.Duration(cfg.Storage.URLExpirySeconds) * time.Second

	if cfg.Liveness.IntervalSeconds <= 0 {
		cfg.Liveness.IntervalSeconds = 60
	}
	cfg.Liveness.Interval = time.Duration(cfg.Liveness.IntervalSeconds) * time.Second

	if cfg.Liveness.OfflineAfterSeconds <= 0 {
		cfg.Liveness.OfflineAfterSeconds = 300
	}
	cfg.Liveness.OfflineAfter = time.Duration(cfg.Liveness.OfflineAfterSeconds) * time.Second

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}

	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Warn("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	return &cfg, nil
}
