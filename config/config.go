package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Lot        LotConfig        `yaml:"lot"`
	Pool       PoolConfig       `yaml:"pool"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Database   DatabaseConfig   `yaml:"database"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// LotConfig holds the allocation policy parameters. The engine reads
// every policy constant from here; nothing is hardcoded downstream.
type LotConfig struct {
	TotalSpots           int     `yaml:"total_spots"`
	ThresholdFraction    float64 `yaml:"reservation_threshold_fraction"`
	GraceMinutes         int     `yaml:"grace_minutes"`
	SlotMinutes          int     `yaml:"slot_minutes"`
	DefaultDurationHours int     `yaml:"default_duration_hours"`
	MinLeadHours         int     `yaml:"min_lead_hours"`
	MaxLeadDays          int     `yaml:"max_lead_days"`
	ExtensionMinHours    int     `yaml:"extension_min_hours"`
	ExtensionMaxHours    int     `yaml:"extension_max_hours"`
}

// PoolConfig holds the persistence handle pool configuration.
type PoolConfig struct {
	Size                  int           `yaml:"size"`
	AcquireTimeoutSeconds int           `yaml:"acquire_timeout_seconds"`
	AcquireTimeout        time.Duration `yaml:"-"` // Ignored by YAML parser
}

// MonitorConfig holds the background consistency monitor configuration.
type MonitorConfig struct {
	Enabled                 bool          `yaml:"enabled"`
	IntervalSeconds         int           `yaml:"interval_seconds"`
	Interval                time.Duration `yaml:"-"` // Ignored by YAML parser
	StatementTimeoutSeconds int           `yaml:"statement_timeout_seconds"`
	StatementTimeout        time.Duration `yaml:"-"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	EnableRangeGuard       bool   `yaml:"enable_range_guard"`
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

	if cfg.Lot.TotalSpots <= 0 {
		cfg.Lot.TotalSpots = 10
	}
	if cfg.Lot.ThresholdFraction <= 0 {
		cfg.Lot.ThresholdFraction = 0.4
	}
	if cfg.Lot.GraceMinutes <= 0 {
		cfg.Lot.GraceMinutes = 15
	}
	if cfg.Lot.SlotMinutes <= 0 {
		cfg.Lot.SlotMinutes = 15
	}
	if cfg.Lot.DefaultDurationHours <= 0 {
		cfg.Lot.DefaultDurationHours = 4
	}
	if cfg.Lot.MinLeadHours <= 0 {
		cfg.Lot.MinLeadHours = 24
	}
	if cfg.Lot.MaxLeadDays <= 0 {
		cfg.Lot.MaxLeadDays = 7
	}
	if cfg.Lot.ExtensionMinHours <= 0 {
		cfg.Lot.ExtensionMinHours = 1
	}
	if cfg.Lot.ExtensionMaxHours <= 0 {
		cfg.Lot.ExtensionMaxHours = 4
	}

	if cfg.Pool.Size <= 0 {
		cfg.Pool.Size = 5
	}
	if cfg.Pool.AcquireTimeoutSeconds <= 0 {
		cfg.Pool.AcquireTimeoutSeconds = 5
	}
	cfg.Pool.AcquireTimeout = time.Duration(cfg.Pool.AcquireTimeoutSeconds) * time.Second

	if cfg.Monitor.IntervalSeconds <= 0 {
		cfg.Monitor.IntervalSeconds = 60
	}
	cfg.Monitor.Interval = time.Duration(cfg.Monitor.IntervalSeconds) * time.Second

	if cfg.Monitor.StatementTimeoutSeconds <= 0 {
		cfg.Monitor.StatementTimeoutSeconds = 30
	}
	cfg.Monitor.StatementTimeout = time.Duration(cfg.Monitor.StatementTimeoutSeconds) * time.Second

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}

	return &cfg, nil
}
