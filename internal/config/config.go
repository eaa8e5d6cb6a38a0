// Package config loads and validates server configuration via Viper.
package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage providers understood by the server.
const (
	StorageLocal = "local"
	StorageGCS   = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Pool       PoolConfig       `mapstructure:"pool"`
	Connection ConnectionConfig `mapstructure:"connection"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Admin      AdminConfig      `mapstructure:"admin"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// ServerConfig controls the listening socket. AcceptRate caps admissions per
// second (0 disables the limit).
type ServerConfig struct {
	Addr        string  `mapstructure:"addr"`
	AcceptRate  float64 `mapstructure:"accept_rate"`
	AcceptBurst int     `mapstructure:"accept_burst"`
}

// PoolConfig sizes the worker pool.
type PoolConfig struct {
	Workers       int `mapstructure:"workers"`
	QueueCapacity int `mapstructure:"queue_capacity"`
}

// ConnectionConfig governs per-connection reads.
type ConnectionConfig struct {
	MaxLineBytes int `mapstructure:"max_line_bytes"`
	LingerMs     int `mapstructure:"linger_ms"`
}

// StorageConfig selects where route resources are read from.
type StorageConfig struct {
	Provider string             `mapstructure:"provider"`
	Local    LocalStorageConfig `mapstructure:"local"`
	GCS      GCSStorageConfig   `mapstructure:"gcs"`
}

// LocalStorageConfig roots resources in a directory.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// GCSStorageConfig reads resources from a bucket.
type GCSStorageConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// AdminConfig controls the metrics and health endpoint. An empty Addr disables it.
type AdminConfig struct {
	Addr                   string `mapstructure:"addr"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig controls OpenTelemetry spans for served connections.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	ProjectID   string  `mapstructure:"project_id"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("POOLHTTPD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "127.0.0.1:7878")
	v.SetDefault("server.accept_rate", 0.0)
	v.SetDefault("server.accept_burst", 1)
	v.SetDefault("pool.workers", 4)
	v.SetDefault("pool.queue_capacity", 0)
	v.SetDefault("connection.max_line_bytes", 8192)
	v.SetDefault("connection.linger_ms", 100)
	v.SetDefault("storage.provider", StorageLocal)
	v.SetDefault("storage.local.base_dir", ".")
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("storage.gcs.prefix", "")
	v.SetDefault("admin.addr", "127.0.0.1:9090")
	v.SetDefault("admin.shutdown_timeout_seconds", 5)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "poolhttpd")
	v.SetDefault("tracing.project_id", "")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		return fmt.Errorf("server.addr must be host:port: %w", err)
	}
	if c.Server.AcceptRate < 0 {
		return fmt.Errorf("server.accept_rate must be >= 0")
	}
	if c.Server.AcceptRate > 0 && c.Server.AcceptBurst <= 0 {
		return fmt.Errorf("server.accept_burst must be > 0 when accept_rate is set")
	}
	if c.Pool.Workers <= 0 {
		return fmt.Errorf("pool.workers must be > 0")
	}
	if c.Pool.QueueCapacity < 0 {
		return fmt.Errorf("pool.queue_capacity must be >= 0")
	}
	if c.Connection.MaxLineBytes <= 0 {
		return fmt.Errorf("connection.max_line_bytes must be > 0")
	}
	if c.Connection.LingerMs < 0 {
		return fmt.Errorf("connection.linger_ms must be >= 0")
	}
	switch c.Storage.Provider {
	case StorageLocal:
		if strings.TrimSpace(c.Storage.Local.BaseDir) == "" {
			return fmt.Errorf("storage.local.base_dir must be set for the local provider")
		}
	case StorageGCS:
		if c.Storage.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket must be set for the gcs provider")
		}
	default:
		return fmt.Errorf("unknown storage.provider %q", c.Storage.Provider)
	}
	if c.Admin.Addr != "" {
		if _, _, err := net.SplitHostPort(c.Admin.Addr); err != nil {
			return fmt.Errorf("admin.addr must be host:port: %w", err)
		}
	}
	if c.Admin.ShutdownTimeoutSeconds <= 0 {
		return fmt.Errorf("admin.shutdown_timeout_seconds must be > 0")
	}
	if c.Tracing.Enabled {
		if strings.TrimSpace(c.Tracing.ServiceName) == "" {
			return fmt.Errorf("tracing.service_name must be set when tracing is enabled")
		}
		if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
			return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
		}
	}
	return nil
}

// Linger converts the linger setting into a duration.
func (c Config) Linger() time.Duration {
	return time.Duration(c.Connection.LingerMs) * time.Millisecond
}

// AdminShutdownTimeout converts the admin shutdown budget into a duration.
func (c Config) AdminShutdownTimeout() time.Duration {
	return time.Duration(c.Admin.ShutdownTimeoutSeconds) * time.Second
}
