package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/runsascoded/awair/internal/store"
)

// Config is the top-level configuration for awair.
type Config struct {
	ListenAddr string        `mapstructure:"listen_addr"`
	LogFormat  string        `mapstructure:"log_format"`
	Device     DeviceConfig  `mapstructure:"device"`
	Storage    StorageConfig `mapstructure:"storage"`
	Fetch      FetchConfig   `mapstructure:"fetch"`
	Update     UpdateConfig  `mapstructure:"update"`
}

// DeviceConfig identifies the device and API credentials.
type DeviceConfig struct {
	Token string `mapstructure:"token"`
	Type  string `mapstructure:"type"`
	ID    int    `mapstructure:"id"`
}

// StorageConfig defines the storage backend.
type StorageConfig struct {
	Driver   string         `mapstructure:"driver"` // "parquet", "sqlite", or "postgres"
	Parquet  ParquetConfig  `mapstructure:"parquet"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// ParquetConfig holds parquet-specific configuration. Path may be a
// local file or an s3:// URI; with Monthly set it is treated as a base
// for one file per calendar month.
type ParquetConfig struct {
	Path    string `mapstructure:"path"`
	Monthly bool   `mapstructure:"monthly"`
}

// SQLiteConfig holds SQLite-specific configuration.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// PostgresConfig holds PostgreSQL-specific configuration.
type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

// FetchConfig defines fetch behavior.
type FetchConfig struct {
	Limit          int           `mapstructure:"limit"`
	Sleep          time.Duration `mapstructure:"sleep"`
	ConflictAction string        `mapstructure:"conflict_action"`
}

// UpdateConfig defines the periodic update loop.
type UpdateConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	LookbackDays int           `mapstructure:"lookback_days"`
}

// Load reads configuration from flag path, env vars, then default file paths.
// Precedence: flag → $AWAIR_CONFIG env → ~/.config/awair/config.yaml → /etc/awair/config.yaml
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	// Defaults
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("log_format", "json")
	v.SetDefault("device.type", "awair-element")
	v.SetDefault("storage.driver", "parquet")
	v.SetDefault("storage.parquet.path", "data/awair.parquet")
	v.SetDefault("fetch.limit", 360)
	v.SetDefault("fetch.sleep", "200ms")
	v.SetDefault("fetch.conflict_action", "warn")
	v.SetDefault("update.interval", "10m")
	v.SetDefault("update.lookback_days", 34)

	// Env var support
	v.SetEnvPrefix("AWAIR")
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else if envPath := os.Getenv("AWAIR_CONFIG"); envPath != "" {
		v.SetConfigFile(envPath)
	} else {
		// Try ~/.config/awair/config.yaml first
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "awair"))
		}
		// Fall back to /etc/awair/config.yaml
		v.AddConfigPath("/etc/awair")
		v.SetConfigName("config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	} else {
		// Warn if config file is world-readable; it may carry the token.
		if cfgPath := v.ConfigFileUsed(); cfgPath != "" {
			if info, err := os.Stat(cfgPath); err == nil {
				perm := info.Mode().Perm()
				if perm&0004 != 0 {
					slog.Warn("config file is world-readable", "path", cfgPath, "permissions", fmt.Sprintf("%04o", perm))
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Secret injection for container deployments.
	if tok := os.Getenv("AWAIR_TOKEN"); tok != "" {
		cfg.Device.Token = tok
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate checks that the configuration is complete and correct.
func (c *Config) Validate() error {
	if c.Device.Token == "" {
		return fmt.Errorf("device token is required (set device.token or AWAIR_TOKEN)")
	}
	if c.Device.ID == 0 {
		return fmt.Errorf("device.id is required")
	}
	if c.Device.Type == "" {
		return fmt.Errorf("device.type is required")
	}

	if _, err := store.ParseConflictPolicy(c.Fetch.ConflictAction); err != nil {
		return fmt.Errorf("fetch.conflict_action: %w", err)
	}

	switch c.Storage.Driver {
	case "parquet":
		if c.Storage.Parquet.Path == "" {
			return fmt.Errorf("storage.parquet.path is required for parquet driver")
		}
	case "sqlite":
		if c.Storage.SQLite.Path == "" {
			return fmt.Errorf("storage.sqlite.path is required for sqlite driver")
		}
		dir := filepath.Dir(c.Storage.SQLite.Path)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return fmt.Errorf("creating storage directory %q: %w", dir, err)
			}
		}
	case "postgres":
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for postgres driver")
		}
	default:
		return fmt.Errorf("storage.driver must be 'parquet', 'sqlite', or 'postgres', got %q", c.Storage.Driver)
	}

	if c.Update.Interval <= 0 {
		return fmt.Errorf("update.interval must be positive, got %v", c.Update.Interval)
	}

	// Validate listen_addr.
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("listen_addr %q is not a valid address: %w", c.ListenAddr, err)
	}

	return nil
}

// ConflictPolicy returns the parsed fetch.conflict_action. Validate
// has already checked it.
func (c *Config) ConflictPolicy() store.ConflictPolicy {
	p, _ := store.ParseConflictPolicy(c.Fetch.ConflictAction)
	return p
}
