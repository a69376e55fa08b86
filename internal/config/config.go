// Package config loads biosync settings from defaults, an optional YAML
// file and BIOSYNC_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/chmdznr/biosync/pkg/models"
)

const (
	// ConfigPathEnvVar names the variable holding the config file path
	ConfigPathEnvVar = "BIOSYNC_CONFIG"

	envPrefix = "BIOSYNC_"
)

// DefaultConfigPaths are searched when no path is given
var DefaultConfigPaths = []string{"biosync.yaml", "biosync.yml"}

// Config is the complete application configuration
type Config struct {
	API     APIConfig     `koanf:"api"`
	Remote  RemoteConfig  `koanf:"remote"`
	Folders FoldersConfig `koanf:"folders"`
	Decode  DecodeConfig  `koanf:"decode"`
	Storage StorageConfig `koanf:"storage"`
	Sync    SyncConfig    `koanf:"sync"`
	Server  ServerConfig  `koanf:"server"`
	Logging LoggingConfig `koanf:"logging"`
}

// APIConfig holds the key guarding sync and ingest; plaintext or bcrypt hash
type APIConfig struct {
	Key string `koanf:"key"`
}

// RemoteConfig holds the object store settings
type RemoteConfig struct {
	Endpoint     string `koanf:"endpoint"`
	Bucket       string `koanf:"bucket"`
	AccessKey    string `koanf:"access_key"`
	SecretKey    string `koanf:"secret_key"`
	SessionToken string `koanf:"session_token"`
	Region       string `koanf:"region"`
	Secure       bool   `koanf:"secure"`
	Pattern      string `koanf:"pattern"`
	ListLimit    int    `koanf:"list_limit"`
}

// FoldersConfig maps categories to bucket folders. An empty folder disables
// sync for that category.
type FoldersConfig struct {
	HeartRate string `koanf:"heart_rate"`
	Sleep     string `koanf:"sleep"`
	Steps     string `koanf:"steps"`
	Stress    string `koanf:"stress"`
}

// Map returns the configured folders keyed by category
func (f FoldersConfig) Map() map[models.Category]string {
	m := make(map[models.Category]string)
	for c, folder := range map[models.Category]string{
		models.HeartRateCategory: f.HeartRate,
		models.SleepCategory:     f.Sleep,
		models.StepsCategory:     f.Steps,
		models.StressCategory:    f.Stress,
	} {
		if folder != "" {
			m[c] = folder
		}
	}
	return m
}

// DecodeConfig holds decoder settings
type DecodeConfig struct {
	Timezone string `koanf:"timezone"`
}

// Location resolves the configured timezone
func (d DecodeConfig) Location() (*time.Location, error) {
	if d.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(d.Timezone)
}

// StorageConfig selects and tunes the store backend
type StorageConfig struct {
	Driver   string        `koanf:"driver"`
	Path     string        `koanf:"path"`
	TTL      time.Duration `koanf:"ttl"`
	PageSize int           `koanf:"page_size"`
}

// SyncConfig holds the schedule used by serve
type SyncConfig struct {
	Interval      time.Duration `koanf:"interval"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// ServerConfig holds the metrics/health listener used by serve
type ServerConfig struct {
	Listen string `koanf:"listen"`
}

// LoggingConfig mirrors logging.Config
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

func defaultConfig() *Config {
	return &Config{
		Remote: RemoteConfig{
			Secure:    true,
			Pattern:   "*.csv*",
			ListLimit: 2,
		},
		Decode: DecodeConfig{Timezone: "UTC"},
		Storage: StorageConfig{
			Driver:   "sqlite",
			Path:     "biosync.db",
			TTL:      30 * 24 * time.Hour,
			PageSize: 500,
		},
		Sync: SyncConfig{
			Interval:      15 * time.Minute,
			SweepInterval: time.Hour,
		},
		Server: ServerConfig{Listen: ":9464"},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds the configuration. path overrides the config file search;
// an explicit path that does not exist is an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

var envMappings = map[string]string{
	"biosync_api_key": "api.key",

	"biosync_remote_endpoint":      "remote.endpoint",
	"biosync_remote_bucket":        "remote.bucket",
	"biosync_remote_access_key":    "remote.access_key",
	"biosync_remote_secret_key":    "remote.secret_key",
	"biosync_remote_session_token": "remote.session_token",
	"biosync_remote_region":        "remote.region",
	"biosync_remote_secure":        "remote.secure",
	"biosync_remote_pattern":       "remote.pattern",
	"biosync_remote_list_limit":    "remote.list_limit",

	"biosync_folder_heart_rate": "folders.heart_rate",
	"biosync_folder_sleep":      "folders.sleep",
	"biosync_folder_steps":      "folders.steps",
	"biosync_folder_stress":     "folders.stress",

	"biosync_timezone": "decode.timezone",

	"biosync_storage_driver":    "storage.driver",
	"biosync_storage_path":      "storage.path",
	"biosync_storage_ttl":       "storage.ttl",
	"biosync_storage_page_size": "storage.page_size",

	"biosync_sync_interval":  "sync.interval",
	"biosync_sweep_interval": "sync.sweep_interval",

	"biosync_listen": "server.listen",

	"biosync_log_level":  "logging.level",
	"biosync_log_format": "logging.format",
	"biosync_log_caller": "logging.caller",
}

// envTransformFunc maps BIOSYNC_* variables to config paths. Unknown
// variables map to "" and are ignored.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

// Validate checks values that would otherwise fail late
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path is required for the sqlite driver"))
		}
	case "badger", "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q must be one of sqlite, badger, memory", c.Storage.Driver))
	}
	if c.Storage.TTL <= 0 {
		errs = append(errs, fmt.Errorf("storage.ttl must be positive, got %s", c.Storage.TTL))
	}
	if c.Storage.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("storage.page_size must be positive, got %d", c.Storage.PageSize))
	}
	if c.Remote.ListLimit <= 0 {
		errs = append(errs, fmt.Errorf("remote.list_limit must be positive, got %d", c.Remote.ListLimit))
	}
	if c.Sync.Interval <= 0 {
		errs = append(errs, fmt.Errorf("sync.interval must be positive, got %s", c.Sync.Interval))
	}
	if c.Sync.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("sync.sweep_interval must be positive, got %s", c.Sync.SweepInterval))
	}
	if _, err := c.Decode.Location(); err != nil {
		errs = append(errs, fmt.Errorf("decode.timezone: %w", err))
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q must be json or console", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// RemoteConfigured reports whether enough is set to reach the object store
func (c *Config) RemoteConfigured() bool {
	return c.Remote.Endpoint != "" && c.Remote.Bucket != ""
}
