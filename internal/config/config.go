package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/iudanet/gophsync/internal/models"
)

// Storage drivers.
const (
	DriverBolt   = "bolt"
	DriverSQLite = "sqlite"
)

// Config is the daemon configuration.
type Config struct {
	// Device is the id of this device, generated by "init"
	Device models.DeviceID `yaml:"device"`

	// Root is the sync root; every subdirectory is a store
	Root string `yaml:"root"`

	Storage  StorageConfig  `yaml:"storage"`
	Peer     PeerConfig     `yaml:"peer"`
	Engine   EngineConfig   `yaml:"engine"`
	Hash     HashConfig     `yaml:"hash"`
	Tokens   TokensConfig   `yaml:"tokens"`
	Log      LogConfig      `yaml:"log"`
	Versions VersionsConfig `yaml:"versions"`
}

// StorageConfig selects the storage backend.
type StorageConfig struct {
	// Driver is "bolt" or "sqlite"
	Driver string `yaml:"driver"`

	// Path is the database file; relative paths are resolved against Root
	Path string `yaml:"path"`
}

// PeerConfig configures the peer endpoint and broadcasting.
type PeerConfig struct {
	Listen           string        `yaml:"listen"`
	Peers            []string      `yaml:"peers"`
	BroadcastTimeout time.Duration `yaml:"broadcast_timeout"`
	RateLimit        int           `yaml:"rate_limit"`
	RateWindow       time.Duration `yaml:"rate_window"`
}

// EngineConfig holds engine timings.
type EngineConfig struct {
	PublishDelay time.Duration `yaml:"publish_delay"`
	ScanInterval time.Duration `yaml:"scan_interval"`
	HashDelay    time.Duration `yaml:"hash_delay"`
}

// HashConfig configures content digests.
type HashConfig struct {
	Algorithm string `yaml:"algorithm"`
	BlockSize int    `yaml:"block_size"`
}

// TokensConfig holds the admission budgets per category.
type TokensConfig struct {
	Hash         int64 `yaml:"hash"`
	Housekeeping int64 `yaml:"housekeeping"`
	Network      int64 `yaml:"network"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// VersionsConfig configures version control.
type VersionsConfig struct {
	AliasCacheSize int `yaml:"alias_cache_size"`
}

// Default returns a configuration with defaults for root.
func Default(root string) *Config {
	return &Config{
		Root: root,
		Storage: StorageConfig{
			Driver: DefaultDriver,
			Path:   DefaultDBFile,
		},
		Peer: PeerConfig{
			Listen:           DefaultListenAddress,
			BroadcastTimeout: DefaultBroadcastTimeout,
			RateLimit:        DefaultRateLimit,
			RateWindow:       DefaultRateWindow,
		},
		Engine: EngineConfig{
			PublishDelay: DefaultPublishDelay,
			ScanInterval: DefaultScanInterval,
			HashDelay:    DefaultHashDelay,
		},
		Hash: HashConfig{
			Algorithm: DefaultHashAlgorithm,
			BlockSize: DefaultHashBlockSize,
		},
		Tokens: TokensConfig{
			Hash:         DefaultHashTokens,
			Housekeeping: DefaultHousekeepingTokens,
			Network:      DefaultNetworkTokens,
		},
		Log: LogConfig{
			Level: "info",
		},
		Versions: VersionsConfig{
			AliasCacheSize: DefaultAliasCacheSize,
		},
	}
}

// Load reads the YAML file at path on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default("")
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to path as YAML.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	var errs []error

	if c.Device == "" {
		errs = append(errs, errors.New("device id is not set, run init first"))
	}
	if c.Root == "" {
		errs = append(errs, errors.New("sync root is not set"))
	}
	switch c.Storage.Driver {
	case DriverBolt, DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}
	if c.Storage.Path == "" {
		errs = append(errs, errors.New("storage path is not set"))
	}
	if c.Hash.BlockSize <= 0 {
		errs = append(errs, fmt.Errorf("hash block size must be positive, got %d", c.Hash.BlockSize))
	}
	if c.Engine.PublishDelay <= 0 || c.Engine.ScanInterval <= 0 {
		errs = append(errs, errors.New("engine intervals must be positive"))
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// DBPath returns the database path resolved against Root.
func (c *Config) DBPath() string {
	if filepath.IsAbs(c.Storage.Path) || c.Storage.Path == ":memory:" {
		return c.Storage.Path
	}
	return filepath.Join(c.Root, c.Storage.Path)
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.Log.Level))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", c.Log.Level)
	}
	return level, nil
}

// NewLogger builds the logger described by Log.
func (c *Config) NewLogger() (*slog.Logger, error) {
	level, err := c.LogLevel()
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	if c.Log.JSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
}
