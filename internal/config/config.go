// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

// Package config loads the daemon configuration.
//
// Configuration sources, in order of precedence:
//  1. Environment variables (OFFLINECACHE_*)
//  2. Configuration file (YAML)
//  3. Default values
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tunabay/go-offlinecache/internal/logger"
	"github.com/tunabay/go-offlinecache/store"
)

// EnvPrefix is the prefix of environment variables overriding file values.
const EnvPrefix = "OFFLINECACHE"

// Config represents the daemon configuration.
type Config struct {
	// Worker describes the worker version to deploy.
	Worker WorkerConfig `mapstructure:"worker" yaml:"worker"`

	// Server contains the listeners and the origin.
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Storage selects the cache storage backend.
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// Logging controls log output.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// WorkerConfig describes one worker version.
type WorkerConfig struct {
	// CacheName is the name of the cache store. Changing it deploys a new
	// version with its own store.
	CacheName string `mapstructure:"cache_name" yaml:"cache_name"`

	// Assets is the ordered list of locators prefetched on install.
	// Relative locators are resolved against Server.Origin.
	Assets []string `mapstructure:"assets" yaml:"assets"`

	// InstallConcurrency limits parallel asset fetches. 0 means unlimited.
	InstallConcurrency int `mapstructure:"install_concurrency" yaml:"install_concurrency"`

	// MaxAssetSize is the body size limit of one asset in bytes. 0 means
	// unlimited.
	MaxAssetSize uint64 `mapstructure:"max_asset_size" yaml:"max_asset_size"`

	// RetryInitial is the delay before the first install retry.
	RetryInitial time.Duration `mapstructure:"retry_initial" yaml:"retry_initial"`

	// RetryMax caps the delay between install retries.
	RetryMax time.Duration `mapstructure:"retry_max" yaml:"retry_max"`
}

// ServerConfig contains the HTTP listeners.
type ServerConfig struct {
	// Listen is the address of the proxy listener.
	Listen string `mapstructure:"listen" yaml:"listen"`

	// AdminListen is the address of the admin API listener. Empty disables
	// the admin API.
	AdminListen string `mapstructure:"admin_listen" yaml:"admin_listen"`

	// Origin is the base URL of the controlled site. Requests in origin
	// form are resolved against it.
	Origin string `mapstructure:"origin" yaml:"origin"`

	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// StorageConfig selects the storage backend.
type StorageConfig struct {
	// Type is one of memory, disk, sqlite, badger.
	Type string `mapstructure:"type" yaml:"type"`

	// Path is the directory (disk, badger) or database file (sqlite).
	Path string `mapstructure:"path" yaml:"path"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`   // DEBUG, INFO, WARN, ERROR
	Format string `mapstructure:"format" yaml:"format"` // text, json
	Output string `mapstructure:"output" yaml:"output"` // stdout, stderr, or file path
}

// LoggerConfig returns the logging section in the form the logger takes.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{Level: c.Logging.Level, Format: c.Logging.Format, Output: c.Logging.Output}
}

// Load reads the configuration file at path, applies environment overrides
// and defaults, and validates the result. An empty path uses the default
// location. A missing file is not an error; defaults are used.
func Load(path string) (*Config, error) {
	v := newViper(path)
	if err := readConfigFile(v); err != nil {
		return nil, err
	}
	return decode(v)
}

// Watch loads the configuration like Load and calls onChange with the newly
// loaded configuration each time the file is written. An invalid file is
// reported through the error argument and the previous configuration stays in
// effect for the caller.
func Watch(path string, onChange func(*Config, error)) (*Config, error) {
	v := newViper(path)
	if err := readConfigFile(v); err != nil {
		return nil, err
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		onChange(decode(v))
	})
	v.WatchConfig()

	return cfg, nil
}

// SaveConfig writes the configuration to path in YAML format.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks the configuration.
func Validate(cfg *Config) error {
	var errs []error
	w := cfg.Worker
	if w.CacheName == "" {
		errs = append(errs, errors.New("worker.cache_name: must not be empty"))
	}
	if w.InstallConcurrency < 0 {
		errs = append(errs, errors.New("worker.install_concurrency: must not be negative"))
	}
	if w.RetryInitial <= 0 {
		errs = append(errs, errors.New("worker.retry_initial: must be positive"))
	}
	if w.RetryMax < w.RetryInitial {
		errs = append(errs, errors.New("worker.retry_max: must not be less than retry_initial"))
	}

	if cfg.Server.Listen == "" {
		errs = append(errs, errors.New("server.listen: must not be empty"))
	}
	if cfg.Server.Origin != "" {
		u, err := url.Parse(cfg.Server.Origin)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("server.origin: %w", err))
		case u.Scheme != "http" && u.Scheme != "https", u.Host == "":
			errs = append(errs, fmt.Errorf("server.origin: %q is not an absolute http(s) URL", cfg.Server.Origin))
		}
	}

	if !slices.Contains(store.Kinds(), cfg.Storage.Type) {
		errs = append(errs, fmt.Errorf("storage.type: must be one of %s", strings.Join(store.Kinds(), ", ")))
	} else if cfg.Storage.Type != store.Memory && cfg.Storage.Path == "" {
		errs = append(errs, fmt.Errorf("storage.path: required for %s storage", cfg.Storage.Type))
	}

	if _, err := logger.ParseLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format: %q must be text or json", cfg.Logging.Format))
	}

	return errors.Join(errs...)
}

// newViper configures viper with defaults, environment variables and the
// config file location.
func newViper(path string) *viper.Viper {
	v := viper.New()
	setDefaults(v)

	// OFFLINECACHE_WORKER_CACHE_NAME=treinfo-v2
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(ConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	return v
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if errors.As(err, &nf) || errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Logging.Level = strings.ToUpper(cfg.Logging.Level)
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// ConfigDir returns the configuration directory: $XDG_CONFIG_HOME/offlinecache
// or ~/.config/offlinecache, falling back to the current directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "offlinecache")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "offlinecache")
}

// DefaultPath returns the default configuration file path.
func DefaultPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
