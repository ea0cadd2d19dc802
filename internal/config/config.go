package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/tally/internal/counter"
	"github.com/loykin/tally/internal/env"
	"github.com/loykin/tally/internal/logger"
	"github.com/loykin/tally/internal/monitor"
	"github.com/loykin/tally/internal/store"
)

// EnvPrefix prefixes environment overrides, e.g. TALLY_MONITOR_INTERVAL=10s.
const EnvPrefix = "TALLY"

// DefaultDBName is the SQLite file used when no store DSN is configured.
const DefaultDBName = "tally_counter.db"

// Config represents the top-level TOML structure.
type Config struct {
	EnvFiles []string      `mapstructure:"env_files"`
	Monitor  MonitorConfig `mapstructure:"monitor"`
	Store    StoreConfig   `mapstructure:"store"`
	Log      logger.Config `mapstructure:"log"`
	Server   ServerConfig  `mapstructure:"server"`
	Metrics  MetricsConfig `mapstructure:"metrics"`
	History  HistoryConfig `mapstructure:"history"`

	// File is the configuration file that was read, "" when none.
	File string `mapstructure:"-"`
}

type MonitorConfig struct {
	ExecutablePath string        `mapstructure:"executable_path"`
	Interval       time.Duration `mapstructure:"interval"`
	StopTimeout    time.Duration `mapstructure:"stop_timeout"`
	FoldCase       bool          `mapstructure:"fold_case"`
}

type StoreConfig struct {
	DSN string `mapstructure:"dsn"`
}

type ServerConfig struct {
	Listen   string `mapstructure:"listen"`
	BasePath string `mapstructure:"base_path"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

type HistoryConfig struct {
	Sinks []string `mapstructure:"sinks"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env_files", []string{})
	v.SetDefault("monitor.executable_path", "")
	v.SetDefault("monitor.interval", monitor.DefaultInterval)
	v.SetDefault("monitor.stop_timeout", monitor.DefaultStopTimeout)
	v.SetDefault("monitor.fold_case", counter.DefaultMatcher().FoldCase)
	v.SetDefault("store.dsn", "")
	v.SetDefault("log.slog.level", logger.LevelInfo)
	v.SetDefault("log.slog.format", logger.FormatText)
	v.SetDefault("log.slog.color", false)
	v.SetDefault("log.slog.timestamps", true)
	v.SetDefault("log.slog.source", false)
	v.SetDefault("log.file.path", "")
	v.SetDefault("log.file.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.file.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.file.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.file.compress", false)
	v.SetDefault("server.listen", "")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "")
	v.SetDefault("history.sinks", []string{})
}

// Load reads the TOML file at path (optional when empty), then applies
// env_files and TALLY_* environment overrides, in increasing precedence.
// ${VAR} references in paths and DSNs are expanded from the environment,
// falling back to variables defined in env_files.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	file := strings.TrimSpace(path)
	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	vars := env.FromOS()
	for _, ef := range v.GetStringSlice("env_files") {
		if !filepath.IsAbs(ef) && file != "" {
			ef = filepath.Join(filepath.Dir(file), ef)
		}
		pairs, err := env.ReadFile(ef)
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", ef, err)
		}
		applyEnvPairs(v, pairs)
		vars.Fill(pairs)
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.File = file
	c.expand(vars)
	if c.Store.DSN == "" {
		c.Store.DSN = filepath.Join(c.dataDir(), DefaultDBName)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor.interval must be positive, got %s", c.Monitor.Interval)
	}
	if c.Monitor.StopTimeout <= 0 {
		return fmt.Errorf("monitor.stop_timeout must be positive, got %s", c.Monitor.StopTimeout)
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" && c.Server.Listen == "" {
		return errors.New("metrics.enabled needs metrics.listen or server.listen")
	}
	for i, s := range c.History.Sinks {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("history.sinks[%d] is empty", i)
		}
	}
	return nil
}

// Matcher returns the process matching rules configured for the monitor.
func (c *Config) Matcher() counter.Matcher {
	return counter.Matcher{FoldCase: c.Monitor.FoldCase}
}

// ResolveTarget returns the executable to monitor: the configured path, or
// the one persisted by set-target. ok is false when neither is set.
func (c *Config) ResolveTarget(ctx context.Context, st store.Store) (path string, ok bool, err error) {
	if p := strings.TrimSpace(c.Monitor.ExecutablePath); p != "" {
		return p, true, nil
	}
	p, ok, err := st.GetConfig(ctx, store.ConfigKeyExecutablePath)
	if err != nil {
		return "", false, err
	}
	p = strings.TrimSpace(p)
	// an empty value is a reset target
	return p, ok && p != "", nil
}

func (c *Config) expand(vars env.Vars) {
	c.Monitor.ExecutablePath = vars.Expand(c.Monitor.ExecutablePath)
	c.Store.DSN = vars.Expand(c.Store.DSN)
	c.Log.File.Path = vars.Expand(c.Log.File.Path)
	for i, s := range c.History.Sinks {
		c.History.Sinks[i] = vars.Expand(s)
	}
}

// dataDir is where the default database lives: next to the config file,
// else next to the running executable.
func (c *Config) dataDir() string {
	if c.File != "" {
		return filepath.Dir(c.File)
	}
	if exe, err := os.Executable(); err == nil {
		return filepath.Dir(exe)
	}
	return "."
}

// applyEnvPairs overrides keys from TALLY_* pairs unless the real
// environment already sets them.
func applyEnvPairs(v *viper.Viper, pairs map[string]string) {
	prefix := EnvPrefix + "_"
	for k, val := range pairs {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if _, set := os.LookupEnv(k); set {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(k, prefix))
		for _, known := range v.AllKeys() {
			if strings.ReplaceAll(known, ".", "_") == key {
				v.Set(known, val)
				break
			}
		}
	}
}
