// Package config loads pageledger settings from defaults, a YAML file and
// PAGELEDGER_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable.
type Config struct {
	DataDir          string        `yaml:"data_dir"`
	LegacyDir        string        `yaml:"legacy_dir"`
	MaxHistoryCount  int           `yaml:"max_history_count"`
	MaxCatalogCount  int           `yaml:"max_catalog_count"`
	MaxSessionGroups int           `yaml:"max_session_groups"`
	Concurrency      int           `yaml:"concurrency"`
	Debounce         time.Duration `yaml:"debounce"`
	SweepDelay       time.Duration `yaml:"sweep_delay"`
	LogLevel         string        `yaml:"log_level"`
}

const appDir = ".pageledger"

// Default returns the built-in configuration.
func Default() Config {
	dir := appDir
	if home, err := os.UserHomeDir(); err == nil {
		dir = filepath.Join(home, appDir)
	}
	return Config{
		DataDir:          dir,
		MaxHistoryCount:  1000,
		MaxCatalogCount:  5000,
		MaxSessionGroups: 50,
		Concurrency:      2,
		Debounce:         150 * time.Millisecond,
		SweepDelay:       20 * time.Millisecond,
		LogLevel:         "info",
	}
}

// Path returns the config file location: $PAGELEDGER_CONFIG if set,
// otherwise ~/.pageledger/config.yaml.
func Path() (string, error) {
	if p := os.Getenv("PAGELEDGER_CONFIG"); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, appDir, "config.yaml"), nil
}

// LoadDotEnv loads variables from the given .env files (default ".env")
// without overriding ones already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// empty or missing) and the environment, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	cfg.DataDir = expandHome(cfg.DataDir)
	cfg.LegacyDir = expandHome(cfg.LegacyDir)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("PAGELEDGER_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("PAGELEDGER_LEGACY_DIR"); v != "" {
		c.LegacyDir = v
	}
	if v := os.Getenv("PAGELEDGER_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}

	var err error
	if c.MaxHistoryCount, err = getEnvInt("PAGELEDGER_MAX_HISTORY", c.MaxHistoryCount); err != nil {
		return err
	}
	if c.MaxCatalogCount, err = getEnvInt("PAGELEDGER_MAX_CATALOG", c.MaxCatalogCount); err != nil {
		return err
	}
	if c.MaxSessionGroups, err = getEnvInt("PAGELEDGER_MAX_GROUPS", c.MaxSessionGroups); err != nil {
		return err
	}
	if c.Concurrency, err = getEnvInt("PAGELEDGER_CONCURRENCY", c.Concurrency); err != nil {
		return err
	}
	if c.Debounce, err = getEnvDuration("PAGELEDGER_DEBOUNCE", c.Debounce); err != nil {
		return err
	}
	if c.SweepDelay, err = getEnvDuration("PAGELEDGER_SWEEP_DELAY", c.SweepDelay); err != nil {
		return err
	}
	return nil
}

// Validate rejects settings the store or the queue cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if c.MaxHistoryCount <= 0 {
		errs = append(errs, fmt.Errorf("max_history_count must be positive, got %d", c.MaxHistoryCount))
	}
	if c.MaxCatalogCount <= 0 {
		errs = append(errs, fmt.Errorf("max_catalog_count must be positive, got %d", c.MaxCatalogCount))
	}
	if c.MaxSessionGroups <= 0 {
		errs = append(errs, fmt.Errorf("max_session_groups must be positive, got %d", c.MaxSessionGroups))
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency))
	}
	if c.Debounce < 0 {
		errs = append(errs, fmt.Errorf("debounce must not be negative, got %s", c.Debounce))
	}
	if c.SweepDelay < 0 {
		errs = append(errs, fmt.Errorf("sweep_delay must not be negative, got %s", c.SweepDelay))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SlogLevel parses LogLevel.
func (c Config) SlogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	return l, nil
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return i, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return d, nil
}
