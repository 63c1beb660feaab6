package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/zhaobenny/lectic-usage/internal/pricing"
)

const (
	EnvDataDir   = "LECTIC_DATA"
	EnvPricesURL = "LECTIC_PRICES_URL"
	EnvConfig    = "LECTIC_USAGE_CONFIG"

	usageFile  = "usage.json"
	pricesFile = "prices.json"

	defaultWidth       = 40
	defaultGranularity = "day"
	defaultUnits       = 14
)

var ErrDataDirUnset = errors.New("LECTIC_DATA is not set. Run via 'lectic usage' or set LECTIC_DATA explicitly")

// Config holds the CLI configuration
type Config struct {
	DataDir     string `yaml:"data_dir,omitempty"`
	PricesURL   string `yaml:"prices_url,omitempty"`
	Width       int    `yaml:"width,omitempty"`
	Granularity string `yaml:"granularity,omitempty"`
	Units       *int   `yaml:"units,omitempty"`
	Timezone    string `yaml:"timezone,omitempty"`
}

// Path returns the path to the config file
func Path() (string, error) {
	if p := os.Getenv(EnvConfig); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".lectic-usage.yaml"), nil
}

// Load reads the config file, then .env files, then the environment. Later
// sources win.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom is Load with an explicit config file path.
func LoadFrom(path string) (*Config, error) {
	cfg, err := ReadFile(path)
	if err != nil {
		return nil, err
	}

	for _, p := range envPaths() {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
			break
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// ReadFile reads only the YAML file, without .env or environment overrides.
func ReadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

// envPaths returns the .env files to try, first match wins.
func envPaths() []string {
	var paths []string
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".env"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "lectic", ".env"))
	}
	return paths
}

func (c *Config) applyEnv() {
	c.DataDir = getEnvString(EnvDataDir, c.DataDir)
	c.PricesURL = getEnvString(EnvPricesURL, c.PricesURL)
}

// Validate checks that the data directory is known.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return ErrDataDirUnset
	}
	return nil
}

// UsagePath is the usage store location.
func (c *Config) UsagePath() string {
	return filepath.Join(c.DataDir, usageFile)
}

// PricesPath is the cached price document location.
func (c *Config) PricesPath() string {
	return filepath.Join(c.DataDir, pricesFile)
}

// PricesSource returns the price document URL
func (c *Config) PricesSource() string {
	if c.PricesURL == "" {
		return pricing.DefaultURL
	}
	return c.PricesURL
}

// BarWidth returns the configured bar width or the default.
func (c *Config) BarWidth() int {
	if c.Width <= 0 {
		return defaultWidth
	}
	return c.Width
}

// DefaultGranularity returns the configured granularity or "day".
func (c *Config) DefaultGranularity() string {
	if c.Granularity == "" {
		return defaultGranularity
	}
	return c.Granularity
}

// DefaultUnits returns the configured unit count or 14. Zero or less means all.
func (c *Config) DefaultUnits() int {
	if c.Units == nil {
		return defaultUnits
	}
	return *c.Units
}

// Location resolves Timezone, defaulting to UTC.
func (c *Config) Location() (*time.Location, error) {
	return ParseLocation(c.Timezone)
}

// ParseLocation loads an IANA zone name. Empty means UTC.
func ParseLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", name, err)
	}
	return loc, nil
}

// Save writes cfg to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// getEnvString retrieves a string environment variable or returns the default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvInt64 parses a non-negative integer from the environment. Unset,
// malformed or negative values read as zero.
func GetEnvInt64(key string) int64 {
	raw := os.Getenv(key)
	if raw == "" {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
