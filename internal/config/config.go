// Package config loads process configuration from the environment and an optional YAML file.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// Config is read once at startup and treated as immutable.
type Config struct {
	// Server
	Addr      string  `yaml:"addr"`
	RateLimit float64 `yaml:"rate_limit"` // req/s on mutating endpoints

	// Database
	DBDriver string `yaml:"db_driver"`
	DBURL    string `yaml:"db_url"`

	// Storage
	DataDir    string `yaml:"data_dir"`
	LibraryDir string `yaml:"library_dir"`
	CoverDir   string `yaml:"cover_dir"`

	// Fetch
	FetchTimeout      time.Duration `yaml:"fetch_timeout"`
	AllowPrivateFetch bool          `yaml:"allow_private_fetch"`

	// Logging
	LogLevel string `yaml:"log_level"`

	// Client
	ServerURL string `yaml:"server"`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Load builds a Config from defaults, the YAML file named by NOVEL_CONFIG (if any),
// and finally environment variables, which win.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("NOVEL_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %q: %w", path, err)
		}
		if err := cfg.parseYAML(data, path); err != nil {
			return nil, err
		}
	}

	cfg.Addr = getEnvString("NOVEL_ADDR", cfg.Addr)
	cfg.RateLimit = getEnvFloat("NOVEL_RATE_LIMIT", cfg.RateLimit)
	cfg.DBDriver = getEnvString("NOVEL_DB_DRIVER", cfg.DBDriver)
	cfg.DataDir = getEnvString("NOVEL_DATA_DIR", cfg.DataDir)
	cfg.DBURL = getEnvString("NOVEL_DB_URL", cfg.DBURL)
	cfg.LibraryDir = getEnvString("NOVEL_LIBRARY_DIR", cfg.LibraryDir)
	cfg.CoverDir = getEnvString("NOVEL_COVER_DIR", cfg.CoverDir)
	cfg.FetchTimeout = getEnvDuration("NOVEL_FETCH_TIMEOUT", cfg.FetchTimeout)
	cfg.AllowPrivateFetch = getEnvBool("NOVEL_ALLOW_PRIVATE_FETCH", cfg.AllowPrivateFetch)
	cfg.LogLevel = getEnvString("NOVEL_LOG_LEVEL", cfg.LogLevel)
	cfg.ServerURL = getEnvString("NOVEL_SERVER", cfg.ServerURL)

	cfg.fillDerived()

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// Default returns the built-in configuration. Paths derived from DataDir are
// left empty and resolved by Load.
func Default() *Config {
	return &Config{
		Addr:         ":5000",
		RateLimit:    5,
		DBDriver:     DriverSQLite,
		DataDir:      DataDir(),
		FetchTimeout: 10 * time.Second,
		LogLevel:     "info",
		ServerURL:    "http://localhost:5000",
	}
}

// DataDir resolves the base directory for the database, EPUB library and covers.
func DataDir() string {
	xdg.Reload()
	dataHome := xdg.DataHome
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "noveltracker")
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "noveltracker")
}

func (c *Config) parseYAML(data []byte, source string) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("parse YAML in %q: %w", source, err)
	}
	return nil
}

func (c *Config) fillDerived() {
	if c.DBURL == "" && c.DBDriver == DriverSQLite {
		c.DBURL = filepath.Join(c.DataDir, "my-novels.db")
	}
	if c.LibraryDir == "" {
		c.LibraryDir = filepath.Join(c.DataDir, "novels")
	}
	if c.CoverDir == "" {
		c.CoverDir = filepath.Join(c.DataDir, "static", "img", "cover")
	}
}

// Validate returns every problem found, empty when the config is usable.
func (c *Config) Validate() []string {
	var errs []string
	if c.DBDriver != DriverSQLite && c.DBDriver != DriverPostgres {
		errs = append(errs, fmt.Sprintf("unsupported db driver %q", c.DBDriver))
	}
	if c.DBDriver == DriverPostgres && c.DBURL == "" {
		errs = append(errs, "db_url is required for postgres")
	}
	if strings.TrimSpace(c.Addr) == "" {
		errs = append(errs, "addr is required")
	}
	if c.RateLimit <= 0 {
		errs = append(errs, "rate_limit must be positive")
	}
	if c.FetchTimeout <= 0 {
		errs = append(errs, "fetch_timeout must be positive")
	}
	return errs
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
