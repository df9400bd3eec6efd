// Package config loads marscast configuration from defaults, an optional
// YAML file and environment variables, in increasing priority.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"marscast/internal/filter"
	"marscast/internal/repository"
	"marscast/internal/services"
	"marscast/pkg/database"
)

// ConfigPathEnvVar overrides the config file location
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/marscast/config.yaml",
}

// Config holds all application configuration
type Config struct {
	Server   ServerConfig           `koanf:"server"`
	Dataset  repository.Config      `koanf:"dataset"`
	Database database.Config        `koanf:"database"`
	Logging  LoggingConfig          `koanf:"logging"`
	Cache    services.CacheConfig   `koanf:"cache"`
	Session  services.SessionConfig `koanf:"session"`
	Explorer ExplorerConfig         `koanf:"explorer"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimit       int           `koanf:"rate_limit" validate:"gte=0"`
	RateWindow      time.Duration `koanf:"rate_window"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// ExplorerConfig overrides the season and recency tables. Empty tables use
// the built-in Martian seasons and rolling windows.
type ExplorerConfig struct {
	Seasons filter.SeasonTable  `koanf:"seasons" validate:"dive"`
	Recency filter.RecencyTable `koanf:"recency" validate:"dive"`
}

// FilterConfig returns the tables the filter engine evaluates against
func (e ExplorerConfig) FilterConfig() filter.Config {
	cfg := filter.DefaultConfig()
	if len(e.Seasons) > 0 {
		cfg.Seasons = e.Seasons
	}
	if len(e.Recency) > 0 {
		cfg.Recency = e.Recency
	}
	return cfg
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimit:       600,
			RateWindow:      time.Minute,
		},
		Dataset: repository.Config{
			Path:  "data/mars-weather.csv",
			Table: repository.DefaultTable,
		},
		Database: database.Config{
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			Database:        "marscast",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 10 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Cache: services.CacheConfig{
			Enabled:    true,
			MaxEntries: 1024,
			TTL:        10 * time.Minute,
		},
		Session: services.SessionConfig{
			MaxSessions:   1000,
			IdleTimeout:   30 * time.Minute,
			SweepInterval: time.Minute,
		},
	}
}

// LoadConfig layers defaults, the config file and MARSCAST_* environment
// variables, then validates the result.
func LoadConfig() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// MARSCAST_SERVER__PORT -> server.port
	if err := k.Load(env.Provider("MARSCAST_", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := splitList(k, "server.cors_origins"); err != nil {
		return nil, err
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
	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, "MARSCAST_"))
	return strings.ReplaceAll(key, "__", ".")
}

// splitList turns a comma separated env value into a string slice
func splitList(k *koanf.Koanf, path string) error {
	raw, ok := k.Get(path).(string)
	if !ok {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if err := k.Set(path, out); err != nil {
		return fmt.Errorf("failed to set %s: %w", path, err)
	}
	return nil
}

// Validate checks struct constraints and the filter tables
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return err
	}

	if c.Dataset.Path == "" && c.Dataset.Kind() != repository.SourcePostgres {
		return fmt.Errorf("dataset.path is required for source %q", c.Dataset.Kind())
	}
	if c.Dataset.Kind() == repository.SourcePostgres && c.Database.Host == "" {
		return fmt.Errorf("database.host is required for the postgres source")
	}

	if err := c.Explorer.FilterConfig().Validate(); err != nil {
		return fmt.Errorf("invalid explorer tables: %w", err)
	}
	return nil
}

// Address returns the HTTP listen address
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig returns the connection settings for SQL dataset sources.
// ok is false for file sources, which need no connection.
func (c *Config) DatabaseConfig() (database.Config, bool) {
	db := c.Database
	switch c.Dataset.Kind() {
	case repository.SourcePostgres:
		db.Driver = database.DriverPostgres
	case repository.SourceSQLite:
		db.Driver = database.DriverSQLite
		if db.Path == "" {
			db.Path = c.Dataset.Path
		}
	default:
		return database.Config{}, false
	}
	return db, true
}
