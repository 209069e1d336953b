package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // schedule zones resolve on hosts without zoneinfo

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for the NAV engine
type Config struct {
	Environment string          `toml:"environment"`
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Source      SourceConfig    `toml:"source"`
	Ingest      IngestConfig    `toml:"ingest"`
	Schedule    ScheduleConfig  `toml:"schedule"`
	Valuation   ValuationConfig `toml:"valuation"`
	Auth        AuthConfig      `toml:"auth"`
	Logging     LoggingConfig   `toml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Addr returns host:port for http.Server.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StorageConfig selects and configures the persistence driver.
type StorageConfig struct {
	Driver string `toml:"driver"` // sqlite | postgres | memory
	Path   string `toml:"path"`   // sqlite file, ":memory:" allowed
	DSN    string `toml:"dsn"`    // postgres connection string
}

// SourceConfig configures the external NAV provider client.
type SourceConfig struct {
	BaseURL   string `toml:"base_url"`
	Timeout   string `toml:"timeout"`
	RateLimit int    `toml:"rate_limit"` // requests per second, 0 disables
}

// GetTimeout parses and returns the timeout duration
func (c *SourceConfig) GetTimeout() time.Duration {
	return parseDuration(c.Timeout, 30*time.Second)
}

// IngestConfig tunes cycle pacing.
type IngestConfig struct {
	BatchSize   int    `toml:"batch_size"`
	BatchPause  string `toml:"batch_pause"`
	ManualLimit int    `toml:"manual_limit"`
	ManualDelay string `toml:"manual_delay"`
}

func (c *IngestConfig) GetBatchPause() time.Duration {
	return parseDuration(c.BatchPause, 2*time.Second)
}

func (c *IngestConfig) GetManualDelay() time.Duration {
	return parseDuration(c.ManualDelay, 500*time.Millisecond)
}

// ScheduleConfig holds the daily ingestion trigger.
type ScheduleConfig struct {
	Enabled  bool   `toml:"enabled"`
	At       string `toml:"at"`       // HH:MM wall clock
	Timezone string `toml:"timezone"` // IANA zone name
}

// GetLocation loads the configured zone, falling back to UTC.
func (c *ScheduleConfig) GetLocation() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ValuationConfig holds valuation engine settings.
type ValuationConfig struct {
	InvestedRatio string `toml:"invested_ratio"` // decimal string, placeholder cost basis
	FetchMissing  bool   `toml:"fetch_missing"`
}

// AuthConfig holds bearer token verification settings.
type AuthConfig struct {
	JWTSecret string `toml:"jwt_secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // console | json
}

// DevJWTSecret is the built-in signing secret. Production configs must replace it.
const DevJWTSecret = "dev-jwt-secret-change-in-production"

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			Path:   "./data/nav.db",
		},
		Source: SourceConfig{
			BaseURL: "https://api.mfapi.in",
			Timeout: "30s",
		},
		Ingest: IngestConfig{
			BatchSize:   10,
			BatchPause:  "2s",
			ManualLimit: 5,
			ManualDelay: "500ms",
		},
		Schedule: ScheduleConfig{
			Enabled:  true,
			At:       "00:00",
			Timezone: "Asia/Kolkata",
		},
		Valuation: ValuationConfig{
			InvestedRatio: "0.9",
			FetchMissing:  true,
		},
		Auth: AuthConfig{
			JWTSecret: DevJWTSecret,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier)
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue // Skip missing files
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("NAV_ENV"); env != "" {
		config.Environment = env
	}

	if host := os.Getenv("NAV_HOST"); host != "" {
		config.Server.Host = host
	}

	if port := os.Getenv("NAV_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if level := os.Getenv("NAV_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if v := os.Getenv("NAV_STORAGE_DRIVER"); v != "" {
		config.Storage.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("NAV_DB_PATH"); v != "" {
		config.Storage.Path = v
	}
	if v := os.Getenv("NAV_DB_DSN"); v != "" {
		config.Storage.DSN = v
	}

	if v := os.Getenv("NAV_SOURCE_BASE_URL"); v != "" {
		config.Source.BaseURL = v
	}

	if v := os.Getenv("NAV_JWT_SECRET"); v != "" {
		config.Auth.JWTSecret = v
	}

	if v := os.Getenv("NAV_SCHEDULE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.Schedule.Enabled = b
		}
	}
}

// Validate rejects settings the binaries cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite", "memory":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	if _, _, err := ParseClock(c.Schedule.At); err != nil {
		return fmt.Errorf("schedule.at: %w", err)
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		return fmt.Errorf("schedule.timezone: %w", err)
	}

	if c.IsProduction() {
		if secret := strings.TrimSpace(c.Auth.JWTSecret); secret == "" || secret == DevJWTSecret {
			return fmt.Errorf("auth.jwt_secret must be set in production (NAV_JWT_SECRET)")
		}
	}
	return nil
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// ParseClock parses an "HH:MM" wall-clock time.
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time %q want HH:MM", s)
	}
	return t.Hour(), t.Minute(), nil
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}
