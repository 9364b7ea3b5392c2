package config

import (
	"errors"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultPath is the config file read when no path is given.
const DefaultPath = "config.yaml"

// EnvPrefix marks environment variables that override file settings.
// Levels are separated by a double underscore: TRADEFLOW_SERVER__PORT.
const EnvPrefix = "TRADEFLOW_"

type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Log     LogConfig     `koanf:"log"`
	Storage StorageConfig `koanf:"storage"`
	Engine  EngineConfig  `koanf:"engine"`
	Sources SourcesConfig `koanf:"sources"`
	Users   []UserConfig  `koanf:"users"`
}

type ServerConfig struct {
	Port           int             `koanf:"port"`
	RequestTimeout string          `koanf:"request_timeout"` // Duration string like "30s"
	RateLimit      RateLimitConfig `koanf:"rate_limit"`
}

// RateLimitConfig bounds requests per authenticated user.
type RateLimitConfig struct {
	RPS   float64 `koanf:"rps"`
	Burst int     `koanf:"burst"`
}

type LogConfig struct {
	Level string `koanf:"level"` // debug, info, warn, error
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // sqlite, postgres, memory
	SQLite SQLiteConfig `koanf:"sqlite"`
	// Database is the generic database configuration for multi-dialect support
	Database DatabaseConfig `koanf:"database"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

// DatabaseConfig is the generic database configuration supporting multiple dialects.
type DatabaseConfig struct {
	Driver string `koanf:"driver"` // sqlite, postgres
	DSN    string `koanf:"dsn"`    // Data source name / connection string
}

// EngineConfig tunes the reconciliation engine.
type EngineConfig struct {
	MaxConflictRetries int    `koanf:"max_conflict_retries"`
	DefaultTaxRate     string `koanf:"default_tax_rate"` // Decimal string like "0.10"
}

type SourcesConfig struct {
	Navi    SourceConfig `koanf:"navi"`
	Inquiry SourceConfig `koanf:"inquiry"`
}

// SourceConfig points at one raw-source API. An empty BaseURL disables it.
type SourceConfig struct {
	BaseURL  string        `koanf:"base_url"`
	Token    string        `koanf:"token"`
	Timeout  string        `koanf:"timeout"`   // Duration string like "10s"
	CacheTTL string        `koanf:"cache_ttl"` // Duration string like "30s"
	Breaker  BreakerConfig `koanf:"breaker"`
	// DenyPrivateNetworks refuses to dial loopback and private addresses
	// except those inside AllowNetworks.
	DenyPrivateNetworks bool     `koanf:"deny_private_networks"`
	AllowNetworks       []string `koanf:"allow_networks"` // CIDRs like "10.20.0.0/16"
}

// BreakerConfig configures the circuit breaker guarding a source.
type BreakerConfig struct {
	MaxFailures uint32 `koanf:"max_failures"`
	OpenTimeout string `koanf:"open_timeout"` // Duration string like "30s"
}

// UserConfig is a known caller and the API keys it authenticates with.
type UserConfig struct {
	ID      string         `koanf:"id"`
	Name    string         `koanf:"name"`
	APIKeys []APIKeyConfig `koanf:"api_keys"`
}

type APIKeyConfig struct {
	KeyHash     string `koanf:"key_hash"`
	Description string `koanf:"description"`
}

var defaults = map[string]any{
	"server.port":                 8080,
	"server.request_timeout":      "30s",
	"server.rate_limit.rps":       20,
	"server.rate_limit.burst":     40,
	"log.level":                   "info",
	"storage.type":                "sqlite",
	"storage.sqlite.path":         "tradeflow.db",
	"engine.max_conflict_retries": 3,
	"engine.default_tax_rate":     "0.10",
}

var sourceDefaults = map[string]any{
	"timeout":              "10s",
	"cache_ttl":            "30s",
	"breaker.max_failures": 5,
	"breaker.open_timeout": "30s",
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads config.yaml from the working directory, then environment overrides.
func Load() (*Config, error) {
	return LoadFile(DefaultPath)
}

// LoadFile reads path (a missing file is not an error), applies environment
// overrides and fills defaults for absent keys.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// File not found is OK, we'll use env vars
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	// Load environment variables (can override file config)
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}
	for _, source := range []string{"navi", "inquiry"} {
		for key, value := range sourceDefaults {
			full := "sources." + source + "." + key
			if !k.Exists(full) {
				k.Set(full, value)
			}
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	// Substitute environment variables in secrets
	cfg.Sources.Navi.Token = substituteEnvVars(cfg.Sources.Navi.Token)
	cfg.Sources.Inquiry.Token = substituteEnvVars(cfg.Sources.Inquiry.Token)
	cfg.Storage.Database.DSN = substituteEnvVars(cfg.Storage.Database.DSN)

	return &cfg, nil
}

// ParseDuration parses s, returning def when s is empty or malformed.
func ParseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return def
	}
	return d
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
