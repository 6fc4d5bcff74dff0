package app

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"warden/cmd/identity"
)

// ConfigFileEnv names the optional YAML file loaded before env overrides.
const ConfigFileEnv = "WARDEN_CONFIG_FILE"

// Config contains the process-level runtime configuration. Component
// settings (tokens, passwords, stores, websocket) are loaded by their own
// packages.
type Config struct {
	HTTPAddr  string `yaml:"http_addr"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	MaxHeaderBytes    int           `yaml:"max_header_bytes"`

	DatabaseURL string `yaml:"database_url"`
	DBMaxConns  int32  `yaml:"db_max_conns"`
	DBMinConns  int32  `yaml:"db_min_conns"`
	DBMigrate   bool   `yaml:"db_migrate"`
	DBSchema    string `yaml:"db_schema"`

	RedisURL string `yaml:"redis_url"`

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool `yaml:"readiness_require_db"`

	// If true, WARDEN_TOKEN_HMAC_KEY must be set so store keys are HMAC digests.
	RequireTokenHMAC bool `yaml:"require_token_hmac"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:  "0.0.0.0:8080",
		LogLevel:  "info",
		LogFormat: "json",

		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		MaxHeaderBytes:    1 << 20,

		DBMaxConns: 10,
		DBMinConns: 0,
		DBMigrate:  true,
		DBSchema:   identity.DefaultSchema,
	}
}

// LoadConfig builds Config from defaults, then the YAML file named by
// WARDEN_CONFIG_FILE (if any), then WARDEN_* env vars.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()

	if path := strings.TrimSpace(os.Getenv(ConfigFileEnv)); path != "" {
		fromFile, err := loadConfigFile(path, cfg)
		if err != nil {
			return Config{}, err
		}
		cfg = fromFile
	}

	return applyEnv(cfg), nil
}

func loadConfigFile(path string, base Config) (Config, error) {
	// #nosec G304 -- path comes from operator-controlled env.
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := base
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

func applyEnv(base Config) Config {
	return Config{
		HTTPAddr:  EnvString("WARDEN_HTTP_ADDR", base.HTTPAddr),
		LogLevel:  EnvString("WARDEN_LOG_LEVEL", base.LogLevel),
		LogFormat: EnvString("WARDEN_LOG_FORMAT", base.LogFormat),

		ReadHeaderTimeout: EnvDuration("WARDEN_HTTP_READ_HEADER_TIMEOUT", base.ReadHeaderTimeout),
		ReadTimeout:       EnvDuration("WARDEN_HTTP_READ_TIMEOUT", base.ReadTimeout),
		WriteTimeout:      EnvDuration("WARDEN_HTTP_WRITE_TIMEOUT", base.WriteTimeout),
		IdleTimeout:       EnvDuration("WARDEN_HTTP_IDLE_TIMEOUT", base.IdleTimeout),
		ShutdownTimeout:   EnvDuration("WARDEN_HTTP_SHUTDOWN_TIMEOUT", base.ShutdownTimeout),
		MaxHeaderBytes:    EnvInt("WARDEN_HTTP_MAX_HEADER_BYTES", base.MaxHeaderBytes),

		DatabaseURL: EnvString("WARDEN_DATABASE_URL", base.DatabaseURL),
		DBMaxConns:  EnvInt32("WARDEN_DB_MAX_CONNS", base.DBMaxConns),
		DBMinConns:  EnvInt32("WARDEN_DB_MIN_CONNS", base.DBMinConns),
		DBMigrate:   EnvBool("WARDEN_DB_MIGRATE", base.DBMigrate),
		DBSchema:    EnvString("WARDEN_DB_SCHEMA", base.DBSchema),

		RedisURL: EnvString("WARDEN_REDIS_URL", base.RedisURL),

		ReadinessRequireDB: EnvBool("WARDEN_READINESS_REQUIRE_DB", base.ReadinessRequireDB),
		RequireTokenHMAC:   EnvBool("WARDEN_REQUIRE_TOKEN_HMAC", base.RequireTokenHMAC),
	}
}
