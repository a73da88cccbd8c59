package audit

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the audit store's PostgreSQL connection settings. This is the
// new Execution Audit Store SPEC_FULL.md §4 adds: it persists every bus
// event and budget snapshots for observability, never consulted by the
// scheduler itself (spec.md's Non-goals exclude caching or replaying
// transcripts).
//
// Grounded on tarsy/pkg/database/config.go's LoadConfigFromEnv shape
// (getEnvOrDefault, explicit Validate), with the connection-pool fields
// renamed to pgxpool's vocabulary instead of database/sql's.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DSN renders cfg as a libpq connection string, as pgxpool.ParseConfig
// expects.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LoadConfigFromEnv loads audit store configuration from environment
// variables, matching tarsy's DB_* naming scheme.
func LoadConfigFromEnv() (Config, error) {
	port, err := strconv.Atoi(getEnvOrDefault("AUDIT_DB_PORT", "5432"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid AUDIT_DB_PORT: %w", err)
	}
	maxConns, err := strconv.Atoi(getEnvOrDefault("AUDIT_DB_MAX_CONNS", "10"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid AUDIT_DB_MAX_CONNS: %w", err)
	}
	minConns, err := strconv.Atoi(getEnvOrDefault("AUDIT_DB_MIN_CONNS", "1"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid AUDIT_DB_MIN_CONNS: %w", err)
	}
	maxLifetime, err := time.ParseDuration(getEnvOrDefault("AUDIT_DB_CONN_MAX_LIFETIME", "1h"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid AUDIT_DB_CONN_MAX_LIFETIME: %w", err)
	}
	maxIdleTime, err := time.ParseDuration(getEnvOrDefault("AUDIT_DB_CONN_MAX_IDLE_TIME", "15m"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid AUDIT_DB_CONN_MAX_IDLE_TIME: %w", err)
	}

	cfg := Config{
		Host:            getEnvOrDefault("AUDIT_DB_HOST", "localhost"),
		Port:            port,
		User:            getEnvOrDefault("AUDIT_DB_USER", "rlm"),
		Password:        os.Getenv("AUDIT_DB_PASSWORD"),
		Database:        getEnvOrDefault("AUDIT_DB_NAME", "rlm_audit"),
		SSLMode:         getEnvOrDefault("AUDIT_DB_SSLMODE", "disable"),
		MaxConns:        int32(maxConns),
		MinConns:        int32(minConns),
		MaxConnLifetime: maxLifetime,
		MaxConnIdleTime: maxIdleTime,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cfg for internal consistency.
func (c Config) Validate() error {
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("AUDIT_DB_MIN_CONNS (%d) cannot exceed AUDIT_DB_MAX_CONNS (%d)", c.MinConns, c.MaxConns)
	}
	if c.MaxConns < 1 {
		return fmt.Errorf("AUDIT_DB_MAX_CONNS must be at least 1")
	}
	return nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
