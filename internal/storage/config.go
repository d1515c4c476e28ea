// Package storage persists run checkpoints and telemetry events to
// PostgreSQL over database/sql, registering the pgx driver and applying
// embedded golang-migrate migrations on startup — no ORM layer, since
// the run's two write paths (a full-journal checkpoint blob and three
// narrow telemetry tables) never warranted generated query code.
package storage

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds PostgreSQL connection and pool settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// LoadConfigFromEnv loads Config from RATCHET_DB_* environment variables
// with production-ready defaults.
func LoadConfigFromEnv() (Config, error) {
	port, err := strconv.Atoi(getEnvOrDefault("RATCHET_DB_PORT", "5432"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid RATCHET_DB_PORT: %w", err)
	}
	maxOpen, _ := strconv.Atoi(getEnvOrDefault("RATCHET_DB_MAX_OPEN_CONNS", "25"))
	maxIdle, _ := strconv.Atoi(getEnvOrDefault("RATCHET_DB_MAX_IDLE_CONNS", "10"))

	maxLifetime, err := time.ParseDuration(getEnvOrDefault("RATCHET_DB_CONN_MAX_LIFETIME", "1h"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid RATCHET_DB_CONN_MAX_LIFETIME: %w", err)
	}
	maxIdleTime, err := time.ParseDuration(getEnvOrDefault("RATCHET_DB_CONN_MAX_IDLE_TIME", "15m"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid RATCHET_DB_CONN_MAX_IDLE_TIME: %w", err)
	}

	cfg := Config{
		Host:            getEnvOrDefault("RATCHET_DB_HOST", "localhost"),
		Port:            port,
		User:            getEnvOrDefault("RATCHET_DB_USER", "ratchet"),
		Password:        os.Getenv("RATCHET_DB_PASSWORD"),
		Database:        getEnvOrDefault("RATCHET_DB_NAME", "ratchet"),
		SSLMode:         getEnvOrDefault("RATCHET_DB_SSLMODE", "disable"),
		MaxOpenConns:    maxOpen,
		MaxIdleConns:    maxIdle,
		ConnMaxLifetime: maxLifetime,
		ConnMaxIdleTime: maxIdleTime,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for internal consistency.
func (c Config) Validate() error {
	if c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("RATCHET_DB_MAX_IDLE_CONNS (%d) cannot exceed RATCHET_DB_MAX_OPEN_CONNS (%d)", c.MaxIdleConns, c.MaxOpenConns)
	}
	if c.MaxOpenConns < 1 {
		return fmt.Errorf("RATCHET_DB_MAX_OPEN_CONNS must be at least 1")
	}
	if c.MaxIdleConns < 0 {
		return fmt.Errorf("RATCHET_DB_MAX_IDLE_CONNS cannot be negative")
	}
	return nil
}

// DSN builds a pgx-compatible connection string.
func (c Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
