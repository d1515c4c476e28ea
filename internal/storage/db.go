package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx driver under "pgx"
)

//go:embed migrations
var migrationsFS embed.FS

// DB wraps a *sql.DB opened against the pgx driver, with migrations
// already applied.
type DB struct {
	conn *sql.DB
}

// Open connects, configures the pool, pings, and applies pending
// migrations before returning.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	conn, err := sql.Open("pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}
	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	conn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}

	if err := applyMigrations(conn, cfg.Database); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}

	return &DB{conn: conn}, nil
}

// WrapExisting builds a DB around an already-open, already-migrated
// connection (used by tests that manage migrations themselves).
func WrapExisting(conn *sql.DB) *DB {
	return &DB{conn: conn}
}

// Conn exposes the underlying pool for health checks and direct queries.
func (d *DB) Conn() *sql.DB {
	return d.conn
}

// Close closes the underlying connection pool.
func (d *DB) Close() error {
	return d.conn.Close()
}

// HealthStatus reports database connectivity and pool statistics.
type HealthStatus struct {
	Status          string `json:"status"`
	ResponseTime    int64  `json:"response_time_ms"`
	OpenConnections int    `json:"open_connections"`
	InUse           int    `json:"in_use"`
	Idle            int    `json:"idle"`
}

// Health pings the database and reports pool statistics.
func (d *DB) Health(ctx context.Context) (*HealthStatus, error) {
	start := time.Now()
	if err := d.conn.PingContext(ctx); err != nil {
		return &HealthStatus{Status: "unhealthy", ResponseTime: time.Since(start).Milliseconds()}, err
	}
	stats := d.conn.Stats()
	return &HealthStatus{
		Status:          "healthy",
		ResponseTime:    time.Since(start).Milliseconds(),
		OpenConnections: stats.OpenConnections,
		InUse:           stats.InUse,
		Idle:            stats.Idle,
	}, nil
}

func applyMigrations(conn *sql.DB, databaseName string) error {
	driver, err := postgres.WithInstance(conn, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("postgres driver: %w", err)
	}
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, databaseName, driver)
	if err != nil {
		return fmt.Errorf("migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply: %w", err)
	}
	// Do not call m.Close(): it would close conn via the postgres driver,
	// which this DB still owns.
	return sourceDriver.Close()
}
