package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "modernc.org/sqlite" // pure Go SQLite driver
)

// Config holds database configuration.
type Config struct {
	// Driver specifies the backend. Empty or "auto" detects from URL.
	Driver Driver

	// URL is the PostgreSQL connection string.
	URL string

	// SQLitePath is the SQLite database file path for local mode.
	// Defaults to ~/.vantage/data.db.
	SQLitePath string

	// MaxConns is the maximum number of pooled connections (PostgreSQL only).
	MaxConns int
}

// Connection is either a pgx pool or a sql.DB, depending on the driver.
type Connection struct {
	driver Driver
	pool   *pgxpool.Pool
	db     *sql.DB
}

// Driver returns the backend type of this connection.
func (c *Connection) Driver() Driver { return c.driver }

// Pool returns the pgx pool; nil unless the driver is PostgreSQL.
func (c *Connection) Pool() *pgxpool.Pool { return c.pool }

// DB returns the sql.DB handle; nil unless the driver is SQLite.
func (c *Connection) DB() *sql.DB { return c.db }

// Ping verifies the connection is alive.
func (c *Connection) Ping(ctx context.Context) error {
	switch c.driver {
	case DriverPostgres:
		return c.pool.Ping(ctx)
	case DriverSQLite:
		return c.db.PingContext(ctx)
	default:
		return fmt.Errorf("unsupported database driver: %s", c.driver)
	}
}

// Close releases the connection.
func (c *Connection) Close() error {
	switch c.driver {
	case DriverPostgres:
		c.pool.Close()
		return nil
	case DriverSQLite:
		return c.db.Close()
	default:
		return nil
	}
}

// Connect opens a database connection based on configuration.
func Connect(ctx context.Context, cfg Config) (*Connection, error) {
	driver := cfg.Driver
	if driver == "" || driver == "auto" {
		driver = DetectDriver(cfg.URL)
	}

	switch driver {
	case DriverPostgres:
		pool, err := newPostgresPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &Connection{driver: DriverPostgres, pool: pool}, nil
	case DriverSQLite:
		db, err := openSQLite(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &Connection{driver: DriverSQLite, db: db}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
}

func newPostgresPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is required for PostgreSQL")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

func openSQLite(ctx context.Context, cfg Config) (*sql.DB, error) {
	path := cfg.SQLitePath
	if path == "" {
		path = DefaultSQLitePath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// WAL for concurrency, foreign keys on, wait on locks instead of failing.
	dsn := path
	if strings.Contains(dsn, "?") {
		dsn += "&"
	} else {
		dsn += "?"
	}
	dsn += "_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// Single writer; SQLite does not support concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	return db, nil
}

// DefaultSQLitePath returns the default SQLite database path.
func DefaultSQLitePath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".vantage", "data.db")
}
