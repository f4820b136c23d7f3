// Package database opens the SQL database backing session records and the
// tenant directory, and describes the dialect differences between the
// supported drivers.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"    // registers the "postgres" driver
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// Driver names a supported storage backend.
type Driver string

// Supported drivers. DriverMemory keeps everything in process memory and
// never opens a database.
const (
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite"
	DriverMemory   Driver = "memory"
)

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 5 * time.Minute
	pingTimeout            = 5 * time.Second
)

// Config configures the database connection.
type Config struct {
	Driver          Driver        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// ParseDriver normalizes a driver name.
func ParseDriver(s string) (Driver, error) {
	switch Driver(strings.ToLower(strings.TrimSpace(s))) {
	case DriverPostgres, "postgresql", "pg":
		return DriverPostgres, nil
	case DriverSQLite, "sqlite3":
		return DriverSQLite, nil
	case DriverMemory, "":
		return DriverMemory, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", s)
	}
}

// SQL reports whether the driver is backed by a SQL database.
func (d Driver) SQL() bool {
	return d == DriverPostgres || d == DriverSQLite
}

// Placeholder returns the bind-variable format of the driver.
func (d Driver) Placeholder() sq.PlaceholderFormat {
	if d == DriverPostgres {
		return sq.Dollar
	}
	return sq.Question
}

// Builder returns a statement builder using the driver's placeholders.
func (d Driver) Builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(d.Placeholder())
}

// Open opens and pings the configured database.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if !cfg.Driver.SQL() {
		return nil, fmt.Errorf("driver %q has no SQL database", cfg.Driver)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is required for driver %q", cfg.Driver)
	}

	db, err := sql.Open(string(cfg.Driver), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", cfg.Driver, err)
	}

	applyPool(db, cfg)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging %s database: %w", cfg.Driver, err)
	}
	return db, nil
}

// applyPool sets connection pool limits. SQLite allows a single writer, so
// it is pinned to one connection, which also keeps ":memory:" databases
// shared across callers.
func applyPool(db *sql.DB, cfg Config) {
	if cfg.Driver == DriverSQLite {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		return
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = defaultMaxOpenConns
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = defaultMaxIdleConns
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = defaultConnMaxLifetime
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
}
