// Package migrate provides database migration support using golang-migrate.
// Each supported SQL dialect has its own embedded migration set.
package migrate

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"path"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	db "github.com/txn2/mcp-weather/pkg/database"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrations embed.FS

// migrator is the subset of *migrate.Migrate used here.
type migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (version uint, dirty bool, err error)
}

// migratorFactory builds a migrator for the given connection and dialect.
var migratorFactory = newMigrator

func newMigrator(conn *sql.DB, driver db.Driver) (migrator, error) {
	var (
		target database.Driver
		err    error
	)
	switch driver {
	case db.DriverPostgres:
		target, err = postgres.WithInstance(conn, &postgres.Config{})
	case db.DriverSQLite:
		target, err = sqlite.WithInstance(conn, &sqlite.Config{})
	default:
		return nil, fmt.Errorf("no migrations for driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s driver: %w", driver, err)
	}

	source, err := iofs.New(migrations, sourceDir(driver))
	if err != nil {
		return nil, fmt.Errorf("creating migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, string(driver), target)
	if err != nil {
		return nil, fmt.Errorf("creating migrator: %w", err)
	}
	return m, nil
}

func sourceDir(driver db.Driver) string {
	return path.Join("migrations", string(driver))
}

// Run executes all pending database migrations.
// It applies migrations in order and is idempotent - already applied migrations are skipped.
func Run(conn *sql.DB, driver db.Driver) error {
	m, err := migratorFactory(conn, driver)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("getting migration version: %w", err)
	}

	if dirty {
		slog.Warn("database migration state is dirty", "version", version)
	} else {
		slog.Info("database migrations complete", "driver", driver, "version", version)
	}

	return nil
}

// Version returns the current migration version. A schema with no
// migrations applied reports version 0.
func Version(conn *sql.DB, driver db.Driver) (uint, bool, error) {
	m, err := migratorFactory(conn, driver)
	if err != nil {
		return 0, false, err
	}
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("reading migration version: %w", err)
	}
	return v, dirty, nil
}

// Down rolls back all migrations.
// Use with caution - this will destroy all data.
func Down(conn *sql.DB, driver db.Driver) error {
	m, err := migratorFactory(conn, driver)
	if err != nil {
		return err
	}

	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("rolling back migrations: %w", err)
	}

	return nil
}

// Steps applies n migrations (positive = up, negative = down).
func Steps(conn *sql.DB, driver db.Driver, n int) error {
	m, err := migratorFactory(conn, driver)
	if err != nil {
		return err
	}

	if err := m.Steps(n); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("stepping migrations: %w", err)
	}

	return nil
}
