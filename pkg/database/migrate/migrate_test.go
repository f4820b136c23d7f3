//go:build integration

package migrate

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	db "github.com/txn2/mcp-weather/pkg/database"
)

func TestMigrations(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx, "postgres:16",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	defer func() { _ = pgContainer.Terminate(ctx) }()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	conn, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	t.Run("Run applies migrations", func(t *testing.T) {
		require.NoError(t, Run(conn, db.DriverPostgres))

		for _, table := range []string{"tenants", "mcp_sessions"} {
			var exists bool
			err := conn.QueryRow(`
				SELECT EXISTS (
					SELECT FROM information_schema.tables
					WHERE table_name = $1
				)
			`, table).Scan(&exists)
			require.NoError(t, err)
			require.True(t, exists, "%s table should exist", table)
		}
	})

	t.Run("Run is idempotent", func(t *testing.T) {
		require.NoError(t, Run(conn, db.DriverPostgres))
	})

	t.Run("Version reports latest", func(t *testing.T) {
		version, dirty, err := Version(conn, db.DriverPostgres)
		require.NoError(t, err)
		require.False(t, dirty)
		require.Equal(t, uint(2), version)
	})

	t.Run("Steps rolls back one", func(t *testing.T) {
		require.NoError(t, Steps(conn, db.DriverPostgres, -1))
		version, _, err := Version(conn, db.DriverPostgres)
		require.NoError(t, err)
		require.Equal(t, uint(1), version)
	})

	t.Run("Down removes everything", func(t *testing.T) {
		require.NoError(t, Down(conn, db.DriverPostgres))
		version, dirty, err := Version(conn, db.DriverPostgres)
		require.NoError(t, err)
		require.False(t, dirty)
		require.Zero(t, version)
	})
}
