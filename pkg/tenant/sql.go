package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/txn2/mcp-weather/pkg/database"
)

const tenantsTable = "tenants"

// tenantColumns lists columns returned by tenant SELECT queries.
var tenantColumns = []string{"id", "email", "key_hash", "active", "created_at", "updated_at"}

// SQLDirectory implements Directory on a SQL database.
type SQLDirectory struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

// NewSQLDirectory creates a directory for the given driver's dialect.
func NewSQLDirectory(db *sql.DB, driver database.Driver) *SQLDirectory {
	return &SQLDirectory{db: db, sb: driver.Builder()}
}

// FindByEmail returns the active tenant with the given email.
func (d *SQLDirectory) FindByEmail(ctx context.Context, email string) (*Tenant, error) {
	query, args, err := d.sb.Select(tenantColumns...).
		From(tenantsTable).
		Where(sq.Eq{"email": NormalizeEmail(email), "active": true}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building tenant query: %w", err)
	}

	var t Tenant
	err = d.db.QueryRowContext(ctx, query, args...).
		Scan(&t.ID, &t.Email, &t.KeyHash, &t.Active, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // Directory interface specifies nil,nil for not-found
	}
	if err != nil {
		return nil, fmt.Errorf("querying tenant: %w", err)
	}
	return &t, nil
}

// Create registers a tenant.
func (d *SQLDirectory) Create(ctx context.Context, t *Tenant) error {
	email := NormalizeEmail(t.Email)
	if email == "" || t.ID == "" {
		return ErrInvalidTenant
	}

	query, args, err := d.sb.Insert(tenantsTable).
		Columns(tenantColumns...).
		Values(t.ID, email, t.KeyHash, t.Active, t.CreatedAt.UTC(), t.UpdatedAt.UTC()).
		ToSql()
	if err != nil {
		return fmt.Errorf("building tenant insert: %w", err)
	}

	if _, err := d.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("inserting tenant: %w", err)
	}
	return nil
}

// pqUniqueViolation is the PostgreSQL SQLSTATE for unique_violation.
const pqUniqueViolation = "23505"

// isUniqueViolation recognizes unique-constraint errors from both drivers.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			(code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(liteErr.Error(), "UNIQUE"))
	}
	return false
}

// Verify interface compliance.
var _ Directory = (*SQLDirectory)(nil)
