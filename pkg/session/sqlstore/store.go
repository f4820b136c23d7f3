// Package sqlstore provides SQL storage for session records on PostgreSQL
// or SQLite.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/txn2/mcp-weather/pkg/database"
	"github.com/txn2/mcp-weather/pkg/session"
)

const table = "mcp_sessions"

// columns lists columns returned by session SELECT queries.
var columns = []string{
	"session_id", "owner_id", "status", "created_at", "last_activity",
	"expires_at", "user_agent", "ip_address", "metadata",
}

// upsertSuffix replaces every mutable column when the id already exists.
// Both PostgreSQL and SQLite accept this form.
const upsertSuffix = `ON CONFLICT (session_id) DO UPDATE SET
	owner_id = EXCLUDED.owner_id,
	status = EXCLUDED.status,
	last_activity = EXCLUDED.last_activity,
	expires_at = EXCLUDED.expires_at,
	user_agent = EXCLUDED.user_agent,
	ip_address = EXCLUDED.ip_address,
	metadata = EXCLUDED.metadata`

// Store implements session.Store on a SQL database.
type Store struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

// New creates a session store for the given driver's dialect.
func New(db *sql.DB, driver database.Driver) *Store {
	return &Store{
		db: db,
		sb: driver.Builder(),
	}
}

// FindOne retrieves a record by ID. Returns nil, nil if not found.
func (s *Store) FindOne(ctx context.Context, id string) (*session.Record, error) {
	query, args, err := s.sb.Select(columns...).
		From(table).
		Where(sq.Eq{"session_id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building session query: %w", err)
	}

	row := s.db.QueryRowContext(ctx, query, args...)
	return scanRecord(row)
}

// Save inserts or replaces the record with the same ID.
func (s *Store) Save(ctx context.Context, r *session.Record) error {
	if r.ID == "" {
		return session.ErrInvalidSessionID
	}

	metadata, err := json.Marshal(r.Metadata)
	if err != nil || r.Metadata == nil {
		metadata = []byte("{}")
	}

	query, args, err := s.sb.Insert(table).
		Columns(columns...).
		Values(
			r.ID, r.OwnerID, r.Status.String(),
			r.CreatedAt.UTC(), r.LastActivity.UTC(), r.ExpiresAt.UTC(),
			r.ClientInfo.UserAgent, r.ClientInfo.IPAddress, string(metadata),
		).
		Suffix(upsertSuffix).
		ToSql()
	if err != nil {
		return fmt.Errorf("building session upsert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

// DeleteMany removes every record matching the filter.
func (s *Store) DeleteMany(ctx context.Context, f session.Filter) (int64, error) {
	if f.IsEmpty() {
		return 0, session.ErrEmptyFilter
	}

	qb := s.sb.Delete(table)
	if !f.ExpiresBefore.IsZero() {
		qb = qb.Where(sq.Lt{"expires_at": f.ExpiresBefore.UTC()})
	}
	if f.Status != 0 {
		qb = qb.Where(sq.Eq{"status": f.Status.String()})
	}
	if f.OwnerID != "" {
		qb = qb.Where(sq.Eq{"owner_id": f.OwnerID})
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return 0, fmt.Errorf("building session delete: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("deleting sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted sessions: %w", err)
	}
	return n, nil
}

// scanRecord scans a single row into a Record.
func scanRecord(row *sql.Row) (*session.Record, error) {
	var (
		r        session.Record
		status   string
		metadata []byte
	)
	err := row.Scan(
		&r.ID, &r.OwnerID, &status, &r.CreatedAt, &r.LastActivity,
		&r.ExpiresAt, &r.ClientInfo.UserAgent, &r.ClientInfo.IPAddress, &metadata,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // Store interface specifies nil,nil for not-found
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}

	r.Status, err = session.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("scanning session %s: %w", r.ID, err)
	}

	r.Metadata = make(map[string]any)
	if len(metadata) > 0 {
		_ = json.Unmarshal(metadata, &r.Metadata)
	}
	return &r, nil
}

// Verify interface compliance.
var _ session.Store = (*Store)(nil)
