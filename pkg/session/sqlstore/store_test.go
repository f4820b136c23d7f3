package sqlstore

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/mcp-weather/pkg/database"
	"github.com/txn2/mcp-weather/pkg/database/migrate"
	"github.com/txn2/mcp-weather/pkg/session"
)

const (
	testTTL      = 24 * time.Hour
	pgTestSessID = "sess-123"
	pgTestOwner  = "tenant-abc"
)

func newTestRecord() *session.Record {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &session.Record{
		ID:           pgTestSessID,
		OwnerID:      pgTestOwner,
		Status:       session.StatusActive,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(testTTL),
		ClientInfo:   session.ClientInfo{UserAgent: "agent/1", IPAddress: "10.1.1.1"},
		Metadata:     map[string]any{"key": "value"},
	}
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, database.DriverPostgres), mock
}

func TestFindOne_Success(t *testing.T) {
	store, mock := newMockStore(t)
	r := newTestRecord()

	rows := sqlmock.NewRows(columns).AddRow(
		r.ID, r.OwnerID, "closed", r.CreatedAt, r.LastActivity, r.ExpiresAt,
		r.ClientInfo.UserAgent, r.ClientInfo.IPAddress, []byte(`{"key":"value"}`),
	)
	mock.ExpectQuery(`SELECT .+ FROM mcp_sessions WHERE session_id = \$1`).
		WithArgs(pgTestSessID).
		WillReturnRows(rows)

	got, err := store.FindOne(context.Background(), pgTestSessID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, pgTestOwner, got.OwnerID)
	assert.Equal(t, session.StatusClosed, got.Status)
	assert.Equal(t, r.ClientInfo, got.ClientInfo)
	assert.Equal(t, "value", got.Metadata["key"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindOne_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT .+ FROM mcp_sessions").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(columns))

	got, err := store.FindOne(context.Background(), "missing")
	assert.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindOne_DBError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT .+ FROM mcp_sessions").
		WillReturnError(errors.New("connection refused"))

	_, err := store.FindOne(context.Background(), pgTestSessID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scanning session")
}

func TestFindOne_UnknownStatus(t *testing.T) {
	store, mock := newMockStore(t)
	r := newTestRecord()

	mock.ExpectQuery("SELECT .+ FROM mcp_sessions").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			r.ID, r.OwnerID, "paused", r.CreatedAt, r.LastActivity, r.ExpiresAt, "", "", nil,
		))

	_, err := store.FindOne(context.Background(), pgTestSessID)
	assert.Error(t, err)
}

func TestSave_Upsert(t *testing.T) {
	store, mock := newMockStore(t)
	r := newTestRecord()

	mock.ExpectExec(`INSERT INTO mcp_sessions .+ ON CONFLICT \(session_id\) DO UPDATE SET`).
		WithArgs(
			r.ID, r.OwnerID, "active", r.CreatedAt, r.LastActivity, r.ExpiresAt,
			r.ClientInfo.UserAgent, r.ClientInfo.IPAddress, `{"key":"value"}`,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Save(context.Background(), r))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSave_NilMetadata(t *testing.T) {
	store, mock := newMockStore(t)
	r := newTestRecord()
	r.Metadata = nil

	mock.ExpectExec("INSERT INTO mcp_sessions").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "{}").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Save(context.Background(), r))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSave_Errors(t *testing.T) {
	store, mock := newMockStore(t)

	assert.ErrorIs(t, store.Save(context.Background(), &session.Record{}), session.ErrInvalidSessionID)

	mock.ExpectExec("INSERT INTO mcp_sessions").
		WillReturnError(errors.New("connection refused"))

	err := store.Save(context.Background(), newTestRecord())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "saving session")
}

func TestDeleteMany(t *testing.T) {
	store, mock := newMockStore(t)
	cutoff := time.Now()

	mock.ExpectExec(`DELETE FROM mcp_sessions WHERE expires_at < \$1 AND status = \$2 AND owner_id = \$3`).
		WithArgs(cutoff.UTC(), "closed", pgTestOwner).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.DeleteMany(context.Background(), session.Filter{
		ExpiresBefore: cutoff,
		Status:        session.StatusClosed,
		OwnerID:       pgTestOwner,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteMany_EmptyFilter(t *testing.T) {
	store, _ := newMockStore(t)

	_, err := store.DeleteMany(context.Background(), session.Filter{})
	assert.ErrorIs(t, err, session.ErrEmptyFilter)
}

func TestDeleteMany_DBError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM mcp_sessions").
		WillReturnError(errors.New("connection refused"))

	_, err := store.DeleteMany(context.Background(), session.Filter{ExpiresBefore: time.Now()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deleting sessions")
}

func newSQLiteStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Driver: database.DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, migrate.Run(db, database.DriverSQLite))
	return New(db, database.DriverSQLite)
}

func TestSQLite_RoundTrip(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	r := newTestRecord()

	require.NoError(t, store.Save(ctx, r))

	got, err := store.FindOne(ctx, r.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, r.OwnerID, got.OwnerID)
	assert.Equal(t, session.StatusActive, got.Status)
	assert.True(t, r.ExpiresAt.Equal(got.ExpiresAt), "expires_at survives the round trip")
	assert.Equal(t, r.ClientInfo, got.ClientInfo)
	assert.Equal(t, "value", got.Metadata["key"])

	r.Status = session.StatusClosed
	r.ClientInfo.UserAgent = "agent/2"
	require.NoError(t, store.Save(ctx, r))

	got, err = store.FindOne(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusClosed, got.Status)
	assert.Equal(t, "agent/2", got.ClientInfo.UserAgent)

	missing, err := store.FindOne(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLite_DeleteManyByExpiry(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	expired := newTestRecord()
	expired.ID = "expired"
	expired.ExpiresAt = now.Add(-time.Second)
	fresh := newTestRecord()
	fresh.ID = "fresh"
	fresh.Status = session.StatusClosed
	fresh.ExpiresAt = now.Add(time.Hour)

	require.NoError(t, store.Save(ctx, expired))
	require.NoError(t, store.Save(ctx, fresh))

	n, err := store.DeleteMany(ctx, session.Filter{ExpiresBefore: now})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := store.FindOne(ctx, "fresh")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestSQLite_BacksManager(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	m := session.NewManager(session.ManagerConfig{Store: store})

	// Active record left behind by a previous process.
	now := time.Now().UTC()
	require.NoError(t, store.Save(ctx, &session.Record{
		ID: "orphan", Status: session.StatusActive, CreatedAt: now, LastActivity: now, ExpiresAt: now.Add(time.Hour),
	}))

	rec, h, err := m.GetActiveSession(ctx, "orphan", "", nil)
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Nil(t, h)

	got, err := store.FindOne(ctx, "orphan")
	require.NoError(t, err)
	assert.Equal(t, session.StatusClosed, got.Status)
}
