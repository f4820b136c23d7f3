package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/txn2/mcp-weather/pkg/metrics"
)

const (
	// slogKeyError is the slog attribute key for error values.
	slogKeyError = "error"

	// slogKeySessionID is the slog attribute key for session ids.
	slogKeySessionID = "session_id"

	// terminationTimeout bounds the store work done when a channel terminates
	// outside of any request.
	terminationTimeout = 10 * time.Second
)

// Close reasons recorded in metrics.
const (
	reasonClient     = "client"
	reasonTerminated = "terminated"
	reasonSelfHeal   = "self_heal"
	reasonExpired    = "expired"
)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Store Store

	// TTL is the sliding session lifetime applied on create and resume.
	TTL time.Duration

	// CloseGrace is how long a closed record is kept before the sweeper may
	// delete it.
	CloseGrace time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Manager reconciles durable session records with the live handles on this
// process. It owns every registered handle: callers never touch the registry.
// Operations on the same session id are serialized; operations on different
// ids run independently.
type Manager struct {
	store    Store
	ttl      time.Duration
	grace    time.Duration
	now      func() time.Time
	registry *registry
	locks    *idLocks
	watchers sync.WaitGroup
}

// NewManager creates a session lifecycle manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.CloseGrace <= 0 {
		cfg.CloseGrace = DefaultCloseGrace
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		store:    cfg.Store,
		ttl:      cfg.TTL,
		grace:    cfg.CloseGrace,
		now:      cfg.Now,
		registry: newRegistry(),
		locks:    newIDLocks(),
	}
}

// CreateSession registers h under id and persists an active record owned by
// ownerID. A retried create for an id that is still active updates the record
// in place. An id owned by another tenant yields ErrOwnershipConflict and an
// id whose record is terminal yields ErrSessionConflict; in both cases h is
// left untouched for the caller to discard. If persisting fails, h is
// deregistered and closed before the error is returned.
func (m *Manager) CreateSession(ctx context.Context, id string, h Handle, ownerID string, info *ClientInfo) (*Record, error) {
	if id == "" {
		return nil, ErrInvalidSessionID
	}
	if h == nil {
		return nil, errors.New("session handle is required")
	}

	unlock := m.locks.lock(id)
	defer unlock()

	existing, err := m.store.FindOne(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("looking up session: %w", err)
	}

	now := m.now()
	var rec *Record
	if existing != nil {
		if ownerMismatch(existing.OwnerID, ownerID) {
			return nil, ErrOwnershipConflict
		}
		switch existing.Status {
		case StatusActive:
			rec = existing
			rec.LastActivity = now
			rec.ExpiresAt = now.Add(m.ttl)
			if info != nil {
				rec.ClientInfo = *info
			}
		case StatusClosed, StatusExpired:
			return nil, ErrSessionConflict
		default:
			return nil, fmt.Errorf("session %s has unknown status %s", id, existing.Status)
		}
	} else {
		rec = &Record{
			ID:           id,
			OwnerID:      ownerID,
			Status:       StatusActive,
			CreatedAt:    now,
			LastActivity: now,
			ExpiresAt:    now.Add(m.ttl),
			Metadata:     make(map[string]any),
		}
		if info != nil {
			rec.ClientInfo = *info
		}
	}

	prev := m.registry.put(id, h)
	if err := m.store.Save(ctx, rec); err != nil {
		m.registry.restore(id, h, prev)
		if cerr := closeHandle(h); cerr != nil {
			slog.Warn("session: rollback close failed", slogKeySessionID, id, slogKeyError, cerr)
		}
		return nil, fmt.Errorf("saving session: %w", err)
	}

	if prev != h {
		if prev != nil {
			if cerr := closeHandle(prev); cerr != nil {
				slog.Warn("session: closing replaced handle failed", slogKeySessionID, id, slogKeyError, cerr)
			}
		}
		m.watch(id, h)
	}

	if existing == nil {
		metrics.SessionsCreated.Inc()
	}
	metrics.ActiveHandles.Set(float64(m.registry.len()))
	slog.Debug("session: created", slogKeySessionID, id, "owner", ownerID, "resumed", existing != nil)

	return rec.Clone(), nil
}

// CloseSession marks the session closed with a grace expiry and tears down
// its handle if one is registered here. It returns false without error when
// the record does not exist, belongs to another tenant, or is no longer live.
func (m *Manager) CloseSession(ctx context.Context, id, ownerID string) (bool, error) {
	unlock := m.locks.lock(id)
	defer unlock()

	rec, err := m.store.FindOne(ctx, id)
	if err != nil {
		return false, fmt.Errorf("looking up session: %w", err)
	}
	if rec == nil || ownerMismatch(rec.OwnerID, ownerID) || rec.Status != StatusActive {
		return false, nil
	}

	now := m.now()
	if !now.Before(rec.ExpiresAt) {
		return false, m.expireLocked(ctx, rec)
	}

	if err := m.closeLocked(ctx, rec, now); err != nil {
		return false, err
	}
	m.releaseHandle(id)
	metrics.SessionsClosed.WithLabelValues(reasonClient).Inc()
	slog.Debug("session: closed", slogKeySessionID, id)
	return true, nil
}

// GetActiveSession validates a resume request and returns the record and
// its handle. Not found, owned by another tenant, inactive, expired, and
// without a live handle all yield nil, nil, nil so that callers cannot tell
// them apart. A record that is active but has no handle on this process is
// closed as a side effect. On success lastActivity and expiresAt are
// refreshed and info, when given, replaces the stored client info.
func (m *Manager) GetActiveSession(ctx context.Context, id, ownerID string, info *ClientInfo) (*Record, Handle, error) {
	unlock := m.locks.lock(id)
	defer unlock()

	rec, err := m.store.FindOne(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("looking up session: %w", err)
	}
	if rec == nil {
		return nil, nil, nil
	}
	if ownerMismatch(rec.OwnerID, ownerID) {
		return nil, nil, nil
	}
	if rec.Status != StatusActive {
		return nil, nil, nil
	}

	now := m.now()
	if !now.Before(rec.ExpiresAt) {
		return nil, nil, m.expireLocked(ctx, rec)
	}

	h, ok := m.registry.get(id)
	if !ok {
		if err := m.closeLocked(ctx, rec, now); err != nil {
			return nil, nil, err
		}
		metrics.SessionsClosed.WithLabelValues(reasonSelfHeal).Inc()
		slog.Info("session: closed stale record with no live handle", slogKeySessionID, id)
		return nil, nil, nil
	}

	rec.LastActivity = now
	rec.ExpiresAt = now.Add(m.ttl)
	if info != nil {
		rec.ClientInfo = *info
	}
	if err := m.store.Save(ctx, rec); err != nil {
		return nil, nil, fmt.Errorf("saving session: %w", err)
	}
	return rec.Clone(), h, nil
}

// ExpireAndReap deletes every record whose expiry has passed, whatever its
// status, then closes every local handle whose id no longer resolves to a
// live record. Individual handle failures are logged and skipped. It returns
// the number of records deleted.
func (m *Manager) ExpireAndReap(ctx context.Context) (int64, error) {
	now := m.now()

	deleted, delErr := m.store.DeleteMany(ctx, Filter{ExpiresBefore: now})
	if delErr != nil {
		delErr = fmt.Errorf("deleting expired sessions: %w", delErr)
	}

	reaped := 0
	for _, id := range m.registry.ids() {
		if ctx.Err() != nil {
			break
		}
		if m.reapIfOrphaned(ctx, id) {
			reaped++
		}
	}

	metrics.RecordsDeleted.Add(float64(deleted))
	metrics.HandlesReaped.Add(float64(reaped))
	metrics.ActiveHandles.Set(float64(m.registry.len()))

	if reaped > 0 || deleted > 0 {
		slog.Info("session: sweep complete", "records_deleted", deleted, "handles_reaped", reaped)
	}
	return deleted, delErr
}

// reapIfOrphaned closes the handle for id when its record is gone or no
// longer live. It reports whether a handle was reaped.
func (m *Manager) reapIfOrphaned(ctx context.Context, id string) bool {
	unlock := m.locks.lock(id)
	defer unlock()

	h, ok := m.registry.get(id)
	if !ok {
		return false
	}

	rec, err := m.store.FindOne(ctx, id)
	if err != nil {
		slog.Warn("session: sweep lookup failed", slogKeySessionID, id, slogKeyError, err)
		return false
	}
	if rec != nil && rec.Live(m.now()) {
		return false
	}

	m.registry.removeIf(id, h)
	if err := closeHandle(h); err != nil {
		slog.Warn("session: reaping handle failed", slogKeySessionID, id, slogKeyError, err)
	}
	return true
}

// ActiveHandles returns the number of live handles on this process.
func (m *Manager) ActiveHandles() int {
	return m.registry.len()
}

// Shutdown closes every live handle on this process and waits for their
// watchers to finish. Records are left untouched: a later resume against
// another process self-heals them.
func (m *Manager) Shutdown(ctx context.Context) error {
	for id, h := range m.registry.drain() {
		if err := closeHandle(h); err != nil {
			slog.Warn("session: closing handle on shutdown failed", slogKeySessionID, id, slogKeyError, err)
		}
	}
	metrics.ActiveHandles.Set(0)

	done := make(chan struct{})
	go func() {
		m.watchers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for session handles: %w", ctx.Err())
	}
}

// watch waits for h to terminate and routes the notification back into
// the manager.
func (m *Manager) watch(id string, h Handle) {
	m.watchers.Add(1)
	go func() {
		defer m.watchers.Done()
		<-h.Done()
		m.handleTerminated(id, h)
	}()
}

// handleTerminated closes the record of a session whose channel ended on
// its own. Compare-and-delete on the registry makes this a no-op when the
// manager already released h through close, reap, replace, or shutdown.
func (m *Manager) handleTerminated(id string, h Handle) {
	if !m.registry.removeIf(id, h) {
		return
	}
	metrics.ActiveHandles.Set(float64(m.registry.len()))

	unlock := m.locks.lock(id)
	defer unlock()

	// A new handle registered under the same id in the meantime owns the record.
	if _, ok := m.registry.get(id); ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), terminationTimeout)
	defer cancel()

	rec, err := m.store.FindOne(ctx, id)
	if err != nil {
		slog.Warn("session: lookup after channel termination failed", slogKeySessionID, id, slogKeyError, err)
		return
	}
	if rec == nil || rec.Status != StatusActive {
		return
	}
	if err := m.closeLocked(ctx, rec, m.now()); err != nil {
		slog.Warn("session: closing after channel termination failed", slogKeySessionID, id, slogKeyError, err)
		return
	}
	metrics.SessionsClosed.WithLabelValues(reasonTerminated).Inc()
	slog.Debug("session: channel terminated", slogKeySessionID, id)
}

// closeLocked persists the closed state with a grace expiry. The caller
// holds the id lock.
func (m *Manager) closeLocked(ctx context.Context, rec *Record, now time.Time) error {
	if err := rec.transition(StatusClosed); err != nil {
		return err
	}
	rec.LastActivity = now
	rec.ExpiresAt = now.Add(m.grace)
	if err := m.store.Save(ctx, rec); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

// expireLocked persists the expired state observed lazily on access and
// releases any local handle. The caller holds the id lock.
func (m *Manager) expireLocked(ctx context.Context, rec *Record) error {
	if err := rec.transition(StatusExpired); err != nil {
		return err
	}
	if err := m.store.Save(ctx, rec); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	m.releaseHandle(rec.ID)
	metrics.SessionsClosed.WithLabelValues(reasonExpired).Inc()
	return nil
}

// releaseHandle deregisters and closes the handle for id, if any.
func (m *Manager) releaseHandle(id string) {
	h, ok := m.registry.get(id)
	if !ok {
		return
	}
	m.registry.removeIf(id, h)
	metrics.ActiveHandles.Set(float64(m.registry.len()))
	if err := closeHandle(h); err != nil {
		slog.Warn("session: closing handle failed", slogKeySessionID, id, slogKeyError, err)
	}
}

// closeHandle calls h.Close, converting a panic into an error.
func closeHandle(h Handle) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handle close panicked: %v", r)
		}
	}()
	return h.Close()
}
