// Package session implements the MCP session lifecycle: the durable session
// record, the process-local registry of live transport handles, the manager
// that reconciles the two, the expiration sweeper, and the HTTP router that
// decides per request whether to open, resume, or close a session.
package session

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"time"
)

// Default lifetimes applied when a ManagerConfig leaves them unset.
const (
	DefaultTTL        = 24 * time.Hour
	DefaultCloseGrace = 24 * time.Hour
)

// Sentinel errors returned by the manager and stores.
var (
	// ErrOwnershipConflict means the id belongs to a record owned by another tenant.
	ErrOwnershipConflict = errors.New("session owned by another tenant")

	// ErrSessionConflict means the id belongs to a closed or expired record.
	ErrSessionConflict = errors.New("session id already used by a terminated session")

	// ErrInvalidTransition means a status change would leave a terminal state.
	ErrInvalidTransition = errors.New("invalid session status transition")

	// ErrEmptyFilter guards DeleteMany against an unconstrained delete.
	ErrEmptyFilter = errors.New("delete filter must constrain at least one field")

	// ErrInvalidSessionID rejects empty session ids.
	ErrInvalidSessionID = errors.New("session id is required")
)

// Status is the lifecycle state of a session record.
type Status int

// Session statuses. Closed and Expired are terminal.
const (
	StatusActive Status = iota + 1
	StatusClosed
	StatusExpired
)

// String returns the persisted form of the status.
func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusClosed:
		return "closed"
	case StatusExpired:
		return "expired"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ParseStatus converts a persisted status back to a Status.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "active":
		return StatusActive, nil
	case "closed":
		return StatusClosed, nil
	case "expired":
		return StatusExpired, nil
	default:
		return 0, fmt.Errorf("unknown session status %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	switch s {
	case StatusActive, StatusClosed, StatusExpired:
		return []byte(s.String()), nil
	default:
		return nil, fmt.Errorf("unknown session status %d", int(s))
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Terminal reports whether no transition can leave this status.
func (s Status) Terminal() bool {
	switch s {
	case StatusClosed, StatusExpired:
		return true
	case StatusActive:
		return false
	default:
		return true
	}
}

// CanTransition reports whether a record in status s may move to status to.
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusActive:
		switch to {
		case StatusActive, StatusClosed, StatusExpired:
			return true
		default:
			return false
		}
	case StatusClosed, StatusExpired:
		return false
	default:
		return false
	}
}

// ClientInfo is the client metadata recorded at creation and on every resume.
type ClientInfo struct {
	UserAgent string `json:"userAgent,omitempty"`
	IPAddress string `json:"ipAddress,omitempty"`
}

// Record is the durable description of a session.
type Record struct {
	// ID is the opaque session identifier carried in the Mcp-Session-Id header.
	ID string

	// OwnerID is the tenant that created the session. Empty means unowned,
	// and unowned sessions may be resumed by any tenant.
	OwnerID string

	Status       Status
	CreatedAt    time.Time
	LastActivity time.Time
	ExpiresAt    time.Time
	ClientInfo   ClientInfo

	// Metadata holds free-form data attached to the session.
	Metadata map[string]any
}

// Clone returns a deep-enough copy for handing records across goroutines.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.Metadata != nil {
		c.Metadata = maps.Clone(r.Metadata)
	}
	return &c
}

// transition moves the record to a new status, refusing to leave a terminal one.
func (r *Record) transition(to Status) error {
	if !r.Status.CanTransition(to) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, r.Status, to)
	}
	r.Status = to
	return nil
}

// Live reports whether the record is active and not past its expiry.
func (r *Record) Live(now time.Time) bool {
	return r.Status == StatusActive && now.Before(r.ExpiresAt)
}

// ownerMismatch is true only when both owners are known and differ.
func ownerMismatch(recordOwner, requestOwner string) bool {
	return recordOwner != "" && requestOwner != "" && recordOwner != requestOwner
}

// Filter selects records for DeleteMany. Zero-valued fields are ignored; at
// least one field must be set.
type Filter struct {
	// ExpiresBefore matches records whose ExpiresAt is strictly before it.
	ExpiresBefore time.Time

	// Status matches records with this status.
	Status Status

	// OwnerID matches records owned by this tenant.
	OwnerID string
}

// IsEmpty reports whether the filter constrains nothing.
func (f Filter) IsEmpty() bool {
	return f.ExpiresBefore.IsZero() && f.Status == 0 && f.OwnerID == ""
}

// Matches reports whether r satisfies every set field of the filter.
func (f Filter) Matches(r *Record) bool {
	if !f.ExpiresBefore.IsZero() && !r.ExpiresAt.Before(f.ExpiresBefore) {
		return false
	}
	if f.Status != 0 && r.Status != f.Status {
		return false
	}
	if f.OwnerID != "" && r.OwnerID != f.OwnerID {
		return false
	}
	return true
}

// Store persists session records. Implementations must keep exactly one
// record per ID.
type Store interface {
	// FindOne retrieves a record by ID. Returns nil, nil if not found.
	FindOne(ctx context.Context, id string) (*Record, error)

	// Save inserts or replaces the record with the same ID.
	Save(ctx context.Context, r *Record) error

	// DeleteMany removes every record matching the filter and returns the
	// number removed. An empty filter returns ErrEmptyFilter.
	DeleteMany(ctx context.Context, f Filter) (int64, error)
}

// Handle is a live, process-local communication channel bound to one
// session. It is never persisted.
type Handle interface {
	http.Handler

	// Bind connects the channel to the protocol server. It is called once,
	// after the session has been created.
	Bind(ctx context.Context) error

	// Close terminates the channel. It must be idempotent.
	Close() error

	// Done is closed exactly once when the channel terminates for any reason.
	Done() <-chan struct{}
}

// HandleFactory constructs new, unbound handles for freshly generated ids.
type HandleFactory interface {
	NewHandle(ctx context.Context, sessionID string) (Handle, error)
}
