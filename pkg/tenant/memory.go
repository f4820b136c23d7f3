package tenant

import (
	"context"
	"sync"
)

// MemoryDirectory implements Directory in process memory, keyed by email.
type MemoryDirectory struct {
	mu      sync.RWMutex
	tenants map[string]Tenant
}

// NewMemoryDirectory creates an empty in-memory directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{tenants: make(map[string]Tenant)}
}

// FindByEmail returns the active tenant with the given email.
func (d *MemoryDirectory) FindByEmail(_ context.Context, email string) (*Tenant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	t, ok := d.tenants[NormalizeEmail(email)]
	if !ok || !t.Active {
		return nil, nil //nolint:nilnil // Directory interface specifies nil,nil for not-found
	}
	return &t, nil
}

// Create registers a tenant.
func (d *MemoryDirectory) Create(_ context.Context, t *Tenant) error {
	email := NormalizeEmail(t.Email)
	if email == "" || t.ID == "" {
		return ErrInvalidTenant
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.tenants[email]; exists {
		return ErrDuplicateEmail
	}
	stored := *t
	stored.Email = email
	d.tenants[email] = stored
	return nil
}

// Verify interface compliance.
var _ Directory = (*MemoryDirectory)(nil)
