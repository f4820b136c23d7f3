// Package tenant provides the tenant directory: durable tenant identities
// with hashed API keys, looked up by email.
package tenant

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// apiKeyBytes is the number of random bytes in a generated API key.
const apiKeyBytes = 32

var (
	// ErrDuplicateEmail is returned when a tenant with the email already exists.
	ErrDuplicateEmail = errors.New("tenant email already registered")

	// ErrInvalidTenant is returned when a tenant fails validation.
	ErrInvalidTenant = errors.New("invalid tenant")
)

// Tenant is a principal that may authenticate and own sessions.
type Tenant struct {
	ID        string
	Email     string
	KeyHash   string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Directory looks up and registers tenants.
type Directory interface {
	// FindByEmail returns the active tenant with the given email, matched
	// case-insensitively. Returns nil, nil if not found or inactive.
	FindByEmail(ctx context.Context, email string) (*Tenant, error)

	// Create registers a tenant. The email must be unique.
	Create(ctx context.Context, t *Tenant) error
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// New builds an active tenant for email holding the bcrypt hash of apiKey.
func New(email, apiKey string) (*Tenant, error) {
	email = NormalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: email %q", ErrInvalidTenant, email)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: api key is required", ErrInvalidTenant)
	}

	hash, err := HashKey(apiKey)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &Tenant{
		ID:        uuid.NewString(),
		Email:     email,
		KeyHash:   hash,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// HashKey returns the bcrypt hash of an API key.
func HashKey(apiKey string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(apiKey), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing api key: %w", err)
	}
	return string(hash), nil
}

// CompareKey reports whether apiKey matches the stored hash.
func CompareKey(hash, apiKey string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(apiKey)) == nil
}

// GenerateKey returns a new random API key.
func GenerateKey() (string, error) {
	b := make([]byte, apiKeyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating api key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
