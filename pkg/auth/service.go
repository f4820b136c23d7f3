package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/txn2/mcp-weather/pkg/tenant"
)

// Defaults applied when a ServiceConfig leaves them unset.
const (
	DefaultTokenTTL = time.Hour
	DefaultIssuer   = "mcp-weather"
)

var (
	// ErrMissingCredentials is returned when email or key is empty.
	ErrMissingCredentials = errors.New("email and api key are required")

	// ErrInvalidCredentials is returned for an unknown email or wrong key.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken is returned when a token fails verification.
	ErrInvalidToken = errors.New("invalid token")
)

// dummyHash is compared against when the email is unknown so that the
// response time does not reveal which emails are registered.
var dummyHash, _ = tenant.HashKey("not-a-real-key")

// ServiceConfig configures the credential service.
type ServiceConfig struct {
	// Secret is the HMAC key used to sign and verify tokens.
	Secret []byte

	// Issuer is written to and required in the iss claim.
	Issuer string

	// TokenTTL is the lifetime of issued tokens.
	TokenTTL time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Claims are the JWT claims of an identity token. The subject is the tenant id.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// TokenResponse is the result of a successful or failed authentication.
type TokenResponse struct {
	Success   bool   `json:"success"`
	Token     string `json:"token,omitempty"`
	Message   string `json:"message"`
	ExpiresIn int64  `json:"expiresIn,omitempty"`
}

// Service authenticates tenants against the directory and issues and
// verifies HS256 identity tokens.
type Service struct {
	directory tenant.Directory
	secret    []byte
	issuer    string
	ttl       time.Duration
	now       func() time.Time
}

// NewService creates a credential service.
func NewService(dir tenant.Directory, cfg ServiceConfig) (*Service, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("jwt secret is required")
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		directory: dir,
		secret:    cfg.Secret,
		issuer:    cfg.Issuer,
		ttl:       cfg.TokenTTL,
		now:       cfg.Now,
	}, nil
}

// Authenticate checks email and key against the directory and returns a
// signed token on success.
func (s *Service) Authenticate(ctx context.Context, email, apiKey string) (*TokenResponse, error) {
	if email == "" || apiKey == "" {
		return nil, ErrMissingCredentials
	}

	t, err := s.directory.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("looking up tenant: %w", err)
	}
	if t == nil {
		_ = tenant.CompareKey(dummyHash, apiKey)
		return nil, ErrInvalidCredentials
	}
	if !tenant.CompareKey(t.KeyHash, apiKey) {
		return nil, ErrInvalidCredentials
	}

	token, err := s.IssueToken(t)
	if err != nil {
		return nil, err
	}
	return &TokenResponse{
		Success:   true,
		Token:     token,
		Message:   "Authentication successful",
		ExpiresIn: int64(s.ttl.Seconds()),
	}, nil
}

// IssueToken signs a token for the tenant.
func (s *Service) IssueToken(t *tenant.Tenant) (string, error) {
	now := s.now()
	claims := Claims{
		Email: t.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			Subject:   t.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// VerifyToken validates signature, issuer and expiry and returns the identity.
func (s *Service) VerifyToken(token string) (*Identity, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	return &Identity{TenantID: claims.Subject, Email: claims.Email}, nil
}

// TTL returns the lifetime of issued tokens.
func (s *Service) TTL() time.Duration {
	return s.ttl
}
