package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"opsdesk.org/internal/ids"
)

const (
	defaultIssuer     = "opsdesk"
	defaultSessionTTL = 12 * time.Hour
)

// Claims represents the session JWT claims issued on login.
type Claims struct {
	jwt.RegisteredClaims
}

// Service implements Provider with bcrypt password hashes and HS256 session
// credentials. Verification always re-reads the account row so a deleted
// identity is rejected even while its token is formally unexpired.
type Service struct {
	accounts AccountStore
	secret   []byte
	issuer   string
	ttl      time.Duration
	now      func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithSessionTTL overrides the session credential lifetime.
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithIssuer overrides the credential issuer claim.
func WithIssuer(issuer string) Option {
	return func(s *Service) {
		if strings.TrimSpace(issuer) != "" {
			s.issuer = strings.TrimSpace(issuer)
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the identity provider. The signing secret is required.
func NewService(accounts AccountStore, secret string, opts ...Option) (*Service, error) {
	if accounts == nil {
		return nil, errors.New("identity: account store is required")
	}
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("identity: auth secret is not configured")
	}
	svc := &Service{
		accounts: accounts,
		secret:   []byte(secret),
		issuer:   defaultIssuer,
		ttl:      defaultSessionTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

var _ Provider = (*Service)(nil)

// Login checks the email/password pair and issues a signed session credential.
func (s *Service) Login(ctx context.Context, email, password string) (string, Identity, time.Time, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return "", Identity{}, time.Time{}, ErrInvalidCredential
	}
	acc, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", Identity{}, time.Time{}, ErrInvalidCredential
		}
		return "", Identity{}, time.Time{}, err
	}
	// An account created through an invitation has no hash until the
	// invitation is redeemed; it cannot log in yet.
	if acc.PasswordHash == "" {
		return "", Identity{}, time.Time{}, ErrInvalidCredential
	}
	if err := VerifyPassword(acc.PasswordHash, password); err != nil {
		return "", Identity{}, time.Time{}, ErrInvalidCredential
	}

	now := s.now().UTC()
	expiresAt := now.Add(s.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   acc.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", Identity{}, time.Time{}, fmt.Errorf("sign credential: %w", err)
	}
	return signed, Identity{ID: acc.ID, Email: acc.Email}, expiresAt, nil
}

// Verify validates the credential signature and claims, then confirms the
// account still exists. A locally valid token for a deleted account fails.
func (s *Service) Verify(ctx context.Context, credential string) (Identity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return Identity{}, ErrInvalidCredential
	}
	parsed, err := jwt.ParseWithClaims(credential, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidCredential
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return s.now() }))
	if err != nil {
		return Identity{}, ErrInvalidCredential
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Identity{}, ErrInvalidCredential
	}
	if claims.Issuer != s.issuer || strings.TrimSpace(claims.Subject) == "" {
		return Identity{}, ErrInvalidCredential
	}

	acc, err := s.accounts.Find(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Identity{}, ErrInvalidCredential
		}
		return Identity{}, err
	}
	return Identity{ID: acc.ID, Email: acc.Email}, nil
}

// Create registers a passwordless identity for an invited user.
func (s *Service) Create(ctx context.Context, email string) (Identity, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return Identity{}, fmt.Errorf("identity: valid email is required")
	}
	acc := &Account{ID: ids.New(), Email: email}
	if err := s.accounts.Create(ctx, acc); err != nil {
		return Identity{}, err
	}
	return Identity{ID: acc.ID, Email: acc.Email}, nil
}

// SetPassword replaces the stored hash for the identity.
func (s *Service) SetPassword(ctx context.Context, id, password string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("identity: id is required")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	return s.accounts.SetPasswordHash(ctx, id, hash)
}

// Delete removes the identity account permanently.
func (s *Service) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("identity: id is required")
	}
	return s.accounts.Delete(ctx, id)
}
