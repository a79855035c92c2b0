package identity

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInvalidCredential indicates the presented credential failed verification.
	ErrInvalidCredential = errors.New("identity: invalid credential")
	// ErrNotFound indicates no identity matches the given id or email.
	ErrNotFound = errors.New("identity: not found")
	// ErrConflict indicates an identity with the same email already exists.
	ErrConflict = errors.New("identity: already exists")
)

// Identity is an externally owned account the rest of the system only reads.
type Identity struct {
	ID    string
	Email string
}

// Verifier re-validates a caller credential against the identity authority.
type Verifier interface {
	Verify(ctx context.Context, credential string) (Identity, error)
}

// Provider is the full identity collaborator surface consumed by the
// onboarding and password-reset flows.
type Provider interface {
	Verifier
	Create(ctx context.Context, email string) (Identity, error)
	SetPassword(ctx context.Context, id, password string) error
	Delete(ctx context.Context, id string) error
}

// Account is the persisted shape behind an Identity.
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AccountStore persists identity accounts.
type AccountStore interface {
	Create(ctx context.Context, acc *Account) error
	Find(ctx context.Context, id string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	SetPasswordHash(ctx context.Context, id, hash string) error
	Delete(ctx context.Context, id string) error
}
