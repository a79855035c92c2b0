// Package token issues and redeems single-use, time-boxed bearer tokens for
// invitations and password resets. Only a one-way digest is ever stored; the
// plaintext is handed to the caller exactly once.
package token

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"opsdesk.org/internal/audit"
	"opsdesk.org/internal/ids"
)

// Purpose distinguishes the two token flows. Mechanics are identical; TTLs
// and subject metadata differ.
type Purpose string

const (
	PurposeInvitation    Purpose = "invitation"
	PurposePasswordReset Purpose = "password_reset"
)

const (
	// DefaultInvitationTTL tolerates slow human response to an onboarding mail.
	DefaultInvitationTTL = 12 * time.Hour
	// DefaultPasswordResetTTL is short because resets are security sensitive.
	DefaultPasswordResetTTL = 30 * time.Minute
)

var (
	// ErrTokenInvalid covers unknown, malformed, and already redeemed tokens.
	ErrTokenInvalid = errors.New("token: invalid")
	// ErrTokenExpired is distinct so the UI can offer "request a new one".
	ErrTokenExpired = errors.New("token: expired")
)

// Record is one issued token. Digest holds the SHA-256 of the plaintext.
type Record struct {
	ID         string
	Purpose    Purpose
	Email      string
	UserID     string // password reset subject
	RoleID     string // invitation: proposed role
	InvitedBy  string // invitation: issuing actor
	Digest     string
	ExpiresAt  time.Time
	RedeemedAt *time.Time
	CreatedAt  time.Time
}

// Store persists token records.
type Store interface {
	// DeleteUnredeemed removes live and expired-but-unredeemed rows for the
	// subject, so at most one live token exists per subject and purpose.
	DeleteUnredeemed(ctx context.Context, purpose Purpose, email string) (int64, error)
	Insert(ctx context.Context, rec *Record) error
	FindByDigest(ctx context.Context, purpose Purpose, digest string) (*Record, error)
	// MarkRedeemed sets the redemption timestamp only if the row is still
	// unredeemed and reports whether this call won the write.
	MarkRedeemed(ctx context.Context, purpose Purpose, id string, at time.Time) (bool, error)
}

// Digest computes the storage digest of a plaintext token.
func Digest(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// Service implements issue/verify/redeem for both purposes.
type Service struct {
	store         Store
	recorder      *audit.Service
	now           func() time.Time
	invitationTTL time.Duration
	resetTTL      time.Duration
}

// Option configures Service behavior.
type Option func(*Service)

// WithInvitationTTL overrides the invitation lifetime.
func WithInvitationTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.invitationTTL = ttl
		}
	}
}

// WithPasswordResetTTL overrides the reset lifetime.
func WithPasswordResetTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.resetTTL = ttl
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

// NewService constructs the token service.
func NewService(store Store, recorder *audit.Service, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("token: store is required")
	}
	if recorder == nil {
		return nil, errors.New("token: audit recorder is required")
	}
	svc := &Service{
		store:         store,
		recorder:      recorder,
		now:           time.Now,
		invitationTTL: DefaultInvitationTTL,
		resetTTL:      DefaultPasswordResetTTL,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

func (s *Service) ttl(purpose Purpose) (time.Duration, error) {
	switch purpose {
	case PurposeInvitation:
		return s.invitationTTL, nil
	case PurposePasswordReset:
		return s.resetTTL, nil
	default:
		return 0, fmt.Errorf("token: unknown purpose %q", purpose)
	}
}

// Issue invalidates prior unredeemed tokens for the subject, generates a
// fresh token, and persists its digest. The returned plaintext is never
// stored, logged, or written to the audit trail.
func (s *Service) Issue(ctx context.Context, rec Record) (string, *Record, error) {
	rec.Email = strings.TrimSpace(strings.ToLower(rec.Email))
	if rec.Email == "" {
		return "", nil, errors.New("token: subject email is required")
	}
	ttl, err := s.ttl(rec.Purpose)
	if err != nil {
		return "", nil, err
	}

	if _, err := s.store.DeleteUnredeemed(ctx, rec.Purpose, rec.Email); err != nil {
		return "", nil, fmt.Errorf("invalidate prior tokens: %w", err)
	}

	plaintext, err := generate()
	if err != nil {
		return "", nil, err
	}
	now := s.now().UTC()
	rec.ID = ids.New()
	rec.Digest = Digest(plaintext)
	rec.ExpiresAt = now.Add(ttl)
	rec.RedeemedAt = nil
	rec.CreatedAt = now

	if err := s.store.Insert(ctx, &rec); err != nil {
		return "", nil, err
	}

	s.recorder.Record(ctx, rec.InvitedBy, issueAction(rec.Purpose), "user", rec.UserID, map[string]any{
		"email":   rec.Email,
		"purpose": string(rec.Purpose),
	})
	return plaintext, &rec, nil
}

// Verify resolves the plaintext to an unredeemed, unexpired record without
// mutating anything, so UI pre-checks can call it repeatedly.
func (s *Service) Verify(ctx context.Context, plaintext string, purpose Purpose) (*Record, error) {
	plaintext = strings.TrimSpace(plaintext)
	if plaintext == "" {
		return nil, ErrTokenInvalid
	}
	rec, err := s.store.FindByDigest(ctx, purpose, Digest(plaintext))
	if err != nil {
		// Only a definitive miss means the token is bad; a store outage must
		// surface as such, not as a rejected token.
		if errors.Is(err, ErrTokenInvalid) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("look up token: %w", err)
	}
	if rec == nil {
		return nil, ErrTokenInvalid
	}
	if rec.RedeemedAt != nil {
		return nil, ErrTokenInvalid
	}
	if s.now().After(rec.ExpiresAt) {
		return nil, ErrTokenExpired
	}
	return rec, nil
}

// Redeem verifies the token, wins the redemption write, and only then runs
// the effect. The mark is a compare-and-set conditioned on the row being
// unredeemed, so of any number of concurrent attempts exactly one proceeds;
// the losers get ErrTokenInvalid even though Verify had just succeeded.
func (s *Service) Redeem(ctx context.Context, plaintext string, purpose Purpose, effect func(context.Context, *Record) error) (*Record, error) {
	rec, err := s.Verify(ctx, plaintext, purpose)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	won, err := s.store.MarkRedeemed(ctx, purpose, rec.ID, now)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, ErrTokenInvalid
	}
	rec.RedeemedAt = &now

	if effect != nil {
		if err := effect(ctx, rec); err != nil {
			// The token stays burned: under-delivering on a partial failure
			// beats leaving a redeemable credential behind.
			return nil, err
		}
	}

	s.recorder.Record(ctx, rec.UserID, redeemAction(rec.Purpose), "user", rec.UserID, map[string]any{
		"email":   rec.Email,
		"purpose": string(rec.Purpose),
	})
	return rec, nil
}

func issueAction(p Purpose) string {
	if p == PurposeInvitation {
		return "user.invite"
	}
	return "user.password_reset_request"
}

func redeemAction(p Purpose) string {
	if p == PurposeInvitation {
		return "user.invite_accept"
	}
	return "user.password_reset"
}

func generate() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
