// Package onboarding wires the secure token flows to their effects:
// activating invited profiles and rotating passwords through the identity
// collaborator.
package onboarding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"opsdesk.org/internal/authz"
	"opsdesk.org/internal/identity"
	"opsdesk.org/internal/mail"
	"opsdesk.org/internal/obs"
	"opsdesk.org/internal/token"
)

const minPasswordLength = 8

// Service orchestrates invitations and password resets.
type Service struct {
	store   authz.Store
	tokens  *token.Service
	ident   identity.Provider
	mailer  mail.Dispatcher
	siteURL string
}

// NewService constructs the onboarding service.
func NewService(store authz.Store, tokens *token.Service, ident identity.Provider, mailer mail.Dispatcher, siteURL string) (*Service, error) {
	if store == nil || tokens == nil || ident == nil || mailer == nil {
		return nil, errors.New("onboarding: store, tokens, identity and mailer are required")
	}
	return &Service{
		store:   store,
		tokens:  tokens,
		ident:   ident,
		mailer:  mailer,
		siteURL: strings.TrimRight(siteURL, "/"),
	}, nil
}

// Invite creates an invited identity+profile for the email and sends a
// single-use onboarding link. Re-inviting a still-invited email replaces the
// previous token. An email already holding a non-deleted, non-invited
// profile yields ErrConflict; the HTTP boundary hides that behind the same
// generic response to avoid account enumeration.
func (s *Service) Invite(ctx context.Context, actorID, email, roleID string) error {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return fmt.Errorf("%w: valid email is required", authz.ErrInvalidInput)
	}
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return fmt.Errorf("%w: role id is required", authz.ErrInvalidInput)
	}

	role, err := s.store.Roles(ctx).Find(ctx, roleID)
	if err != nil {
		return err
	}
	if role.SuperAdmin {
		return fmt.Errorf("%w: users cannot be invited into the super admin role", authz.ErrForbidden)
	}

	profiles := s.store.Profiles(ctx)
	existing, err := profiles.FindByEmail(ctx, email)
	if err != nil && !errors.Is(err, authz.ErrNotFound) {
		return err
	}

	switch {
	case existing == nil || existing.Status == authz.StatusDeleted:
		id, err := s.ident.Create(ctx, email)
		if err != nil {
			if errors.Is(err, identity.ErrConflict) {
				return fmt.Errorf("%w: email already registered", authz.ErrConflict)
			}
			return err
		}
		if err := profiles.CreateInvited(ctx, &authz.Profile{
			ID:     id.ID,
			Email:  email,
			Status: authz.StatusInvited,
			RoleID: roleID,
		}); err != nil {
			return err
		}
		existing = &authz.Profile{ID: id.ID, Email: email}
	case existing.Status == authz.StatusInvited:
		// Re-invitation: keep the profile, rotate the token below.
	default:
		return fmt.Errorf("%w: a user with this email already exists", authz.ErrConflict)
	}

	plaintext, _, err := s.tokens.Issue(ctx, token.Record{
		Purpose:   token.PurposeInvitation,
		Email:     email,
		UserID:    existing.ID,
		RoleID:    roleID,
		InvitedBy: actorID,
	})
	if err != nil {
		return err
	}

	return s.mailer.Dispatch(ctx, mail.Message{
		To:       email,
		Template: mail.TemplateInvitation,
		Params: map[string]string{
			"link": mail.InvitationLink(s.siteURL, plaintext),
			"role": role.Name,
		},
	})
}

// VerifyInvitation is the non-mutating pre-check behind the accept page.
func (s *Service) VerifyInvitation(ctx context.Context, plaintext string) (*token.Record, error) {
	return s.tokens.Verify(ctx, plaintext, token.PurposeInvitation)
}

// AcceptInvitation redeems the token, sets the password on the identity, and
// activates the invited profile under the supplied display name. The profile
// takes the role carried by the redeemed token, so when a pending user was
// re-invited into a different role the latest invitation wins.
func (s *Service) AcceptInvitation(ctx context.Context, plaintext, name, password string) (*authz.Profile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", authz.ErrInvalidInput)
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}

	var activated *authz.Profile
	_, err := s.tokens.Redeem(ctx, plaintext, token.PurposeInvitation, func(ctx context.Context, rec *token.Record) error {
		profiles := s.store.Profiles(ctx)
		profile, err := profiles.Find(ctx, rec.UserID)
		if err != nil {
			return err
		}
		if profile.Status != authz.StatusInvited {
			return fmt.Errorf("%w: profile is not awaiting activation", authz.ErrConflict)
		}
		if err := s.ident.SetPassword(ctx, profile.ID, password); err != nil {
			return err
		}
		if err := profiles.Activate(ctx, profile.ID, name, rec.RoleID); err != nil {
			return err
		}
		activated, err = profiles.Find(ctx, profile.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return activated, nil
}

// RequestPasswordReset issues a reset token when the email belongs to an
// active profile and stays silent otherwise, so callers cannot probe which
// addresses exist.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return fmt.Errorf("%w: valid email is required", authz.ErrInvalidInput)
	}

	profile, err := s.store.Profiles(ctx).FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, authz.ErrNotFound) {
			obs.LogRequest(map[string]any{
				"type":  "password_reset",
				"event": "skipped_unknown_email",
			})
			return nil
		}
		return err
	}
	if profile.Status != authz.StatusActive {
		return nil
	}

	plaintext, _, err := s.tokens.Issue(ctx, token.Record{
		Purpose: token.PurposePasswordReset,
		Email:   email,
		UserID:  profile.ID,
	})
	if err != nil {
		return err
	}

	return s.mailer.Dispatch(ctx, mail.Message{
		To:       email,
		Template: mail.TemplatePasswordReset,
		Params: map[string]string{
			"link": mail.PasswordResetLink(s.siteURL, plaintext),
		},
	})
}

// VerifyPasswordReset is the non-mutating pre-check behind the reset page.
func (s *Service) VerifyPasswordReset(ctx context.Context, plaintext string) (*token.Record, error) {
	return s.tokens.Verify(ctx, plaintext, token.PurposePasswordReset)
}

// ResetPassword redeems the token and rotates the subject's password.
func (s *Service) ResetPassword(ctx context.Context, plaintext, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	_, err := s.tokens.Redeem(ctx, plaintext, token.PurposePasswordReset, func(ctx context.Context, rec *token.Record) error {
		return s.ident.SetPassword(ctx, rec.UserID, newPassword)
	})
	return err
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", authz.ErrInvalidInput, minPasswordLength)
	}
	return nil
}
