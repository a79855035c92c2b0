package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"opsdesk.org/internal/token"
)

// tokenStore writes invitations and password reset tokens to their own
// tables. The two share the Record shape but not a schema.
type tokenStore struct{ db *sql.DB }

func (s *tokenStore) DeleteUnredeemed(ctx context.Context, purpose token.Purpose, email string) (int64, error) {
	var (
		res sql.Result
		err error
	)
	switch purpose {
	case token.PurposeInvitation:
		res, err = s.db.ExecContext(ctx, `
			delete from invitations
			where email = $1 and accepted_at is null
		`, email)
	case token.PurposePasswordReset:
		res, err = s.db.ExecContext(ctx, `
			delete from password_reset_tokens
			where email = $1 and used_at is null
		`, email)
	default:
		return 0, fmt.Errorf("unknown token purpose %q", purpose)
	}
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *tokenStore) Insert(ctx context.Context, rec *token.Record) error {
	switch rec.Purpose {
	case token.PurposeInvitation:
		_, err := s.db.ExecContext(ctx, `
			insert into invitations (id, user_id, email, role_id, token_hash, invited_by, expires_at, created_at)
			values ($1, $2, $3, $4, $5, $6, $7, $8)
		`, rec.ID, rec.UserID, rec.Email, rec.RoleID, rec.Digest, nullIfEmpty(rec.InvitedBy), rec.ExpiresAt, rec.CreatedAt)
		return err
	case token.PurposePasswordReset:
		_, err := s.db.ExecContext(ctx, `
			insert into password_reset_tokens (id, user_id, email, token_hash, expires_at, created_at)
			values ($1, $2, $3, $4, $5, $6)
		`, rec.ID, rec.UserID, rec.Email, rec.Digest, rec.ExpiresAt, rec.CreatedAt)
		return err
	default:
		return fmt.Errorf("unknown token purpose %q", rec.Purpose)
	}
}

func (s *tokenStore) FindByDigest(ctx context.Context, purpose token.Purpose, digest string) (*token.Record, error) {
	rec := token.Record{Purpose: purpose, Digest: digest}
	var (
		err      error
		redeemed sql.NullTime
	)
	switch purpose {
	case token.PurposeInvitation:
		var invitedBy sql.NullString
		err = s.db.QueryRowContext(ctx, `
			select id, user_id, email, role_id, invited_by, expires_at, accepted_at, created_at
			from invitations
			where token_hash = $1
		`, digest).Scan(&rec.ID, &rec.UserID, &rec.Email, &rec.RoleID, &invitedBy, &rec.ExpiresAt, &redeemed, &rec.CreatedAt)
		rec.InvitedBy = invitedBy.String
	case token.PurposePasswordReset:
		err = s.db.QueryRowContext(ctx, `
			select id, user_id, email, expires_at, used_at, created_at
			from password_reset_tokens
			where token_hash = $1
		`, digest).Scan(&rec.ID, &rec.UserID, &rec.Email, &rec.ExpiresAt, &redeemed, &rec.CreatedAt)
	default:
		return nil, fmt.Errorf("unknown token purpose %q", purpose)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, token.ErrTokenInvalid
	}
	if err != nil {
		return nil, err
	}
	if redeemed.Valid {
		at := redeemed.Time
		rec.RedeemedAt = &at
	}
	return &rec, nil
}

func (s *tokenStore) MarkRedeemed(ctx context.Context, purpose token.Purpose, id string, at time.Time) (bool, error) {
	var (
		res sql.Result
		err error
	)
	switch purpose {
	case token.PurposeInvitation:
		res, err = s.db.ExecContext(ctx, `
			update invitations
			set accepted_at = $2
			where id = $1 and accepted_at is null
		`, id, at)
	case token.PurposePasswordReset:
		res, err = s.db.ExecContext(ctx, `
			update password_reset_tokens
			set used_at = $2
			where id = $1 and used_at is null
		`, id, at)
	default:
		return false, fmt.Errorf("unknown token purpose %q", purpose)
	}
	if err != nil {
		return false, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return aff == 1, nil
}
