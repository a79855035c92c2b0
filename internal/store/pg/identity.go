package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"opsdesk.org/internal/identity"
)

type accountStore struct{ db *sql.DB }

func (s *accountStore) Create(ctx context.Context, acc *identity.Account) error {
	_, err := s.db.ExecContext(ctx, `
		insert into accounts (id, email, password_hash)
		values ($1, $2, $3)
	`, acc.ID, acc.Email, nullIfEmpty(acc.PasswordHash))
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return fmt.Errorf("%w: account for this email already exists", identity.ErrConflict)
		}
		return err
	}
	return nil
}

func scanAccount(row interface{ Scan(...any) error }) (*identity.Account, error) {
	var acc identity.Account
	err := row.Scan(&acc.ID, &acc.Email, &acc.PasswordHash, &acc.CreatedAt, &acc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

func (s *accountStore) Find(ctx context.Context, id string) (*identity.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx, `
		select id, email, coalesce(password_hash, ''), created_at, updated_at
		from accounts where id = $1
	`, id))
}

func (s *accountStore) FindByEmail(ctx context.Context, email string) (*identity.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx, `
		select id, email, coalesce(password_hash, ''), created_at, updated_at
		from accounts where lower(email) = lower($1)
	`, email))
}

func (s *accountStore) SetPasswordHash(ctx context.Context, id, hash string) error {
	res, err := s.db.ExecContext(ctx, `
		update accounts set password_hash = $2, updated_at = now()
		where id = $1
	`, id, hash)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return identity.ErrNotFound
	}
	return nil
}

func (s *accountStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from accounts where id = $1`, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return identity.ErrNotFound
	}
	return nil
}
