package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"opsdesk.org/internal/authz"
)

// Profile store -------------------------------------------------------------

type profileStore struct{ db *sql.DB }

const profileColumns = `
	p.id, p.name, p.email, p.status, p.role_id, coalesce(p.avatar, ''),
	p.created_at, p.updated_at,
	r.id, r.name, coalesce(r.description, ''), r.is_super_admin, r.is_system,
	r.created_at, r.updated_at`

func scanProfile(row interface{ Scan(...any) error }) (*authz.Profile, error) {
	var (
		p    authz.Profile
		role authz.Role
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.Email, &p.Status, &p.RoleID, &p.Avatar,
		&p.CreatedAt, &p.UpdatedAt,
		&role.ID, &role.Name, &role.Description, &role.SuperAdmin, &role.System,
		&role.CreatedAt, &role.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, authz.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Role = &role
	return &p, nil
}

func (s *profileStore) Find(ctx context.Context, id string) (*authz.Profile, error) {
	return scanProfile(s.db.QueryRowContext(ctx, `
		select `+profileColumns+`
		from profiles p
		join roles r on r.id = p.role_id
		where p.id = $1
	`, id))
}

func (s *profileStore) FindByEmail(ctx context.Context, email string) (*authz.Profile, error) {
	return scanProfile(s.db.QueryRowContext(ctx, `
		select `+profileColumns+`
		from profiles p
		join roles r on r.id = p.role_id
		where p.email = $1 and p.status <> $2
	`, email, authz.StatusDeleted))
}

func (s *profileStore) CreateInvited(ctx context.Context, p *authz.Profile) error {
	_, err := s.db.ExecContext(ctx, `
		insert into profiles (id, name, email, status, role_id)
		values ($1, $2, $3, $4, $5)
	`, p.ID, p.Name, p.Email, authz.StatusInvited, p.RoleID)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return fmt.Errorf("%w: profile for this email already exists", authz.ErrConflict)
			case pgErrForeignKeyViolation:
				return fmt.Errorf("%w: role does not exist", authz.ErrNotFound)
			}
		}
		return err
	}
	return nil
}

func (s *profileStore) Activate(ctx context.Context, id, name, roleID string) error {
	res, err := s.db.ExecContext(ctx, `
		update profiles
		set name = $2, role_id = $3, status = $4, updated_at = now()
		where id = $1 and status = $5
	`, id, name, roleID, authz.StatusActive, authz.StatusInvited)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return fmt.Errorf("%w: role does not exist", authz.ErrNotFound)
		}
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return fmt.Errorf("%w: no invited profile to activate", authz.ErrNotFound)
	}
	return nil
}

func (s *profileStore) CountByRole(ctx context.Context, roleID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		select count(*) from profiles
		where role_id = $1 and status <> $2
	`, roleID, authz.StatusDeleted).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Role store ----------------------------------------------------------------

type roleStore struct{ db *sql.DB }

const roleColumns = `id, name, coalesce(description, ''), is_super_admin, is_system, created_at, updated_at`

func scanRole(row interface{ Scan(...any) error }) (*authz.Role, error) {
	var r authz.Role
	err := row.Scan(&r.ID, &r.Name, &r.Description, &r.SuperAdmin, &r.System, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, authz.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *roleStore) Find(ctx context.Context, id string) (*authz.Role, error) {
	return scanRole(s.db.QueryRowContext(ctx,
		`select `+roleColumns+` from roles where id = $1`, id))
}

func (s *roleStore) FindByName(ctx context.Context, name string) (*authz.Role, error) {
	return scanRole(s.db.QueryRowContext(ctx,
		`select `+roleColumns+` from roles where lower(name) = lower($1)`, name))
}

func (s *roleStore) List(ctx context.Context) ([]authz.Role, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+roleColumns+` from roles order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []authz.Role
	for rows.Next() {
		var r authz.Role
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.SuperAdmin, &r.System, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

func (s *roleStore) Create(ctx context.Context, role *authz.Role) error {
	_, err := s.db.ExecContext(ctx, `
		insert into roles (id, name, description, is_super_admin, is_system)
		values ($1, $2, $3, false, false)
	`, role.ID, role.Name, nullIfEmpty(role.Description))
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return fmt.Errorf("%w: role name %q is already taken", authz.ErrConflict, role.Name)
		}
		return err
	}
	return nil
}

func (s *roleStore) UpdateDetails(ctx context.Context, id, name, description string) error {
	res, err := s.db.ExecContext(ctx, `
		update roles
		set name = $2, description = $3, updated_at = now()
		where id = $1
	`, id, name, nullIfEmpty(description))
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return fmt.Errorf("%w: role name %q is already taken", authz.ErrConflict, name)
		}
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return authz.ErrNotFound
	}
	return nil
}

func (s *roleStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from roles where id = $1`, id)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return fmt.Errorf("%w: role is still referenced", authz.ErrConflict)
		}
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return authz.ErrNotFound
	}
	return nil
}

// Permission store ----------------------------------------------------------

type permissionStore struct{ db *sql.DB }

func (s *permissionStore) List(ctx context.Context) ([]authz.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select key, label, group_name, coalesce(description, '')
		from permissions
		order by group_name, key
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []authz.Permission
	for rows.Next() {
		var p authz.Permission
		if err := rows.Scan(&p.Key, &p.Label, &p.Group, &p.Description); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

func (s *permissionStore) ListKeys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `select key from permissions order by key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *permissionStore) Upsert(ctx context.Context, perms []authz.Permission) error {
	if len(perms) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range perms {
		if _, err := tx.ExecContext(ctx, `
			insert into permissions (key, label, group_name, description)
			values ($1, $2, $3, $4)
			on conflict (key) do update
			set label = excluded.label,
			    group_name = excluded.group_name,
			    description = excluded.description
		`, p.Key, p.Label, p.Group, nullIfEmpty(p.Description)); err != nil {
			return fmt.Errorf("upsert permission %s: %w", p.Key, err)
		}
	}
	return tx.Commit()
}

func (s *permissionStore) DeleteKeys(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	// Grants cascade with the catalog rows via the FK.
	placeholders := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = k
	}
	_, err := s.db.ExecContext(ctx,
		`delete from permissions where key in (`+strings.Join(placeholders, ", ")+`)`, args...)
	return err
}

func (s *permissionStore) GrantsForRole(ctx context.Context, roleID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select permission_key from role_permissions
		where role_id = $1
		order by permission_key
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *permissionStore) RoleHasPermission(ctx context.Context, roleID, key string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		select 1 from role_permissions
		where role_id = $1 and permission_key = $2
	`, roleID, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *permissionStore) AddGrants(ctx context.Context, roleID string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, permission_key)
			values ($1, $2)
			on conflict do nothing
		`, roleID, k); err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
				return fmt.Errorf("%w: permission %s does not exist", authz.ErrNotFound, k)
			}
			return err
		}
	}
	return tx.Commit()
}

func (s *permissionStore) RemoveGrants(ctx context.Context, roleID string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	placeholders := make([]string, len(keys))
	args := make([]any, 0, len(keys)+1)
	args = append(args, roleID)
	for i, k := range keys {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, k)
	}
	_, err := s.db.ExecContext(ctx, `
		delete from role_permissions
		where role_id = $1 and permission_key in (`+strings.Join(placeholders, ", ")+`)
	`, args...)
	return err
}
