// Package pg implements the persistence interfaces on PostgreSQL.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"opsdesk.org/internal/audit"
	"opsdesk.org/internal/authz"
	"opsdesk.org/internal/identity"
	"opsdesk.org/internal/token"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// Store hands out per-concern store implementations over one pool.
type Store struct {
	db *sql.DB
}

var _ authz.Store = (*Store)(nil)

// Open connects to PostgreSQL with tuned pool defaults.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewStore wraps an existing connection (used by tests with sqlmock).
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Profiles(context.Context) authz.ProfileStore { return &profileStore{db: s.db} }
func (s *Store) Roles(context.Context) authz.RoleStore       { return &roleStore{db: s.db} }
func (s *Store) Permissions(context.Context) authz.PermissionStore {
	return &permissionStore{db: s.db}
}

// Tokens returns the single-use token store.
func (s *Store) Tokens() token.Store { return &tokenStore{db: s.db} }

// AuditLogs returns the append-only audit store.
func (s *Store) AuditLogs() audit.Store { return &auditStore{db: s.db} }

// Accounts returns the identity account store.
func (s *Store) Accounts() identity.AccountStore { return &accountStore{db: s.db} }

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
