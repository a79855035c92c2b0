package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	migrationsTable = "schema_migrations"
	seedsTable      = "schema_seeds"

	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"
)

// Runner applies versioned SQL migration files and idempotent seed files
// from disk, tracking what ran in bookkeeping tables.
type Runner struct {
	db            *sql.DB
	migrationsDir string
	seedsDir      string
}

func NewRunner(db *sql.DB, migrationsDir, seedsDir string) *Runner {
	return &Runner{db: db, migrationsDir: migrationsDir, seedsDir: seedsDir}
}

// Up applies every pending .up.sql file in lexical order.
func (r *Runner) Up(ctx context.Context) ([]string, error) {
	if err := r.ensureBookkeeping(ctx); err != nil {
		return nil, err
	}
	done, err := r.recorded(ctx, migrationsTable)
	if err != nil {
		return nil, err
	}
	files, err := listSQL(r.migrationsDir, upSuffix)
	if err != nil {
		return nil, err
	}
	var applied []string
	for _, f := range files {
		if done[f] {
			continue
		}
		if err := r.runFile(ctx, filepath.Join(r.migrationsDir, f)); err != nil {
			return applied, fmt.Errorf("migration %s: %w", f, err)
		}
		if err := r.record(ctx, migrationsTable, f); err != nil {
			return applied, err
		}
		applied = append(applied, f)
	}
	return applied, nil
}

// Down reverts the most recently applied migration using its .down.sql twin.
func (r *Runner) Down(ctx context.Context) (string, error) {
	if err := r.ensureBookkeeping(ctx); err != nil {
		return "", err
	}
	applied, err := r.Applied(ctx)
	if err != nil {
		return "", err
	}
	if len(applied) == 0 {
		return "", errors.New("migrate: nothing to roll back")
	}
	last := applied[len(applied)-1]
	down := strings.TrimSuffix(last, upSuffix) + downSuffix
	path := filepath.Join(r.migrationsDir, down)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("migrate: no down file for %s", last)
	}
	if err := r.runFile(ctx, path); err != nil {
		return "", fmt.Errorf("rollback %s: %w", last, err)
	}
	_, err = r.db.ExecContext(ctx,
		`delete from `+migrationsTable+` where name = $1`, last)
	return last, err
}

// Applied lists applied migrations in application order.
func (r *Runner) Applied(ctx context.Context) ([]string, error) {
	if err := r.ensureBookkeeping(ctx); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx,
		`select name from `+migrationsTable+` order by applied_at, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Seed runs each seed file at most once.
func (r *Runner) Seed(ctx context.Context) ([]string, error) {
	if r.seedsDir == "" {
		return nil, nil
	}
	if err := r.ensureBookkeeping(ctx); err != nil {
		return nil, err
	}
	done, err := r.recorded(ctx, seedsTable)
	if err != nil {
		return nil, err
	}
	files, err := listSQL(r.seedsDir, ".sql")
	if err != nil {
		return nil, err
	}
	var applied []string
	for _, f := range files {
		if done[f] {
			continue
		}
		if err := r.runFile(ctx, filepath.Join(r.seedsDir, f)); err != nil {
			return applied, fmt.Errorf("seed %s: %w", f, err)
		}
		if err := r.record(ctx, seedsTable, f); err != nil {
			return applied, err
		}
		applied = append(applied, f)
	}
	return applied, nil
}

func (r *Runner) ensureBookkeeping(ctx context.Context) error {
	for _, table := range []string{migrationsTable, seedsTable} {
		_, err := r.db.ExecContext(ctx, `
			create table if not exists `+table+` (
				name text primary key,
				applied_at timestamptz not null default now()
			)`)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) recorded(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, `select name from `+table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	done := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		done[name] = true
	}
	return done, rows.Err()
}

func (r *Runner) record(ctx context.Context, table, name string) error {
	_, err := r.db.ExecContext(ctx,
		`insert into `+table+` (name, applied_at) values ($1, $2)`,
		name, time.Now().UTC())
	return err
}

// runFile executes one SQL file inside a transaction. Statements are split
// on semicolons because the driver sends one statement per Exec.
func (r *Runner) runFile(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range splitStatements(string(raw)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func listSQL(dir, suffix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// splitStatements breaks SQL on semicolons outside single-quoted strings.
func splitStatements(script string) []string {
	var (
		stmts    []string
		current  strings.Builder
		inString bool
	)
	for _, r := range script {
		switch r {
		case '\'':
			inString = !inString
			current.WriteRune(r)
		case ';':
			if inString {
				current.WriteRune(r)
				continue
			}
			if s := strings.TrimSpace(current.String()); s != "" {
				stmts = append(stmts, s)
			}
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		stmts = append(stmts, s)
	}
	return stmts
}
