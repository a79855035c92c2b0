package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"opsdesk.org/internal/audit"
)

type auditStore struct{ db *sql.DB }

func (s *auditStore) Append(ctx context.Context, entry *audit.Entry) error {
	var meta any
	if len(entry.Metadata) > 0 {
		raw, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("encode audit metadata: %w", err)
		}
		meta = raw
	}
	_, err := s.db.ExecContext(ctx, `
		insert into audit_logs (id, actor_id, action, target_type, target_id, metadata, created_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, entry.ID, nullIfEmpty(entry.ActorID), entry.Action,
		nullIfEmpty(entry.TargetType), nullIfEmpty(entry.TargetID), meta, entry.CreatedAt)
	return err
}

func (s *auditStore) Search(ctx context.Context, f audit.Filter) ([]audit.Entry, int, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if f.ActorID != "" {
		add("actor_id = $%d", f.ActorID)
	}
	if f.TargetType != "" {
		add("target_type = $%d", f.TargetType)
	}
	if !f.From.IsZero() {
		add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("created_at <= $%d", f.To)
	}
	cond := ""
	if len(where) > 0 {
		cond = " where " + strings.Join(where, " and ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`select count(*) from audit_logs`+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := f.PerPage
	offset := (f.Page - 1) * f.PerPage
	query := fmt.Sprintf(`
		select id, coalesce(actor_id, ''), action, coalesce(target_type, ''),
		       coalesce(target_id, ''), metadata, created_at
		from audit_logs%s
		order by created_at desc, id desc
		limit $%d offset $%d
	`, cond, len(args)+1, len(args)+2)
	rows, err := s.db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var (
			e    audit.Entry
			meta []byte
		)
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.TargetType, &e.TargetID, &meta, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, 0, fmt.Errorf("decode audit metadata for %s: %w", e.ID, err)
			}
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

func (s *auditStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from audit_logs where created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
