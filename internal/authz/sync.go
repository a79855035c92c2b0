package authz

import (
	"context"
	"fmt"

	"opsdesk.org/internal/audit"
)

// SyncResult summarizes one synchronizer run.
type SyncResult struct {
	Upserted int
	Deleted  int
}

// Synchronizer reconciles the code-declared catalog against the persisted
// permissions table. It runs out-of-band as a deploy step, never per-request.
type Synchronizer struct {
	store    Store
	recorder *audit.Service
}

// NewSynchronizer constructs a Synchronizer. The recorder may be nil.
func NewSynchronizer(store Store, recorder *audit.Service) (*Synchronizer, error) {
	if store == nil {
		return nil, fmt.Errorf("authz: store is required")
	}
	return &Synchronizer{store: store, recorder: recorder}, nil
}

// Sync makes the persisted table match the declaration. Stale keys are
// deleted first, cascading grant removal with them, then changed or missing
// records are upserted.
// Both phases are independently idempotent, so a crash between them is
// repaired by re-running. With an unchanged declaration the run writes
// nothing.
func (s *Synchronizer) Sync(ctx context.Context) (SyncResult, error) {
	perms := s.store.Permissions(ctx)

	persisted, err := perms.List(ctx)
	if err != nil {
		return SyncResult{}, fmt.Errorf("load persisted catalog: %w", err)
	}
	existing := make(map[string]Permission, len(persisted))
	for _, p := range persisted {
		existing[p.Key] = p
	}
	declared := make(map[string]struct{}, len(catalog))
	for _, p := range catalog {
		declared[p.Key] = struct{}{}
	}

	var stale []string
	for _, p := range persisted {
		if _, ok := declared[p.Key]; !ok {
			stale = append(stale, p.Key)
		}
	}

	// The declaration wins on conflict, so anything that differs in label,
	// group, or description is rewritten, not just missing keys.
	var changed []Permission
	for _, p := range catalog {
		if cur, ok := existing[p.Key]; !ok || cur != p {
			changed = append(changed, p)
		}
	}

	if len(stale) > 0 {
		if err := perms.DeleteKeys(ctx, stale); err != nil {
			return SyncResult{}, fmt.Errorf("delete stale permissions: %w", err)
		}
	}
	if len(changed) > 0 {
		if err := perms.Upsert(ctx, changed); err != nil {
			return SyncResult{}, fmt.Errorf("upsert declared permissions: %w", err)
		}
	}

	res := SyncResult{Upserted: len(changed), Deleted: len(stale)}
	if s.recorder != nil && (res.Upserted > 0 || res.Deleted > 0) {
		s.recorder.Record(ctx, "", "catalog.sync", "permission", "", map[string]any{
			"upserted": res.Upserted,
			"deleted":  res.Deleted,
			"stale":    stale,
		})
	}
	return res, nil
}
