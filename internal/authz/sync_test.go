package authz

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"opsdesk.org/internal/audit"
)

type captureAuditStore struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (c *captureAuditStore) Append(_ context.Context, entry *audit.Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, *entry)
	return nil
}

func (c *captureAuditStore) Search(context.Context, audit.Filter) ([]audit.Entry, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]audit.Entry(nil), c.entries...), len(c.entries), nil
}

func (c *captureAuditStore) DeleteBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (c *captureAuditStore) last() *audit.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) == 0 {
		return nil
	}
	e := c.entries[len(c.entries)-1]
	return &e
}

func newTestRecorder(t *testing.T) (*audit.Service, *captureAuditStore) {
	t.Helper()
	store := &captureAuditStore{}
	var n int
	svc, err := audit.NewService(store, func() string {
		n++
		return fmt.Sprintf("audit-%d", n)
	})
	if err != nil {
		t.Fatalf("audit.NewService: %v", err)
	}
	return svc, store
}

func TestSyncPopulatesEmptyCatalog(t *testing.T) {
	store := newMemStore()
	recorder, auditStore := newTestRecorder(t)
	syncer, err := NewSynchronizer(store, recorder)
	if err != nil {
		t.Fatalf("NewSynchronizer: %v", err)
	}

	res, err := syncer.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Upserted != len(Catalog()) || res.Deleted != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	keys, _ := store.Permissions(context.Background()).ListKeys(context.Background())
	if len(keys) != len(Catalog()) {
		t.Fatalf("expected %d persisted keys, got %d", len(Catalog()), len(keys))
	}
	if e := auditStore.last(); e == nil || e.Action != "catalog.sync" {
		t.Fatalf("expected catalog.sync audit entry, got %+v", e)
	}
}

func TestSyncIsIdempotent(t *testing.T) {
	store := newMemStore()
	recorder, auditStore := newTestRecorder(t)
	syncer, _ := NewSynchronizer(store, recorder)

	if _, err := syncer.Sync(context.Background()); err != nil {
		t.Fatalf("first Sync: %v", err)
	}
	before := len(auditStore.entries)

	res, err := syncer.Sync(context.Background())
	if err != nil {
		t.Fatalf("second Sync: %v", err)
	}
	if res.Upserted != 0 || res.Deleted != 0 {
		t.Fatalf("expected no writes on unchanged rerun, got %+v", res)
	}
	if len(auditStore.entries) != before {
		t.Fatalf("no-op sync must not audit, entries grew to %d", len(auditStore.entries))
	}
}

func TestSyncDeletesStaleAndRewritesChanged(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	perms := store.Permissions(ctx)

	// A key the code no longer declares, plus a declared key with a stale label.
	if err := perms.Upsert(ctx, []Permission{
		{Key: "legacy.export", Label: "Export legacy data", Group: "Legacy"},
		{Key: PermBlogView, Label: "Outdated label", Group: "Blog"},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Grant the stale key so the cascade is observable.
	role := store.addRole("r1", "Editor", false, false)
	if err := perms.AddGrants(ctx, role.ID, []string{"legacy.export"}); err != nil {
		t.Fatalf("AddGrants: %v", err)
	}

	recorder, _ := newTestRecorder(t)
	syncer, _ := NewSynchronizer(store, recorder)
	res, err := syncer.Sync(ctx)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Deleted != 1 {
		t.Fatalf("expected 1 stale deletion, got %d", res.Deleted)
	}
	if res.Upserted != len(Catalog()) {
		t.Fatalf("expected full upsert including relabel, got %d", res.Upserted)
	}

	grants, _ := perms.GrantsForRole(ctx, role.ID)
	if len(grants) != 0 {
		t.Fatalf("grants referencing a stale key must cascade away, got %v", grants)
	}
	persisted, _ := perms.List(ctx)
	for _, p := range persisted {
		if p.Key == PermBlogView && p.Label == "Outdated label" {
			t.Fatalf("declaration should win on conflicting label")
		}
	}
}
