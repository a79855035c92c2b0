package token

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"opsdesk.org/internal/audit"
)

type memTokenStore struct {
	mu   sync.Mutex
	rows map[string]*Record // id -> record
}

func newMemTokenStore() *memTokenStore {
	return &memTokenStore{rows: make(map[string]*Record)}
}

func (m *memTokenStore) DeleteUnredeemed(_ context.Context, purpose Purpose, email string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, rec := range m.rows {
		if rec.Purpose == purpose && rec.Email == email && rec.RedeemedAt == nil {
			delete(m.rows, id)
			n++
		}
	}
	return n, nil
}

func (m *memTokenStore) Insert(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.rows[rec.ID] = &cp
	return nil
}

func (m *memTokenStore) FindByDigest(_ context.Context, purpose Purpose, digest string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.rows {
		if rec.Purpose == purpose && rec.Digest == digest {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, ErrTokenInvalid
}

func (m *memTokenStore) MarkRedeemed(_ context.Context, purpose Purpose, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[id]
	if !ok || rec.Purpose != purpose || rec.RedeemedAt != nil {
		return false, nil
	}
	t := at
	rec.RedeemedAt = &t
	return true, nil
}

type nullAuditStore struct{}

func (nullAuditStore) Append(context.Context, *audit.Entry) error { return nil }
func (nullAuditStore) Search(context.Context, audit.Filter) ([]audit.Entry, int, error) {
	return nil, 0, nil
}
func (nullAuditStore) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

func newTestService(t *testing.T, store Store, opts ...Option) *Service {
	t.Helper()
	var n int
	recorder, err := audit.NewService(nullAuditStore{}, func() string {
		n++
		return fmt.Sprintf("a-%d", n)
	})
	if err != nil {
		t.Fatalf("audit.NewService: %v", err)
	}
	svc, err := NewService(store, recorder, opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestIssueStoresDigestOnly(t *testing.T) {
	store := newMemTokenStore()
	svc := newTestService(t, store)

	plaintext, rec, err := svc.Issue(context.Background(), Record{
		Purpose: PurposeInvitation,
		Email:   " User@Example.COM ",
		UserID:  "u1",
		RoleID:  "r1",
	})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if plaintext == "" || strings.ContainsAny(plaintext, "+/=") {
		t.Fatalf("expected url-safe plaintext, got %q", plaintext)
	}
	if rec.Email != "user@example.com" {
		t.Fatalf("email not normalized: %q", rec.Email)
	}
	if rec.Digest != Digest(plaintext) {
		t.Fatalf("stored digest does not match plaintext")
	}
	if rec.Digest == plaintext || strings.Contains(rec.Digest, plaintext) {
		t.Fatalf("plaintext must never be persisted")
	}
	stored := store.rows[rec.ID]
	if stored == nil || stored.Digest != rec.Digest {
		t.Fatalf("record not persisted")
	}
}

func TestIssueInvalidatesPriorUnredeemed(t *testing.T) {
	store := newMemTokenStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	first, _, err := svc.Issue(ctx, Record{Purpose: PurposeInvitation, Email: "a@b.c", UserID: "u1"})
	if err != nil {
		t.Fatalf("first Issue: %v", err)
	}
	second, _, err := svc.Issue(ctx, Record{Purpose: PurposeInvitation, Email: "a@b.c", UserID: "u1"})
	if err != nil {
		t.Fatalf("second Issue: %v", err)
	}

	if _, err := svc.Verify(ctx, first, PurposeInvitation); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("prior token should be invalidated, got %v", err)
	}
	if _, err := svc.Verify(ctx, second, PurposeInvitation); err != nil {
		t.Fatalf("fresh token should verify: %v", err)
	}
}

func TestVerifyDistinguishesExpiredFromInvalid(t *testing.T) {
	store := newMemTokenStore()
	now := time.Now().UTC()
	clock := &now
	svc := newTestService(t, store, WithClock(func() time.Time { return *clock }))
	ctx := context.Background()

	plaintext, _, err := svc.Issue(ctx, Record{Purpose: PurposePasswordReset, Email: "a@b.c", UserID: "u1"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := svc.Verify(ctx, plaintext, PurposePasswordReset); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if _, err := svc.Verify(ctx, "not-a-token", PurposePasswordReset); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
	// A token is usable up to its expiry instant, and not past it.
	later := now.Add(DefaultPasswordResetTTL + time.Second)
	clock = &later
	if _, err := svc.Verify(ctx, plaintext, PurposePasswordReset); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

// failingTokenStore simulates a backend outage on lookup.
type failingTokenStore struct {
	*memTokenStore
	findErr error
}

func (f *failingTokenStore) FindByDigest(context.Context, Purpose, string) (*Record, error) {
	return nil, f.findErr
}

func TestVerifySurfacesStoreFailures(t *testing.T) {
	outage := errors.New("connection refused")
	store := &failingTokenStore{memTokenStore: newMemTokenStore(), findErr: outage}
	svc := newTestService(t, store)

	_, err := svc.Verify(context.Background(), "some-token", PurposePasswordReset)
	if errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("store outage must not look like a bad token: %v", err)
	}
	if !errors.Is(err, outage) {
		t.Fatalf("expected the store error to surface, got %v", err)
	}
}

func TestVerifyRejectsWrongPurpose(t *testing.T) {
	store := newMemTokenStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	plaintext, _, err := svc.Issue(ctx, Record{Purpose: PurposeInvitation, Email: "a@b.c", UserID: "u1"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := svc.Verify(ctx, plaintext, PurposePasswordReset); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("cross-purpose verify must fail, got %v", err)
	}
}

func TestRedeemRunsEffectAfterWinning(t *testing.T) {
	store := newMemTokenStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	plaintext, _, err := svc.Issue(ctx, Record{Purpose: PurposeInvitation, Email: "a@b.c", UserID: "u1"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	var effectRan bool
	rec, err := svc.Redeem(ctx, plaintext, PurposeInvitation, func(_ context.Context, r *Record) error {
		if r.RedeemedAt == nil {
			t.Fatalf("effect must see the redeemed record")
		}
		effectRan = true
		return nil
	})
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if !effectRan {
		t.Fatalf("effect did not run")
	}
	if rec.RedeemedAt == nil {
		t.Fatalf("record not marked redeemed")
	}

	if _, err := svc.Redeem(ctx, plaintext, PurposeInvitation, nil); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("second redemption: expected ErrTokenInvalid, got %v", err)
	}
}

func TestRedeemEffectFailureBurnsToken(t *testing.T) {
	store := newMemTokenStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	plaintext, _, err := svc.Issue(ctx, Record{Purpose: PurposePasswordReset, Email: "a@b.c", UserID: "u1"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	boom := errors.New("downstream failed")
	if _, err := svc.Redeem(ctx, plaintext, PurposePasswordReset, func(context.Context, *Record) error {
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected effect error, got %v", err)
	}

	// The mark happened before the effect, so the token is spent.
	if _, err := svc.Verify(ctx, plaintext, PurposePasswordReset); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("token should stay burned, got %v", err)
	}
}

func TestConcurrentRedemptionHasOneWinner(t *testing.T) {
	store := newMemTokenStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	plaintext, _, err := svc.Issue(ctx, Record{Purpose: PurposeInvitation, Email: "a@b.c", UserID: "u1"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	const attempts = 16
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		wins   int
		losses int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Redeem(ctx, plaintext, PurposeInvitation, nil)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrTokenInvalid):
				losses++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
	if losses != attempts-1 {
		t.Fatalf("expected %d losers, got %d", attempts-1, losses)
	}
}
