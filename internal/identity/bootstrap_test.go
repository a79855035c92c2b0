package identity

import (
	"context"
	"errors"
	"testing"
)

func TestBootstrapPasswordSetsInitialCredential(t *testing.T) {
	accounts := newMemAccounts()
	accounts.rows["a1"] = &Account{ID: "a1", Email: "admin@opsdesk.local"}
	ctx := context.Background()

	if err := BootstrapPassword(ctx, accounts, "Admin@Opsdesk.Local", "first-secret"); err != nil {
		t.Fatalf("BootstrapPassword: %v", err)
	}
	acc, err := accounts.Find(ctx, "a1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if acc.PasswordHash == "" || acc.PasswordHash == "first-secret" {
		t.Fatalf("expected hashed password, got %q", acc.PasswordHash)
	}
	if err := VerifyPassword(acc.PasswordHash, "first-secret"); err != nil {
		t.Fatalf("bootstrapped password does not verify: %v", err)
	}
}

func TestBootstrapPasswordRefusesOverwrite(t *testing.T) {
	accounts := newMemAccounts()
	hash, err := HashPassword("existing-secret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	accounts.rows["a1"] = &Account{ID: "a1", Email: "admin@opsdesk.local", PasswordHash: hash}

	err = BootstrapPassword(context.Background(), accounts, "admin@opsdesk.local", "new-secret")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	acc, _ := accounts.Find(context.Background(), "a1")
	if err := VerifyPassword(acc.PasswordHash, "existing-secret"); err != nil {
		t.Fatalf("existing credential was replaced: %v", err)
	}
}

func TestBootstrapPasswordUnknownEmail(t *testing.T) {
	err := BootstrapPassword(context.Background(), newMemAccounts(), "ghost@opsdesk.local", "whatever1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
