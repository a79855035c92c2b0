package identity

import (
	"context"
	"fmt"
	"strings"
)

// BootstrapPassword sets an initial password on the account for email, but
// only while the account has none. The seeded first admin ships without a
// credential; an operator runs this once after seeding to take ownership.
// Accounts that already hold a password are refused so the command cannot be
// used to overwrite a live credential.
func BootstrapPassword(ctx context.Context, store AccountStore, email, password string) error {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrNotFound)
	}
	acc, err := store.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	if acc.PasswordHash != "" {
		return fmt.Errorf("%w: account already has a password", ErrConflict)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	return store.SetPasswordHash(ctx, acc.ID, hash)
}
