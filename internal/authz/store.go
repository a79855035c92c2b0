package authz

import "context"

// Store describes persistence operations required by the authorization core.
type Store interface {
	Profiles(ctx context.Context) ProfileStore
	Roles(ctx context.Context) RoleStore
	Permissions(ctx context.Context) PermissionStore
}

// ProfileStore manages local user profiles keyed by identity id.
type ProfileStore interface {
	Find(ctx context.Context, id string) (*Profile, error)
	FindByEmail(ctx context.Context, email string) (*Profile, error)
	CreateInvited(ctx context.Context, p *Profile) error
	// Activate flips an invited profile to active, recording its name and the
	// role proposed by the invitation being redeemed.
	Activate(ctx context.Context, id, name, roleID string) error
	// CountByRole counts non-deleted profiles referencing the role.
	CountByRole(ctx context.Context, roleID string) (int, error)
}

// RoleStore manages roles.
type RoleStore interface {
	Find(ctx context.Context, id string) (*Role, error)
	FindByName(ctx context.Context, name string) (*Role, error)
	List(ctx context.Context) ([]Role, error)
	Create(ctx context.Context, role *Role) error
	UpdateDetails(ctx context.Context, id, name, description string) error
	// Delete removes the role; grants cascade with it.
	Delete(ctx context.Context, id string) error
}

// PermissionStore manages the persisted catalog projection and role grants.
type PermissionStore interface {
	List(ctx context.Context) ([]Permission, error)
	ListKeys(ctx context.Context) ([]string, error)
	Upsert(ctx context.Context, perms []Permission) error
	// DeleteKeys removes catalog rows; grants referencing them cascade.
	DeleteKeys(ctx context.Context, keys []string) error

	GrantsForRole(ctx context.Context, roleID string) ([]string, error)
	// RoleHasPermission is a live membership test against persisted grants.
	RoleHasPermission(ctx context.Context, roleID, key string) (bool, error)
	AddGrants(ctx context.Context, roleID string, keys []string) error
	RemoveGrants(ctx context.Context, roleID string, keys []string) error
}
