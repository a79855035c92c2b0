package authz

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"opsdesk.org/internal/identity"
	"opsdesk.org/internal/obs"
)

// Mode selects how RequirePermission combines multiple keys.
type Mode string

const (
	// ModeAll requires every listed permission.
	ModeAll Mode = "all"
	// ModeAny requires at least one listed permission.
	ModeAny Mode = "any"
)

// Resolver answers per-request identity and permission questions. It holds no
// per-caller state: identity verification is memoized only in the request
// context, and permission checks read live grants on every call so a grant
// revoked mid-session takes effect on the very next check.
type Resolver struct {
	verifier identity.Verifier
	store    Store
}

// NewResolver constructs a Resolver.
func NewResolver(verifier identity.Verifier, store Store) (*Resolver, error) {
	if verifier == nil {
		return nil, errors.New("authz: identity verifier is required")
	}
	if store == nil {
		return nil, errors.New("authz: store is required")
	}
	return &Resolver{verifier: verifier, store: store}, nil
}

// Verify validates the caller's credential against the identity provider and
// memoizes the result in the returned context. A context that already carries
// a verified identity is returned unchanged without another provider call.
func (r *Resolver) Verify(ctx context.Context, credential string) (context.Context, identity.Identity, error) {
	if id, ok := IdentityFromContext(ctx); ok {
		return ctx, id, nil
	}
	id, err := r.verifier.Verify(ctx, credential)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredential) {
			return ctx, identity.Identity{}, ErrUnauthenticated
		}
		return ctx, identity.Identity{}, err
	}
	return ContextWithIdentity(ctx, id), id, nil
}

// Profile joins the verified identity to its local profile and role. A
// missing profile is not an error: the caller decides whether that is fatal.
func (r *Resolver) Profile(ctx context.Context) (*Profile, error) {
	id, ok := IdentityFromContext(ctx)
	if !ok {
		return nil, ErrUnauthenticated
	}
	p, err := r.store.Profiles(ctx).Find(ctx, id.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

// EffectivePermissions returns the caller's permission keys, sorted. For a
// super admin this is the entire live catalog, queried now rather than
// cached, so newly declared permissions are covered immediately.
func (r *Resolver) EffectivePermissions(ctx context.Context) ([]string, error) {
	p, err := r.Profile(ctx)
	if err != nil {
		return nil, err
	}
	if p == nil || p.Status != StatusActive || p.Role == nil {
		return nil, nil
	}
	perms := r.store.Permissions(ctx)
	var keys []string
	if p.Role.SuperAdmin {
		keys, err = perms.ListKeys(ctx)
	} else {
		keys, err = perms.GrantsForRole(ctx, p.RoleID)
	}
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// HasPermission reports whether the caller holds the key. Super admin always
// does; everyone else is tested against persisted grants, not an in-memory
// snapshot, to tolerate concurrent grant changes.
func (r *Resolver) HasPermission(ctx context.Context, key string) (bool, error) {
	p, err := r.Profile(ctx)
	if err != nil {
		return false, err
	}
	if p == nil || p.Status != StatusActive || p.Role == nil {
		return false, nil
	}
	if p.Role.SuperAdmin {
		return true, nil
	}
	return r.store.Permissions(ctx).RoleHasPermission(ctx, p.RoleID, key)
}

// RequirePermission is the single guard point privileged actions call before
// mutating state. It fails with ErrUnauthorized naming the required keys and
// mode. Super admin short-circuits before any key is evaluated.
func (r *Resolver) RequirePermission(ctx context.Context, mode Mode, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if mode != ModeAll && mode != ModeAny {
		return fmt.Errorf("%w: unknown permission mode %q", ErrInvalidInput, mode)
	}

	p, err := r.Profile(ctx)
	if err != nil {
		return err
	}
	if p == nil || p.Status != StatusActive || p.Role == nil {
		obs.PermissionDenied(string(mode))
		return fmt.Errorf("%w: requires %s of [%s]", ErrUnauthorized, mode, strings.Join(keys, " "))
	}
	if p.Role.SuperAdmin {
		return nil
	}

	perms := r.store.Permissions(ctx)
	var missing []string
	held := 0
	for _, key := range keys {
		ok, err := perms.RoleHasPermission(ctx, p.RoleID, key)
		if err != nil {
			return err
		}
		if ok {
			held++
			if mode == ModeAny {
				return nil
			}
		} else {
			missing = append(missing, key)
		}
	}
	if mode == ModeAll && len(missing) == 0 {
		return nil
	}
	obs.PermissionDenied(string(mode))
	if mode == ModeAny {
		return fmt.Errorf("%w: requires any of [%s]", ErrUnauthorized, strings.Join(keys, " "))
	}
	return fmt.Errorf("%w: missing [%s] (mode all)", ErrUnauthorized, strings.Join(missing, " "))
}
