package authz

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"opsdesk.org/internal/audit"
	"opsdesk.org/internal/ids"
)

// RoleService applies role and grant mutations. Every mutation emits one
// audit entry summarizing what changed.
type RoleService struct {
	store    Store
	recorder *audit.Service
}

// NewRoleService constructs the role engine.
func NewRoleService(store Store, recorder *audit.Service) (*RoleService, error) {
	if store == nil {
		return nil, errors.New("authz: store is required")
	}
	if recorder == nil {
		return nil, errors.New("authz: audit recorder is required")
	}
	return &RoleService{store: store, recorder: recorder}, nil
}

// List returns all roles.
func (s *RoleService) List(ctx context.Context) ([]Role, error) {
	return s.store.Roles(ctx).List(ctx)
}

// Get returns a single role with its grants resolved.
func (s *RoleService) Get(ctx context.Context, roleID string) (*Role, []string, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return nil, nil, fmt.Errorf("%w: role id is required", ErrInvalidInput)
	}
	role, err := s.store.Roles(ctx).Find(ctx, roleID)
	if err != nil {
		return nil, nil, err
	}
	if role.SuperAdmin {
		// The super admin set is implicit: the whole live catalog.
		keys, err := s.store.Permissions(ctx).ListKeys(ctx)
		if err != nil {
			return nil, nil, err
		}
		sort.Strings(keys)
		return role, keys, nil
	}
	grants, err := s.store.Permissions(ctx).GrantsForRole(ctx, roleID)
	if err != nil {
		return nil, nil, err
	}
	sort.Strings(grants)
	return role, grants, nil
}

// Catalog returns the persisted permission projection for display.
func (s *RoleService) Catalog(ctx context.Context) ([]Permission, error) {
	return s.store.Permissions(ctx).List(ctx)
}

// Create adds a new role. System and super admin flags are never settable
// through this path; those roles are seeded.
func (s *RoleService) Create(ctx context.Context, actorID, name, description string) (*Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	description = strings.TrimSpace(description)

	roles := s.store.Roles(ctx)
	if existing, err := roles.FindByName(ctx, name); err == nil && existing != nil {
		return nil, fmt.Errorf("%w: role name %q is already taken", ErrConflict, name)
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	role := &Role{ID: ids.New(), Name: name, Description: description}
	if err := roles.Create(ctx, role); err != nil {
		return nil, err
	}
	s.recorder.Record(ctx, actorID, "role.create", "role", role.ID, map[string]any{
		"name": role.Name,
	})
	return role, nil
}

// UpdateDetails renames a role or changes its description.
func (s *RoleService) UpdateDetails(ctx context.Context, actorID, roleID, name, description string) (*Role, error) {
	roleID = strings.TrimSpace(roleID)
	name = strings.TrimSpace(name)
	if roleID == "" {
		return nil, fmt.Errorf("%w: role id is required", ErrInvalidInput)
	}
	if name == "" {
		return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	description = strings.TrimSpace(description)

	roles := s.store.Roles(ctx)
	role, err := roles.Find(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if role.SuperAdmin {
		return nil, fmt.Errorf("%w: the super admin role cannot be modified", ErrForbidden)
	}
	if existing, err := roles.FindByName(ctx, name); err == nil && existing != nil && existing.ID != roleID {
		return nil, fmt.Errorf("%w: role name %q is already taken", ErrConflict, name)
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if err := roles.UpdateDetails(ctx, roleID, name, description); err != nil {
		return nil, err
	}
	s.recorder.Record(ctx, actorID, "role.update", "role", roleID, map[string]any{
		"old_name": role.Name,
		"new_name": name,
	})
	role.Name = name
	role.Description = description
	return role, nil
}

// SetPermissions replaces the role's grant set with the desired keys.
// Removals are applied before additions so a partial failure can only leave
// the role under-provisioned, never holding a superset of the request.
func (s *RoleService) SetPermissions(ctx context.Context, actorID, roleID string, desired []string) (added, removed []string, err error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return nil, nil, fmt.Errorf("%w: role id is required", ErrInvalidInput)
	}

	roles := s.store.Roles(ctx)
	role, err := roles.Find(ctx, roleID)
	if err != nil {
		return nil, nil, err
	}
	if role.SuperAdmin {
		return nil, nil, fmt.Errorf("%w: the super admin role cannot be modified", ErrForbidden)
	}

	perms := s.store.Permissions(ctx)
	known, err := perms.ListKeys(ctx)
	if err != nil {
		return nil, nil, err
	}
	knownSet := make(map[string]struct{}, len(known))
	for _, k := range known {
		knownSet[k] = struct{}{}
	}

	desiredSet := make(map[string]struct{}, len(desired))
	var unknown []string
	for _, k := range desired {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, ok := knownSet[k]; !ok {
			unknown = append(unknown, k)
			continue
		}
		desiredSet[k] = struct{}{}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, nil, fmt.Errorf("%w: unknown permission keys: %s", ErrInvalidInput, strings.Join(unknown, ", "))
	}

	current, err := perms.GrantsForRole(ctx, roleID)
	if err != nil {
		return nil, nil, err
	}
	currentSet := make(map[string]struct{}, len(current))
	for _, k := range current {
		currentSet[k] = struct{}{}
	}

	for k := range desiredSet {
		if _, ok := currentSet[k]; !ok {
			added = append(added, k)
		}
	}
	for k := range currentSet {
		if _, ok := desiredSet[k]; !ok {
			removed = append(removed, k)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	if len(added) == 0 && len(removed) == 0 {
		return nil, nil, nil
	}

	if len(removed) > 0 {
		if err := perms.RemoveGrants(ctx, roleID, removed); err != nil {
			return nil, nil, err
		}
	}
	if len(added) > 0 {
		if err := perms.AddGrants(ctx, roleID, added); err != nil {
			return nil, nil, err
		}
	}

	s.recorder.Record(ctx, actorID, "role.permissions_update", "role", roleID, map[string]any{
		"role_name": role.Name,
		"added":     added,
		"removed":   removed,
	})
	return added, removed, nil
}

// Delete removes a role that is not super admin, not a seeded system role,
// and not referenced by any non-deleted profile.
func (s *RoleService) Delete(ctx context.Context, actorID, roleID string) error {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return fmt.Errorf("%w: role id is required", ErrInvalidInput)
	}

	roles := s.store.Roles(ctx)
	role, err := roles.Find(ctx, roleID)
	if err != nil {
		return err
	}
	if role.SuperAdmin {
		return fmt.Errorf("%w: the super admin role cannot be deleted", ErrForbidden)
	}
	if role.System {
		return fmt.Errorf("%w: system role %q cannot be deleted", ErrForbidden, role.Name)
	}

	n, err := s.store.Profiles(ctx).CountByRole(ctx, roleID)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%w: %d user(s) are still assigned to role %q", ErrConflict, n, role.Name)
	}

	if err := roles.Delete(ctx, roleID); err != nil {
		return err
	}
	s.recorder.Record(ctx, actorID, "role.delete", "role", roleID, map[string]any{
		"name": role.Name,
	})
	return nil
}
