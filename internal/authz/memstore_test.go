package authz

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// memStore is a threadsafe in-memory Store for tests.
type memStore struct {
	mu       sync.Mutex
	profiles map[string]*Profile
	roles    map[string]*Role
	perms    map[string]Permission
	grants   map[string]map[string]struct{} // roleID -> keys
}

func newMemStore() *memStore {
	return &memStore{
		profiles: make(map[string]*Profile),
		roles:    make(map[string]*Role),
		perms:    make(map[string]Permission),
		grants:   make(map[string]map[string]struct{}),
	}
}

func (m *memStore) Profiles(context.Context) ProfileStore       { return (*memProfiles)(m) }
func (m *memStore) Roles(context.Context) RoleStore             { return (*memRoles)(m) }
func (m *memStore) Permissions(context.Context) PermissionStore { return (*memPerms)(m) }

func (m *memStore) addRole(id, name string, superAdmin, system bool) *Role {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := &Role{ID: id, Name: name, SuperAdmin: superAdmin, System: system, CreatedAt: time.Now()}
	m.roles[id] = r
	return r
}

func (m *memStore) addProfile(id, email, status, roleID string) *Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := &Profile{ID: id, Email: email, Status: status, RoleID: roleID}
	if r, ok := m.roles[roleID]; ok {
		cp := *r
		p.Role = &cp
	}
	m.profiles[id] = p
	return p
}

func (m *memStore) seedCatalog() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range catalog {
		m.perms[p.Key] = p
	}
}

type memProfiles memStore

func (m *memProfiles) Find(_ context.Context, id string) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	if r, ok := m.roles[p.RoleID]; ok {
		rc := *r
		cp.Role = &rc
	}
	return &cp, nil
}

func (m *memProfiles) FindByEmail(_ context.Context, email string) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.profiles {
		if strings.EqualFold(p.Email, email) && p.Status != StatusDeleted {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memProfiles) CreateInvited(_ context.Context, p *Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[p.ID]; ok {
		return ErrConflict
	}
	cp := *p
	cp.Status = StatusInvited
	m.profiles[p.ID] = &cp
	return nil
}

func (m *memProfiles) Activate(_ context.Context, id, name, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok || p.Status != StatusInvited {
		return ErrNotFound
	}
	p.Status = StatusActive
	p.Name = name
	p.RoleID = roleID
	return nil
}

func (m *memProfiles) CountByRole(_ context.Context, roleID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.profiles {
		if p.RoleID == roleID && p.Status != StatusDeleted {
			n++
		}
	}
	return n, nil
}

type memRoles memStore

func (m *memRoles) Find(_ context.Context, id string) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRoles) FindByName(_ context.Context, name string) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.roles {
		if strings.EqualFold(r.Name, name) {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memRoles) List(_ context.Context) ([]Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Role
	for _, r := range m.roles {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memRoles) Create(_ context.Context, role *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.roles {
		if strings.EqualFold(r.Name, role.Name) {
			return fmt.Errorf("%w: role name %q is already taken", ErrConflict, role.Name)
		}
	}
	cp := *role
	m.roles[role.ID] = &cp
	return nil
}

func (m *memRoles) UpdateDetails(_ context.Context, id, name, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[id]
	if !ok {
		return ErrNotFound
	}
	r.Name = name
	r.Description = description
	return nil
}

func (m *memRoles) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[id]; !ok {
		return ErrNotFound
	}
	delete(m.roles, id)
	delete(m.grants, id)
	return nil
}

type memPerms memStore

func (m *memPerms) List(_ context.Context) ([]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Permission
	for _, p := range m.perms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *memPerms) ListKeys(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.perms {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *memPerms) Upsert(_ context.Context, perms []Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range perms {
		m.perms[p.Key] = p
	}
	return nil
}

func (m *memPerms) DeleteKeys(_ context.Context, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.perms, k)
		for _, set := range m.grants {
			delete(set, k)
		}
	}
	return nil
}

func (m *memPerms) GrantsForRole(_ context.Context, roleID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.grants[roleID] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *memPerms) RoleHasPermission(_ context.Context, roleID, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.grants[roleID][key]
	return ok, nil
}

func (m *memPerms) AddGrants(_ context.Context, roleID string, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.grants[roleID]
	if !ok {
		set = make(map[string]struct{})
		m.grants[roleID] = set
	}
	for _, k := range keys {
		if _, known := m.perms[k]; !known {
			return fmt.Errorf("%w: permission %s does not exist", ErrNotFound, k)
		}
		set[k] = struct{}{}
	}
	return nil
}

func (m *memPerms) RemoveGrants(_ context.Context, roleID string, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.grants[roleID], k)
	}
	return nil
}
