package httpapi

import (
	"context"
	"time"

	"opsdesk.org/internal/audit"
	"opsdesk.org/internal/authz"
	"opsdesk.org/internal/identity"
	"opsdesk.org/internal/token"
)

// Stubs implement the service interfaces with swappable function fields so
// each test only fills in what it exercises.

type stubSessions struct {
	login func(ctx context.Context, email, password string) (string, identity.Identity, time.Time, error)
}

func (s *stubSessions) Login(ctx context.Context, email, password string) (string, identity.Identity, time.Time, error) {
	return s.login(ctx, email, password)
}

type stubAuthorizer struct {
	verifyCalls int
	verify      func(ctx context.Context, credential string) (context.Context, identity.Identity, error)
	profile     func(ctx context.Context) (*authz.Profile, error)
	effective   func(ctx context.Context) ([]string, error)
	require     func(ctx context.Context, mode authz.Mode, keys ...string) error
}

func (s *stubAuthorizer) Verify(ctx context.Context, credential string) (context.Context, identity.Identity, error) {
	s.verifyCalls++
	if s.verify == nil {
		return ctx, identity.Identity{ID: "acc-1", Email: "admin@example.com"}, nil
	}
	return s.verify(ctx, credential)
}

func (s *stubAuthorizer) Profile(ctx context.Context) (*authz.Profile, error) {
	if s.profile == nil {
		return &authz.Profile{ID: "u-1", Name: "Admin", Email: "admin@example.com", Status: "active"}, nil
	}
	return s.profile(ctx)
}

func (s *stubAuthorizer) EffectivePermissions(ctx context.Context) ([]string, error) {
	if s.effective == nil {
		return nil, nil
	}
	return s.effective(ctx)
}

func (s *stubAuthorizer) RequirePermission(ctx context.Context, mode authz.Mode, keys ...string) error {
	if s.require == nil {
		return nil
	}
	return s.require(ctx, mode, keys...)
}

type stubRoles struct {
	list           func(ctx context.Context) ([]authz.Role, error)
	get            func(ctx context.Context, roleID string) (*authz.Role, []string, error)
	catalog        func(ctx context.Context) ([]authz.Permission, error)
	create         func(ctx context.Context, actorID, name, description string) (*authz.Role, error)
	updateDetails  func(ctx context.Context, actorID, roleID, name, description string) (*authz.Role, error)
	setPermissions func(ctx context.Context, actorID, roleID string, desired []string) ([]string, []string, error)
	remove         func(ctx context.Context, actorID, roleID string) error
}

func (s *stubRoles) List(ctx context.Context) ([]authz.Role, error) { return s.list(ctx) }
func (s *stubRoles) Get(ctx context.Context, roleID string) (*authz.Role, []string, error) {
	return s.get(ctx, roleID)
}
func (s *stubRoles) Catalog(ctx context.Context) ([]authz.Permission, error) { return s.catalog(ctx) }
func (s *stubRoles) Create(ctx context.Context, actorID, name, description string) (*authz.Role, error) {
	return s.create(ctx, actorID, name, description)
}
func (s *stubRoles) UpdateDetails(ctx context.Context, actorID, roleID, name, description string) (*authz.Role, error) {
	return s.updateDetails(ctx, actorID, roleID, name, description)
}
func (s *stubRoles) SetPermissions(ctx context.Context, actorID, roleID string, desired []string) ([]string, []string, error) {
	return s.setPermissions(ctx, actorID, roleID, desired)
}
func (s *stubRoles) Delete(ctx context.Context, actorID, roleID string) error {
	return s.remove(ctx, actorID, roleID)
}

type stubOnboarder struct {
	invite           func(ctx context.Context, actorID, email, roleID string) error
	verifyInvitation func(ctx context.Context, plaintext string) (*token.Record, error)
	acceptInvitation func(ctx context.Context, plaintext, name, password string) (*authz.Profile, error)
	requestReset     func(ctx context.Context, email string) error
	verifyReset      func(ctx context.Context, plaintext string) (*token.Record, error)
	resetPassword    func(ctx context.Context, plaintext, newPassword string) error
}

func (s *stubOnboarder) Invite(ctx context.Context, actorID, email, roleID string) error {
	return s.invite(ctx, actorID, email, roleID)
}
func (s *stubOnboarder) VerifyInvitation(ctx context.Context, plaintext string) (*token.Record, error) {
	return s.verifyInvitation(ctx, plaintext)
}
func (s *stubOnboarder) AcceptInvitation(ctx context.Context, plaintext, name, password string) (*authz.Profile, error) {
	return s.acceptInvitation(ctx, plaintext, name, password)
}
func (s *stubOnboarder) RequestPasswordReset(ctx context.Context, email string) error {
	return s.requestReset(ctx, email)
}
func (s *stubOnboarder) VerifyPasswordReset(ctx context.Context, plaintext string) (*token.Record, error) {
	return s.verifyReset(ctx, plaintext)
}
func (s *stubOnboarder) ResetPassword(ctx context.Context, plaintext, newPassword string) error {
	return s.resetPassword(ctx, plaintext, newPassword)
}

type stubAuditLog struct {
	query func(ctx context.Context, f audit.Filter) ([]audit.Entry, int, error)
}

func (s *stubAuditLog) Query(ctx context.Context, f audit.Filter) ([]audit.Entry, int, error) {
	return s.query(ctx, f)
}

type apiFixture struct {
	api        *API
	sessions   *stubSessions
	authorizer *stubAuthorizer
	roles      *stubRoles
	onboarder  *stubOnboarder
	auditLog   *stubAuditLog
}

func newTestAPI() *apiFixture {
	f := &apiFixture{
		sessions:   &stubSessions{},
		authorizer: &stubAuthorizer{},
		roles:      &stubRoles{},
		onboarder:  &stubOnboarder{},
		auditLog:   &stubAuditLog{},
	}
	f.api = New(f.sessions, f.authorizer, f.roles, f.onboarder, f.auditLog, ReadyProbe{}, "test")
	return f
}
