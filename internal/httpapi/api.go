package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"opsdesk.org/internal/audit"
	"opsdesk.org/internal/authz"
	"opsdesk.org/internal/identity"
	"opsdesk.org/internal/obs"
	"opsdesk.org/internal/token"
)

// ReadyProbe reports whether the service can reach its database.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Sessions exchanges credentials for a bearer token.
type Sessions interface {
	Login(ctx context.Context, email, password string) (string, identity.Identity, time.Time, error)
}

// Authorizer resolves a bearer token to a profile and answers grant checks.
type Authorizer interface {
	Verify(ctx context.Context, credential string) (context.Context, identity.Identity, error)
	Profile(ctx context.Context) (*authz.Profile, error)
	EffectivePermissions(ctx context.Context) ([]string, error)
	RequirePermission(ctx context.Context, mode authz.Mode, keys ...string) error
}

// RoleDirectory manages roles and their grants.
type RoleDirectory interface {
	List(ctx context.Context) ([]authz.Role, error)
	Get(ctx context.Context, roleID string) (*authz.Role, []string, error)
	Catalog(ctx context.Context) ([]authz.Permission, error)
	Create(ctx context.Context, actorID, name, description string) (*authz.Role, error)
	UpdateDetails(ctx context.Context, actorID, roleID, name, description string) (*authz.Role, error)
	SetPermissions(ctx context.Context, actorID, roleID string, desired []string) (added, removed []string, err error)
	Delete(ctx context.Context, actorID, roleID string) error
}

// Onboarder runs the invitation and password reset flows.
type Onboarder interface {
	Invite(ctx context.Context, actorID, email, roleID string) error
	VerifyInvitation(ctx context.Context, plaintext string) (*token.Record, error)
	AcceptInvitation(ctx context.Context, plaintext, name, password string) (*authz.Profile, error)
	RequestPasswordReset(ctx context.Context, email string) error
	VerifyPasswordReset(ctx context.Context, plaintext string) (*token.Record, error)
	ResetPassword(ctx context.Context, plaintext, newPassword string) error
}

// AuditLog is the read side of the audit trail.
type AuditLog interface {
	Query(ctx context.Context, f audit.Filter) ([]audit.Entry, int, error)
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	sessions   Sessions
	authorizer Authorizer
	roles      RoleDirectory
	onboarding Onboarder
	auditLog   AuditLog
	readyProbe ReadyProbe
	version    string
}

func New(sessions Sessions, authorizer Authorizer, roles RoleDirectory, onboarder Onboarder, auditLog AuditLog, rp ReadyProbe, version string) *API {
	a := &API{
		mux:        http.NewServeMux(),
		sessions:   sessions,
		authorizer: authorizer,
		roles:      roles,
		onboarding: onboarder,
		auditLog:   auditLog,
		readyProbe: rp,
		version:    version,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/invitations/verify", a.handleVerifyInvitation)
	a.mux.HandleFunc("/v1/auth/invitations/accept", a.handleAcceptInvitation)
	a.mux.HandleFunc("/v1/auth/password-reset/request", a.handleRequestPasswordReset)
	a.mux.HandleFunc("/v1/auth/password-reset/verify", a.handleVerifyPasswordReset)
	a.mux.HandleFunc("/v1/auth/password-reset/confirm", a.handleConfirmPasswordReset)

	a.mux.HandleFunc("/v1/me", a.handleMe)
	a.mux.HandleFunc("/v1/permissions", a.handlePermissionCatalog)
	a.mux.HandleFunc("/v1/roles", a.handleRoles)
	a.mux.HandleFunc("/v1/roles/", a.handleRoleResource)
	a.mux.HandleFunc("/v1/users/invitations", a.handleInviteUser)
	a.mux.HandleFunc("/v1/audit", a.handleAuditSearch)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = obs.Instrument(h)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return h
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "opsdesk-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleServiceError maps domain sentinels to HTTP statuses. Expired tokens
// get 410 so clients can distinguish "request a new one" from "bad token".
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, authz.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, token.ErrTokenInvalid):
		writeError(w, r, http.StatusBadRequest, "invalid or already used token")
	case errors.Is(err, token.ErrTokenExpired):
		writeError(w, r, http.StatusGone, "token has expired")
	case errors.Is(err, authz.ErrUnauthenticated), errors.Is(err, identity.ErrInvalidCredential):
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, authz.ErrUnauthorized), errors.Is(err, authz.ErrForbidden):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, authz.ErrNotFound), errors.Is(err, identity.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	case errors.Is(err, authz.ErrConflict), errors.Is(err, identity.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		obs.LogError("request failed", map[string]any{
			"path":  r.URL.Path,
			"error": err.Error(),
		})
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
