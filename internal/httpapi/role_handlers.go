package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"opsdesk.org/internal/authz"
)

type createRoleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type updateRoleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type setRolePermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

type roleResponse struct {
	*authz.Role
	Permissions []string `json:"permissions"`
}

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermissions(w, r, authz.ModeAll, authz.PermRoleView) {
			return
		}
		roles, err := a.roles.List(r.Context())
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
	case http.MethodPost:
		if !a.ensurePermissions(w, r, authz.ModeAll, authz.PermRoleCreate) {
			return
		}
		var req createRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.roles.Create(r.Context(), a.actorID(r), req.Name, req.Description)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		w.Header().Set("Location", fmt.Sprintf("/v1/roles/%s", role.ID))
		writeJSON(w, http.StatusCreated, role)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/roles/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	switch {
	case len(parts) == 1:
		a.handleRole(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "permissions":
		a.handleRolePermissions(w, r, parts[0])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleRole(w http.ResponseWriter, r *http.Request, roleID string) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermissions(w, r, authz.ModeAll, authz.PermRoleView) {
			return
		}
		role, grants, err := a.roles.Get(r.Context(), roleID)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, roleResponse{Role: role, Permissions: grants})
	case http.MethodPatch:
		if !a.ensurePermissions(w, r, authz.ModeAll, authz.PermRoleEdit) {
			return
		}
		var req updateRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.roles.UpdateDetails(r.Context(), a.actorID(r), roleID, req.Name, req.Description)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, role)
	case http.MethodDelete:
		if !a.ensurePermissions(w, r, authz.ModeAll, authz.PermRoleDelete) {
			return
		}
		if err := a.roles.Delete(r.Context(), a.actorID(r), roleID); err != nil {
			handleServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) handleRolePermissions(w http.ResponseWriter, r *http.Request, roleID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	if !a.ensurePermissions(w, r, authz.ModeAll, authz.PermRoleEdit) {
		return
	}
	var req setRolePermissionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	added, removed, err := a.roles.SetPermissions(r.Context(), a.actorID(r), roleID, req.Permissions)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"added":   orEmpty(added),
		"removed": orEmpty(removed),
	})
}

func (a *API) handlePermissionCatalog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.ensurePermissions(w, r, authz.ModeAny, authz.PermRoleView, authz.PermRoleEdit) {
		return
	}
	perms, err := a.roles.Catalog(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

type inviteUserRequest struct {
	Email  string `json:"email"`
	RoleID string `json:"role_id"`
}

func (a *API) handleInviteUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermissions(w, r, authz.ModeAll, authz.PermUserInvite) {
		return
	}
	var req inviteUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	err := a.onboarding.Invite(r.Context(), a.actorID(r), req.Email, req.RoleID)
	if err != nil && !isEnumerationSafe(err) {
		handleServiceError(w, r, err)
		return
	}
	// Conflicts get the same response as success so the endpoint does not
	// confirm which emails already have accounts.
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "accepted",
	})
}

func isEnumerationSafe(err error) bool {
	return errors.Is(err, authz.ErrConflict)
}

func orEmpty(keys []string) []string {
	if keys == nil {
		return []string{}
	}
	return keys
}
