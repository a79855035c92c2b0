package httpapi

import (
	"net/http"
	"strings"
	"time"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}
	session, _, expiresAt, err := a.sessions.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: session, ExpiresAt: expiresAt})
}

type tokenPayload struct {
	Token string `json:"token"`
}

type invitationPrecheckResponse struct {
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

// precheckToken pulls the plaintext token from the query on GET or from a
// JSON body on POST. The frontend prechecks via GET before showing the form.
func precheckToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	switch r.Method {
	case http.MethodGet:
		return r.URL.Query().Get("token"), true
	case http.MethodPost:
		var req tokenPayload
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return "", false
		}
		return req.Token, true
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		return "", false
	}
}

func (a *API) handleVerifyInvitation(w http.ResponseWriter, r *http.Request) {
	plaintext, ok := precheckToken(w, r)
	if !ok {
		return
	}
	rec, err := a.onboarding.VerifyInvitation(r.Context(), plaintext)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invitationPrecheckResponse{
		Email:     rec.Email,
		ExpiresAt: rec.ExpiresAt,
	})
}

type acceptInvitationRequest struct {
	Token    string `json:"token"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

func (a *API) handleAcceptInvitation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req acceptInvitationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	profile, err := a.onboarding.AcceptInvitation(r.Context(), req.Token, req.Name, req.Password)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

type passwordResetRequest struct {
	Email string `json:"email"`
}

func (a *API) handleRequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req passwordResetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, r, http.StatusBadRequest, "email is required")
		return
	}
	// The response never reveals whether the email is known.
	if err := a.onboarding.RequestPasswordReset(r.Context(), req.Email); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "accepted",
	})
}

func (a *API) handleVerifyPasswordReset(w http.ResponseWriter, r *http.Request) {
	plaintext, ok := precheckToken(w, r)
	if !ok {
		return
	}
	rec, err := a.onboarding.VerifyPasswordReset(r.Context(), plaintext)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"email":      rec.Email,
		"expires_at": rec.ExpiresAt,
	})
}

type confirmPasswordResetRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (a *API) handleConfirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req confirmPasswordResetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.onboarding.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "password_updated",
	})
}

type meResponse struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Email       string   `json:"email"`
	Status      string   `json:"status"`
	Role        string   `json:"role"`
	SuperAdmin  bool     `json:"super_admin"`
	Permissions []string `json:"permissions"`
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	profile, err := a.authorizer.Profile(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if profile == nil {
		writeError(w, r, http.StatusForbidden, "no profile for this identity")
		return
	}
	perms, err := a.authorizer.EffectivePermissions(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	resp := meResponse{
		ID:          profile.ID,
		Name:        profile.Name,
		Email:       profile.Email,
		Status:      profile.Status,
		Permissions: perms,
	}
	if profile.Role != nil {
		resp.Role = profile.Role.Name
		resp.SuperAdmin = profile.Role.SuperAdmin
	}
	writeJSON(w, http.StatusOK, resp)
}
