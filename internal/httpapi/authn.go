package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"opsdesk.org/internal/authz"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/metrics",
	"/healthz",
	"/readyz",
	"/",
}
var publicPrefixes = []string{
	"/v1/auth/",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		credential, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		ctx, _, err := a.authorizer.Verify(r.Context(), credential)
		if err != nil {
			switch {
			case errors.Is(err, authz.ErrUnauthenticated):
				writeError(w, r, http.StatusUnauthorized, "invalid session")
			default:
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ensurePermissions writes the error response itself and reports whether the
// handler may proceed.
func (a *API) ensurePermissions(w http.ResponseWriter, r *http.Request, mode authz.Mode, keys ...string) bool {
	if err := a.authorizer.RequirePermission(r.Context(), mode, keys...); err != nil {
		handleServiceError(w, r, err)
		return false
	}
	return true
}

// actorID returns the id of the verified caller for audit attribution.
func (a *API) actorID(r *http.Request) string {
	profile, err := a.authorizer.Profile(r.Context())
	if err != nil || profile == nil {
		return ""
	}
	return profile.ID
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	credential := strings.TrimSpace(header[len(bearer):])
	if credential == "" {
		return "", errors.New("missing bearer token")
	}
	return credential, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
