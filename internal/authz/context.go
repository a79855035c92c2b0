package authz

import (
	"context"

	"opsdesk.org/internal/identity"
)

type identityContextKey struct{}

// ContextWithIdentity memoizes a verified identity for the lifetime of one
// request. Nothing outlives the request: the next request re-verifies.
func ContextWithIdentity(ctx context.Context, id identity.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext returns the memoized verified identity, if any.
func IdentityFromContext(ctx context.Context) (identity.Identity, bool) {
	if ctx == nil {
		return identity.Identity{}, false
	}
	id, ok := ctx.Value(identityContextKey{}).(identity.Identity)
	if !ok || id.ID == "" {
		return identity.Identity{}, false
	}
	return id, true
}
