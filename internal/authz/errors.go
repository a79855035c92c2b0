package authz

import "errors"

var (
	// ErrUnauthenticated means no verified identity is attached to the request.
	ErrUnauthenticated = errors.New("authz: unauthenticated")
	// ErrUnauthorized means the caller is authenticated but lacks the
	// required permissions; the wrapped message names the missing keys.
	ErrUnauthorized = errors.New("authz: unauthorized")
	// ErrForbidden means the operation is structurally disallowed regardless
	// of permissions, e.g. mutating the super admin role.
	ErrForbidden = errors.New("authz: forbidden")
	// ErrNotFound means the referenced entity does not exist.
	ErrNotFound = errors.New("authz: not found")
	// ErrConflict means a uniqueness or referential constraint was violated.
	ErrConflict = errors.New("authz: conflict")
	// ErrInvalidInput means the request was malformed before any store call.
	ErrInvalidInput = errors.New("authz: invalid input")
)
