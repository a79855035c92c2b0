package authz

import "time"

// Profile statuses. "deleted" is terminal; the underlying identity is
// hard-deleted separately.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
	StatusInvited  = "invited"
	StatusDeleted  = "deleted"
)

// Profile is the local record keyed by identity id.
type Profile struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Status    string    `json:"status"`
	RoleID    string    `json:"role_id"`
	Avatar    string    `json:"avatar,omitempty"`
	Role      *Role     `json:"role,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Role groups permission grants. At most one role carries SuperAdmin; it is
// seeded, immutable, and its effective permission set is the whole catalog.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	SuperAdmin  bool      `json:"is_super_admin"`
	System      bool      `json:"is_system"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Permission is one persisted catalog record. The code-declared catalog is
// the source of truth; this table is a projection of it.
type Permission struct {
	Key         string `json:"key"`
	Label       string `json:"label"`
	Group       string `json:"group"`
	Description string `json:"description,omitempty"`
}
