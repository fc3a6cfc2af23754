package identity

import (
	"fmt"
	"strings"
	"time"
)

// Role is the closed set of principal roles.
type Role string

const (
	RoleTenantAdmin Role = "tenant_admin"
	RoleRoomUser    Role = "room_user"
	RoleKitchen     Role = "kitchen"
	RoleSuperAdmin  Role = "super_admin"
)

// Kind is the principal variant a role belongs to.
type Kind string

const (
	KindTenantUser Kind = "tenant_user"
	KindKitchen    Kind = "kitchen"
	KindSuperAdmin Kind = "super_admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleTenantAdmin, RoleRoomUser, RoleKitchen, RoleSuperAdmin:
		return true
	}
	return false
}

// Kind derives the principal variant from the role.
func (r Role) Kind() Kind {
	switch r {
	case RoleKitchen:
		return KindKitchen
	case RoleSuperAdmin:
		return KindSuperAdmin
	default:
		return KindTenantUser
	}
}

func (r Role) String() string { return string(r) }

// ParseRole parses a role name.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
	}
	return r, nil
}

// Tenant is an organization that owns rooms, kitchens and principals.
type Tenant struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

// Principal is an authenticatable actor.
//
// TenantID is empty only for super admins. RoomID binds a room user to one
// meeting room; KitchenID is required for kitchen consoles.
type Principal struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenantId,omitempty"`
	Role          Role      `json:"role"`
	Email         string    `json:"email"`
	DisplayName   string    `json:"displayName,omitempty"`
	RoomID        string    `json:"roomId,omitempty"`
	KitchenID     string    `json:"kitchenId,omitempty"`
	Active        bool      `json:"active"`
	EmailVerified bool      `json:"emailVerified"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`

	PasswordHash string `json:"-"`
}

// Kind returns the principal variant.
func (p Principal) Kind() Kind { return p.Role.Kind() }

// CanLogin reports whether the account flags allow a session.
func (p Principal) CanLogin() bool { return p.Active && p.EmailVerified }

// Validate enforces the tenant/role shape invariants.
func (p Principal) Validate() error {
	const op = "identity.Principal.Validate"

	if !p.Role.Valid() {
		return invalid(op, "unknown role")
	}
	if p.Email == "" {
		return invalid(op, "email is required")
	}
	switch p.Role.Kind() {
	case KindSuperAdmin:
		if p.TenantID != "" {
			return invalid(op, "super admin must not belong to a tenant")
		}
		if p.RoomID != "" || p.KitchenID != "" {
			return invalid(op, "super admin cannot be bound to a room or kitchen")
		}
	case KindKitchen:
		if p.TenantID == "" {
			return invalid(op, "kitchen requires a tenant")
		}
		if p.KitchenID == "" {
			return invalid(op, "kitchen requires a kitchen id")
		}
		if p.RoomID != "" {
			return invalid(op, "kitchen cannot be bound to a room")
		}
	default:
		if p.TenantID == "" {
			return invalid(op, "tenant user requires a tenant")
		}
		if p.KitchenID != "" {
			return invalid(op, "tenant user cannot be bound to a kitchen")
		}
		if p.Role == RoleTenantAdmin && p.RoomID != "" {
			return invalid(op, "tenant admin cannot be bound to a room")
		}
	}
	return nil
}
