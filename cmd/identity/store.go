package identity

import (
	"context"
	"time"
)

// CreateTenantInput describes a new tenant.
type CreateTenantInput struct {
	Slug   string
	Name   string
	Active bool
	Now    time.Time
}

// CreatePrincipalInput describes a new principal. Password is the clear
// secret; stores hash it and never persist it.
type CreatePrincipalInput struct {
	TenantID      string
	Role          Role
	Email         string
	DisplayName   string
	Password      string
	RoomID        string
	KitchenID     string
	Active        bool
	EmailVerified bool
	Now           time.Time
}

// Store is the credential persistence boundary.
type Store interface {
	CreateTenant(ctx context.Context, in CreateTenantInput) (Tenant, error)
	TenantByID(ctx context.Context, id string) (Tenant, error)
	TenantBySlug(ctx context.Context, slug string) (Tenant, error)
	SetTenantActive(ctx context.Context, id string, active bool) error

	CreatePrincipal(ctx context.Context, in CreatePrincipalInput) (Principal, error)
	PrincipalByID(ctx context.Context, id string) (Principal, error)

	// PrincipalByTenantEmail returns the principal with the normalized email
	// inside tenantID. An empty tenantID addresses the super admin namespace.
	PrincipalByTenantEmail(ctx context.Context, tenantID, email string) (Principal, error)

	// PrincipalsByEmail returns up to limit principals sharing the email across
	// every tenant. Callers use it to detect ambiguous logins.
	PrincipalsByEmail(ctx context.Context, email string, limit int) ([]Principal, error)

	// SetFlags updates active and email-verified in one atomic write.
	SetFlags(ctx context.Context, id string, active, verified bool) error

	SetPasswordHash(ctx context.Context, id, hash string, now time.Time) error
}

func prepareTenant(op string, in CreateTenantInput) (CreateTenantInput, error) {
	in.Slug = NormalizeSlug(in.Slug)
	in.Name = trimmed(in.Name)
	if !ValidSlug(in.Slug) {
		return in, invalid(op, "invalid slug")
	}
	if in.Name == "" {
		return in, invalid(op, "name is required")
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}
	return in, nil
}

func preparePrincipal(op string, creds *Credentials, in CreatePrincipalInput) (Principal, error) {
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	p := Principal{
		TenantID:      trimmed(in.TenantID),
		Role:          in.Role,
		Email:         NormalizeEmail(in.Email),
		DisplayName:   trimmed(in.DisplayName),
		RoomID:        trimmed(in.RoomID),
		KitchenID:     trimmed(in.KitchenID),
		Active:        in.Active,
		EmailVerified: in.EmailVerified,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := p.Validate(); err != nil {
		return Principal{}, err
	}

	hash, err := creds.HashFor(p, in.Password)
	if err != nil {
		return Principal{}, invalid(op, err.Error())
	}
	p.PasswordHash = hash
	return p, nil
}
