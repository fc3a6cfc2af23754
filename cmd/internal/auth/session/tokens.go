package session

import (
	"strings"
	"time"

	"tearoom/cmd/identity"
)

// Subject is the principal snapshot bound into credentials.
type Subject struct {
	PrincipalID string
	TenantID    string
	Role        identity.Role
	RoomID      string
	KitchenID   string
}

// SubjectOf projects a principal into a Subject.
func SubjectOf(p identity.Principal) Subject {
	return Subject{
		PrincipalID: p.ID,
		TenantID:    p.TenantID,
		Role:        p.Role,
		RoomID:      p.RoomID,
		KitchenID:   p.KitchenID,
	}
}

// AccessClaims is the identity envelope propagated across HTTP and websocket.
type AccessClaims struct {
	Subject
	LineageID string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Issuer    string
}

// AccessTokenManager issues and verifies short-lived access tokens.
type AccessTokenManager interface {
	Issue(sub Subject, lineageID string, now time.Time) (token string, exp time.Time, err error)
	Verify(token string, now time.Time) (AccessClaims, error)
	Format() string
}

// NewAccessTokenManager builds the manager selected by cfg.TokenFormat.
func NewAccessTokenManager(cfg Config) (AccessTokenManager, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.TokenFormat)) {
	case FormatPaseto, "":
		return NewPasetoV4PublicManager(cfg)
	case FormatJWT:
		return NewJWTManager(cfg)
	default:
		return nil, ErrConfig
	}
}

// Claim names shared by both encodings.
const (
	claimTenant  = "tid"
	claimRole    = "role"
	claimLineage = "lid"
	claimRoom    = "room"
	claimKitchen = "kitchen"
)

func checkSubject(c AccessClaims) error {
	if c.PrincipalID == "" || c.LineageID == "" || !c.Role.Valid() {
		return ErrInvalidToken
	}
	if (c.Role == identity.RoleSuperAdmin) != (c.TenantID == "") {
		return ErrInvalidToken
	}
	return nil
}
