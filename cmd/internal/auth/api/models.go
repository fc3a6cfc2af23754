package authapi

import (
	"time"

	"tearoom/cmd/identity"
	"tearoom/cmd/internal/auth/session"
)

type loginRequest struct {
	Email      string `json:"email" validate:"required,email,max=320"`
	Password   string `json:"password" validate:"required,max=1024"`
	TenantSlug string `json:"tenantSlug" validate:"omitempty,max=64"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required,max=512"`
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type userResponse struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId,omitempty"`
	Role        string `json:"role"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
	RoomID      string `json:"roomId,omitempty"`
	KitchenID   string `json:"kitchenId,omitempty"`
}

type tokensResponse struct {
	TokenType        string        `json:"tokenType"`
	AccessToken      string        `json:"accessToken"`
	AccessExpiresAt  time.Time     `json:"accessExpiresAt"`
	RefreshToken     string        `json:"refreshToken"`
	RefreshExpiresAt time.Time     `json:"refreshExpiresAt"`
	User             *userResponse `json:"user,omitempty"`
}

type meResponse struct {
	User userResponse `json:"user"`
}

func toUserResponse(p identity.Principal) userResponse {
	return userResponse{
		ID:          p.ID,
		TenantID:    p.TenantID,
		Role:        p.Role.String(),
		Email:       p.Email,
		DisplayName: p.DisplayName,
		RoomID:      p.RoomID,
		KitchenID:   p.KitchenID,
	}
}

func toTokensResponse(pair session.Pair, p *identity.Principal) tokensResponse {
	out := tokensResponse{
		TokenType:        "Bearer",
		AccessToken:      pair.AccessToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshToken:     pair.RefreshToken,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	}
	if p != nil {
		u := toUserResponse(*p)
		out.User = &u
	}
	return out
}
