package authapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"tearoom/cmd/internal/auth/session"
)

// Authenticator verifies access tokens without touching any store.
type Authenticator interface {
	Authenticate(accessToken string) (session.AccessClaims, error)
}

type claimsKey struct{}

// WithClaims returns a context carrying verified access claims.
func WithClaims(ctx context.Context, c session.AccessClaims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// ClaimsFrom returns the claims stored by RequireAuth.
func ClaimsFrom(ctx context.Context) (session.AccessClaims, bool) {
	c, ok := ctx.Value(claimsKey{}).(session.AccessClaims)
	return c, ok
}

// RequireAuth rejects requests without a valid bearer access token.
func RequireAuth(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := bearerToken(r)
			if tok == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="tearoom"`)
				WriteError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}

			claims, err := auth.Authenticate(tok)
			if err != nil {
				code := "invalid_token"
				if errors.Is(err, session.ErrTokenExpired) {
					code = "token_expired"
				}
				w.Header().Set("WWW-Authenticate", `Bearer realm="tearoom", error="invalid_token"`)
				WriteError(w, http.StatusUnauthorized, code, "invalid or expired access token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
