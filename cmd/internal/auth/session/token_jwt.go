package session

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tearoom/cmd/identity"
)

type jwtClaims struct {
	TenantID  string `json:"tid,omitempty"`
	Role      string `json:"role"`
	LineageID string `json:"lid"`
	RoomID    string `json:"room,omitempty"`
	KitchenID string `json:"kitchen,omitempty"`
	jwt.RegisteredClaims
}

type jwtManager struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration

	method    jwt.SigningMethod
	signKey   any
	verifyKey any
}

// NewJWTManager builds an AccessTokenManager issuing compact JWS tokens,
// signed with HS256 (shared secret) or EdDSA (hex Ed25519 seed).
func NewJWTManager(cfg Config) (AccessTokenManager, error) {
	if cfg.AccessTokenTTL <= 0 {
		return nil, ErrConfig
	}
	m := &jwtManager{
		issuer:    cfg.Issuer,
		ttl:       cfg.AccessTokenTTL,
		clockSkew: cfg.ClockSkew,
	}

	secret := strings.TrimSpace(cfg.JWTSecret)
	switch strings.ToUpper(strings.TrimSpace(cfg.JWTAlgorithm)) {
	case "HS256", "":
		if len(secret) < 32 {
			return nil, ErrConfig
		}
		m.method = jwt.SigningMethodHS256
		m.signKey = []byte(secret)
		m.verifyKey = []byte(secret)
	case "EDDSA":
		seed, err := hex.DecodeString(secret)
		if err != nil || len(seed) != ed25519.SeedSize {
			return nil, ErrConfig
		}
		priv := ed25519.NewKeyFromSeed(seed)
		m.method = jwt.SigningMethodEdDSA
		m.signKey = priv
		m.verifyKey = priv.Public()
	default:
		return nil, ErrConfig
	}
	return m, nil
}

func (m *jwtManager) Format() string { return FormatJWT }

func (m *jwtManager) Issue(sub Subject, lineageID string, now time.Time) (string, time.Time, error) {
	exp := now.Add(m.ttl)

	claims := jwtClaims{
		TenantID:  sub.TenantID,
		Role:      string(sub.Role),
		LineageID: lineageID,
		RoomID:    sub.RoomID,
		KitchenID: sub.KitchenID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   sub.PrincipalID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(m.method, claims).SignedString(m.signKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func (m *jwtManager) Verify(token string, now time.Time) (AccessClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithLeeway(m.clockSkew),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)

	var c jwtClaims
	_, err := parser.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return m.verifyKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return AccessClaims{}, ErrTokenExpired
		}
		return AccessClaims{}, ErrInvalidToken
	}

	claims := AccessClaims{
		Subject: Subject{
			PrincipalID: c.Subject,
			TenantID:    c.TenantID,
			Role:        identity.Role(c.Role),
			RoomID:      c.RoomID,
			KitchenID:   c.KitchenID,
		},
		LineageID: c.LineageID,
		Issuer:    c.Issuer,
	}
	if c.IssuedAt != nil {
		claims.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		claims.ExpiresAt = c.ExpiresAt.Time
	}
	if err := checkSubject(claims); err != nil {
		return AccessClaims{}, err
	}
	return claims, nil
}
