// Package auth resolves the connecting participant's identity. The chat
// subsystem trusts the identity supplied here and does not re-authenticate
// per message.
package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"supportchat/pkg/models"
)

// SecConfig drives authentication, CORS and rate limiting. Shared by the
// middleware and the limiter pool.
type SecConfig struct {
	AllowedOrigins []string
	RPS            float64
	Burst          int
	// JWTSecret verifies customer/admin bearer tokens issued by the auth
	// provider (HS256, claims: sub + role).
	JWTSecret string
	// BackendKeys are trusted server-to-server keys; callers present one
	// via X-API-Key together with explicit participant headers.
	BackendKeys map[string]struct{}
}

// Identity is the resolved (participant, role) pair for a request.
type Identity struct {
	Participant string
	Role        models.Role
}

type ctxIdentityKey struct{}

// WithIdentity injects a resolved identity into the context. Used by the
// middleware and by tests driving handlers directly.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxIdentityKey{}, id)
}

// IdentityFromContext returns the resolved identity, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	v, ok := ctx.Value(ctxIdentityKey{}).(Identity)
	return v, ok
}

type tokenClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// ParseToken verifies the bearer token and extracts the identity.
func ParseToken(token, secret string) (Identity, error) {
	var claims tokenClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return Identity{}, err
	}
	sub := strings.TrimSpace(claims.Subject)
	if sub == "" {
		return Identity{}, fmt.Errorf("token missing sub claim")
	}
	role, err := parseRole(claims.Role)
	if err != nil {
		return Identity{}, err
	}
	return Identity{Participant: sub, Role: role}, nil
}

func parseRole(s string) (models.Role, error) {
	switch models.Role(strings.ToLower(strings.TrimSpace(s))) {
	case models.RoleCustomer:
		return models.RoleCustomer, nil
	case models.RoleAdmin:
		return models.RoleAdmin, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}
