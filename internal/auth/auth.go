// Package auth verifies bearer credentials and produces the caller identity
// consumed by the command router. Credential issuance lives elsewhere; only
// verification happens here.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers missing, malformed, expired, and badly signed tokens.
var ErrInvalidToken = errors.New("invalid token")

// Role separates the one mutating admin from any number of viewers.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleViewer Role = "viewer"
)

// Identity is the verified caller. It is read-only to everything downstream.
type Identity struct {
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// IsAdmin reports whether the identity may issue mutating commands.
func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

// Verifier turns a bearer token into an identity.
type Verifier interface {
	Verify(token string) (Identity, error)
}

// JWTVerifier verifies HS256 tokens carrying {username, role} claims.
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

// Verify parses and validates the token. Expiry is honored when present.
func (v *JWTVerifier) Verify(token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrInvalidToken
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Identity{}, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	username, _ := claims["username"].(string)
	roleStr, _ := claims["role"].(string)
	if username == "" {
		return Identity{}, ErrInvalidToken
	}

	role := RoleViewer
	if Role(roleStr) == RoleAdmin {
		role = RoleAdmin
	}
	return Identity{Username: username, Role: role}, nil
}

// Sign issues a token for the identity. Used by tooling and tests; the login
// flow proper is an external collaborator.
func Sign(secret string, identity Identity, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"username": identity.Username,
		"role":     string(identity.Role),
		"exp":      time.Now().Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
