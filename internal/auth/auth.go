// Package auth validates bearer tokens and attaches the caller's identity
// to the request context.
//
// Authentication model:
// - Public endpoints (health, metrics, plans): no auth required
// - Everything under /v1 requires a signed bearer token
// - Admin endpoints additionally require the ADMIN role
//
// Token issuance lives outside this service; we only verify signatures
// against the shared secret.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fashionpoint/platform/internal/account"
)

// Errors
var (
	ErrNoToken      = errors.New("bearer token required")
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrForbidden    = errors.New("insufficient role")
)

// Principal is the authenticated caller.
type Principal struct {
	AccountID string       `json:"accountId"`
	Role      account.Role `json:"role"`
}

// Claims is the JWT payload we accept. Subject carries the account id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier checks bearer tokens signed with the shared HS256 secret.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier for the given secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates a raw token string.
func (v *Verifier) Verify(raw string) (*Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	role := account.Role(claims.Role)
	switch role {
	case account.RoleUser, account.RoleCompany, account.RoleAdmin:
	default:
		return nil, ErrInvalidToken
	}

	return &Principal{AccountID: claims.Subject, Role: role}, nil
}

// Issue signs a token for the given account. Used by the seed tooling and
// tests; the public API never mints tokens.
func (v *Verifier) Issue(accountID string, role account.Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
