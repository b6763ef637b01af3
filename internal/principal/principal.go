// Package principal resolves an inbound bearer token to the opaque user
// principal the core component diagram calls "User": only an id, a
// membership tier integer, and an expiry timestamp are visible to C1-C6
// (spec §3). Token issuance and user registration live outside this
// package; it only verifies tokens minted elsewhere against the server's
// configured signing key.
package principal

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Principal is the minimal identity the sync engine needs to scope every
// store query.
type Principal struct {
	UserID         int64
	MembershipTier int
	ExpiresAt      time.Time
}

var (
	ErrMissingToken = errors.New("principal: missing bearer token")
	ErrInvalidToken = errors.New("principal: invalid or expired token")
)

// claims is the JWT payload shape a token issuer is expected to produce.
type claims struct {
	jwt.RegisteredClaims
	UserID int64 `json:"user_id"`
	Tier   int   `json:"tier"`
}

// Resolver verifies bearer tokens against one HMAC signing key.
type Resolver struct {
	signingKey []byte
}

func NewResolver(signingKey string) *Resolver {
	return &Resolver{signingKey: []byte(signingKey)}
}

// FromRequest extracts and verifies the Authorization: Bearer <token> header.
func (r *Resolver) FromRequest(req *http.Request) (*Principal, error) {
	auth := req.Header.Get("Authorization")
	if auth == "" {
		return nil, ErrMissingToken
	}

	token := strings.TrimPrefix(auth, "Bearer ")
	if token == auth {
		return nil, ErrMissingToken
	}

	return r.Verify(token)
}

// Verify parses and validates a raw bearer token string.
func (r *Resolver) Verify(rawToken string) (*Principal, error) {
	if len(r.signingKey) == 0 {
		return nil, fmt.Errorf("principal: no bearer signing key configured")
	}

	var c claims
	parsed, err := jwt.ParseWithClaims(rawToken, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return r.signingKey, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	if c.UserID == 0 {
		return nil, ErrInvalidToken
	}

	var expiresAt time.Time
	if c.ExpiresAt != nil {
		expiresAt = c.ExpiresAt.Time
	}

	return &Principal{UserID: c.UserID, MembershipTier: c.Tier, ExpiresAt: expiresAt}, nil
}
