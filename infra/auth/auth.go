// Package auth is the narrow slice of the identity system the push
// endpoints need: validate a handshake credential once and derive the
// tenant and user it belongs to.
package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ragline/delivery-service/internal/domain/event"
)

// Claims is the identity cached on a connection record at handshake time.
type Claims struct {
	TenantID  string
	UserID    string
	ExpiresAt time.Time
}

// Expired reports whether the credential passed its expiry. Checked at
// heartbeat boundaries; a live connection is not re-validated per message.
func (c Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// Authenticator validates push handshake credentials.
type Authenticator interface {
	Validate(token string) (Claims, error)
}

// Interface guard
var _ Authenticator = (*JWTAuthenticator)(nil)

type JWTAuthenticator struct {
	secret []byte
}

func NewJWTAuthenticator(secret string) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret)}
}

func (a *JWTAuthenticator) Validate(token string) (Claims, error) {
	if token == "" {
		return Claims{}, fmt.Errorf("%w: missing credential", event.ErrUnauthorized)
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Claims{}, fmt.Errorf("%w: %v", event.ErrUnauthorized, err)
	}

	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, fmt.Errorf("%w: malformed claims", event.ErrUnauthorized)
	}

	tenantID, _ := mc["tenant_id"].(string)
	if tenantID == "" {
		return Claims{}, fmt.Errorf("%w: credential carries no tenant", event.ErrUnauthorized)
	}

	claims := Claims{TenantID: tenantID}
	if sub, err := mc.GetSubject(); err == nil {
		claims.UserID = sub
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}
	return claims, nil
}

// CredentialFromRequest extracts the token from a Bearer Authorization
// header, falling back to the token query parameter. Every channel accepts
// both forms.
func CredentialFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return tok
		}
	}
	return r.URL.Query().Get("token")
}
