package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ragline/delivery-service/internal/domain/event"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func TestValidateExtractsIdentity(t *testing.T) {
	a := NewJWTAuthenticator(testSecret)
	exp := time.Now().Add(time.Hour)

	claims, err := a.Validate(signToken(t, jwt.MapClaims{
		"tenant_id": "t1",
		"sub":       "u1",
		"exp":       exp.Unix(),
	}))
	require.NoError(t, err)
	require.Equal(t, "t1", claims.TenantID)
	require.Equal(t, "u1", claims.UserID)
	require.WithinDuration(t, exp, claims.ExpiresAt, time.Second)
	require.False(t, claims.Expired(time.Now()))
	require.True(t, claims.Expired(exp.Add(time.Minute)))
}

func TestValidateRejections(t *testing.T) {
	a := NewJWTAuthenticator(testSecret)

	_, err := a.Validate("")
	require.ErrorIs(t, err, event.ErrUnauthorized)

	_, err = a.Validate("garbage.token.here")
	require.ErrorIs(t, err, event.ErrUnauthorized)

	// Missing tenant claim.
	_, err = a.Validate(signToken(t, jwt.MapClaims{"sub": "u1"}))
	require.ErrorIs(t, err, event.ErrUnauthorized)

	// Expired token.
	_, err = a.Validate(signToken(t, jwt.MapClaims{
		"tenant_id": "t1",
		"exp":       time.Now().Add(-time.Hour).Unix(),
	}))
	require.ErrorIs(t, err, event.ErrUnauthorized)

	// Wrong key.
	other := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"tenant_id": "t1"})
	signed, _ := other.SignedString([]byte("other-secret"))
	_, err = a.Validate(signed)
	require.ErrorIs(t, err, event.ErrUnauthorized)
}

func TestCredentialFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/stream", nil)
	r.Header.Set("Authorization", "Bearer abc")
	require.Equal(t, "abc", CredentialFromRequest(r))

	r = httptest.NewRequest("GET", "/stream?token=xyz", nil)
	require.Equal(t, "xyz", CredentialFromRequest(r))

	r = httptest.NewRequest("GET", "/stream", nil)
	require.Empty(t, CredentialFromRequest(r))
}
