package api

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return raw
}

func TestJWTVerifierRoundTrip(t *testing.T) {
	v := NewJWTVerifier("secret")
	userID := uuid.New()
	raw := sign(t, "secret", jwt.RegisteredClaims{
		Subject:   userID.String(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	got, err := v.Verify(raw)
	require.NoError(t, err)
	require.Equal(t, userID, got)
}

func TestJWTVerifierRejectsExpiredToken(t *testing.T) {
	v := NewJWTVerifier("secret")
	raw := sign(t, "secret", jwt.RegisteredClaims{
		Subject:   uuid.NewString(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	})

	_, err := v.Verify(raw)
	require.True(t, errors.Is(err, ErrInvalidToken))
}

func TestJWTVerifierRejectsWrongSecret(t *testing.T) {
	v := NewJWTVerifier("secret")
	raw := sign(t, "other-secret", jwt.RegisteredClaims{
		Subject:   uuid.NewString(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	_, err := v.Verify(raw)
	require.True(t, errors.Is(err, ErrInvalidToken))
}

func TestJWTVerifierRejectsNonUUIDSubject(t *testing.T) {
	v := NewJWTVerifier("secret")
	raw := sign(t, "secret", jwt.RegisteredClaims{
		Subject:   "admin",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	_, err := v.Verify(raw)
	require.True(t, errors.Is(err, ErrInvalidToken))
}
