package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return token
}

func TestAuthenticate(t *testing.T) {
	secret := []byte("test-secret")
	a := NewJWT(secret, "tunnelpay")

	token := signToken(t, secret, jwt.MapClaims{
		"sub": "user-42",
		"iss": "tunnelpay",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	identity, err := a.Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", identity)
}

func TestAuthenticateRejections(t *testing.T) {
	secret := []byte("test-secret")
	a := NewJWT(secret, "tunnelpay")

	// Wrong signing key.
	bad := signToken(t, []byte("other-secret"), jwt.MapClaims{"sub": "user-42", "iss": "tunnelpay"})
	_, err := a.Authenticate(context.Background(), bad)
	require.ErrorIs(t, err, ErrInvalidToken)

	// Wrong issuer.
	wrongIss := signToken(t, secret, jwt.MapClaims{"sub": "user-42", "iss": "elsewhere"})
	_, err = a.Authenticate(context.Background(), wrongIss)
	require.ErrorIs(t, err, ErrInvalidToken)

	// Missing subject.
	noSub := signToken(t, secret, jwt.MapClaims{"iss": "tunnelpay"})
	_, err = a.Authenticate(context.Background(), noSub)
	require.ErrorIs(t, err, ErrInvalidToken)

	// Expired.
	expired := signToken(t, secret, jwt.MapClaims{
		"sub": "user-42",
		"iss": "tunnelpay",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	_, err = a.Authenticate(context.Background(), expired)
	require.ErrorIs(t, err, ErrInvalidToken)

	// Garbage.
	_, err = a.Authenticate(context.Background(), "not-a-token")
	require.ErrorIs(t, err, ErrInvalidToken)
}
