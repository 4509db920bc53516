// Package auth maps bearer tokens to stable identity strings. The rest of
// the service treats identities as opaque owner keys.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid bearer token")

// Authenticator resolves a bearer credential to an identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (identity string, err error)
}

// JWT authenticates HS256-signed tokens and uses the subject claim as the
// identity.
type JWT struct {
	secret []byte
	issuer string
}

func NewJWT(secret []byte, issuer string) *JWT {
	return &JWT{secret: secret, issuer: issuer}
}

func (a *JWT) Authenticate(ctx context.Context, token string) (string, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	subject, err := parsed.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", ErrInvalidToken
	}
	return subject, nil
}
