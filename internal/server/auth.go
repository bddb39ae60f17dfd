// Package server issues and validates the HS256 access tokens that carry a
// user's identity to the REST routes and room sockets.
package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Tyrowin/pingspace/internal/identity"
)

var (
	ErrMissingToken = errors.New("authentication required")
	ErrInvalidToken = errors.New("invalid token")
)

// Authenticator issues and checks HS256 access tokens.
type Authenticator struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

// NewAuthenticator returns an Authenticator signing with secret. Tokens
// expire after ttl.
func NewAuthenticator(secret string, ttl time.Duration) (*Authenticator, error) {
	if secret == "" {
		return nil, errors.New("server: JWT secret must not be empty")
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	a := &Authenticator{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
	a.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return a.now() }),
	)
	return a, nil
}

// IssueToken signs a token carrying the user's id and username.
func (a *Authenticator) IssueToken(userID, username string) (string, error) {
	if userID == "" || username == "" {
		return "", errors.New("server: token needs a user id and username")
	}
	now := a.now()
	claims := identity.Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("server: signing token: %w", err)
	}
	return signed, nil
}

// Validate verifies the signature and expiry of token and returns its claims.
func (a *Authenticator) Validate(token string) (*identity.Claims, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	claims := &identity.Claims{}
	_, err := a.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Username == "" {
		return nil, fmt.Errorf("%w: username not found", ErrInvalidToken)
	}
	return claims, nil
}

// bearerToken extracts the token of an "Authorization: Bearer" header.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
