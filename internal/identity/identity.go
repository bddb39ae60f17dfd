// Package identity turns a bearer credential into the user identity the room
// session runs under, and holds the credential store the session watches.
package identity

import (
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrIdentityUnavailable is returned when no valid credential is present and
// a session therefore cannot start.
var ErrIdentityUnavailable = errors.New("identity unavailable")

// Identity is the authenticated user a room session is scoped to.
type Identity struct {
	UserID      string
	DisplayName string
}

// Claims is the subset of the access token payload the client reads.
type Claims struct {
	UserID   string `json:"id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

var parser = jwt.NewParser()

// Resolve decodes credential into an Identity. The signature is not checked:
// the client holds no key and only needs the claims to label the session.
// It returns false for an empty or malformed credential, or when the claims
// do not name a user.
func Resolve(credential string) (Identity, bool) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return Identity{}, false
	}

	claims := &Claims{}
	if _, _, err := parser.ParseUnverified(credential, claims); err != nil {
		return Identity{}, false
	}

	userID := strings.TrimSpace(claims.UserID)
	if userID == "" {
		userID = strings.TrimSpace(claims.Subject)
	}
	displayName := strings.TrimSpace(claims.Username)
	if displayName == "" {
		displayName = strings.TrimSpace(claims.Subject)
	}
	if userID == "" || displayName == "" {
		return Identity{}, false
	}

	return Identity{UserID: userID, DisplayName: displayName}, true
}
