package identity

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, claims jwt.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("unit-test-secret"))
	require.NoError(t, err)
	return token
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name       string
		credential func(t *testing.T) string
		want       Identity
		wantOK     bool
	}{
		{
			name: "id and username claims",
			credential: func(t *testing.T) string {
				return signedToken(t, Claims{UserID: "u-1", Username: "alice"})
			},
			want:   Identity{UserID: "u-1", DisplayName: "alice"},
			wantOK: true,
		},
		{
			name: "subject fills both fields",
			credential: func(t *testing.T) string {
				return signedToken(t, jwt.RegisteredClaims{Subject: "bob"})
			},
			want:   Identity{UserID: "bob", DisplayName: "bob"},
			wantOK: true,
		},
		{
			name: "subject used as display name when username missing",
			credential: func(t *testing.T) string {
				return signedToken(t, Claims{UserID: "u-2", RegisteredClaims: jwt.RegisteredClaims{Subject: "carol"}})
			},
			want:   Identity{UserID: "u-2", DisplayName: "carol"},
			wantOK: true,
		},
		{
			name: "expired token still decodes",
			credential: func(t *testing.T) string {
				return signedToken(t, Claims{
					Username: "dave",
					RegisteredClaims: jwt.RegisteredClaims{
						Subject:   "dave",
						ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
					},
				})
			},
			want:   Identity{UserID: "dave", DisplayName: "dave"},
			wantOK: true,
		},
		{
			name:       "empty credential",
			credential: func(*testing.T) string { return "" },
		},
		{
			name:       "whitespace credential",
			credential: func(*testing.T) string { return "   " },
		},
		{
			name:       "not a jwt",
			credential: func(*testing.T) string { return "not-a-token" },
		},
		{
			name:       "bad base64 payload",
			credential: func(*testing.T) string { return "eyJhbGciOiJIUzI1NiJ9.%%%.sig" },
		},
		{
			name: "no user claims",
			credential: func(t *testing.T) string {
				return signedToken(t, jwt.RegisteredClaims{Issuer: "pingspace"})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			got, ok := Resolve(tt.credential(t))
			req.Equal(tt.wantOK, ok)
			req.Equal(tt.want, got)
		})
	}
}

func TestStoreNotifiesOnChange(t *testing.T) {
	req := require.New(t)
	store := NewStore("first")

	updates, cancel := store.Subscribe()
	defer cancel()

	store.Set("first")
	select {
	case v := <-updates:
		t.Fatalf("unexpected notification for unchanged credential: %q", v)
	default:
	}

	store.Set("second")
	req.Equal("second", <-updates)

	credential, ok := store.Credential()
	req.True(ok)
	req.Equal("second", credential)

	store.Clear()
	req.Equal("", <-updates)
	_, ok = store.Credential()
	req.False(ok)
}

func TestStoreCoalescesNotifications(t *testing.T) {
	req := require.New(t)
	store := NewStore("")

	updates, cancel := store.Subscribe()
	defer cancel()

	store.Set("a")
	store.Set("b")
	store.Set("c")

	req.Equal("c", <-updates)
	select {
	case v := <-updates:
		t.Fatalf("expected a single coalesced notification, got extra %q", v)
	default:
	}
}

func TestStoreCancelClosesChannel(t *testing.T) {
	store := NewStore("")
	updates, cancel := store.Subscribe()
	cancel()
	cancel()

	_, open := <-updates
	require.False(t, open)

	// Setting after cancel must not panic on the closed channel.
	store.Set("after-cancel")
}
