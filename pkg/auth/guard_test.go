package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/marmos91/gatekeep/internal/protocol/http1"
	"github.com/marmos91/gatekeep/pkg/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAccessSecret  = "access-secret"
	testRefreshSecret = "refresh-secret"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestGuard(t *testing.T) (*Guard, *token.Keyring, *clock) {
	t.Helper()
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	keys, err := token.NewKeyring(token.KeyringConfig{
		AccessSecret:  testAccessSecret,
		AccessTTL:     15 * time.Minute,
		RefreshSecret: testRefreshSecret,
	}, token.WithClock(c.now))
	require.NoError(t, err)
	return NewGuard(keys, PublicPrefixes([]string{"/auth"})), keys, c
}

func request(t *testing.T, path string, cookies map[string]string, bearer string) *http1.Request {
	t.Helper()
	raw := "GET " + path + " HTTP/1.1\r\n"
	if len(cookies) > 0 {
		raw += "Cookie: "
		first := true
		for _, name := range []string{AccessCookie, RefreshCookie} {
			v, ok := cookies[name]
			if !ok {
				continue
			}
			if !first {
				raw += "; "
			}
			raw += name + "=" + v
			first = false
		}
		raw += "\r\n"
	}
	if bearer != "" {
		raw += "Authorization: Bearer " + bearer + "\r\n"
	}
	return http1.Parse(raw + "\r\n")
}

func TestPublicPrefixes(t *testing.T) {
	policy := PublicPrefixes([]string{"/auth", " ", "/health"})

	assert.True(t, policy("/auth"))
	assert.True(t, policy("/auth/login"))
	assert.True(t, policy("/authorize"))
	assert.True(t, policy("/health"))
	assert.False(t, policy("/"))
	assert.False(t, policy("/users/me"))

	assert.False(t, PublicPrefixes(nil)("/auth"))
}

func TestAuthorize_PublicPath(t *testing.T) {
	guard, _, _ := newTestGuard(t)
	req := request(t, "/auth/login", nil, "")

	d, err := guard.Authorize(req)
	require.NoError(t, err)
	assert.True(t, d.Public)
	assert.Nil(t, d.Identity)
	assert.Same(t, req, d.Request)
}

func TestAuthorize_MissingToken(t *testing.T) {
	guard, _, _ := newTestGuard(t)

	_, err := guard.Authorize(request(t, "/secure", nil, ""))

	var authErr *Error
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, KindUnauthenticated, authErr.Kind)
	assert.Equal(t, "missing access token", authErr.Message)
}

func TestAuthorize_ValidToken(t *testing.T) {
	guard, keys, _ := newTestGuard(t)
	access, err := keys.IssueAccess(42, "alice")
	require.NoError(t, err)

	t.Run("cookie", func(t *testing.T) {
		req := request(t, "/secure", map[string]string{AccessCookie: access}, "")
		d, err := guard.Authorize(req)
		require.NoError(t, err)
		assert.False(t, d.Public)
		assert.False(t, d.Renewed)
		assert.Equal(t, int64(42), d.Identity.UserID)
		assert.Equal(t, "alice", d.Identity.Username)
		assert.Equal(t, access, d.AccessToken)
		assert.Same(t, req, d.Request)
	})

	t.Run("bearer", func(t *testing.T) {
		d, err := guard.Authorize(request(t, "/secure", nil, access))
		require.NoError(t, err)
		assert.Equal(t, int64(42), d.Identity.UserID)
	})
}

func TestAuthorize_BadSignature(t *testing.T) {
	guard, _, c := newTestGuard(t)
	forged, err := token.NewCodec([]byte("someone-else"), token.WithClock(c.now))
	require.NoError(t, err)
	tok, err := forged.Issue(1, "mallory", time.Hour)
	require.NoError(t, err)

	_, err = guard.Authorize(request(t, "/secure", map[string]string{AccessCookie: tok}, ""))

	var authErr *Error
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, KindTokenInvalid, authErr.Kind)
	assert.ErrorIs(t, err, token.ErrBadSignature)
}

func TestAuthorize_Renewal(t *testing.T) {
	guard, keys, c := newTestGuard(t)

	pair, err := keys.IssuePair(42, "alice")
	require.NoError(t, err)

	// access token expired, refresh still valid
	c.t = c.t.Add(time.Hour)

	req := request(t, "/secure", map[string]string{
		AccessCookie:  pair.AccessToken,
		RefreshCookie: pair.RefreshToken,
	}, "")

	d, err := guard.Authorize(req)
	require.NoError(t, err)

	assert.True(t, d.Renewed)
	assert.NotEqual(t, pair.AccessToken, d.AccessToken)
	assert.Equal(t, int64(42), d.Identity.UserID)
	assert.Equal(t, "alice", d.Identity.Username)
	assert.Equal(t, c.t.Add(15*time.Minute).Unix(), d.Identity.ExpiresAt)

	renewed, ok := d.Request.Cookie(AccessCookie)
	require.True(t, ok)
	assert.Equal(t, d.AccessToken, renewed)

	refresh, _ := d.Request.Cookie(RefreshCookie)
	assert.Equal(t, pair.RefreshToken, refresh, "refresh token is not rotated")

	original, _ := req.Cookie(AccessCookie)
	assert.Equal(t, pair.AccessToken, original, "original request is untouched")

	claims, err := keys.Access.Verify(d.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
}

func TestAuthorize_RenewalFailures(t *testing.T) {
	guard, keys, c := newTestGuard(t)
	pair, err := keys.IssuePair(42, "alice")
	require.NoError(t, err)

	tests := []struct {
		name     string
		advance  time.Duration
		cookies  map[string]string
		wantKind Kind
		wantErr  error
	}{
		{
			name:     "missing refresh cookie",
			advance:  time.Hour,
			cookies:  map[string]string{AccessCookie: pair.AccessToken},
			wantKind: KindRefreshMissing,
		},
		{
			name:     "refresh signed with access secret",
			advance:  time.Hour,
			cookies:  map[string]string{AccessCookie: pair.AccessToken, RefreshCookie: pair.AccessToken},
			wantKind: KindRefreshInvalid,
			wantErr:  token.ErrBadSignature,
		},
		{
			name:     "both expired",
			advance:  8 * 24 * time.Hour,
			cookies:  map[string]string{AccessCookie: pair.AccessToken, RefreshCookie: pair.RefreshToken},
			wantKind: KindRefreshExpired,
			wantErr:  token.ErrExpired,
		},
	}

	start := c.t
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c.t = start.Add(tt.advance)

			_, err := guard.Authorize(request(t, "/secure", tt.cookies, ""))

			var authErr *Error
			require.True(t, errors.As(err, &authErr))
			assert.Equal(t, tt.wantKind, authErr.Kind)
			assert.Equal(t, "could not verify access token", authErr.Message)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "refresh_expired", KindRefreshExpired.String())
	assert.Equal(t, "Kind(99)", Kind(99).String())
}
