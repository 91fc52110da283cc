// Package auth decides whether a framed request may reach the router.
//
// Protected requests carry a short-lived access token, either in the
// "token" cookie or as an "Authorization: Bearer" header. When that token
// has expired but its signature is intact, the guard looks for a long-lived
// refresh token in the "refresh" cookie and, if it verifies, mints a new
// access token for the same subject. The request is then continued as a copy
// carrying the new token; the caller is expected to hand it back to the
// client with a Set-Cookie header.
//
// The refresh token itself is never extended.
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/marmos91/gatekeep/internal/logger"
	"github.com/marmos91/gatekeep/internal/protocol/http1"
	"github.com/marmos91/gatekeep/pkg/token"
)

const (
	// AccessCookie carries the access token.
	AccessCookie = "token"

	// RefreshCookie carries the refresh token.
	RefreshCookie = "refresh"
)

// PathPolicy reports whether a path bypasses authentication.
type PathPolicy func(path string) bool

// PublicPrefixes returns a policy accepting every path that starts with one
// of the prefixes. An empty list makes every path protected.
func PublicPrefixes(prefixes []string) PathPolicy {
	cleaned := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return func(path string) bool {
		for _, p := range cleaned {
			if strings.HasPrefix(path, p) {
				return true
			}
		}
		return false
	}
}

// Decision is the outcome of a successful Authorize call.
type Decision struct {
	// Public is set when the path bypassed authentication. Identity is nil.
	Public bool

	// Identity holds the verified claims for protected paths.
	Identity *token.Claims

	// AccessToken is the token the request was authorized with. After a
	// renewal it is the freshly minted one.
	AccessToken string

	// Renewed is set when the access token was re-issued from the refresh
	// token.
	Renewed bool

	// Request is the request to continue with. It is the original request
	// unless Renewed is set.
	Request *http1.Request
}

// Guard enforces the access/refresh token lifecycle.
//
// It holds no mutable state and is safe for concurrent use.
type Guard struct {
	keys   *token.Keyring
	public PathPolicy
}

// NewGuard creates a guard. A nil policy protects every path.
func NewGuard(keys *token.Keyring, public PathPolicy) *Guard {
	if public == nil {
		public = PublicPrefixes(nil)
	}
	return &Guard{keys: keys, public: public}
}

// Authorize checks req and returns the decision to continue with, or an
// *Error describing why the request must be rejected.
func (g *Guard) Authorize(req *http1.Request) (*Decision, error) {
	if g.public(req.Path) {
		return &Decision{Public: true, Request: req}, nil
	}

	access, ok := accessToken(req)
	if !ok {
		return nil, &Error{Kind: KindUnauthenticated, Message: reasonMissingToken}
	}

	claims, err := g.keys.Access.Verify(access)
	switch {
	case err == nil:
		return &Decision{Identity: claims, AccessToken: access, Request: req}, nil
	case errors.Is(err, token.ErrExpired):
		logger.Debug("Access token expired for %s %s, attempting renewal", req.Method, req.Path)
		return g.renew(req)
	default:
		return nil, &Error{Kind: KindTokenInvalid, Message: reasonInvalidToken, Err: err}
	}
}

// renew mints a new access token from the refresh cookie.
func (g *Guard) renew(req *http1.Request) (*Decision, error) {
	refresh, ok := req.Cookie(RefreshCookie)
	if !ok || refresh == "" {
		return nil, &Error{Kind: KindRefreshMissing, Message: reasonCouldNotVerify}
	}

	claims, err := g.keys.Refresh.Verify(refresh)
	if err != nil {
		kind := KindRefreshInvalid
		if errors.Is(err, token.ErrExpired) {
			kind = KindRefreshExpired
		}
		return nil, &Error{Kind: kind, Message: reasonCouldNotVerify, Err: err}
	}

	fresh, err := g.keys.IssueAccess(claims.UserID, claims.Username)
	if err != nil {
		return nil, &Error{Kind: KindRenewalFailed, Message: reasonCouldNotVerify, Err: err}
	}

	identity, err := g.keys.Access.Verify(fresh)
	if err != nil {
		return nil, &Error{Kind: KindRenewalFailed, Message: reasonCouldNotVerify, Err: err}
	}

	logger.Debug("Renewed access token for user %d (%s)", identity.UserID, identity.Username)

	return &Decision{
		Identity:    identity,
		AccessToken: fresh,
		Renewed:     true,
		Request:     req.WithCookie(AccessCookie, fresh),
	}, nil
}

// AccessTTL is the lifetime of access tokens minted by renewal. Callers use
// it as the Max-Age of the renewed cookie.
func (g *Guard) AccessTTL() time.Duration {
	return g.keys.AccessTTL
}

// accessToken prefers the cookie over the Authorization header.
func accessToken(req *http1.Request) (string, bool) {
	if v, ok := req.Cookie(AccessCookie); ok && v != "" {
		return v, true
	}
	return req.BearerToken()
}
