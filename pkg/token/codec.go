// Package token issues and verifies the signed credentials used by the
// gatekeep server.
//
// A token is a compact HS256 JWT carrying the user id, the username and an
// absolute expiry. Two independent codecs are used at runtime: one for
// short-lived access tokens and one for long-lived refresh tokens. Because
// each codec owns its secret, a token issued by one never verifies with the
// other.
//
// Verification distinguishes two failures:
//   - ErrBadSignature: the token is malformed, signed with another secret,
//     or declares an algorithm other than HS256
//   - ErrExpired: the signature is valid but the expiry is not in the future
//
// Callers treat them differently: an expired access token can be renewed
// from a refresh token, a bad signature cannot.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrBadSignature is returned for structurally invalid tokens, tokens
	// signed with a different secret and tokens using any algorithm but HS256.
	ErrBadSignature = errors.New("token signature is invalid")

	// ErrExpired is returned when the signature checks out but the token's
	// expiry is at or before the current time.
	ErrExpired = errors.New("token is expired")

	// ErrEmptySecret is returned by NewCodec when no secret is provided.
	ErrEmptySecret = errors.New("token secret must not be empty")
)

// signingMethod is the only algorithm issued and accepted.
var signingMethod = jwt.SigningMethodHS256

// Claims is the identity carried by a token.
type Claims struct {
	// UserID is the numeric id of the subject.
	UserID int64

	// Username is the subject's name.
	Username string

	// ExpiresAt is the absolute expiry as a Unix timestamp in seconds.
	ExpiresAt int64
}

// Expiry returns ExpiresAt as a time.Time.
func (c *Claims) Expiry() time.Time {
	return time.Unix(c.ExpiresAt, 0)
}

// wireClaims is the JSON payload signed into the token.
type wireClaims struct {
	UID      int64  `json:"uid"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Codec signs and verifies tokens with a single secret.
//
// A Codec is immutable after construction and safe for concurrent use.
type Codec struct {
	secret []byte
	now    func() time.Time
}

// Option configures a Codec.
type Option func(*Codec)

// WithClock overrides the time source used for expiry computation and
// validation.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCodec creates a codec bound to secret.
func NewCodec(secret []byte, opts ...Option) (*Codec, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}

	c := &Codec{
		secret: append([]byte(nil), secret...),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Issue signs a token for the given subject that expires ttl from now.
//
// The expiry is encoded in whole seconds. A positive ttl is rounded up to
// the next second boundary so the token stays valid for at least ttl. A
// non-positive ttl produces a token that is already expired.
func (c *Codec) Issue(userID int64, username string, ttl time.Duration) (string, error) {
	expiry := c.now().Add(ttl)
	if ttl > 0 {
		expiry = ceilSecond(expiry)
	}

	claims := wireClaims{
		UID:      userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiry),
		},
	}

	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the token's signature and expiry and returns its claims.
//
// The signature is checked before the expiry, so a token signed with another
// secret yields ErrBadSignature even when it is also expired.
func (c *Codec) Verify(tokenString string) (*Claims, error) {
	var claims wireClaims

	_, err := jwt.ParseWithClaims(tokenString, &claims, c.keyFunc,
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	return &Claims{
		UserID:    claims.UID,
		Username:  claims.Username,
		ExpiresAt: claims.ExpiresAt.Unix(),
	}, nil
}

func (c *Codec) keyFunc(t *jwt.Token) (any, error) {
	if t.Method.Alg() != signingMethod.Alg() {
		return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
	}
	return c.secret, nil
}

func ceilSecond(t time.Time) time.Time {
	truncated := t.Truncate(time.Second)
	if truncated.Before(t) {
		return truncated.Add(time.Second)
	}
	return truncated
}
