package auth

import "fmt"

// Kind is the category of an authorization failure.
//
// The adapter maps every kind to a 401 reply; the kind itself only shows up
// in logs and metrics.
type Kind int

const (
	// KindUnauthenticated indicates no access token was presented.
	KindUnauthenticated Kind = iota

	// KindTokenInvalid indicates the access token failed signature checks.
	KindTokenInvalid

	// KindRefreshMissing indicates the access token expired and no refresh
	// cookie was sent.
	KindRefreshMissing

	// KindRefreshInvalid indicates the refresh token failed signature checks.
	KindRefreshInvalid

	// KindRefreshExpired indicates both tokens are expired.
	KindRefreshExpired

	// KindRenewalFailed indicates a new access token could not be minted.
	KindRenewalFailed
)

func (k Kind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindTokenInvalid:
		return "token_invalid"
	case KindRefreshMissing:
		return "refresh_missing"
	case KindRefreshInvalid:
		return "refresh_invalid"
	case KindRefreshExpired:
		return "refresh_expired"
	case KindRenewalFailed:
		return "renewal_failed"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is returned by Guard.Authorize when a request is rejected.
type Error struct {
	// Kind is the failure category
	Kind Kind

	// Message is the reason sent to the client as the 401 body
	Message string

	// Err is the underlying token error, if any
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap exposes the token error to errors.Is.
func (e *Error) Unwrap() error {
	return e.Err
}

// reasons sent to clients
const (
	reasonMissingToken   = "missing access token"
	reasonInvalidToken   = "invalid access token"
	reasonCouldNotVerify = "could not verify access token"
)
