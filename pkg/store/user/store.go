// Package user defines the persistence contract for gatekeep accounts.
//
// Implementations live in subpackages (memory, badger, bolt) and share the
// conformance suite in the testing subpackage.
package user

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound indicates the requested user does not exist.
	ErrNotFound = errors.New("user not found")

	// ErrAlreadyExists indicates the username is taken.
	ErrAlreadyExists = errors.New("username already exists")

	// ErrInvalidUsername indicates an empty or whitespace-only username.
	ErrInvalidUsername = errors.New("username must not be empty")
)

// User is a stored account.
type User struct {
	// ID is assigned by the store, starting at 1.
	ID int64 `json:"id"`

	Username string `json:"username"`

	// PasswordHash is the bcrypt hash of the password. The store never sees
	// plaintext passwords.
	PasswordHash string `json:"password_hash"`

	// RefreshToken is the last refresh token issued to the user, empty when
	// none was issued or it was cleared at logout.
	RefreshToken string `json:"refresh_token,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Store persists users and their refresh tokens.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// CreateUser stores a new user and assigns its ID. Returns
	// ErrAlreadyExists when the username is taken.
	CreateUser(ctx context.Context, username, passwordHash string) (*User, error)

	// GetUser returns the user with the given id or ErrNotFound.
	GetUser(ctx context.Context, id int64) (*User, error)

	// GetUserByUsername returns the user with the given name or ErrNotFound.
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// SetRefreshToken records the refresh token issued to the user. An empty
	// token clears it.
	SetRefreshToken(ctx context.Context, id int64, token string) error

	// GetRefreshToken returns the recorded refresh token, empty if none.
	GetRefreshToken(ctx context.Context, id int64) (string, error)

	// Close releases the underlying resources.
	Close() error
}

// NormalizeUsername trims surrounding whitespace and rejects empty names.
func NormalizeUsername(username string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return "", ErrInvalidUsername
	}
	return username, nil
}
