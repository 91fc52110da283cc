package token

import (
	"fmt"
	"time"
)

// RefreshTTL is the fixed validity window of refresh tokens.
const RefreshTTL = 7 * 24 * time.Hour

// MinAccessTTL is the shortest access lifetime a Keyring accepts. Token
// expiries have one-second resolution.
const MinAccessTTL = time.Second

// Keyring groups the access and refresh codecs with their lifetimes.
//
// It is built once from configuration and shared read-only by every worker.
type Keyring struct {
	Access    *Codec
	AccessTTL time.Duration

	Refresh    *Codec
	RefreshTTL time.Duration
}

// KeyringConfig holds the secrets and access token lifetime.
type KeyringConfig struct {
	AccessSecret  string
	AccessTTL     time.Duration
	RefreshSecret string
}

// NewKeyring builds both codecs. The access and refresh secrets must differ,
// otherwise the two token kinds would become interchangeable.
func NewKeyring(cfg KeyringConfig, opts ...Option) (*Keyring, error) {
	if cfg.AccessTTL < MinAccessTTL {
		return nil, fmt.Errorf("access token ttl must be at least %v, got %v", MinAccessTTL, cfg.AccessTTL)
	}
	if cfg.AccessSecret != "" && cfg.AccessSecret == cfg.RefreshSecret {
		return nil, fmt.Errorf("access and refresh secrets must differ")
	}

	access, err := NewCodec([]byte(cfg.AccessSecret), opts...)
	if err != nil {
		return nil, fmt.Errorf("access codec: %w", err)
	}
	refresh, err := NewCodec([]byte(cfg.RefreshSecret), opts...)
	if err != nil {
		return nil, fmt.Errorf("refresh codec: %w", err)
	}

	return &Keyring{
		Access:     access,
		AccessTTL:  cfg.AccessTTL,
		Refresh:    refresh,
		RefreshTTL: RefreshTTL,
	}, nil
}

// Pair is a freshly minted access/refresh token pair.
type Pair struct {
	AccessToken  string
	RefreshToken string
}

// IssueAccess mints an access token for the subject.
func (k *Keyring) IssueAccess(userID int64, username string) (string, error) {
	return k.Access.Issue(userID, username, k.AccessTTL)
}

// IssuePair mints an access token and a refresh token for the subject.
func (k *Keyring) IssuePair(userID int64, username string) (*Pair, error) {
	access, err := k.IssueAccess(userID, username)
	if err != nil {
		return nil, err
	}
	refresh, err := k.Refresh.Issue(userID, username, k.RefreshTTL)
	if err != nil {
		return nil, err
	}
	return &Pair{AccessToken: access, RefreshToken: refresh}, nil
}
