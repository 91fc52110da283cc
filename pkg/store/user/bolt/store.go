// Package bolt implements user.Store on a single bbolt file.
//
// Records are CBOR-encoded. User ids come from the users bucket sequence,
// so they start at 1 and are never reused.
package bolt

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/marmos91/gatekeep/internal/logger"
	"github.com/marmos91/gatekeep/pkg/store/user"
	"go.etcd.io/bbolt"
)

var (
	bucketUsers     = []byte("users")
	bucketUsernames = []byte("usernames")
)

// encMode keeps sub-second precision on timestamps.
var encMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// Config configures the bbolt user store.
type Config struct {
	// Path is the database file. Its directory is created if missing.
	Path string `mapstructure:"path" validate:"required"`

	// OpenTimeout bounds the wait for the file lock held by another process.
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
}

// Store is a persistent user.Store backed by bbolt.
type Store struct {
	db *bbolt.DB
}

// New opens (or creates) the database file.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	timeout := cfg.OpenTimeout
	if timeout <= 0 {
		timeout = time.Second
	}

	db, err := bbolt.Open(cfg.Path, 0600, &bbolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketUsers, bucketUsernames} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	logger.Debug("Opened bolt user store at %q", cfg.Path)
	return &Store{db: db}, nil
}

func (s *Store) CreateUser(ctx context.Context, username, passwordHash string) (*user.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	username, err := user.NormalizeUsername(username)
	if err != nil {
		return nil, err
	}

	var created *user.User
	err = s.db.Update(func(tx *bbolt.Tx) error {
		names := tx.Bucket(bucketUsernames)
		if names.Get([]byte(username)) != nil {
			return user.ErrAlreadyExists
		}

		users := tx.Bucket(bucketUsers)
		seq, err := users.NextSequence()
		if err != nil {
			return fmt.Errorf("next user id: %w", err)
		}

		u := &user.User{
			ID:           int64(seq),
			Username:     username,
			PasswordHash: passwordHash,
			CreatedAt:    time.Now().UTC(),
		}
		if err := putUser(users, u); err != nil {
			return err
		}
		if err := names.Put([]byte(username), idKey(u.ID)); err != nil {
			return fmt.Errorf("index username: %w", err)
		}
		created = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (*user.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var u *user.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		u, err = getUser(tx.Bucket(bucketUsers), id)
		return err
	})
	return u, err
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*user.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	username, err := user.NormalizeUsername(username)
	if err != nil {
		return nil, user.ErrNotFound
	}

	var u *user.User
	err = s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketUsernames).Get([]byte(username))
		if raw == nil {
			return user.ErrNotFound
		}
		if len(raw) != 8 {
			return fmt.Errorf("corrupt username index for %q", username)
		}
		var err error
		u, err = getUser(tx.Bucket(bucketUsers), int64(binary.BigEndian.Uint64(raw)))
		return err
	})
	return u, err
}

func (s *Store) SetRefreshToken(ctx context.Context, id int64, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		users := tx.Bucket(bucketUsers)
		u, err := getUser(users, id)
		if err != nil {
			return err
		}
		u.RefreshToken = token
		return putUser(users, u)
	})
}

func (s *Store) GetRefreshToken(ctx context.Context, id int64) (string, error) {
	u, err := s.GetUser(ctx, id)
	if err != nil {
		return "", err
	}
	return u.RefreshToken, nil
}

// Close closes the database file.
func (s *Store) Close() error {
	return s.db.Close()
}

func idKey(id int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(id))
	return buf
}

func getUser(b *bbolt.Bucket, id int64) (*user.User, error) {
	data := b.Get(idKey(id))
	if data == nil {
		return nil, user.ErrNotFound
	}
	var u user.User
	if err := cbor.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("unmarshal user %d: %w", id, err)
	}
	return &u, nil
}

func putUser(b *bbolt.Bucket, u *user.User) error {
	data, err := encMode.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	return b.Put(idKey(u.ID), data)
}
