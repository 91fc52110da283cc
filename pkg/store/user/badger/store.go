// Package badger implements user.Store on BadgerDB.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/marmos91/gatekeep/internal/logger"
	"github.com/marmos91/gatekeep/pkg/store/user"
)

// Config configures the BadgerDB user store.
type Config struct {
	// DBPath is the directory where BadgerDB stores its files.
	DBPath string `mapstructure:"db_path" validate:"required_unless=InMemory true"`

	// InMemory keeps all data in memory. DBPath is ignored.
	InMemory bool `mapstructure:"in_memory"`
}

// Store is a persistent user.Store.
//
// Writes are serialized by mu so that the id counter and the username index
// are updated atomically with the user record.
type Store struct {
	mu sync.Mutex
	db *badger.DB
}

// New opens (or creates) the database.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(cfg.DBPath)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLoggingLevel(badger.WARNING) // Reduce log noise
	opts = opts.WithCompression(options.None)    // Records are small

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.DBPath, err)
	}

	logger.Debug("Opened badger user store at %q (in_memory=%v)", cfg.DBPath, cfg.InMemory)
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

	s.mu.Lock()
	defer s.mu.Unlock()

	var created *user.User
	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(keyUsername(username)); err == nil {
			return user.ErrAlreadyExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		id, err := nextID(txn)
		if err != nil {
			return err
		}

		u := &user.User{
			ID:           id,
			Username:     username,
			PasswordHash: passwordHash,
			CreatedAt:    time.Now().UTC(),
		}
		if err := putUser(txn, u); err != nil {
			return err
		}
		if err := txn.Set(keyUsername(username), encodeID(id)); err != nil {
			return fmt.Errorf("failed to index username: %w", err)
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
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		u, err = getUser(txn, id)
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
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyUsername(username))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return user.ErrNotFound
		}
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		id, ok := decodeID(raw)
		if !ok {
			return fmt.Errorf("corrupt username index for %q", username)
		}
		u, err = getUser(txn, id)
		return err
	})
	return u, err
}

func (s *Store) SetRefreshToken(ctx context.Context, id int64, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		u, err := getUser(txn, id)
		if err != nil {
			return err
		}
		u.RefreshToken = token
		return putUser(txn, u)
	})
}

func (s *Store) GetRefreshToken(ctx context.Context, id int64) (string, error) {
	u, err := s.GetUser(ctx, id)
	if err != nil {
		return "", err
	}
	return u.RefreshToken, nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close BadgerDB: %w", err)
	}
	return nil
}

func nextID(txn *badger.Txn) (int64, error) {
	var next int64 = 1
	item, err := txn.Get(keyNextID)
	switch {
	case err == nil:
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return 0, err
		}
		v, ok := decodeID(raw)
		if !ok {
			return 0, fmt.Errorf("corrupt id counter")
		}
		next = v
	case !errors.Is(err, badger.ErrKeyNotFound):
		return 0, err
	}

	if err := txn.Set(keyNextID, encodeID(next+1)); err != nil {
		return 0, fmt.Errorf("failed to advance id counter: %w", err)
	}
	return next, nil
}

func getUser(txn *badger.Txn, id int64) (*user.User, error) {
	item, err := txn.Get(keyUser(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, user.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var u user.User
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &u)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode user %d: %w", id, err)
	}
	return &u, nil
}

func putUser(txn *badger.Txn, u *user.User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}
	if err := txn.Set(keyUser(u.ID), data); err != nil {
		return fmt.Errorf("failed to store user: %w", err)
	}
	return nil
}
