// Package memory provides an in-process user store. Data is lost on restart.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/marmos91/gatekeep/pkg/store/user"
)

// Store is a map-backed user.Store.
type Store struct {
	mu         sync.RWMutex
	nextID     int64
	byID       map[int64]*user.User
	byUsername map[string]int64
}

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:     1,
		byID:       make(map[int64]*user.User),
		byUsername: make(map[string]int64),
	}
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

	if _, ok := s.byUsername[username]; ok {
		return nil, user.ErrAlreadyExists
	}

	u := &user.User{
		ID:           s.nextID,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	s.nextID++
	s.byID[u.ID] = u
	s.byUsername[username] = u.ID

	clone := *u
	return &clone, nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (*user.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	clone := *u
	return &clone, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*user.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	username, err := user.NormalizeUsername(username)
	if err != nil {
		return nil, user.ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byUsername[username]
	if !ok {
		return nil, user.ErrNotFound
	}
	clone := *s.byID[id]
	return &clone, nil
}

func (s *Store) SetRefreshToken(ctx context.Context, id int64, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return user.ErrNotFound
	}
	u.RefreshToken = token
	return nil
}

func (s *Store) GetRefreshToken(ctx context.Context, id int64) (string, error) {
	u, err := s.GetUser(ctx, id)
	if err != nil {
		return "", err
	}
	return u.RefreshToken, nil
}

// Close drops all data.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byID = make(map[int64]*user.User)
	s.byUsername = make(map[string]int64)
	return nil
}
