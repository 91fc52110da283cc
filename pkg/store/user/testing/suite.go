// Package testing provides a conformance suite for user.Store implementations.
//
// Usage:
//
//	func TestMyStore(t *testing.T) {
//	    suite := &usertesting.StoreTestSuite{
//	        NewStore: func(t *testing.T) user.Store {
//	            return mystore.New()
//	        },
//	    }
//	    suite.Run(t)
//	}
package testing

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/gatekeep/pkg/store/user"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreTestSuite tests the user.Store contract.
type StoreTestSuite struct {
	// NewStore creates a fresh, empty store for each test. The suite closes
	// it when the test ends.
	NewStore func(t *testing.T) user.Store
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("CreateUser_AssignsSequentialIDs", suite.TestCreateUser_AssignsSequentialIDs)
	t.Run("CreateUser_Duplicate", suite.TestCreateUser_Duplicate)
	t.Run("CreateUser_InvalidUsername", suite.TestCreateUser_InvalidUsername)
	t.Run("GetUser_NotFound", suite.TestGetUser_NotFound)
	t.Run("GetUserByUsername", suite.TestGetUserByUsername)
	t.Run("RefreshToken_SetGetClear", suite.TestRefreshToken_SetGetClear)
	t.Run("RefreshToken_UnknownUser", suite.TestRefreshToken_UnknownUser)
	t.Run("ContextCancelled", suite.TestContextCancelled)
	t.Run("ConcurrentCreate", suite.TestConcurrentCreate)
}

func (suite *StoreTestSuite) newStore(t *testing.T) user.Store {
	t.Helper()
	store := suite.NewStore(t)
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// TestCreateUser_AssignsSequentialIDs verifies ids start at 1 and increase.
func (suite *StoreTestSuite) TestCreateUser_AssignsSequentialIDs(t *testing.T) {
	store := suite.newStore(t)
	ctx := context.Background()

	alice, err := store.CreateUser(ctx, "alice", "hash-a")
	require.NoError(t, err)
	bob, err := store.CreateUser(ctx, "bob", "hash-b")
	require.NoError(t, err)

	assert.Equal(t, int64(1), alice.ID)
	assert.Equal(t, int64(2), bob.ID)
	assert.Equal(t, "alice", alice.Username)
	assert.Equal(t, "hash-a", alice.PasswordHash)
	assert.Empty(t, alice.RefreshToken)
	assert.WithinDuration(t, time.Now(), alice.CreatedAt, time.Minute)

	got, err := store.GetUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, alice.Username, got.Username)
	assert.Equal(t, alice.PasswordHash, got.PasswordHash)
	assert.True(t, alice.CreatedAt.Equal(got.CreatedAt), "created_at survives a round trip")
}

// TestCreateUser_Duplicate verifies usernames are unique.
func (suite *StoreTestSuite) TestCreateUser_Duplicate(t *testing.T) {
	store := suite.newStore(t)
	ctx := context.Background()

	_, err := store.CreateUser(ctx, "alice", "hash")
	require.NoError(t, err)

	_, err = store.CreateUser(ctx, "alice", "other")
	assert.ErrorIs(t, err, user.ErrAlreadyExists)

	_, err = store.CreateUser(ctx, "  alice ", "other")
	assert.ErrorIs(t, err, user.ErrAlreadyExists, "surrounding whitespace is ignored")

	// failed creates do not consume ids
	bob, err := store.CreateUser(ctx, "bob", "hash")
	require.NoError(t, err)
	assert.Equal(t, int64(2), bob.ID)
}

// TestCreateUser_InvalidUsername verifies empty names are rejected.
func (suite *StoreTestSuite) TestCreateUser_InvalidUsername(t *testing.T) {
	store := suite.newStore(t)

	for _, name := range []string{"", "   "} {
		_, err := store.CreateUser(context.Background(), name, "hash")
		assert.ErrorIs(t, err, user.ErrInvalidUsername, "name=%q", name)
	}
}

// TestGetUser_NotFound verifies lookups of unknown ids.
func (suite *StoreTestSuite) TestGetUser_NotFound(t *testing.T) {
	store := suite.newStore(t)

	_, err := store.GetUser(context.Background(), 42)
	assert.ErrorIs(t, err, user.ErrNotFound)
}

// TestGetUserByUsername verifies the username index.
func (suite *StoreTestSuite) TestGetUserByUsername(t *testing.T) {
	store := suite.newStore(t)
	ctx := context.Background()

	created, err := store.CreateUser(ctx, "carol", "hash")
	require.NoError(t, err)

	got, err := store.GetUserByUsername(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	_, err = store.GetUserByUsername(ctx, "dave")
	assert.ErrorIs(t, err, user.ErrNotFound)

	_, err = store.GetUserByUsername(ctx, "")
	assert.ErrorIs(t, err, user.ErrNotFound)
}

// TestRefreshToken_SetGetClear verifies refresh token persistence.
func (suite *StoreTestSuite) TestRefreshToken_SetGetClear(t *testing.T) {
	store := suite.newStore(t)
	ctx := context.Background()

	u, err := store.CreateUser(ctx, "erin", "hash")
	require.NoError(t, err)

	tok, err := store.GetRefreshToken(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, tok)

	require.NoError(t, store.SetRefreshToken(ctx, u.ID, "refresh-1"))
	tok, err = store.GetRefreshToken(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "refresh-1", tok)

	got, err := store.GetUserByUsername(ctx, "erin")
	require.NoError(t, err)
	assert.Equal(t, "refresh-1", got.RefreshToken)
	assert.Equal(t, "hash", got.PasswordHash, "other fields are untouched")

	require.NoError(t, store.SetRefreshToken(ctx, u.ID, ""))
	tok, err = store.GetRefreshToken(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, tok)
}

// TestRefreshToken_UnknownUser verifies refresh operations on missing users.
func (suite *StoreTestSuite) TestRefreshToken_UnknownUser(t *testing.T) {
	store := suite.newStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, store.SetRefreshToken(ctx, 7, "x"), user.ErrNotFound)
	_, err := store.GetRefreshToken(ctx, 7)
	assert.ErrorIs(t, err, user.ErrNotFound)
}

// TestContextCancelled verifies operations honor a cancelled context.
func (suite *StoreTestSuite) TestContextCancelled(t *testing.T) {
	store := suite.newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.CreateUser(ctx, "frank", "hash")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = store.GetUser(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = store.GetUserByUsername(ctx, "frank")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, store.SetRefreshToken(ctx, 1, "x"), context.Canceled)
}

// TestConcurrentCreate verifies ids stay unique under concurrent writers.
func (suite *StoreTestSuite) TestConcurrentCreate(t *testing.T) {
	store := suite.newStore(t)
	ctx := context.Background()

	const writers = 16
	ids := make(chan int64, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u, err := store.CreateUser(ctx, fmt.Sprintf("user-%d", i), "hash")
			if assert.NoError(t, err) {
				ids <- u.ID
			}
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
	assert.Len(t, seen, writers)
}
