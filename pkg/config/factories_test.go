package config

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/marmos91/gatekeep/pkg/store/user/badger"
	"github.com/marmos91/gatekeep/pkg/store/user/bolt"
	"github.com/marmos91/gatekeep/pkg/store/user/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateUserStore(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		store, err := CreateUserStore(ctx, &StoreConfig{Type: "memory"})
		require.NoError(t, err)
		defer store.Close()
		assert.IsType(t, &memory.Store{}, store)
	})

	t.Run("badger", func(t *testing.T) {
		store, err := CreateUserStore(ctx, &StoreConfig{
			Type:   "badger",
			Badger: map[string]any{"db_path": filepath.Join(t.TempDir(), "db")},
		})
		require.NoError(t, err)
		defer store.Close()
		assert.IsType(t, &badger.Store{}, store)

		u, err := store.CreateUser(ctx, "alice", "hash")
		require.NoError(t, err)
		assert.Equal(t, int64(1), u.ID)
	})

	t.Run("badger in memory", func(t *testing.T) {
		store, err := CreateUserStore(ctx, &StoreConfig{
			Type:   "badger",
			Badger: map[string]any{"in_memory": "true"},
		})
		require.NoError(t, err)
		require.NoError(t, store.Close())
	})

	t.Run("bolt", func(t *testing.T) {
		store, err := CreateUserStore(ctx, &StoreConfig{
			Type: "bolt",
			Bolt: map[string]any{
				"path":         filepath.Join(t.TempDir(), "users.db"),
				"open_timeout": "2s",
			},
		})
		require.NoError(t, err)
		defer store.Close()
		assert.IsType(t, &bolt.Store{}, store)
	})
}

func TestCreateUserStore_Errors(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		cfg     StoreConfig
		wantErr string
	}{
		{"unknown type", StoreConfig{Type: "postgres"}, "unknown user store type"},
		{"badger without path", StoreConfig{Type: "badger", Badger: map[string]any{}}, "DBPath"},
		{"bolt without path", StoreConfig{Type: "bolt", Bolt: map[string]any{}}, "Path"},
		{"unknown option", StoreConfig{Type: "bolt", Bolt: map[string]any{"path": "/tmp/x.db", "pth": 1}}, "pth"},
		{"bad duration", StoreConfig{Type: "bolt", Bolt: map[string]any{"path": "/tmp/x.db", "open_timeout": "soon"}}, "decode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := CreateUserStore(ctx, &tt.cfg)
			require.Error(t, err)
			assert.Nil(t, store)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestInitializeMetrics_Disabled(t *testing.T) {
	result := InitializeMetrics(&Config{})
	assert.Nil(t, result.Server)
	assert.NotNil(t, result.Gateway)
	assert.NotNil(t, result.Pool)
}
