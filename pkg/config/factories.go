package config

import (
	"context"
	"fmt"

	"github.com/marmos91/gatekeep/internal/logger"
	"github.com/marmos91/gatekeep/pkg/store/user"
	"github.com/marmos91/gatekeep/pkg/store/user/badger"
	"github.com/marmos91/gatekeep/pkg/store/user/bolt"
	"github.com/marmos91/gatekeep/pkg/store/user/memory"
	"github.com/mitchellh/mapstructure"
)

// CreateUserStore creates a user store based on configuration.
//
// The Type field selects the implementation. The type-specific options map
// is decoded into the backend's own Config struct and validated with its
// struct tags before the store is opened.
//
// Supported types:
//   - "memory": pkg/store/user/memory (ephemeral)
//   - "badger": pkg/store/user/badger (BadgerDB, persistent)
//   - "bolt":   pkg/store/user/bolt (bbolt single file, persistent)
func CreateUserStore(ctx context.Context, cfg *StoreConfig) (user.Store, error) {
	switch cfg.Type {
	case "memory":
		logger.Info("User store: memory (data is lost on restart)")
		return memory.New(), nil
	case "badger":
		return createBadgerUserStore(ctx, cfg.Badger)
	case "bolt":
		return createBoltUserStore(ctx, cfg.Bolt)
	default:
		return nil, fmt.Errorf("unknown user store type: %q (supported: memory, badger, bolt)", cfg.Type)
	}
}

func createBadgerUserStore(ctx context.Context, options map[string]any) (user.Store, error) {
	var storeCfg badger.Config
	if err := decodeOptions(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode badger store options: %w", err)
	}
	if err := validate.Struct(storeCfg); err != nil {
		return nil, fmt.Errorf("badger store: %w", formatValidationError(err))
	}

	store, err := badger.New(ctx, storeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create badger user store: %w", err)
	}

	logger.Info("User store: badger at %s (in_memory=%v)", storeCfg.DBPath, storeCfg.InMemory)
	return store, nil
}

func createBoltUserStore(ctx context.Context, options map[string]any) (user.Store, error) {
	var storeCfg bolt.Config
	if err := decodeOptions(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode bolt store options: %w", err)
	}
	if err := validate.Struct(storeCfg); err != nil {
		return nil, fmt.Errorf("bolt store: %w", formatValidationError(err))
	}

	store, err := bolt.New(ctx, storeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create bolt user store: %w", err)
	}

	logger.Info("User store: bolt at %s", storeCfg.Path)
	return store, nil
}

// decodeOptions decodes a type-specific options map. Durations may be given
// as strings ("2s") and scalars are weakly typed, so values coming from env
// or TOML decode the same as YAML.
func decodeOptions(options map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(options)
}
