// Package backends opens the signal store selected by configuration.
package backends

import (
	"context"
	"fmt"

	"github.com/cardkeep/signal_layer/internal/app/storage"
	"github.com/cardkeep/signal_layer/internal/app/storage/memory"
	"github.com/cardkeep/signal_layer/internal/app/storage/postgres"
	"github.com/cardkeep/signal_layer/internal/app/storage/redis"
	"github.com/cardkeep/signal_layer/internal/config"
)

// Store is a signal store that owns connections.
type Store interface {
	storage.SignalStore
	Close() error
}

type memoryStore struct{ *memory.Store }

func (memoryStore) Close() error { return nil }

// Open connects the store named by cfg.Store.
func Open(ctx context.Context, cfg *config.Relay) (Store, error) {
	switch cfg.Store {
	case config.StorePostgres:
		s, err := postgres.Open(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxOpenConns, cfg.Postgres.MaxIdleConns)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.StoreRedis:
		s, err := redis.Open(ctx, redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.StoreMemory:
		return memoryStore{memory.New()}, nil
	}
	return nil, fmt.Errorf("unknown signal store %q", cfg.Store)
}
