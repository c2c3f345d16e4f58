package backends

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardkeep/signal_layer/internal/config"
)

func TestOpen_Memory(t *testing.T) {
	store, err := Open(context.Background(), &config.Relay{Store: config.StoreMemory})
	require.NoError(t, err)
	require.NoError(t, store.Ping(context.Background()))
	assert.NoError(t, store.Close())
}

func TestOpen_Unknown(t *testing.T) {
	_, err := Open(context.Background(), &config.Relay{Store: "etcd"})
	require.Error(t, err)
}

func TestOpen_UnreachablePostgres(t *testing.T) {
	cfg := &config.Relay{Store: config.StorePostgres}
	cfg.Postgres.DSN = "postgres://relay@127.0.0.1:1/relay?sslmode=disable&connect_timeout=1"
	_, err := Open(context.Background(), cfg)
	require.Error(t, err)
}
