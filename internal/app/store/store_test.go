package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splax/confvault/internal/app/migrate"
	"github.com/splax/confvault/pkg/config"
	"github.com/splax/confvault/pkg/logger"
)

func TestOpenSQLiteAndMigrate(t *testing.T) {
	ctx := context.Background()
	cfg := config.APIConfig{StoreDriver: config.DriverSQLite, SQLitePath: filepath.Join(t.TempDir(), "nested", "store.db")}

	h, err := Open(ctx, cfg)
	require.NoError(t, err)
	defer h.Close()
	assert.Equal(t, config.DriverSQLite, h.Driver)

	runner, err := migrate.New(h.SQL, h.Driver, logger.Discard())
	require.NoError(t, err)
	require.NoError(t, runner.Ensure(ctx))
	version, err := runner.Version(ctx)
	require.NoError(t, err)
	assert.Positive(t, version)

	require.NoError(t, h.Store.Ping(ctx))
	envs, err := h.Store.ListEnvironments(ctx)
	require.NoError(t, err)
	assert.Empty(t, envs)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.APIConfig{StoreDriver: "mysql"})
	assert.Error(t, err)
}
