// Package sqlitetest provisions migrated SQLite stores for tests.
package sqlitetest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/splax/confvault/internal/app/migrate"
	"github.com/splax/confvault/internal/repository/sqlite"
	"github.com/splax/confvault/pkg/logger"
)

// New opens a fresh database under t.TempDir, applies every migration and
// closes it when the test ends.
func New(t testing.TB) *sqlite.Repository {
	t.Helper()
	repo, err := sqlite.Open(filepath.Join(t.TempDir(), "confvault.db"))
	require.NoError(t, err)
	t.Cleanup(repo.Close)

	runner, err := migrate.New(repo.DB(), "sqlite", logger.Discard())
	require.NoError(t, err)
	require.NoError(t, runner.Ensure(context.Background()))
	return repo
}
