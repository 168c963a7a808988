// Package store opens the configured persistence driver together with the
// database/sql handle the migration runner needs.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/splax/confvault/internal/repository"
	"github.com/splax/confvault/internal/repository/postgres"
	"github.com/splax/confvault/internal/repository/sqlite"
	"github.com/splax/confvault/pkg/config"
)

// Handle bundles an open store with its migration handle.
type Handle struct {
	Store  repository.Store
	SQL    *sql.DB
	Driver string
	close  func()
}

// Close releases every connection held by the handle.
func (h Handle) Close() {
	if h.close != nil {
		h.close()
	}
}

// Open connects to the store selected by cfg.StoreDriver.
func Open(ctx context.Context, cfg config.APIConfig) (Handle, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		repo, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return Handle{}, err
		}
		db, err := postgres.OpenSQL(cfg.DatabaseURL)
		if err != nil {
			repo.Close()
			return Handle{}, err
		}
		return Handle{
			Store:  repo,
			SQL:    db,
			Driver: config.DriverPostgres,
			close: func() {
				_ = db.Close()
				repo.Close()
			},
		}, nil
	case config.DriverSQLite:
		repo, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return Handle{}, err
		}
		return Handle{Store: repo, SQL: repo.DB(), Driver: config.DriverSQLite, close: repo.Close}, nil
	default:
		return Handle{}, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}
