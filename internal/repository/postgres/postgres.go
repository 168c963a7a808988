package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/splax/confvault/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// ensure Repository satisfies interfaces.
var (
	_ repository.Store = (*Repository)(nil)
	_ repository.Tx    = (*txRepository)(nil)
)

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Open connects a pool to the database at dsn.
func Open(ctx context.Context, dsn string) (*Repository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return New(pool), nil
}

// OpenSQL opens a database/sql handle through the pgx stdlib driver, used by
// the migration runner.
func OpenSQL(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sql connection: %w", err)
	}
	return db, nil
}

// Ping verifies the pool can reach the database.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close releases pooled connections.
func (r *Repository) Close() {
	r.pool.Close()
}

// WithinTx runs fn inside a read-committed transaction.
func (r *Repository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return repository.Persistence("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &txRepository{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return translate("commit transaction", err, repository.ErrConflict)
	}
	return nil
}

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// txRepository scopes mutations to a single transaction.
type txRepository struct {
	q querier
}

// translate maps driver failures onto the repository taxonomy. onUnique is
// returned for unique violations since a name collision and a write race
// need different kinds.
func translate(op string, err error, onUnique error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", onUnique, op)
		case "23503":
			return fmt.Errorf("%w: %s", repository.ErrNotFound, op)
		case "40001", "40P01":
			return fmt.Errorf("%w: %s", repository.ErrConflict, op)
		case "23502", "23514", "22P02", "22021":
			return fmt.Errorf("%w: %s", repository.ErrInvalidArgument, op)
		}
	}
	return repository.Persistence(op, err)
}

func bytesToNil(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
