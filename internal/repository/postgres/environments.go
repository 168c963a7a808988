package postgres

import (
	"context"

	"github.com/splax/confvault/internal/domain"
	"github.com/splax/confvault/internal/repository"
)

const environmentColumns = `id, name, description, created_at`

// ListEnvironments returns environments ordered by name.
func (r *Repository) ListEnvironments(ctx context.Context) ([]domain.Environment, error) {
	const query = `SELECT ` + environmentColumns + ` FROM environments ORDER BY name ASC`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, translate("list environments", err, repository.ErrDuplicate)
	}
	defer rows.Close()

	envs := make([]domain.Environment, 0)
	for rows.Next() {
		var env domain.Environment
		if err := rows.Scan(&env.ID, &env.Name, &env.Description, &env.CreatedAt); err != nil {
			return nil, repository.Persistence("scan environment", err)
		}
		envs = append(envs, env)
	}
	if err := rows.Err(); err != nil {
		return nil, repository.Persistence("iterate environments", err)
	}
	return envs, nil
}

// GetEnvironmentByName loads a single environment by its unique name.
func (r *Repository) GetEnvironmentByName(ctx context.Context, name string) (*domain.Environment, error) {
	const query = `SELECT ` + environmentColumns + ` FROM environments WHERE name = $1`
	return scanEnvironment(ctx, r.pool, query, name)
}

// CreateEnvironment inserts a new environment record.
func (t *txRepository) CreateEnvironment(ctx context.Context, environment *domain.Environment) error {
	const query = `INSERT INTO environments (id, name, description, created_at)
		VALUES ($1, $2, $3, $4)`
	_, err := t.q.Exec(ctx, query, environment.ID, environment.Name, environment.Description, environment.CreatedAt)
	return translate("insert environment", err, repository.ErrDuplicate)
}

// LockEnvironment loads an environment and holds a row lock until the transaction ends.
func (t *txRepository) LockEnvironment(ctx context.Context, name string) (*domain.Environment, error) {
	const query = `SELECT ` + environmentColumns + ` FROM environments WHERE name = $1 FOR UPDATE`
	return scanEnvironment(ctx, t.q, query, name)
}

// DeleteEnvironment removes an environment row.
func (t *txRepository) DeleteEnvironment(ctx context.Context, environmentID string) error {
	tag, err := t.q.Exec(ctx, `DELETE FROM environments WHERE id = $1`, environmentID)
	if err != nil {
		return translate("delete environment", err, repository.ErrConflict)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// CountVariables counts the variables owned by an environment.
func (t *txRepository) CountVariables(ctx context.Context, environmentID string) (int, error) {
	var count int
	if err := t.q.QueryRow(ctx, `SELECT COUNT(1) FROM variables WHERE environment_id = $1`, environmentID).Scan(&count); err != nil {
		return 0, translate("count variables", err, repository.ErrConflict)
	}
	return count, nil
}

func scanEnvironment(ctx context.Context, q querier, query string, arg string) (*domain.Environment, error) {
	var env domain.Environment
	if err := q.QueryRow(ctx, query, arg).Scan(&env.ID, &env.Name, &env.Description, &env.CreatedAt); err != nil {
		return nil, translate("select environment", err, repository.ErrDuplicate)
	}
	return &env, nil
}
