package sqlite

import (
	"context"

	"github.com/splax/confvault/internal/domain"
	"github.com/splax/confvault/internal/repository"
)

// ListEnvironments returns environments ordered by name.
func (r *Repository) ListEnvironments(ctx context.Context) ([]domain.Environment, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, description, created_at FROM environments ORDER BY name ASC`)
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
	return scanEnvironment(ctx, r.db, name)
}

// CreateEnvironment inserts a new environment record.
func (t *txRepository) CreateEnvironment(ctx context.Context, environment *domain.Environment) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO environments (id, name, description, created_at) VALUES (?, ?, ?, ?)`,
		environment.ID, environment.Name, environment.Description, environment.CreatedAt)
	return translate("insert environment", err, repository.ErrDuplicate)
}

// LockEnvironment loads an environment. The immediate transaction already
// holds the database write lock.
func (t *txRepository) LockEnvironment(ctx context.Context, name string) (*domain.Environment, error) {
	return scanEnvironment(ctx, t.q, name)
}

// DeleteEnvironment removes an environment row.
func (t *txRepository) DeleteEnvironment(ctx context.Context, environmentID string) error {
	res, err := t.q.ExecContext(ctx, `DELETE FROM environments WHERE id = ?`, environmentID)
	if err != nil {
		return translate("delete environment", err, repository.ErrConflict)
	}
	return rowsAffected(res, "delete environment")
}

// CountVariables counts the variables owned by an environment.
func (t *txRepository) CountVariables(ctx context.Context, environmentID string) (int, error) {
	var count int
	if err := t.q.QueryRowContext(ctx, `SELECT COUNT(1) FROM variables WHERE environment_id = ?`, environmentID).Scan(&count); err != nil {
		return 0, translate("count variables", err, repository.ErrConflict)
	}
	return count, nil
}

func scanEnvironment(ctx context.Context, q querier, name string) (*domain.Environment, error) {
	var env domain.Environment
	err := q.QueryRowContext(ctx, `SELECT id, name, description, created_at FROM environments WHERE name = ?`, name).
		Scan(&env.ID, &env.Name, &env.Description, &env.CreatedAt)
	if err != nil {
		return nil, translate("select environment", err, repository.ErrDuplicate)
	}
	return &env, nil
}
