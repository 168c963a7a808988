package postgres

import (
	"context"

	"github.com/splax/confvault/internal/domain"
	"github.com/splax/confvault/internal/repository"
)

const variableColumns = `id, environment_id, key, value, encrypted, is_secret, tags, description, created_at, updated_at`

// ListVariables returns the variables of an environment ordered by key.
func (r *Repository) ListVariables(ctx context.Context, environmentID string) ([]domain.Variable, error) {
	const query = `SELECT ` + variableColumns + ` FROM variables WHERE environment_id = $1 ORDER BY key ASC`
	rows, err := r.pool.Query(ctx, query, environmentID)
	if err != nil {
		return nil, translate("list variables", err, repository.ErrConflict)
	}
	defer rows.Close()

	vars := make([]domain.Variable, 0)
	for rows.Next() {
		var v domain.Variable
		if err := rows.Scan(&v.ID, &v.EnvironmentID, &v.Key, &v.Value, &v.Encrypted, &v.IsSecret, &v.Tags, &v.Description, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, repository.Persistence("scan variable", err)
		}
		vars = append(vars, v)
	}
	if err := rows.Err(); err != nil {
		return nil, repository.Persistence("iterate variables", err)
	}
	return vars, nil
}

// GetVariable loads a variable by its environment and key.
func (r *Repository) GetVariable(ctx context.Context, environmentID, key string) (*domain.Variable, error) {
	const query = `SELECT ` + variableColumns + ` FROM variables WHERE environment_id = $1 AND key = $2`
	return scanVariable(ctx, r.pool, query, environmentID, key)
}

// LockVariable loads a variable with a row lock held until the transaction ends.
func (t *txRepository) LockVariable(ctx context.Context, environmentID, key string) (*domain.Variable, error) {
	const query = `SELECT ` + variableColumns + ` FROM variables WHERE environment_id = $1 AND key = $2 FOR UPDATE`
	return scanVariable(ctx, t.q, query, environmentID, key)
}

// InsertVariable creates a variable. A concurrent insert of the same key
// surfaces as ErrConflict.
func (t *txRepository) InsertVariable(ctx context.Context, v *domain.Variable) error {
	const query = `INSERT INTO variables (` + variableColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := t.q.Exec(ctx, query, v.ID, v.EnvironmentID, v.Key, v.Value, v.Encrypted, v.IsSecret, v.Tags, v.Description, v.CreatedAt, v.UpdatedAt)
	return translate("insert variable", err, repository.ErrConflict)
}

// UpdateVariable overwrites the mutable columns of an existing variable.
func (t *txRepository) UpdateVariable(ctx context.Context, v *domain.Variable) error {
	const query = `UPDATE variables
		SET value = $2,
			encrypted = $3,
			is_secret = $4,
			tags = $5,
			description = $6,
			updated_at = $7
		WHERE id = $1`
	tag, err := t.q.Exec(ctx, query, v.ID, v.Value, v.Encrypted, v.IsSecret, v.Tags, v.Description, v.UpdatedAt)
	if err != nil {
		return translate("update variable", err, repository.ErrConflict)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteVariable removes a variable row.
func (t *txRepository) DeleteVariable(ctx context.Context, variableID string) error {
	tag, err := t.q.Exec(ctx, `DELETE FROM variables WHERE id = $1`, variableID)
	if err != nil {
		return translate("delete variable", err, repository.ErrConflict)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanVariable(ctx context.Context, q querier, query string, args ...any) (*domain.Variable, error) {
	var v domain.Variable
	if err := q.QueryRow(ctx, query, args...).Scan(&v.ID, &v.EnvironmentID, &v.Key, &v.Value, &v.Encrypted, &v.IsSecret, &v.Tags, &v.Description, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, translate("select variable", err, repository.ErrConflict)
	}
	return &v, nil
}
