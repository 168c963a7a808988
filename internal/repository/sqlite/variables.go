package sqlite

import (
	"context"

	"github.com/splax/confvault/internal/domain"
	"github.com/splax/confvault/internal/repository"
)

const variableColumns = `id, environment_id, key, value, encrypted, is_secret, tags, description, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanVariableRow(row scanner) (*domain.Variable, error) {
	var v domain.Variable
	if err := row.Scan(&v.ID, &v.EnvironmentID, &v.Key, &v.Value, &v.Encrypted, &v.IsSecret, &v.Tags, &v.Description, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}
	return &v, nil
}

// ListVariables returns the variables of an environment ordered by key.
func (r *Repository) ListVariables(ctx context.Context, environmentID string) ([]domain.Variable, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+variableColumns+` FROM variables WHERE environment_id = ? ORDER BY key ASC`, environmentID)
	if err != nil {
		return nil, translate("list variables", err, repository.ErrConflict)
	}
	defer rows.Close()

	vars := make([]domain.Variable, 0)
	for rows.Next() {
		v, err := scanVariableRow(rows)
		if err != nil {
			return nil, repository.Persistence("scan variable", err)
		}
		vars = append(vars, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, repository.Persistence("iterate variables", err)
	}
	return vars, nil
}

// GetVariable loads a variable by its environment and key.
func (r *Repository) GetVariable(ctx context.Context, environmentID, key string) (*domain.Variable, error) {
	return getVariable(ctx, r.db, environmentID, key)
}

// LockVariable loads a variable inside the write transaction.
func (t *txRepository) LockVariable(ctx context.Context, environmentID, key string) (*domain.Variable, error) {
	return getVariable(ctx, t.q, environmentID, key)
}

// InsertVariable creates a variable.
func (t *txRepository) InsertVariable(ctx context.Context, v *domain.Variable) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO variables (`+variableColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.EnvironmentID, v.Key, v.Value, v.Encrypted, v.IsSecret, v.Tags, v.Description, v.CreatedAt, v.UpdatedAt)
	return translate("insert variable", err, repository.ErrConflict)
}

// UpdateVariable overwrites the mutable columns of an existing variable.
func (t *txRepository) UpdateVariable(ctx context.Context, v *domain.Variable) error {
	res, err := t.q.ExecContext(ctx,
		`UPDATE variables SET value = ?, encrypted = ?, is_secret = ?, tags = ?, description = ?, updated_at = ? WHERE id = ?`,
		v.Value, v.Encrypted, v.IsSecret, v.Tags, v.Description, v.UpdatedAt, v.ID)
	if err != nil {
		return translate("update variable", err, repository.ErrConflict)
	}
	return rowsAffected(res, "update variable")
}

// DeleteVariable removes a variable row.
func (t *txRepository) DeleteVariable(ctx context.Context, variableID string) error {
	res, err := t.q.ExecContext(ctx, `DELETE FROM variables WHERE id = ?`, variableID)
	if err != nil {
		return translate("delete variable", err, repository.ErrConflict)
	}
	return rowsAffected(res, "delete variable")
}

func getVariable(ctx context.Context, q querier, environmentID, key string) (*domain.Variable, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+variableColumns+` FROM variables WHERE environment_id = ? AND key = ?`, environmentID, key)
	v, err := scanVariableRow(row)
	if err != nil {
		return nil, translate("select variable", err, repository.ErrConflict)
	}
	return v, nil
}
