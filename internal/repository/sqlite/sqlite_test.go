package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splax/confvault/internal/domain"
	"github.com/splax/confvault/internal/repository"
	"github.com/splax/confvault/internal/repository/sqlite"
	"github.com/splax/confvault/internal/repository/sqlite/sqlitetest"
)

func newTestRepo(t *testing.T) *sqlite.Repository {
	return sqlitetest.New(t)
}

func createEnv(t *testing.T, repo *sqlite.Repository, id, name string) *domain.Environment {
	t.Helper()
	env := &domain.Environment{ID: id, Name: name, CreatedAt: time.Now().UTC()}
	err := repo.WithinTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		return tx.CreateEnvironment(ctx, env)
	})
	require.NoError(t, err)
	return env
}

func testVariable(envID, id, key string) *domain.Variable {
	now := time.Now().UTC()
	return &domain.Variable{
		ID:            id,
		EnvironmentID: envID,
		Key:           key,
		Value:         "value",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestEnvironmentLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	createEnv(t, repo, "env-2", "staging")
	createEnv(t, repo, "env-1", "production")

	envs, err := repo.ListEnvironments(ctx)
	require.NoError(t, err)
	require.Len(t, envs, 2)
	assert.Equal(t, "production", envs[0].Name)
	assert.Equal(t, "staging", envs[1].Name)

	err = repo.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.CreateEnvironment(ctx, &domain.Environment{ID: "env-3", Name: "staging", CreatedAt: time.Now().UTC()})
	})
	assert.ErrorIs(t, err, repository.ErrDuplicate)

	_, err = repo.GetEnvironmentByName(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	err = repo.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.DeleteEnvironment(ctx, "env-2")
	})
	require.NoError(t, err)

	_, err = repo.GetEnvironmentByName(ctx, "staging")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestVariableConstraints(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	env := createEnv(t, repo, "env-1", "production")

	err := repo.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.InsertVariable(ctx, testVariable(env.ID, "var-1", "API_URL"))
	})
	require.NoError(t, err)

	err = repo.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.InsertVariable(ctx, testVariable(env.ID, "var-2", "API_URL"))
	})
	assert.ErrorIs(t, err, repository.ErrConflict)

	mismatched := testVariable(env.ID, "var-3", "TOKEN")
	mismatched.IsSecret = true
	err = repo.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.InsertVariable(ctx, mismatched)
	})
	assert.ErrorIs(t, err, repository.ErrInvalidArgument)

	err = repo.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.InsertVariable(ctx, testVariable("env-missing", "var-4", "API_URL"))
	})
	assert.ErrorIs(t, err, repository.ErrNotFound)

	err = repo.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		count, err := tx.CountVariables(ctx, env.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
		return nil
	})
	require.NoError(t, err)
}

func TestVariableUpdatePreservesIdentity(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	env := createEnv(t, repo, "env-1", "production")

	original := testVariable(env.ID, "var-1", "DB_PASSWORD")
	require.NoError(t, repo.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.InsertVariable(ctx, original)
	}))

	require.NoError(t, repo.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		current, err := tx.LockVariable(ctx, env.ID, "DB_PASSWORD")
		if err != nil {
			return err
		}
		current.Value = "v1:sealed"
		current.Encrypted = true
		current.IsSecret = true
		current.Tags = "db"
		current.UpdatedAt = current.UpdatedAt.Add(time.Second)
		return tx.UpdateVariable(ctx, current)
	}))

	got, err := repo.GetVariable(ctx, env.ID, "DB_PASSWORD")
	require.NoError(t, err)
	assert.Equal(t, "var-1", got.ID)
	assert.Equal(t, "v1:sealed", got.Value)
	assert.True(t, got.Encrypted)
	assert.True(t, got.IsSecret)
	assert.Equal(t, "db", got.Tags)
	assert.WithinDuration(t, original.CreatedAt, got.CreatedAt, time.Microsecond)
	assert.True(t, got.UpdatedAt.After(got.CreatedAt))

	vars, err := repo.ListVariables(ctx, env.ID)
	require.NoError(t, err)
	assert.Len(t, vars, 1)
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	boom := errors.New("boom")

	err := repo.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := tx.CreateEnvironment(ctx, &domain.Environment{ID: "env-1", Name: "production", CreatedAt: time.Now().UTC()}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	envs, err := repo.ListEnvironments(ctx)
	require.NoError(t, err)
	assert.Empty(t, envs)
}

func TestAuditLogsFilterAndOrder(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	redacted := domain.RedactedValue
	entries := []*domain.AuditLog{
		{ID: "a-1", Action: domain.ActionCreate, EntityType: domain.EntityEnvironment, EntityID: "env-1"},
		{ID: "a-2", Action: domain.ActionCreate, EntityType: domain.EntityVariable, EntityID: "var-1", NewValue: &redacted, Metadata: []byte(`{"key":"TOKEN"}`)},
		{ID: "a-3", Action: domain.ActionUpdate, EntityType: domain.EntityVariable, EntityID: "var-1", OldValue: &redacted, NewValue: &redacted},
	}
	require.NoError(t, repo.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		for _, entry := range entries {
			entry.UserID = "user-1"
			entry.UserName = "alice"
			entry.Timestamp = time.Now().UTC()
			if err := tx.InsertAuditLog(ctx, entry); err != nil {
				return err
			}
		}
		return nil
	}))
	assert.Less(t, entries[0].Seq, entries[1].Seq)
	assert.Less(t, entries[1].Seq, entries[2].Seq)

	logs, total, err := repo.ListAuditLogs(ctx, repository.AuditFilter{Limit: 50})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, logs, 3)
	assert.Equal(t, "a-3", logs[0].ID)
	assert.Equal(t, "a-1", logs[2].ID)
	assert.Nil(t, logs[2].OldValue)

	logs, total, err = repo.ListAuditLogs(ctx, repository.AuditFilter{EntityType: domain.EntityVariable, Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, logs, 1)
	assert.Equal(t, "a-2", logs[0].ID)
	require.NotNil(t, logs[0].NewValue)
	assert.Equal(t, domain.RedactedValue, *logs[0].NewValue)
	assert.JSONEq(t, `{"key":"TOKEN"}`, string(logs[0].Metadata))

	logs, total, err = repo.ListAuditLogs(ctx, repository.AuditFilter{Action: domain.ActionUpdate, EntityID: "var-1", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "a-3", logs[0].ID)
}

func TestAuditLogsAreAppendOnly(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	require.NoError(t, repo.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.InsertAuditLog(ctx, &domain.AuditLog{
			ID: "a-1", Action: domain.ActionCreate, EntityType: domain.EntityEnvironment,
			EntityID: "env-1", UserID: "user-1", UserName: "alice", Timestamp: time.Now().UTC(),
		})
	}))

	_, err := repo.DB().ExecContext(ctx, `UPDATE audit_logs SET user_name = 'mallory'`)
	assert.Error(t, err)
	_, err = repo.DB().ExecContext(ctx, `DELETE FROM audit_logs`)
	assert.Error(t, err)

	_, total, err := repo.ListAuditLogs(ctx, repository.AuditFilter{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	user := &domain.User{ID: "user-1", Username: "alice", PasswordHash: []byte("hash"), CreatedAt: time.Now().UTC()}
	require.NoError(t, repo.CreateUser(ctx, user))
	assert.ErrorIs(t, repo.CreateUser(ctx, &domain.User{ID: "user-2", Username: "alice", PasswordHash: []byte("x"), CreatedAt: time.Now().UTC()}), repository.ErrDuplicate)

	got, err := repo.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.ID)
	assert.Equal(t, []byte("hash"), got.PasswordHash)

	_, err = repo.GetUserByID(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
