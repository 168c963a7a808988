package repository

import (
	"context"

	"github.com/splax/confvault/internal/domain"
)

// UserRepository persists users.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
}

// EnvironmentRepository reads environments outside of a transaction.
type EnvironmentRepository interface {
	ListEnvironments(ctx context.Context) ([]domain.Environment, error)
	GetEnvironmentByName(ctx context.Context, name string) (*domain.Environment, error)
}

// VariableRepository reads variables outside of a transaction.
type VariableRepository interface {
	ListVariables(ctx context.Context, environmentID string) ([]domain.Variable, error)
	GetVariable(ctx context.Context, environmentID, key string) (*domain.Variable, error)
}

// AuditFilter narrows audit log queries. Limit and Offset are expected to be
// normalized by the caller.
type AuditFilter struct {
	Action     string
	EntityType string
	EntityID   string
	Limit      int
	Offset     int
}

// AuditRepository reads the audit trail. Entries are only ever written through Tx.
type AuditRepository interface {
	ListAuditLogs(ctx context.Context, filter AuditFilter) ([]domain.AuditLog, int, error)
}

// Tx exposes the mutations that must commit atomically with their audit entry.
type Tx interface {
	CreateEnvironment(ctx context.Context, environment *domain.Environment) error
	LockEnvironment(ctx context.Context, name string) (*domain.Environment, error)
	DeleteEnvironment(ctx context.Context, environmentID string) error
	CountVariables(ctx context.Context, environmentID string) (int, error)

	LockVariable(ctx context.Context, environmentID, key string) (*domain.Variable, error)
	InsertVariable(ctx context.Context, variable *domain.Variable) error
	UpdateVariable(ctx context.Context, variable *domain.Variable) error
	DeleteVariable(ctx context.Context, variableID string) error

	InsertAuditLog(ctx context.Context, log *domain.AuditLog) error
}

// Transactor runs fn inside a single database transaction. The transaction
// commits only when fn returns nil.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Store is the full persistence surface implemented by each driver.
type Store interface {
	UserRepository
	EnvironmentRepository
	VariableRepository
	AuditRepository
	Transactor
	Ping(ctx context.Context) error
	Close()
}
