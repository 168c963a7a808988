package environment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/splax/confvault/internal/domain"
	"github.com/splax/confvault/internal/repository"
	"github.com/splax/confvault/internal/service/audit"
	"github.com/splax/confvault/pkg/logger"
)

const maxNameLength = 64

var nameExpr = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Service is the registry of named environments.
type Service struct {
	envs   repository.EnvironmentRepository
	tx     repository.Transactor
	audit  *audit.Recorder
	logger *slog.Logger
}

// New constructs an environment service.
func New(envs repository.EnvironmentRepository, tx repository.Transactor, recorder *audit.Recorder, log *slog.Logger) Service {
	if log == nil {
		log = logger.Discard()
	}
	return Service{envs: envs, tx: tx, audit: recorder, logger: log}
}

var (
	errNameRequired  = fmt.Errorf("%w: environment name required", repository.ErrInvalidArgument)
	errNameInvalid   = fmt.Errorf("%w: environment name may contain letters, digits, '.', '_' and '-' only", repository.ErrInvalidArgument)
	errNameTooLong   = fmt.Errorf("%w: environment name exceeds %d characters", repository.ErrInvalidArgument, maxNameLength)
	errActorRequired = fmt.Errorf("%w: caller identity required", repository.ErrInvalidArgument)
)

// snapshot is the audited representation of an environment.
type snapshot struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// List returns every environment ordered by name.
func (s Service) List(ctx context.Context) ([]domain.Environment, error) {
	return s.envs.ListEnvironments(ctx)
}

// Resolve maps an environment name to its record.
func (s Service) Resolve(ctx context.Context, name string) (*domain.Environment, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errNameRequired
	}
	env, err := s.envs.GetEnvironmentByName(ctx, name)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: environment %q", repository.ErrNotFound, name)
		}
		return nil, err
	}
	return env, nil
}

// Create registers a new environment. Names are unique.
func (s Service) Create(ctx context.Context, actor domain.Actor, name, description string) (*domain.Environment, error) {
	if !actor.Valid() {
		return nil, errActorRequired
	}
	name, err := normalizeName(name)
	if err != nil {
		return nil, err
	}
	env := &domain.Environment{
		ID:          uuid.NewString(),
		Name:        name,
		Description: strings.TrimSpace(description),
		CreatedAt:   time.Now().UTC().Truncate(time.Microsecond),
	}

	var entry *domain.AuditLog
	err = s.tx.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := tx.CreateEnvironment(ctx, env); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return fmt.Errorf("%w: environment %q already exists", repository.ErrDuplicate, name)
			}
			return err
		}
		logged, err := s.audit.Record(ctx, tx, audit.Entry{
			Action:     domain.ActionCreate,
			EntityType: domain.EntityEnvironment,
			EntityID:   env.ID,
			NewValue:   encodeSnapshot(env),
			Actor:      actor,
		})
		entry = logged
		return err
	})
	if err != nil {
		return nil, err
	}
	s.audit.Publish(entry)
	s.logger.Info("environment created", "environment", env.Name, "environment_id", env.ID, "user_id", actor.ID)
	return env, nil
}

// Delete removes an environment that owns no variables.
func (s Service) Delete(ctx context.Context, actor domain.Actor, name string) (*domain.Environment, error) {
	if !actor.Valid() {
		return nil, errActorRequired
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errNameRequired
	}

	var (
		env   *domain.Environment
		entry *domain.AuditLog
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		env, err = tx.LockEnvironment(ctx, name)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%w: environment %q", repository.ErrNotFound, name)
			}
			return err
		}
		count, err := tx.CountVariables(ctx, env.ID)
		if err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: %d variable(s) in %q", repository.ErrEnvironmentNotEmpty, count, name)
		}
		if err := tx.DeleteEnvironment(ctx, env.ID); err != nil {
			return err
		}
		entry, err = s.audit.Record(ctx, tx, audit.Entry{
			Action:     domain.ActionDelete,
			EntityType: domain.EntityEnvironment,
			EntityID:   env.ID,
			OldValue:   encodeSnapshot(env),
			Actor:      actor,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.audit.Publish(entry)
	s.logger.Info("environment deleted", "environment", env.Name, "environment_id", env.ID, "user_id", actor.ID)
	return env, nil
}

func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return "", errNameRequired
	case len(name) > maxNameLength:
		return "", errNameTooLong
	case !nameExpr.MatchString(name):
		return "", errNameInvalid
	}
	return name, nil
}

func encodeSnapshot(env *domain.Environment) *string {
	raw, _ := json.Marshal(snapshot{Name: env.Name, Description: env.Description})
	value := string(raw)
	return &value
}
