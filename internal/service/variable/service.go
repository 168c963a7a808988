// Package variable implements the per-environment variable store. Secret
// values are sealed by a Cipher before they reach storage and are redacted in
// audit history.
package variable

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/splax/confvault/internal/domain"
	"github.com/splax/confvault/internal/repository"
	"github.com/splax/confvault/internal/service/audit"
	"github.com/splax/confvault/pkg/crypto"
	"github.com/splax/confvault/pkg/logger"
)

const (
	conflictRetries = 3
	conflictBackoff = 10 * time.Millisecond
)

// Cipher seals and opens secret values.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// Resolver maps environment names to records.
type Resolver interface {
	Resolve(ctx context.Context, name string) (*domain.Environment, error)
}

// Service performs variable reads and audited writes.
type Service struct {
	vars   repository.VariableRepository
	tx     repository.Transactor
	envs   Resolver
	cipher Cipher
	audit  *audit.Recorder
	logger *slog.Logger
}

// New constructs a variable service.
func New(vars repository.VariableRepository, tx repository.Transactor, envs Resolver, cipher Cipher, recorder *audit.Recorder, log *slog.Logger) Service {
	if log == nil {
		log = logger.Discard()
	}
	return Service{vars: vars, tx: tx, envs: envs, cipher: cipher, audit: recorder, logger: log}
}

// SetInput describes an upsert. Value is a pointer so that an absent value
// can be told apart from an empty one.
type SetInput struct {
	Environment string
	Key         string
	Value       *string
	IsSecret    bool
	Tags        string
	Description string
}

var (
	errKeyRequired   = fmt.Errorf("%w: variable key required", repository.ErrInvalidArgument)
	errValueRequired = fmt.Errorf("%w: variable value required", repository.ErrInvalidArgument)
	errActorRequired = fmt.Errorf("%w: caller identity required", repository.ErrInvalidArgument)
)

// List returns the variables of an environment ordered by key. Secret values
// are returned as stored.
func (s Service) List(ctx context.Context, envName string) ([]domain.Variable, error) {
	env, err := s.envs.Resolve(ctx, envName)
	if err != nil {
		return nil, err
	}
	return s.vars.ListVariables(ctx, env.ID)
}

// Get returns a variable as stored.
func (s Service) Get(ctx context.Context, envName, key string) (*domain.Variable, error) {
	if strings.TrimSpace(key) == "" {
		return nil, errKeyRequired
	}
	env, err := s.envs.Resolve(ctx, envName)
	if err != nil {
		return nil, err
	}
	v, err := s.vars.GetVariable(ctx, env.ID, key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: variable %q in %q", repository.ErrNotFound, key, env.Name)
		}
		return nil, err
	}
	return v, nil
}

// GetDecrypted returns a variable with its plaintext value. Non-secret
// variables are returned unchanged.
func (s Service) GetDecrypted(ctx context.Context, envName, key string) (*domain.Variable, error) {
	v, err := s.Get(ctx, envName, key)
	if err != nil {
		return nil, err
	}
	if !v.Encrypted {
		return v, nil
	}
	plain, err := s.cipher.Decrypt(v.Value)
	if err != nil {
		s.logger.Warn("variable decryption failed", "environment", envName, "key", key)
		if errors.Is(err, crypto.ErrDecryption) {
			return nil, err
		}
		return nil, crypto.ErrDecryption
	}
	v.Value = plain
	return v, nil
}

// Set creates the variable for (environment, key) or updates it in place,
// preserving its id and creation time. The secret flag of the request alone
// decides whether the value is sealed.
func (s Service) Set(ctx context.Context, actor domain.Actor, in SetInput) (*domain.Variable, bool, error) {
	if !actor.Valid() {
		return nil, false, errActorRequired
	}
	if strings.TrimSpace(in.Key) == "" {
		return nil, false, errKeyRequired
	}
	if in.Value == nil {
		return nil, false, errValueRequired
	}
	env, err := s.envs.Resolve(ctx, in.Environment)
	if err != nil {
		return nil, false, err
	}
	payload, err := storedPayload(s.cipher, *in.Value, in.IsSecret)
	if err != nil {
		return nil, false, err
	}

	var (
		result  *domain.Variable
		created bool
		entry   *domain.AuditLog
	)
	attempt := func(ctx context.Context) error {
		return s.tx.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			existing, err := tx.LockVariable(ctx, env.ID, in.Key)
			if err != nil && !errors.Is(err, repository.ErrNotFound) {
				return err
			}
			now := time.Now().UTC().Truncate(time.Microsecond)

			if existing == nil {
				v := &domain.Variable{
					ID:            uuid.NewString(),
					EnvironmentID: env.ID,
					Key:           in.Key,
					Value:         payload.value,
					Encrypted:     payload.encrypted,
					IsSecret:      in.IsSecret,
					Tags:          in.Tags,
					Description:   in.Description,
					CreatedAt:     now,
					UpdatedAt:     now,
				}
				if err := tx.InsertVariable(ctx, v); err != nil {
					return err
				}
				logged, err := s.audit.Record(ctx, tx, audit.Entry{
					Action:     domain.ActionCreate,
					EntityType: domain.EntityVariable,
					EntityID:   v.ID,
					NewValue:   auditValue(v.Value, v.IsSecret),
					Metadata:   newMetadata(env, v.Key, nil, v),
					Actor:      actor,
				})
				if err != nil {
					return err
				}
				result, created, entry = v, true, logged
				return nil
			}

			previous := *existing
			updated := previous
			updated.Value = payload.value
			updated.Encrypted = payload.encrypted
			updated.IsSecret = in.IsSecret
			updated.Tags = in.Tags
			updated.Description = in.Description
			updated.UpdatedAt = nextUpdatedAt(previous.UpdatedAt, now)
			if err := tx.UpdateVariable(ctx, &updated); err != nil {
				return err
			}
			redact := previous.IsSecret || updated.IsSecret
			logged, err := s.audit.Record(ctx, tx, audit.Entry{
				Action:     domain.ActionUpdate,
				EntityType: domain.EntityVariable,
				EntityID:   updated.ID,
				OldValue:   auditValue(previous.Value, redact),
				NewValue:   auditValue(updated.Value, redact),
				Metadata:   newMetadata(env, updated.Key, &previous, &updated),
				Actor:      actor,
			})
			if err != nil {
				return err
			}
			result, created, entry = &updated, false, logged
			return nil
		})
	}

	err = retry.Do(ctx, retry.WithMaxRetries(conflictRetries, retry.NewConstant(conflictBackoff)), func(ctx context.Context) error {
		err := attempt(ctx)
		if isRetryableConflict(err) {
			s.logger.Debug("variable write conflict, retrying", "environment", env.Name, "key", in.Key)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, false, err
	}

	s.audit.Publish(entry)
	s.logger.Info("variable written", "environment", env.Name, "key", in.Key, "is_secret", in.IsSecret, "created", created, "user_id", actor.ID)
	return result, created, nil
}

// Delete removes a variable and returns its last stored state.
func (s Service) Delete(ctx context.Context, actor domain.Actor, envName, key string) (*domain.Variable, error) {
	if !actor.Valid() {
		return nil, errActorRequired
	}
	if strings.TrimSpace(key) == "" {
		return nil, errKeyRequired
	}
	env, err := s.envs.Resolve(ctx, envName)
	if err != nil {
		return nil, err
	}

	var (
		removed *domain.Variable
		entry   *domain.AuditLog
	)
	err = s.tx.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		existing, err := tx.LockVariable(ctx, env.ID, key)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%w: variable %q in %q", repository.ErrNotFound, key, env.Name)
			}
			return err
		}
		if err := tx.DeleteVariable(ctx, existing.ID); err != nil {
			return err
		}
		logged, err := s.audit.Record(ctx, tx, audit.Entry{
			Action:     domain.ActionDelete,
			EntityType: domain.EntityVariable,
			EntityID:   existing.ID,
			OldValue:   auditValue(existing.Value, existing.IsSecret),
			Metadata:   newMetadata(env, existing.Key, existing, nil),
			Actor:      actor,
		})
		if err != nil {
			return err
		}
		removed, entry = existing, logged
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.Publish(entry)
	s.logger.Info("variable deleted", "environment", env.Name, "key", key, "is_secret", removed.IsSecret, "user_id", actor.ID)
	return removed, nil
}

// isRetryableConflict reports a write race lost to a concurrent writer. Audit
// write failures are never retried.
func isRetryableConflict(err error) bool {
	return errors.Is(err, repository.ErrConflict) && !errors.Is(err, repository.ErrPersistence)
}

// nextUpdatedAt returns now, or the smallest representable instant after prev
// when the clock has not advanced past it.
func nextUpdatedAt(prev, now time.Time) time.Time {
	if now.After(prev) {
		return now
	}
	return prev.Truncate(time.Microsecond).Add(time.Microsecond)
}
