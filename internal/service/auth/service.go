package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/splax/confvault/internal/domain"
	"github.com/splax/confvault/internal/repository"
	"github.com/splax/confvault/pkg/config"
	"github.com/splax/confvault/pkg/crypto"
	jwtpkg "github.com/splax/confvault/pkg/jwt"
)

const minPasswordLength = 8

var usernameExpr = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{1,63}$`)

var (
	// ErrInvalidCredentials is returned for an unknown user or wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnauthorized is returned when a bearer token cannot be resolved to a user.
	ErrUnauthorized = errors.New("unauthorized")

	errUsernameInvalid = fmt.Errorf("%w: username must be 2-64 letters, digits, '.', '_' or '-'", repository.ErrInvalidArgument)
	errPasswordShort   = fmt.Errorf("%w: password must be at least %d characters", repository.ErrInvalidArgument, minPasswordLength)
	errPasswordLong    = fmt.Errorf("%w: password must be at most %d bytes", repository.ErrInvalidArgument, crypto.MaxPasswordBytes)
)

// Service handles authentication workflows.
type Service struct {
	users  repository.UserRepository
	logger *slog.Logger
	cfg    config.APIConfig
}

// New constructs a Service.
func New(users repository.UserRepository, logger *slog.Logger, cfg config.APIConfig) Service {
	return Service{users: users, logger: logger, cfg: cfg}
}

// Token is an issued access token.
type Token struct {
	AccessToken string
	ExpiresIn   time.Duration
}

// Signup registers a new user.
func (s Service) Signup(ctx context.Context, username, password string) (*domain.User, Token, error) {
	username = strings.TrimSpace(username)
	if !usernameExpr.MatchString(username) {
		return nil, Token{}, errUsernameInvalid
	}
	if len(password) < minPasswordLength {
		return nil, Token{}, errPasswordShort
	}
	if len(password) > crypto.MaxPasswordBytes {
		return nil, Token{}, errPasswordLong
	}
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return nil, Token{}, err
	}
	user := &domain.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, Token{}, fmt.Errorf("%w: username %q taken", repository.ErrDuplicate, username)
		}
		return nil, Token{}, err
	}
	token, err := s.issueToken(user)
	if err != nil {
		return nil, Token{}, err
	}
	s.logger.Info("user registered", "user_id", user.ID, "username", user.Username)
	return user, token, nil
}

// Login authenticates a user and returns an access token.
func (s Service) Login(ctx context.Context, username, password string) (*domain.User, Token, error) {
	user, err := s.users.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, Token{}, ErrInvalidCredentials
		}
		return nil, Token{}, err
	}
	if err := crypto.ComparePassword(user.PasswordHash, password); err != nil {
		s.logger.Warn("login rejected", "user_id", user.ID)
		return nil, Token{}, ErrInvalidCredentials
	}
	token, err := s.issueToken(user)
	if err != nil {
		return nil, Token{}, err
	}
	s.logger.Info("user logged in", "user_id", user.ID)
	return user, token, nil
}

// Authorize validates a bearer token and returns the caller identity.
func (s Service) Authorize(ctx context.Context, token string) (domain.Actor, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return domain.Actor{}, ErrUnauthorized
	}
	claims, err := jwtpkg.Parse(trimmed, s.cfg.JWTSecret)
	if err != nil {
		return domain.Actor{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Actor{}, ErrUnauthorized
		}
		return domain.Actor{}, err
	}
	return domain.Actor{ID: user.ID, Username: user.Username}, nil
}

func (s Service) issueToken(user *domain.User) (Token, error) {
	access, err := jwtpkg.GenerateToken(user.ID, user.Username, s.cfg.JWTSecret, s.cfg.AccessTokenTTL)
	if err != nil {
		return Token{}, err
	}
	return Token{AccessToken: access, ExpiresIn: s.cfg.AccessTokenTTL}, nil
}
