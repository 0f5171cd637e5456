package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-tracker/internal/auth"
	"github.com/spec-kit/ticket-tracker/internal/config"
	"github.com/spec-kit/ticket-tracker/internal/domain"
	"github.com/spec-kit/ticket-tracker/internal/events"
	"github.com/spec-kit/ticket-tracker/internal/repository"
	apperrors "github.com/spec-kit/ticket-tracker/pkg/util/errorutil"
)

// AuthPolicy controls how logins are checked.
type AuthPolicy struct {
	// VerifyPassword disables the credential check when false, so any known
	// email logs in. Only meant for local demos.
	VerifyPassword bool
}

// AuthService coordinates registration and login flows.
type AuthService struct {
	users      repository.UserRepository
	tokenMgr   *auth.TokenManager
	dispatcher events.Dispatcher
	logger     *zap.Logger
	bcryptCost int
	policy     AuthPolicy
	now        func() time.Time
}

// AuthDependencies encapsulates requirements for auth service.
type AuthDependencies struct {
	UserRepo   repository.UserRepository
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
	Clock      func() time.Time
}

// CreateUserInput describes a new account.
type CreateUserInput struct {
	Name     string
	Email    string
	Password string
	Role     domain.Role
}

// NewAuthService builds the service.
func NewAuthService(cfg config.Config, deps AuthDependencies) *AuthService {
	return &AuthService{
		users:      deps.UserRepo,
		tokenMgr:   auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes),
		dispatcher: deps.Dispatcher,
		logger:     loggerOrNop(deps.Logger),
		bcryptCost: cfg.Auth.BcryptCost,
		policy:     AuthPolicy{VerifyPassword: cfg.Auth.VerifyPassword},
		now:        clockOrDefault(deps.Clock),
	}
}

// NormalizeEmail trims and lower-cases an email so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateUser validates and stores a new account.
func (s *AuthService) CreateUser(ctx context.Context, input CreateUserInput) (*domain.User, error) {
	name := strings.TrimSpace(input.Name)
	email := NormalizeEmail(input.Email)
	role := domain.Role(strings.ToUpper(string(input.Role)))
	if role == "" {
		role = domain.RoleUser
	}

	details := map[string]any{}
	if name == "" {
		details["name"] = "required"
	}
	if email == "" {
		details["email"] = "required"
	} else if !strings.Contains(email, "@") {
		details["email"] = "invalid"
	}
	if input.Password == "" {
		details["password"] = "required"
	}
	if !role.Valid() {
		details["role"] = "must be ADMIN or USER"
	}
	if len(details) > 0 {
		return nil, apperrors.NewValidationError("invalid user", details)
	}

	hash, err := auth.HashPassword(input.Password, s.bcryptCost)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) {
			return nil, apperrors.NewValidationError("invalid user", map[string]any{"password": err.Error()})
		}
		return nil, apperrors.NewInternalError(err)
	}

	user := &domain.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    s.now(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, apperrors.NewDuplicateEmail(email)
		}
		return nil, apperrors.MapError(err)
	}

	s.logger.Info("user created", zap.String("user_id", user.ID), zap.String("role", string(user.Role)))
	publish(ctx, s.dispatcher, s.logger, s.now, events.Event{
		Type:  events.EventUserRegistered,
		Actor: events.ActorFrom(user),
		Payload: events.UserRegisteredPayload{
			UserID: user.ID,
			Role:   user.Role,
		},
	})
	return user, nil
}

// Register creates an account and issues an access token for it.
func (s *AuthService) Register(ctx context.Context, input CreateUserInput) (*domain.User, string, time.Time, error) {
	user, err := s.CreateUser(ctx, input)
	if err != nil {
		return nil, "", time.Time{}, err
	}
	token, exp, err := s.tokenMgr.GenerateToken(user)
	if err != nil {
		return nil, "", time.Time{}, apperrors.NewInternalError(err)
	}
	return user, token, exp, nil
}

// Authenticate checks credentials and issues an access token.
func (s *AuthService) Authenticate(ctx context.Context, email, password string) (*domain.User, string, time.Time, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, "", time.Time{}, apperrors.NewValidationError("email required", map[string]any{"email": "required"})
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, "", time.Time{}, apperrors.NewUserNotFound(email)
		}
		return nil, "", time.Time{}, apperrors.MapError(err)
	}
	if s.policy.VerifyPassword {
		if !auth.PasswordMatches(user.PasswordHash, password) {
			s.logger.Info("login rejected", zap.String("user_id", user.ID))
			return nil, "", time.Time{}, apperrors.NewInvalidCredentials()
		}
	}

	token, exp, err := s.tokenMgr.GenerateToken(user)
	if err != nil {
		return nil, "", time.Time{}, apperrors.NewInternalError(err)
	}
	return user, token, exp, nil
}

// TokenManager exposes the underlying token manager for middleware usage.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokenMgr
}
