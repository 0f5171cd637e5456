package auth

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-tracker/internal/domain"
	"github.com/spec-kit/ticket-tracker/internal/repository"
	apperrors "github.com/spec-kit/ticket-tracker/pkg/util/errorutil"
)

const actorKey = "ticket_tracker_actor"

// AuthMiddleware resolves the bearer token to a stored user. The user is
// reloaded on every request so role changes and deletions apply at once.
type AuthMiddleware struct {
	tokens *TokenManager
	users  repository.UserRepository
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *TokenManager, users repository.UserRepository) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, users: users}
}

// Handle rejects the request with UNAUTHORIZED unless it carries a valid
// token for an existing user.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	raw, err := bearerToken(c.Get(fiber.HeaderAuthorization))
	if err != nil {
		return err
	}

	claims, err := m.tokens.ParseToken(raw)
	if err != nil {
		return apperrors.NewUnauthorized("invalid token")
	}

	user, err := m.users.GetByID(c.UserContext(), claims.UserID())
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NewUnauthorized("user not found")
	case err != nil:
		return apperrors.MapError(err)
	}

	c.Locals(actorKey, user)
	return c.Next()
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", apperrors.NewUnauthorized("missing authorization header")
	}
	scheme, token, ok := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", apperrors.NewUnauthorized("invalid authorization header")
	}
	return token, nil
}

// ActorFromContext returns the authenticated user or an UNAUTHORIZED error.
func ActorFromContext(c *fiber.Ctx) (*domain.User, error) {
	user, ok := c.Locals(actorKey).(*domain.User)
	if !ok || user == nil {
		return nil, apperrors.NewUnauthorized("authentication required")
	}
	return user, nil
}
