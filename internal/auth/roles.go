package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-tracker/internal/domain"
	apperrors "github.com/spec-kit/ticket-tracker/pkg/util/errorutil"
)

// RequireRole lets the request through only when the authenticated actor
// holds one of allowed. With no roles given any authenticated actor passes.
func RequireRole(allowed ...domain.Role) fiber.Handler {
	required := make([]string, 0, len(allowed))
	for _, role := range allowed {
		required = append(required, string(role))
	}

	return func(c *fiber.Ctx) error {
		actor, err := ActorFromContext(c)
		if err != nil {
			return err
		}
		if len(allowed) == 0 || actor.Role.In(allowed...) {
			return c.Next()
		}
		return apperrors.NewDomainError(apperrors.CodePermissionDenied, "insufficient role", fiber.StatusForbidden,
			map[string]any{"required": required, "actual": string(actor.Role)})
	}
}

// RequireAnyRole only requires an authenticated actor.
func RequireAnyRole() fiber.Handler {
	return RequireRole()
}
