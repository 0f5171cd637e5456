package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-tracker/internal/api/dto"
	"github.com/spec-kit/ticket-tracker/internal/auth"
	"github.com/spec-kit/ticket-tracker/internal/service"
	apperrors "github.com/spec-kit/ticket-tracker/pkg/util/errorutil"
)

// DashboardHandler serves ticket analytics.
type DashboardHandler struct {
	views *service.ViewService
}

// NewDashboardHandler constructs handler.
func NewDashboardHandler(views *service.ViewService) *DashboardHandler {
	return &DashboardHandler{views: views}
}

// Get GET /dashboard?recent=n.
func (h *DashboardHandler) Get(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	recent, err := parseRecent(c.Query("recent"))
	if err != nil {
		return err
	}
	dashboard, err := h.views.Dashboard(c.UserContext(), actor, recent)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewDashboardResponse(dashboard)})
}

// parseRecent returns 0 (service default) when val is empty.
func parseRecent(val string) (int, error) {
	if val == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return 0, apperrors.NewValidationError("recent must be a positive integer", map[string]any{"recent": val})
	}
	return parsed, nil
}
