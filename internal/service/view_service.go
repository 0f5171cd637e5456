package service

import (
	"context"
	"io"

	"github.com/spec-kit/ticket-tracker/internal/domain"
	"github.com/spec-kit/ticket-tracker/internal/export"
	"github.com/spec-kit/ticket-tracker/internal/projection"
	"github.com/spec-kit/ticket-tracker/internal/repository"
	apperrors "github.com/spec-kit/ticket-tracker/pkg/util/errorutil"
)

// ViewService serves role-scoped reads over the ticket store.
type ViewService struct {
	tickets     repository.TicketRepository
	recentLimit int
}

// NewViewService constructs the service. recentLimit is the default number
// of recent tickets on the dashboard.
func NewViewService(tickets repository.TicketRepository, recentLimit int) *ViewService {
	if recentLimit <= 0 {
		recentLimit = 3
	}
	return &ViewService{tickets: tickets, recentLimit: recentLimit}
}

// TicketQuery narrows a ticket listing. Empty slices match everything.
type TicketQuery struct {
	Statuses   []domain.TicketStatus
	Priorities []domain.TicketPriority
}

func (q TicketQuery) validate() error {
	details := map[string]any{}
	for _, status := range q.Statuses {
		if !status.Valid() {
			details["status"] = string(status)
		}
	}
	for _, priority := range q.Priorities {
		if !priority.Valid() {
			details["priority"] = string(priority)
		}
	}
	if len(details) > 0 {
		return apperrors.NewValidationError("invalid ticket filter", details)
	}
	return nil
}

// VisibleTickets returns every ticket actor may see, in insertion order.
func (s *ViewService) VisibleTickets(ctx context.Context, actor *domain.User) ([]domain.Ticket, error) {
	return s.ListTickets(ctx, actor, TicketQuery{})
}

// ListTickets returns the tickets actor may see that also match query, in
// insertion order.
func (s *ViewService) ListTickets(ctx context.Context, actor *domain.User, query TicketQuery) ([]domain.Ticket, error) {
	if actor == nil {
		return nil, apperrors.NewPermissionDenied("authentication required")
	}
	if err := query.validate(); err != nil {
		return nil, err
	}
	filter := repository.TicketFilter{Statuses: query.Statuses, Priorities: query.Priorities}
	if !actor.IsAdmin() {
		filter.CreatedBy = &actor.Email
	}
	tickets, err := s.tickets.List(ctx, filter)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	// the repository filter is an optimization; scoping is enforced here
	return projection.VisibleTickets(actor, tickets), nil
}

// Dashboard aggregates the actor's visible tickets. recentLimit <= 0 uses
// the configured default.
func (s *ViewService) Dashboard(ctx context.Context, actor *domain.User, recentLimit int) (domain.Dashboard, error) {
	visible, err := s.VisibleTickets(ctx, actor)
	if err != nil {
		return domain.Dashboard{}, err
	}
	if recentLimit <= 0 {
		recentLimit = s.recentLimit
	}
	return projection.BuildDashboard(visible, recentLimit), nil
}

// ExportCSV writes the actor's visible tickets matching query as CSV to w.
func (s *ViewService) ExportCSV(ctx context.Context, actor *domain.User, query TicketQuery, w io.Writer) (int, error) {
	visible, err := s.ListTickets(ctx, actor, query)
	if err != nil {
		return 0, err
	}
	if err := export.WriteCSV(w, visible); err != nil {
		return 0, apperrors.NewInternalError(err)
	}
	return len(visible), nil
}
