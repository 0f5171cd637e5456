package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-tracker/internal/domain"
	"github.com/spec-kit/ticket-tracker/internal/events"
	"github.com/spec-kit/ticket-tracker/internal/observability"
	"github.com/spec-kit/ticket-tracker/internal/repository"
	apperrors "github.com/spec-kit/ticket-tracker/pkg/util/errorutil"
)

// AssignmentService handles ticket assignment operations.
type AssignmentService struct {
	tickets    repository.TicketRepository
	users      repository.UserRepository
	history    repository.TicketHistoryRepository
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// AssignmentDependencies bundles collaborators.
type AssignmentDependencies struct {
	TicketRepo  repository.TicketRepository
	UserRepo    repository.UserRepository
	HistoryRepo repository.TicketHistoryRepository
	Dispatcher  events.Dispatcher
	Metrics     *observability.Metrics
	Logger      *zap.Logger
	Clock       func() time.Time
}

// NewAssignmentService creates the service.
func NewAssignmentService(deps AssignmentDependencies) *AssignmentService {
	return &AssignmentService{
		tickets:    deps.TicketRepo,
		users:      deps.UserRepo,
		history:    deps.HistoryRepo,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     loggerOrNop(deps.Logger),
		now:        clockOrDefault(deps.Clock),
	}
}

// AssignTicket sets the ticket assignee to the user with assigneeEmail. An
// empty email clears the assignment. Only admins may assign.
func (s *AssignmentService) AssignTicket(ctx context.Context, actor *domain.User, ticketID, assigneeEmail string) (*domain.Ticket, error) {
	if !actor.IsAdmin() {
		return nil, apperrors.NewPermissionDenied("admin role required to assign tickets")
	}

	var newAssignee *string
	if email := NormalizeEmail(assigneeEmail); email != "" {
		assignee, err := s.users.GetByEmail(ctx, email)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, apperrors.NewUserNotFound(email)
			}
			return nil, apperrors.MapError(err)
		}
		newAssignee = strPtr(assignee.Email)
	}

	ticket, before, err := mutateTicket(ctx, s.tickets, s.now, ticketID, func(t *domain.Ticket) error {
		t.AssignedTo = newAssignee
		return nil
	})
	if err != nil {
		return nil, err
	}

	oldValue := derefOr(before.AssignedTo, "")
	newValue := derefOr(ticket.AssignedTo, "")
	recordChange(ctx, s.history, s.logger, s.now, actor, ticket.ID, domain.ChangeTypeAssignee, oldValue, newValue)
	s.metrics.RecordTicketOperation("assign")
	s.logger.Info("ticket assigned",
		zap.String("ticket_id", ticket.ID),
		zap.String("from", oldValue),
		zap.String("to", newValue))
	publish(ctx, s.dispatcher, s.logger, s.now, events.Event{
		Type:     events.EventTicketAssigned,
		TicketID: ticket.ID,
		Actor:    events.ActorFrom(actor),
		Payload: events.TicketAssignedPayload{
			OldAssignee: before.AssignedTo,
			NewAssignee: ticket.AssignedTo,
		},
	})
	return ticket, nil
}
