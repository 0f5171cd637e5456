package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-tracker/internal/config"
	"github.com/spec-kit/ticket-tracker/internal/domain"
	"github.com/spec-kit/ticket-tracker/internal/events"
	"github.com/spec-kit/ticket-tracker/internal/observability"
	"github.com/spec-kit/ticket-tracker/internal/projection"
	"github.com/spec-kit/ticket-tracker/internal/repository"
	apperrors "github.com/spec-kit/ticket-tracker/pkg/util/errorutil"
)

// maxUpdateAttempts bounds read-modify-write retries on version conflicts.
const maxUpdateAttempts = 3

// TicketPolicy holds the rules ticket mutations are checked against.
type TicketPolicy struct {
	// CreatorRoles lists roles allowed to open tickets.
	CreatorRoles []domain.Role
	// StrictTransitions limits status changes to allowedTransitions. When
	// false any status may move to any other.
	StrictTransitions bool
	// IdempotencyTTL is how long a create idempotency key is remembered.
	IdempotencyTTL time.Duration
}

// DefaultTicketPolicy lets only USER accounts open tickets and keeps
// status changes permissive.
func DefaultTicketPolicy() TicketPolicy {
	return TicketPolicy{
		CreatorRoles:   []domain.Role{domain.RoleUser},
		IdempotencyTTL: 24 * time.Hour,
	}
}

// TicketPolicyFromConfig converts configuration into a policy.
func TicketPolicyFromConfig(cfg config.TicketConfig) TicketPolicy {
	policy := TicketPolicy{
		StrictTransitions: cfg.StrictTransitions,
		IdempotencyTTL:    cfg.IdempotencyTTL(),
	}
	for _, raw := range cfg.CreatorRoles {
		role := domain.Role(strings.ToUpper(strings.TrimSpace(raw)))
		if role.Valid() {
			policy.CreatorRoles = append(policy.CreatorRoles, role)
		}
	}
	if len(policy.CreatorRoles) == 0 {
		policy.CreatorRoles = DefaultTicketPolicy().CreatorRoles
	}
	return policy
}

func (p TicketPolicy) canCreate(role domain.Role) bool {
	return role.In(p.CreatorRoles...)
}

// TicketService coordinates ticket workflows.
type TicketService struct {
	tickets     repository.TicketRepository
	history     repository.TicketHistoryRepository
	idempotency repository.IdempotencyStore
	dispatcher  events.Dispatcher
	metrics     *observability.Metrics
	logger      *zap.Logger
	policy      TicketPolicy
	now         func() time.Time
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	TicketRepo  repository.TicketRepository
	HistoryRepo repository.TicketHistoryRepository
	Idempotency repository.IdempotencyStore
	Dispatcher  events.Dispatcher
	Metrics     *observability.Metrics
	Logger      *zap.Logger
	Clock       func() time.Time
	Policy      TicketPolicy
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	Title          string
	Description    string
	Priority       domain.TicketPriority
	IdempotencyKey string
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	policy := deps.Policy
	if len(policy.CreatorRoles) == 0 {
		policy.CreatorRoles = DefaultTicketPolicy().CreatorRoles
	}
	return &TicketService{
		tickets:     deps.TicketRepo,
		history:     deps.HistoryRepo,
		idempotency: deps.Idempotency,
		dispatcher:  deps.Dispatcher,
		metrics:     deps.Metrics,
		logger:      loggerOrNop(deps.Logger),
		policy:      policy,
		now:         clockOrDefault(deps.Clock),
	}
}

// CreateTicket opens a ticket owned by actor. A repeated call with the same
// idempotency key from the same actor returns the ticket created first.
func (s *TicketService) CreateTicket(ctx context.Context, actor *domain.User, input TicketCreateInput) (*domain.Ticket, error) {
	if actor == nil {
		return nil, apperrors.NewPermissionDenied("authentication required to create tickets")
	}
	if !s.policy.canCreate(actor.Role) {
		return nil, apperrors.NewPermissionDenied("role " + string(actor.Role) + " cannot create tickets")
	}

	title := strings.TrimSpace(input.Title)
	description := strings.TrimSpace(input.Description)
	priority := domain.TicketPriority(strings.ToUpper(strings.TrimSpace(string(input.Priority))))
	if priority == "" {
		priority = domain.TicketPriorityMedium
	}

	details := map[string]any{}
	if title == "" {
		details["title"] = "required"
	}
	if description == "" {
		details["description"] = "required"
	}
	if !priority.Valid() {
		details["priority"] = "must be LOW, MEDIUM or HIGH"
	}
	if len(details) > 0 {
		return nil, apperrors.NewValidationError("invalid ticket", details)
	}

	now := s.now()
	ticket := &domain.Ticket{
		ID:          uuid.NewString(),
		Title:       title,
		Description: description,
		Status:      domain.TicketStatusOpen,
		Priority:    priority,
		CreatedBy:   actor.Email,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}

	idemKey := ""
	if key := strings.TrimSpace(input.IdempotencyKey); key != "" && s.idempotency != nil {
		idemKey = actor.Email + ":" + key
		boundID, created, err := s.idempotency.Reserve(ctx, idemKey, ticket.ID, s.policy.IdempotencyTTL)
		if err != nil {
			return nil, apperrors.NewInternalError(err)
		}
		if !created {
			existing, err := s.tickets.GetByID(ctx, boundID)
			if err == nil {
				s.logger.Debug("idempotent create replayed", zap.String("ticket_id", existing.ID))
				return existing, nil
			}
			if errors.Is(err, repository.ErrNotFound) {
				return nil, apperrors.NewConflict("a request with this idempotency key is in progress", map[string]any{"idempotency_key": key})
			}
			return nil, apperrors.MapError(err)
		}
	}

	if err := s.tickets.Create(ctx, ticket); err != nil {
		if idemKey != "" {
			if relErr := s.idempotency.Release(ctx, idemKey); relErr != nil {
				s.logger.Warn("release idempotency key", zap.Error(relErr))
			}
		}
		return nil, apperrors.MapError(err)
	}

	s.metrics.RecordTicketOperation("create")
	s.logger.Info("ticket created",
		zap.String("ticket_id", ticket.ID),
		zap.String("created_by", ticket.CreatedBy),
		zap.String("priority", string(ticket.Priority)))
	publish(ctx, s.dispatcher, s.logger, s.now, events.Event{
		Type:     events.EventTicketCreated,
		TicketID: ticket.ID,
		Actor:    events.ActorFrom(actor),
		Payload: events.TicketCreatedPayload{
			Priority:  ticket.Priority,
			Title:     ticket.Title,
			CreatedBy: ticket.CreatedBy,
		},
	})
	return ticket, nil
}

// UpdateStatus changes a ticket's status. Only admins may do this.
func (s *TicketService) UpdateStatus(ctx context.Context, actor *domain.User, ticketID string, newStatus domain.TicketStatus) (*domain.Ticket, error) {
	if !actor.IsAdmin() {
		return nil, apperrors.NewPermissionDenied("admin role required to change status")
	}
	newStatus = domain.TicketStatus(strings.ToUpper(strings.TrimSpace(string(newStatus))))
	if !newStatus.Valid() {
		return nil, apperrors.NewValidationError("invalid status", map[string]any{"status": string(newStatus)})
	}

	ticket, before, err := mutateTicket(ctx, s.tickets, s.now, ticketID, func(t *domain.Ticket) error {
		if s.policy.StrictTransitions && !isValidTransition(t.Status, newStatus) {
			return apperrors.NewInvalidTransition(string(t.Status), string(newStatus))
		}
		t.Status = newStatus
		return nil
	})
	if err != nil {
		return nil, err
	}

	recordChange(ctx, s.history, s.logger, s.now, actor, ticket.ID, domain.ChangeTypeStatus, string(before.Status), string(ticket.Status))
	s.metrics.RecordTicketOperation("update_status")
	s.logger.Info("ticket status changed",
		zap.String("ticket_id", ticket.ID),
		zap.String("from", string(before.Status)),
		zap.String("to", string(ticket.Status)))
	publish(ctx, s.dispatcher, s.logger, s.now, events.Event{
		Type:     events.EventTicketStatusChanged,
		TicketID: ticket.ID,
		Actor:    events.ActorFrom(actor),
		Payload: events.TicketStatusChangedPayload{
			OldStatus: before.Status,
			NewStatus: ticket.Status,
			Owner:     ticket.CreatedBy,
		},
	})
	return ticket, nil
}

// GetTicket returns a ticket visible to actor. Tickets the actor may not see
// are reported as not found.
func (s *TicketService) GetTicket(ctx context.Context, actor *domain.User, ticketID string) (*domain.Ticket, error) {
	if actor == nil {
		return nil, apperrors.NewPermissionDenied("authentication required")
	}
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, mapTicketErr(err, ticketID)
	}
	if !projection.CanView(actor, ticket) {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
	}
	return ticket, nil
}

// ListHistory returns audit entries for a ticket visible to actor, oldest first.
func (s *TicketService) ListHistory(ctx context.Context, actor *domain.User, ticketID string) ([]domain.TicketHistory, error) {
	if _, err := s.GetTicket(ctx, actor, ticketID); err != nil {
		return nil, err
	}
	if s.history == nil {
		return []domain.TicketHistory{}, nil
	}
	entries, err := s.history.ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if entries == nil {
		entries = []domain.TicketHistory{}
	}
	return entries, nil
}

var allowedTransitions = map[domain.TicketStatus][]domain.TicketStatus{
	domain.TicketStatusOpen:       {domain.TicketStatusInProgress, domain.TicketStatusResolved},
	domain.TicketStatusInProgress: {domain.TicketStatusOpen, domain.TicketStatusResolved},
	domain.TicketStatusResolved:   {domain.TicketStatusInProgress},
}

func isValidTransition(current, next domain.TicketStatus) bool {
	for _, candidate := range allowedTransitions[current] {
		if candidate == next {
			return true
		}
	}
	return false
}

// mutateTicket loads a ticket, applies mutate, stamps UpdatedAt and saves it,
// retrying when a concurrent writer bumped the version first. It returns the
// saved ticket and a copy of the state mutate saw.
func mutateTicket(ctx context.Context, tickets repository.TicketRepository, now func() time.Time, ticketID string, mutate func(*domain.Ticket) error) (*domain.Ticket, domain.Ticket, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		ticket, err := tickets.GetByID(ctx, ticketID)
		if err != nil {
			return nil, domain.Ticket{}, mapTicketErr(err, ticketID)
		}
		before := ticket.Clone()
		if err := mutate(ticket); err != nil {
			return nil, domain.Ticket{}, err
		}
		ticket.UpdatedAt = now()
		err = tickets.Update(ctx, ticket)
		if err == nil {
			return ticket, before, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, domain.Ticket{}, mapTicketErr(err, ticketID)
		}
	}
	return nil, domain.Ticket{}, apperrors.NewConflict("ticket was modified concurrently", map[string]any{"ticket_id": ticketID})
}

// recordChange appends an audit entry for a change that is already saved.
// A failed write is logged, not returned.
func recordChange(ctx context.Context, history repository.TicketHistoryRepository, logger *zap.Logger, now func() time.Time, actor *domain.User, ticketID string, change domain.TicketChangeType, oldValue, newValue string) {
	if history == nil {
		return
	}
	err := history.Create(ctx, &domain.TicketHistory{
		ID:         uuid.NewString(),
		TicketID:   ticketID,
		ChangedBy:  actor.Email,
		ChangeType: change,
		OldValue:   oldValue,
		NewValue:   newValue,
		CreatedAt:  now(),
	})
	if err != nil {
		logger.Warn("ticket history not recorded",
			zap.String("ticket_id", ticketID),
			zap.String("change_type", string(change)),
			zap.String("old_value", oldValue),
			zap.String("new_value", newValue),
			zap.Error(err))
	}
}

func mapTicketErr(err error, ticketID string) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
	case errors.Is(err, repository.ErrVersionConflict):
		return apperrors.NewConflict("ticket was modified concurrently", map[string]any{"ticket_id": ticketID})
	default:
		return apperrors.MapError(err)
	}
}
