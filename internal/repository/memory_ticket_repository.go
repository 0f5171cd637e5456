package repository

import (
	"context"
	"sync"

	"github.com/spec-kit/ticket-tracker/internal/domain"
)

type memoryTicketRepository struct {
	mu      sync.RWMutex
	tickets []domain.Ticket
	byID    map[string]int
	nextSeq int64
}

// NewMemoryTicketRepository returns an in-process ticket store that keeps
// tickets in insertion order.
func NewMemoryTicketRepository() TicketRepository {
	return &memoryTicketRepository{byID: make(map[string]int)}
}

func (r *memoryTicketRepository) Create(_ context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[ticket.ID]; exists {
		return ErrDuplicateID
	}
	r.nextSeq++
	ticket.Seq = r.nextSeq
	if ticket.Version == 0 {
		ticket.Version = 1
	}
	r.tickets = append(r.tickets, ticket.Clone())
	r.byID[ticket.ID] = len(r.tickets) - 1
	return nil
}

func (r *memoryTicketRepository) Update(_ context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, ok := r.byID[ticket.ID]
	if !ok {
		return ErrNotFound
	}
	stored := &r.tickets[idx]
	if stored.Version != ticket.Version {
		return ErrVersionConflict
	}
	stored.Status = ticket.Status
	stored.AssignedTo = ticket.Clone().AssignedTo
	stored.UpdatedAt = ticket.UpdatedAt
	stored.Version++
	ticket.Version = stored.Version
	return nil
}

func (r *memoryTicketRepository) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	ticket := r.tickets[idx].Clone()
	return &ticket, nil
}

func (r *memoryTicketRepository) List(_ context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]domain.Ticket, 0, len(r.tickets))
	for i := range r.tickets {
		if filter.Matches(&r.tickets[i]) {
			result = append(result, r.tickets[i].Clone())
		}
	}
	return result, nil
}
