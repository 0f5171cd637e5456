package repository

import (
	"context"
	"sync"

	"github.com/spec-kit/ticket-tracker/internal/domain"
)

type memoryTicketHistoryRepository struct {
	mu       sync.RWMutex
	byTicket map[string][]domain.TicketHistory
}

// NewMemoryTicketHistoryRepository returns an in-process audit store.
func NewMemoryTicketHistoryRepository() TicketHistoryRepository {
	return &memoryTicketHistoryRepository{byTicket: make(map[string][]domain.TicketHistory)}
}

func (r *memoryTicketHistoryRepository) Create(_ context.Context, history *domain.TicketHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byTicket[history.TicketID] = append(r.byTicket[history.TicketID], *history)
	return nil
}

func (r *memoryTicketHistoryRepository) ListByTicket(_ context.Context, ticketID string) ([]domain.TicketHistory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.TicketHistory(nil), r.byTicket[ticketID]...), nil
}
