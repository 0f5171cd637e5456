package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-tracker/internal/domain"
)

// TicketHistoryRepository is the append-only audit log of status and
// assignee changes.
type TicketHistoryRepository interface {
	Create(ctx context.Context, entry *domain.TicketHistory) error
	// ListByTicket returns entries oldest first; never nil.
	ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketHistory, error)
}

type pgTicketHistoryRepository struct {
	pool *pgxpool.Pool
}

// NewTicketHistoryRepository returns the Postgres-backed audit log.
func NewTicketHistoryRepository(pool *pgxpool.Pool) TicketHistoryRepository {
	return &pgTicketHistoryRepository{pool: pool}
}

func (r *pgTicketHistoryRepository) Create(ctx context.Context, entry *domain.TicketHistory) error {
	_, err := r.pool.Exec(ctx, `
        INSERT INTO ticket_history (id, ticket_id, changed_by, change_type, old_value, new_value, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		entry.ID, entry.TicketID, entry.ChangedBy, entry.ChangeType,
		entry.OldValue, entry.NewValue, entry.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert history for ticket %s: %w", entry.TicketID, err)
	}
	return nil
}

func (r *pgTicketHistoryRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketHistory, error) {
	rows, err := r.pool.Query(ctx, `
        SELECT id, ticket_id, changed_by, change_type, old_value, new_value, created_at
        FROM ticket_history WHERE ticket_id=$1 ORDER BY seq ASC`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("query history for ticket %s: %w", ticketID, err)
	}
	entries, err := pgx.CollectRows(rows, scanHistory)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []domain.TicketHistory{}
	}
	return entries, nil
}

func scanHistory(row pgx.CollectableRow) (domain.TicketHistory, error) {
	var h domain.TicketHistory
	err := row.Scan(&h.ID, &h.TicketID, &h.ChangedBy, &h.ChangeType, &h.OldValue, &h.NewValue, &h.CreatedAt)
	h.CreatedAt = h.CreatedAt.UTC()
	return h, err
}
