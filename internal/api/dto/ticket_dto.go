package dto

import (
	"time"

	"github.com/spec-kit/ticket-tracker/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Title       string                `json:"title"`
	Description string                `json:"description"`
	Priority    domain.TicketPriority `json:"priority"`
}

// UpdateStatusRequest payload.
type UpdateStatusRequest struct {
	Status domain.TicketStatus `json:"status"`
}

// AssignTicketRequest payload. An empty assignee clears the assignment.
type AssignTicketRequest struct {
	AssignedTo string `json:"assigned_to"`
}

// TicketResponse describes one ticket.
type TicketResponse struct {
	ID          string                `json:"id"`
	Title       string                `json:"title"`
	Description string                `json:"description"`
	Status      domain.TicketStatus   `json:"status"`
	Priority    domain.TicketPriority `json:"priority"`
	CreatedBy   string                `json:"created_by"`
	AssignedTo  *string               `json:"assigned_to"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
	Version     int64                 `json:"version"`
}

// TicketHistoryResponse describes one audit entry.
type TicketHistoryResponse struct {
	ID         string                  `json:"id"`
	ChangeType domain.TicketChangeType `json:"change_type"`
	ChangedBy  string                  `json:"changed_by"`
	OldValue   string                  `json:"old_value"`
	NewValue   string                  `json:"new_value"`
	CreatedAt  time.Time               `json:"created_at"`
}

// ResolutionBucketResponse is one resolution-time range.
type ResolutionBucketResponse struct {
	Range string `json:"range"`
	Count int    `json:"count"`
}

// DashboardResponse aggregates an actor's visible tickets.
type DashboardResponse struct {
	Total                int                        `json:"total"`
	StatusDistribution   map[string]int             `json:"status_distribution"`
	PriorityDistribution map[string]int             `json:"priority_distribution"`
	ResolutionTime       []ResolutionBucketResponse `json:"resolution_time"`
	Recent               []TicketResponse           `json:"recent"`
}

// NewTicketResponse maps a domain ticket.
func NewTicketResponse(ticket *domain.Ticket) TicketResponse {
	return TicketResponse{
		ID:          ticket.ID,
		Title:       ticket.Title,
		Description: ticket.Description,
		Status:      ticket.Status,
		Priority:    ticket.Priority,
		CreatedBy:   ticket.CreatedBy,
		AssignedTo:  ticket.AssignedTo,
		CreatedAt:   ticket.CreatedAt,
		UpdatedAt:   ticket.UpdatedAt,
		Version:     ticket.Version,
	}
}

// NewTicketResponses maps a ticket list, never returning nil.
func NewTicketResponses(tickets []domain.Ticket) []TicketResponse {
	items := make([]TicketResponse, 0, len(tickets))
	for i := range tickets {
		items = append(items, NewTicketResponse(&tickets[i]))
	}
	return items
}

// NewHistoryResponses maps audit entries.
func NewHistoryResponses(entries []domain.TicketHistory) []TicketHistoryResponse {
	resp := make([]TicketHistoryResponse, 0, len(entries))
	for _, entry := range entries {
		resp = append(resp, TicketHistoryResponse{
			ID:         entry.ID,
			ChangeType: entry.ChangeType,
			ChangedBy:  entry.ChangedBy,
			OldValue:   entry.OldValue,
			NewValue:   entry.NewValue,
			CreatedAt:  entry.CreatedAt,
		})
	}
	return resp
}

// NewDashboardResponse maps a dashboard.
func NewDashboardResponse(d domain.Dashboard) DashboardResponse {
	status := make(map[string]int, len(d.Status))
	for k, v := range d.Status {
		status[string(k)] = v
	}
	priority := make(map[string]int, len(d.Priority))
	for k, v := range d.Priority {
		priority[string(k)] = v
	}
	buckets := make([]ResolutionBucketResponse, 0, len(d.Resolution))
	for _, b := range d.Resolution {
		buckets = append(buckets, ResolutionBucketResponse{Range: b.Range, Count: b.Count})
	}
	return DashboardResponse{
		Total:                d.Total,
		StatusDistribution:   status,
		PriorityDistribution: priority,
		ResolutionTime:       buckets,
		Recent:               NewTicketResponses(d.Recent),
	}
}
