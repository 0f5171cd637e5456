// Package projection derives role-scoped views and aggregates from ticket
// sets. Every function is pure: inputs are never modified.
package projection

import (
	"sort"
	"time"

	"github.com/spec-kit/ticket-tracker/internal/domain"
)

// Resolution time ranges, shortest first.
const (
	RangeUnderOneDay      = "< 1 day"
	RangeOneToThreeDays   = "1-3 days"
	RangeThreeToSevenDays = "3-7 days"
	RangeOverSevenDays    = "> 7 days"
)

const day = 24 * time.Hour

// VisibleTickets returns the tickets actor may see, in input order. Admins
// see everything; other users see only tickets they created.
func VisibleTickets(actor *domain.User, tickets []domain.Ticket) []domain.Ticket {
	if actor == nil {
		return []domain.Ticket{}
	}
	visible := make([]domain.Ticket, 0, len(tickets))
	for i := range tickets {
		if CanView(actor, &tickets[i]) {
			visible = append(visible, tickets[i].Clone())
		}
	}
	return visible
}

// CanView reports whether actor may see ticket.
func CanView(actor *domain.User, ticket *domain.Ticket) bool {
	if actor == nil || ticket == nil {
		return false
	}
	return actor.IsAdmin() || ticket.OwnedBy(actor.Email)
}

// StatusDistribution counts tickets per status. Every known status is present.
func StatusDistribution(tickets []domain.Ticket) domain.StatusDistribution {
	dist := make(domain.StatusDistribution, len(domain.TicketStatuses))
	for _, status := range domain.TicketStatuses {
		dist[status] = 0
	}
	for i := range tickets {
		dist[tickets[i].Status]++
	}
	return dist
}

// PriorityDistribution counts tickets per priority. Every known priority is present.
func PriorityDistribution(tickets []domain.Ticket) domain.PriorityDistribution {
	dist := make(domain.PriorityDistribution, len(domain.TicketPriorities))
	for _, priority := range domain.TicketPriorities {
		dist[priority] = 0
	}
	for i := range tickets {
		dist[tickets[i].Priority]++
	}
	return dist
}

// RecentTickets returns up to n tickets ordered by UpdatedAt, newest first.
// Ties go to the later-inserted ticket.
func RecentTickets(tickets []domain.Ticket, n int) []domain.Ticket {
	if n <= 0 || len(tickets) == 0 {
		return []domain.Ticket{}
	}
	sorted := make([]domain.Ticket, len(tickets))
	for i := range tickets {
		sorted[i] = tickets[i].Clone()
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.Seq > b.Seq
	})
	if n < len(sorted) {
		sorted = sorted[:n]
	}
	return sorted
}

// ResolutionTimeBuckets groups resolved tickets by UpdatedAt-CreatedAt.
// Buckets are always returned in range order, including empty ones.
func ResolutionTimeBuckets(tickets []domain.Ticket) []domain.ResolutionBucket {
	buckets := []domain.ResolutionBucket{
		{Range: RangeUnderOneDay},
		{Range: RangeOneToThreeDays},
		{Range: RangeThreeToSevenDays},
		{Range: RangeOverSevenDays},
	}
	for i := range tickets {
		if tickets[i].Status != domain.TicketStatusResolved {
			continue
		}
		elapsed := tickets[i].UpdatedAt.Sub(tickets[i].CreatedAt)
		switch {
		case elapsed < day:
			buckets[0].Count++
		case elapsed < 3*day:
			buckets[1].Count++
		case elapsed < 7*day:
			buckets[2].Count++
		default:
			buckets[3].Count++
		}
	}
	return buckets
}

// BuildDashboard aggregates an already role-scoped ticket set.
func BuildDashboard(visible []domain.Ticket, recentLimit int) domain.Dashboard {
	return domain.Dashboard{
		Total:      len(visible),
		Status:     StatusDistribution(visible),
		Priority:   PriorityDistribution(visible),
		Resolution: ResolutionTimeBuckets(visible),
		Recent:     RecentTickets(visible, recentLimit),
	}
}
