package domain

// StatusDistribution counts tickets per status.
type StatusDistribution map[TicketStatus]int

// PriorityDistribution counts tickets per priority.
type PriorityDistribution map[TicketPriority]int

// ResolutionBucket counts resolved tickets whose resolution time fell in a range.
type ResolutionBucket struct {
	Range string
	Count int
}

// Dashboard is the aggregate view shown to an actor.
type Dashboard struct {
	Total      int
	Status     StatusDistribution
	Priority   PriorityDistribution
	Resolution []ResolutionBucket
	Recent     []Ticket
}
