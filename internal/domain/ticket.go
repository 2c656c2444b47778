package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusPending    TicketStatus = "PENDING"
	TicketStatusInProgress TicketStatus = "IN_PROGRESS"
	TicketStatusCompleted  TicketStatus = "COMPLETED"
)

// Valid reports whether s is a known status.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusPending, TicketStatusInProgress, TicketStatusCompleted:
		return true
	}
	return false
}

// Ticket is a unit of work assigned to one or more users.
type Ticket struct {
	ID          string
	Title       string
	Description *string
	Deadline    time.Time
	Status      TicketStatus
	CreatedBy   string
	AssigneeIDs []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasAssignee reports whether userID is among the ticket's assignees.
func (t *Ticket) HasAssignee(userID string) bool {
	for _, id := range t.AssigneeIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// TicketPatch carries the optional fields of an admin edit. Nil fields are left untouched.
type TicketPatch struct {
	Title       *string
	Description *string
	Deadline    *time.Time
	AssigneeIDs []string
}

// HasScalarChanges reports whether any ticket column is being changed.
func (p TicketPatch) HasScalarChanges() bool {
	return p.Title != nil || p.Description != nil || p.Deadline != nil
}
