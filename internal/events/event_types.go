package events

import (
	"time"

	"github.com/spec-kit/ticket-tracker/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated       EventType = "ticket_created"
	EventTicketUpdated       EventType = "ticket_updated"
	EventTicketStatusChanged EventType = "ticket_status_changed"
)

// Actor encapsulates actor metadata for an event.
type Actor struct {
	UserID string      `json:"user_id"`
	Role   domain.Role `json:"role"`
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  string      `json:"ticket_id"`
	Actor     Actor       `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	Title       string    `json:"title"`
	Deadline    time.Time `json:"deadline"`
	AssigneeIDs []string  `json:"assignee_ids"`
}

// TicketUpdatedPayload lists which fields an admin edit touched.
type TicketUpdatedPayload struct {
	Fields      []string `json:"fields"`
	AssigneeIDs []string `json:"assignee_ids,omitempty"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	OldStatus domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus `json:"new_status"`
}
