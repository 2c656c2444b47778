package dto

import (
	"time"

	"github.com/spec-kit/ticket-tracker/internal/domain"
	"github.com/spec-kit/ticket-tracker/internal/service"
	"github.com/spec-kit/ticket-tracker/pkg/util/validation"
)

// CreateTicketRequest payload. Any client-supplied status is ignored.
type CreateTicketRequest struct {
	Title       string   `json:"title" validate:"required"`
	Description *string  `json:"description"`
	Deadline    string   `json:"deadline" validate:"required,iso8601"`
	AssigneeIDs []string `json:"assignedUserIds" validate:"required,min=1,dive,uuid"`
}

// UpdateTicketRequest payload. Omitted fields are left untouched.
type UpdateTicketRequest struct {
	Title       *string   `json:"title" validate:"omitnil,min=1"`
	Description *string   `json:"description"`
	Deadline    *string   `json:"deadline" validate:"omitnil,iso8601"`
	AssigneeIDs *[]string `json:"assignedUserIds" validate:"omitnil,min=1,dive,uuid"`
}

// UpdateStatusRequest payload.
type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=PENDING IN_PROGRESS COMPLETED"`
}

// CreateTicketResponse is returned by POST /tickets.
type CreateTicketResponse struct {
	TicketID string `json:"ticketId"`
}

// MessageResponse acknowledges a write.
type MessageResponse struct {
	Message string `json:"message"`
}

// TicketResponse is the wire form of a ticket.
type TicketResponse struct {
	ID          string              `json:"id"`
	Title       string              `json:"title"`
	Description *string             `json:"description"`
	Deadline    time.Time           `json:"deadline"`
	Status      domain.TicketStatus `json:"status"`
	CreatedBy   string              `json:"created_by"`
	Assignees   []string            `json:"assignees"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// ToInput converts a validated request into the service input.
func (r CreateTicketRequest) ToInput() (service.TicketCreateInput, error) {
	deadline, err := validation.ParseTimestamp(r.Deadline)
	if err != nil {
		return service.TicketCreateInput{}, err
	}
	return service.TicketCreateInput{
		Title:       r.Title,
		Description: r.Description,
		Deadline:    deadline,
		AssigneeIDs: r.AssigneeIDs,
	}, nil
}

// ToPatch converts a validated request into a ticket patch.
func (r UpdateTicketRequest) ToPatch() (domain.TicketPatch, error) {
	patch := domain.TicketPatch{
		Title:       r.Title,
		Description: r.Description,
	}
	if r.Deadline != nil {
		deadline, err := validation.ParseTimestamp(*r.Deadline)
		if err != nil {
			return domain.TicketPatch{}, err
		}
		patch.Deadline = &deadline
	}
	if r.AssigneeIDs != nil {
		patch.AssigneeIDs = append([]string{}, *r.AssigneeIDs...)
	}
	return patch, nil
}

// NewTicketResponse maps a ticket to its wire form.
func NewTicketResponse(ticket *domain.Ticket) TicketResponse {
	assignees := ticket.AssigneeIDs
	if assignees == nil {
		assignees = []string{}
	}
	return TicketResponse{
		ID:          ticket.ID,
		Title:       ticket.Title,
		Description: ticket.Description,
		Deadline:    ticket.Deadline,
		Status:      ticket.Status,
		CreatedBy:   ticket.CreatedBy,
		Assignees:   assignees,
		CreatedAt:   ticket.CreatedAt,
		UpdatedAt:   ticket.UpdatedAt,
	}
}

// NewTicketList maps tickets to their wire form.
func NewTicketList(tickets []domain.Ticket) []TicketResponse {
	out := make([]TicketResponse, 0, len(tickets))
	for i := range tickets {
		out = append(out, NewTicketResponse(&tickets[i]))
	}
	return out
}
