package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-tracker/internal/api/dto"
	"github.com/spec-kit/ticket-tracker/internal/domain"
	"github.com/spec-kit/ticket-tracker/internal/service"
	apperrors "github.com/spec-kit/ticket-tracker/pkg/util/errorutil"
)

// TicketsHandler manages ticket endpoints.
type TicketsHandler struct {
	service *service.TicketService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(ticketService *service.TicketService) *TicketsHandler {
	return &TicketsHandler{service: ticketService}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	caller, err := callerFrom(c)
	if err != nil {
		return err
	}
	var req dto.CreateTicketRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	input, err := req.ToInput()
	if err != nil {
		return apperrors.NewFieldError("deadline", "iso8601", "deadline must be an ISO 8601 date-time")
	}

	id, err := h.service.CreateTicket(c.UserContext(), caller, input)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(dto.CreateTicketResponse{TicketID: id})
}

// ListTickets GET /tickets.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	caller, err := callerFrom(c)
	if err != nil {
		return err
	}
	tickets, err := h.service.ListAll(c.UserContext(), caller)
	if err != nil {
		return err
	}
	return c.JSON(dto.NewTicketList(tickets))
}

// ListMyTickets GET /tickets/my.
func (h *TicketsHandler) ListMyTickets(c *fiber.Ctx) error {
	caller, err := callerFrom(c)
	if err != nil {
		return err
	}
	tickets, err := h.service.ListMine(c.UserContext(), caller)
	if err != nil {
		return err
	}
	return c.JSON(dto.NewTicketList(tickets))
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	caller, err := callerFrom(c)
	if err != nil {
		return err
	}
	ticket, err := h.service.GetByID(c.UserContext(), caller, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(dto.NewTicketResponse(ticket))
}

// UpdateTicket PATCH /tickets/:id.
func (h *TicketsHandler) UpdateTicket(c *fiber.Ctx) error {
	caller, err := callerFrom(c)
	if err != nil {
		return err
	}
	var req dto.UpdateTicketRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	patch, err := req.ToPatch()
	if err != nil {
		return apperrors.NewFieldError("deadline", "iso8601", "deadline must be an ISO 8601 date-time")
	}

	if err := h.service.UpdateFields(c.UserContext(), caller, c.Params("id"), patch); err != nil {
		return err
	}
	return c.JSON(dto.MessageResponse{Message: "Ticket updated"})
}

// UpdateStatus PATCH /tickets/:id/status.
func (h *TicketsHandler) UpdateStatus(c *fiber.Ctx) error {
	caller, err := callerFrom(c)
	if err != nil {
		return err
	}
	var req dto.UpdateStatusRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	if err := h.service.UpdateStatus(c.UserContext(), caller, c.Params("id"), domain.TicketStatus(req.Status)); err != nil {
		return err
	}
	return c.JSON(dto.MessageResponse{Message: "Status updated"})
}
