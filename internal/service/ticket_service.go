package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-tracker/internal/domain"
	"github.com/spec-kit/ticket-tracker/internal/events"
	"github.com/spec-kit/ticket-tracker/internal/observability"
	"github.com/spec-kit/ticket-tracker/internal/repository"
	apperrors "github.com/spec-kit/ticket-tracker/pkg/util/errorutil"
)

const (
	assigneesField     = "assignedUserIds"
	msgCompletedLocked = "Completed tickets can only be updated by admin"
	msgForbidden       = "Forbidden"
	ticketResource     = "Ticket"
)

// TicketService coordinates the ticket workflow: creation, reads, admin edits and
// status transitions.
type TicketService struct {
	tickets      repository.TicketRepository
	assignments  repository.AssignmentRepository
	users        repository.UserRepository
	tx           repository.Transactor
	dispatcher   events.Dispatcher
	metrics      *observability.Metrics
	logger       *zap.Logger
	strictUpdate bool
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	TicketRepo     repository.TicketRepository
	AssignmentRepo repository.AssignmentRepository
	UserRepo       repository.UserRepository
	Transactor     repository.Transactor
	Dispatcher     events.Dispatcher
	Metrics        *observability.Metrics
	Logger         *zap.Logger
	// StrictUpdate makes UpdateFields on an unknown ticket fail with NotFound.
	StrictUpdate bool
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	Title       string
	Description *string
	Deadline    time.Time
	AssigneeIDs []string
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TicketService{
		tickets:      deps.TicketRepo,
		assignments:  deps.AssignmentRepo,
		users:        deps.UserRepo,
		tx:           deps.Transactor,
		dispatcher:   deps.Dispatcher,
		metrics:      deps.Metrics,
		logger:       logger,
		strictUpdate: deps.StrictUpdate,
	}
}

// CreateTicket inserts a PENDING ticket and its assignments atomically and returns the
// new ticket id.
func (s *TicketService) CreateTicket(ctx context.Context, caller domain.Identity, input TicketCreateInput) (string, error) {
	if !caller.IsAdmin() {
		return "", apperrors.NewForbidden(msgForbidden)
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		return "", apperrors.NewFieldError("title", "min", "title must not be empty")
	}
	if input.Deadline.IsZero() {
		return "", apperrors.NewFieldError("deadline", "required", "deadline is required")
	}
	assignees, err := s.resolveAssignees(ctx, input.AssigneeIDs)
	if err != nil {
		return "", err
	}

	ticket := &domain.Ticket{
		Title:       input.Title,
		Description: input.Description,
		Deadline:    input.Deadline.UTC(),
		Status:      domain.TicketStatusPending,
		CreatedBy:   caller.ID,
	}
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.tickets.Create(ctx, ticket); err != nil {
			return fmt.Errorf("insert ticket: %w", err)
		}
		if err := s.assignments.Add(ctx, ticket.ID, assignees); err != nil {
			return fmt.Errorf("insert assignments: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	s.metrics.RecordTicketCreated()
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketCreated,
		TicketID: ticket.ID,
		Actor:    actorOf(caller),
		Payload: events.TicketCreatedPayload{
			Title:       ticket.Title,
			Deadline:    ticket.Deadline,
			AssigneeIDs: assignees,
		},
	})
	return ticket.ID, nil
}

// ListAll returns every ticket, newest first.
func (s *TicketService) ListAll(ctx context.Context, caller domain.Identity) ([]domain.Ticket, error) {
	if !caller.IsAdmin() {
		return nil, apperrors.NewForbidden(msgForbidden)
	}
	tickets, err := s.tickets.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	return tickets, nil
}

// ListMine returns the tickets the caller is assigned to, newest first.
func (s *TicketService) ListMine(ctx context.Context, caller domain.Identity) ([]domain.Ticket, error) {
	tickets, err := s.tickets.ListByAssignee(ctx, caller.ID)
	if err != nil {
		return nil, fmt.Errorf("list assigned tickets: %w", err)
	}
	return tickets, nil
}

// GetByID returns a ticket visible to the caller.
func (s *TicketService) GetByID(ctx context.Context, caller domain.Identity, ticketID string) (*domain.Ticket, error) {
	id, ok := normalizeID(ticketID)
	if !ok {
		return nil, apperrors.NewNotFound(ticketResource)
	}
	ticket, err := s.tickets.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewNotFound(ticketResource)
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket: %w", err)
	}
	if !caller.IsAdmin() && !ticket.HasAssignee(caller.ID) {
		return nil, apperrors.NewForbidden(msgForbidden)
	}
	return ticket, nil
}

// UpdateFields applies an admin edit. Omitted fields keep their stored values; a
// provided assignee list replaces the whole assignment set.
func (s *TicketService) UpdateFields(ctx context.Context, caller domain.Identity, ticketID string, patch domain.TicketPatch) error {
	if !caller.IsAdmin() {
		return apperrors.NewForbidden(msgForbidden)
	}

	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return apperrors.NewFieldError("title", "min", "title must not be empty")
	}
	replaceAssignees := patch.AssigneeIDs != nil
	var assignees []string
	if replaceAssignees {
		var err error
		if assignees, err = s.resolveAssignees(ctx, patch.AssigneeIDs); err != nil {
			return err
		}
	}
	if patch.Deadline != nil {
		deadline := patch.Deadline.UTC()
		patch.Deadline = &deadline
	}

	id, ok := normalizeID(ticketID)
	if !ok {
		return s.missingTicket()
	}

	found := false
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		if patch.HasScalarChanges() {
			found, err = s.tickets.UpdateFields(ctx, id, patch)
		} else {
			found, err = s.tickets.Exists(ctx, id)
		}
		if err != nil {
			return fmt.Errorf("update ticket: %w", err)
		}
		if !found || !replaceAssignees {
			return nil
		}
		if err := s.assignments.Replace(ctx, id, assignees); err != nil {
			return fmt.Errorf("replace assignments: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !found {
		return s.missingTicket()
	}

	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketUpdated,
		TicketID: id,
		Actor:    actorOf(caller),
		Payload: events.TicketUpdatedPayload{
			Fields:      changedFields(patch),
			AssigneeIDs: assignees,
		},
	})
	return nil
}

// UpdateStatus moves a ticket to status. Non-admins must be assignees and cannot touch
// a COMPLETED ticket.
func (s *TicketService) UpdateStatus(ctx context.Context, caller domain.Identity, ticketID string, status domain.TicketStatus) error {
	if !status.Valid() {
		return apperrors.NewFieldError("status", "oneof", "status must be one of [PENDING IN_PROGRESS COMPLETED]")
	}
	id, ok := normalizeID(ticketID)
	if !ok {
		return apperrors.NewNotFound(ticketResource)
	}

	current, err := s.tickets.GetStatus(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NewNotFound(ticketResource)
	}
	if err != nil {
		return fmt.Errorf("get ticket status: %w", err)
	}

	if !caller.IsAdmin() {
		if current == domain.TicketStatusCompleted {
			return apperrors.NewForbidden(msgCompletedLocked)
		}
		assigned, err := s.assignments.IsAssigned(ctx, id, caller.ID)
		if err != nil {
			return fmt.Errorf("check assignment: %w", err)
		}
		if !assigned {
			return apperrors.NewForbidden(msgForbidden)
		}
	}

	if err := s.tickets.UpdateStatus(ctx, id, status); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NewNotFound(ticketResource)
		}
		return fmt.Errorf("update status: %w", err)
	}

	s.metrics.RecordStatusChange(string(status), string(caller.Role))
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketStatusChanged,
		TicketID: id,
		Actor:    actorOf(caller),
		Payload: events.TicketStatusChangedPayload{
			OldStatus: current,
			NewStatus: status,
		},
	})
	return nil
}

// resolveAssignees canonicalizes and dedupes ids, then checks they all name users.
func (s *TicketService) resolveAssignees(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, apperrors.NewValidationError("Validation failed", []apperrors.FieldError{{
			Field:   assigneesField,
			Rule:    "min",
			Param:   "1",
			Message: assigneesField + " must contain at least 1 item(s)",
		}})
	}

	seen := make(map[string]struct{}, len(ids))
	resolved := make([]string, 0, len(ids))
	var invalid []apperrors.FieldError
	for i, raw := range ids {
		id, ok := normalizeID(raw)
		if !ok {
			field := assigneesField + "[" + strconv.Itoa(i) + "]"
			invalid = append(invalid, apperrors.FieldError{Field: field, Rule: "uuid", Message: field + " must be a valid UUID"})
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		resolved = append(resolved, id)
	}
	if len(invalid) > 0 {
		return nil, apperrors.NewValidationError("Validation failed", invalid)
	}

	missing, err := s.users.MissingIDs(ctx, resolved)
	if err != nil {
		return nil, fmt.Errorf("check assignees: %w", err)
	}
	if len(missing) > 0 {
		return nil, apperrors.NewValidationError("Validation failed", []apperrors.FieldError{{
			Field:   assigneesField,
			Rule:    "exists",
			Param:   strings.Join(missing, " "),
			Message: "unknown user ids: " + strings.Join(missing, ", "),
		}})
	}
	return resolved, nil
}

func (s *TicketService) missingTicket() error {
	if s.strictUpdate {
		return apperrors.NewNotFound(ticketResource)
	}
	return nil
}

func (s *TicketService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("ticket event handlers failed",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.String("ticket_id", event.TicketID),
			zap.Error(err),
		)
	}
}

// normalizeID returns the canonical form of a uuid string.
func normalizeID(raw string) (string, bool) {
	parsed, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	return parsed.String(), true
}

func changedFields(patch domain.TicketPatch) []string {
	var fields []string
	if patch.Title != nil {
		fields = append(fields, "title")
	}
	if patch.Description != nil {
		fields = append(fields, "description")
	}
	if patch.Deadline != nil {
		fields = append(fields, "deadline")
	}
	if patch.AssigneeIDs != nil {
		fields = append(fields, "assignees")
	}
	return fields
}

func actorOf(caller domain.Identity) events.Actor {
	return events.Actor{UserID: caller.ID, Role: caller.Role}
}
