package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-tracker/internal/domain"
	"github.com/spec-kit/ticket-tracker/internal/persistence"
)

// TicketRepository encapsulates ticket persistence. Reads return tickets with their
// assignee ids aggregated.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	GetStatus(ctx context.Context, id string) (domain.TicketStatus, error)
	Exists(ctx context.Context, id string) (bool, error)
	ListAll(ctx context.Context) ([]domain.Ticket, error)
	ListByAssignee(ctx context.Context, userID string) ([]domain.Ticket, error)
	// UpdateFields merges the non-nil scalar fields of patch and reports whether the
	// ticket exists.
	UpdateFields(ctx context.Context, id string, patch domain.TicketPatch) (bool, error)
	UpdateStatus(ctx context.Context, id string, status domain.TicketStatus) error
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketSelect = `
        SELECT t.id::text, t.title, t.description, t.deadline, t.status, t.created_by::text,
               COALESCE(array_agg(a.user_id::text ORDER BY a.user_id) FILTER (WHERE a.user_id IS NOT NULL), '{}') AS assignees,
               t.created_at, t.updated_at
        FROM tickets t
        LEFT JOIN ticket_assignees a ON a.ticket_id = t.id`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (title, description, deadline, status, created_by)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING id::text, created_at, updated_at`
	return persistence.Conn(ctx, r.pool).QueryRow(ctx, query,
		ticket.Title,
		ticket.Description,
		ticket.Deadline,
		ticket.Status,
		ticket.CreatedBy,
	).Scan(&ticket.ID, &ticket.CreatedAt, &ticket.UpdatedAt)
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := ticketSelect + `
        WHERE t.id=$1
        GROUP BY t.id`
	rows, err := persistence.Conn(ctx, r.pool).Query(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tickets, err := scanTickets(rows)
	if err != nil {
		return nil, err
	}
	if len(tickets) == 0 {
		return nil, ErrNotFound
	}
	return &tickets[0], nil
}

func (r *ticketRepository) GetStatus(ctx context.Context, id string) (domain.TicketStatus, error) {
	const query = `SELECT status FROM tickets WHERE id=$1`
	var status domain.TicketStatus
	if err := persistence.Conn(ctx, r.pool).QueryRow(ctx, query, id).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return status, nil
}

func (r *ticketRepository) Exists(ctx context.Context, id string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM tickets WHERE id=$1)`
	var exists bool
	err := persistence.Conn(ctx, r.pool).QueryRow(ctx, query, id).Scan(&exists)
	return exists, err
}

func (r *ticketRepository) ListAll(ctx context.Context) ([]domain.Ticket, error) {
	query := ticketSelect + `
        GROUP BY t.id
        ORDER BY t.created_at DESC`
	rows, err := persistence.Conn(ctx, r.pool).Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketRepository) ListByAssignee(ctx context.Context, userID string) ([]domain.Ticket, error) {
	query := ticketSelect + `
        JOIN ticket_assignees mine ON mine.ticket_id = t.id AND mine.user_id = $1
        GROUP BY t.id
        ORDER BY t.created_at DESC`
	rows, err := persistence.Conn(ctx, r.pool).Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketRepository) UpdateFields(ctx context.Context, id string, patch domain.TicketPatch) (bool, error) {
	const query = `
        UPDATE tickets
           SET title = COALESCE($1, title),
               description = COALESCE($2, description),
               deadline = COALESCE($3, deadline),
               updated_at = NOW()
         WHERE id = $4`
	cmd, err := persistence.Conn(ctx, r.pool).Exec(ctx, query,
		patch.Title,
		patch.Description,
		patch.Deadline,
		id,
	)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *ticketRepository) UpdateStatus(ctx context.Context, id string, status domain.TicketStatus) error {
	const query = `UPDATE tickets SET status=$1, updated_at=NOW() WHERE id=$2`
	cmd, err := persistence.Conn(ctx, r.pool).Exec(ctx, query, status, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	result := []domain.Ticket{}
	for rows.Next() {
		var ticket domain.Ticket
		if err := rows.Scan(
			&ticket.ID,
			&ticket.Title,
			&ticket.Description,
			&ticket.Deadline,
			&ticket.Status,
			&ticket.CreatedBy,
			&ticket.AssigneeIDs,
			&ticket.CreatedAt,
			&ticket.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, ticket)
	}
	return result, rows.Err()
}
