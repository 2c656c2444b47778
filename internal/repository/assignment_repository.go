package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-tracker/internal/persistence"
)

// AssignmentRepository manages the ticket_assignees link table.
type AssignmentRepository interface {
	// Add links userIDs to the ticket. An unknown ticket or user yields ErrNotFound.
	Add(ctx context.Context, ticketID string, userIDs []string) error
	// Replace deletes every assignment of the ticket and inserts userIDs.
	Replace(ctx context.Context, ticketID string, userIDs []string) error
	IsAssigned(ctx context.Context, ticketID, userID string) (bool, error)
}

type assignmentRepository struct {
	pool *pgxpool.Pool
}

// NewAssignmentRepository instantiates repository.
func NewAssignmentRepository(pool *pgxpool.Pool) AssignmentRepository {
	return &assignmentRepository{pool: pool}
}

func (r *assignmentRepository) Add(ctx context.Context, ticketID string, userIDs []string) error {
	const query = `INSERT INTO ticket_assignees (ticket_id, user_id) VALUES ($1, $2)`
	batch := &pgx.Batch{}
	for _, userID := range userIDs {
		batch.Queue(query, ticketID, userID)
	}
	return r.sendBatch(ctx, batch)
}

func (r *assignmentRepository) Replace(ctx context.Context, ticketID string, userIDs []string) error {
	const query = `DELETE FROM ticket_assignees WHERE ticket_id = $1`
	if _, err := persistence.Conn(ctx, r.pool).Exec(ctx, query, ticketID); err != nil {
		return err
	}
	return r.Add(ctx, ticketID, userIDs)
}

func (r *assignmentRepository) IsAssigned(ctx context.Context, ticketID, userID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM ticket_assignees WHERE ticket_id = $1 AND user_id = $2)`
	var assigned bool
	err := persistence.Conn(ctx, r.pool).QueryRow(ctx, query, ticketID, userID).Scan(&assigned)
	return assigned, err
}

func (r *assignmentRepository) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	err := persistence.Conn(ctx, r.pool).SendBatch(ctx, batch).Close()
	if persistence.IsForeignKeyViolation(err) {
		return ErrNotFound
	}
	return err
}
