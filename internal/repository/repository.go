package repository

import (
	"context"
	"errors"
)

//go:generate mockgen -destination=../mocks/repository.go -package=mocks github.com/spec-kit/ticket-tracker/internal/repository UserRepository,TicketRepository,AssignmentRepository,Transactor

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateEmail is returned when a user email is already taken.
	ErrDuplicateEmail = errors.New("email already exists")
)

// Transactor scopes a group of repository calls into one atomic unit.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
