//go:build integration

package repository_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-tracker/internal/config"
	"github.com/spec-kit/ticket-tracker/internal/domain"
	"github.com/spec-kit/ticket-tracker/internal/persistence"
	"github.com/spec-kit/ticket-tracker/internal/repository"
)

// Run with: POSTGRES_DSN=postgres://... go test -tags integration ./internal/repository/...

type pgFixture struct {
	db          *persistence.Postgres
	users       repository.UserRepository
	tickets     repository.TicketRepository
	assignments repository.AssignmentRepository
	run         string
}

func newPGFixture(t *testing.T) *pgFixture {
	t.Helper()
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_DSN not set")
	}
	ctx := t.Context()
	logger := zap.NewNop()

	db, err := persistence.NewPostgres(ctx, config.PostgresConfig{DSN: dsn, MaxConns: 4}, logger)
	require.NoError(t, err)
	require.NoError(t, persistence.RunMigrations(ctx, db.Pool, logger))

	f := &pgFixture{
		db:          db,
		users:       repository.NewUserRepository(db.Pool),
		tickets:     repository.NewTicketRepository(db.Pool),
		assignments: repository.NewAssignmentRepository(db.Pool),
		run:         uuid.NewString()[:8],
	}
	t.Cleanup(func() {
		cleanup(context.Background(), db.Pool, "%@"+f.run+".test")
		db.Close()
	})
	return f
}

func cleanup(ctx context.Context, pool *pgxpool.Pool, emailPattern string) {
	_, _ = pool.Exec(ctx, `DELETE FROM tickets WHERE created_by IN (SELECT id FROM users WHERE email LIKE $1)`, emailPattern)
	_, _ = pool.Exec(ctx, `DELETE FROM ticket_assignees WHERE user_id IN (SELECT id FROM users WHERE email LIKE $1)`, emailPattern)
	_, _ = pool.Exec(ctx, `DELETE FROM users WHERE email LIKE $1`, emailPattern)
}

func (f *pgFixture) user(t *testing.T, name string, role domain.Role) domain.User {
	t.Helper()
	user := &domain.User{Email: name + "@" + f.run + ".test", PasswordHash: "hash", Role: role}
	require.NoError(t, f.users.Create(t.Context(), user))
	return *user
}

func (f *pgFixture) ticket(t *testing.T, ctx context.Context, creator, title string) domain.Ticket {
	t.Helper()
	ticket := &domain.Ticket{
		Title:     title,
		Deadline:  time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC),
		Status:    domain.TicketStatusPending,
		CreatedBy: creator,
	}
	require.NoError(t, f.tickets.Create(ctx, ticket))
	return *ticket
}

func TestPostgresUsers(t *testing.T) {
	f := newPGFixture(t)
	ctx := t.Context()
	admin := f.user(t, "admin", domain.RoleAdmin)

	err := f.users.Create(ctx, &domain.User{Email: admin.Email, PasswordHash: "x", Role: domain.RoleUser})
	require.ErrorIs(t, err, repository.ErrDuplicateEmail)

	got, err := f.users.GetByEmail(ctx, admin.Email)
	require.NoError(t, err)
	assert.Equal(t, admin.ID, got.ID)

	_, err = f.users.GetByEmail(ctx, "ghost@"+f.run+".test")
	require.ErrorIs(t, err, repository.ErrNotFound)

	ghost := uuid.NewString()
	missing, err := f.users.MissingIDs(ctx, []string{admin.ID, ghost})
	require.NoError(t, err)
	assert.Equal(t, []string{ghost}, missing)
}

func TestPostgresTicketsAndAssignments(t *testing.T) {
	f := newPGFixture(t)
	ctx := t.Context()
	admin := f.user(t, "admin", domain.RoleAdmin)
	u1 := f.user(t, "u1", domain.RoleUser)
	u2 := f.user(t, "u2", domain.RoleUser)

	first := f.ticket(t, ctx, admin.ID, "first")
	second := f.ticket(t, ctx, admin.ID, "second")
	require.NoError(t, f.assignments.Add(ctx, first.ID, []string{u1.ID, u2.ID}))

	got, err := f.tickets.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{u1.ID, u2.ID}, got.AssigneeIDs)

	unassigned, err := f.tickets.GetByID(ctx, second.ID)
	require.NoError(t, err)
	assert.Empty(t, unassigned.AssigneeIDs)
	assert.NotNil(t, unassigned.AssigneeIDs)

	mine, err := f.tickets.ListByAssignee(ctx, u1.ID)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.ElementsMatch(t, []string{u1.ID, u2.ID}, mine[0].AssigneeIDs, "all assignees, not only the caller")

	require.NoError(t, f.assignments.Replace(ctx, first.ID, []string{u2.ID}))
	assigned, err := f.assignments.IsAssigned(ctx, first.ID, u1.ID)
	require.NoError(t, err)
	assert.False(t, assigned)

	err = f.assignments.Add(ctx, first.ID, []string{uuid.NewString()})
	require.ErrorIs(t, err, repository.ErrNotFound)

	title := "renamed"
	found, err := f.tickets.UpdateFields(ctx, first.ID, domain.TicketPatch{Title: &title})
	require.NoError(t, err)
	assert.True(t, found)
	got, err = f.tickets.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Title)
	assert.Nil(t, got.Description)
	assert.True(t, got.Deadline.Equal(first.Deadline))

	found, err = f.tickets.UpdateFields(ctx, uuid.NewString(), domain.TicketPatch{Title: &title})
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, f.tickets.UpdateStatus(ctx, first.ID, domain.TicketStatusCompleted))
	status, err := f.tickets.GetStatus(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusCompleted, status)
	require.ErrorIs(t, f.tickets.UpdateStatus(ctx, uuid.NewString(), domain.TicketStatusPending), repository.ErrNotFound)
}

func TestPostgresTransactionRollsBack(t *testing.T) {
	f := newPGFixture(t)
	admin := f.user(t, "admin", domain.RoleAdmin)
	boom := errors.New("boom")

	var created string
	err := f.db.WithinTransaction(t.Context(), func(ctx context.Context) error {
		created = f.ticket(t, ctx, admin.ID, "doomed").ID
		return boom
	})
	require.ErrorIs(t, err, boom)

	exists, err := f.tickets.Exists(t.Context(), created)
	require.NoError(t, err)
	assert.False(t, exists)
}
