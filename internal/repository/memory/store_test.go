package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-tracker/internal/domain"
	"github.com/spec-kit/ticket-tracker/internal/repository"
)

func seedUser(t *testing.T, store *Store, email string, role domain.Role) domain.User {
	t.Helper()
	user := &domain.User{Email: email, PasswordHash: "hash", Role: role}
	require.NoError(t, store.Users().Create(t.Context(), user))
	return *user
}

func seedTicket(t *testing.T, store *Store, creator string, title string) domain.Ticket {
	t.Helper()
	ticket := &domain.Ticket{
		Title:     title,
		Deadline:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Status:    domain.TicketStatusPending,
		CreatedBy: creator,
	}
	require.NoError(t, store.Tickets().Create(t.Context(), ticket))
	return *ticket
}

func TestUsers(t *testing.T) {
	store := NewStore()
	ctx := t.Context()

	bob := seedUser(t, store, "bob@x.com", domain.RoleUser)
	seedUser(t, store, "alice@x.com", domain.RoleAdmin)

	err := store.Users().Create(ctx, &domain.User{Email: "bob@x.com", Role: domain.RoleUser})
	require.ErrorIs(t, err, repository.ErrDuplicateEmail)

	got, err := store.Users().GetByEmail(ctx, "bob@x.com")
	require.NoError(t, err)
	assert.Equal(t, bob.ID, got.ID)

	_, err = store.Users().GetByEmail(ctx, "nobody@x.com")
	require.ErrorIs(t, err, repository.ErrNotFound)

	users, err := store.Users().List(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "alice@x.com", users[0].Email)

	missing, err := store.Users().MissingIDs(ctx, []string{bob.ID, "ghost"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ghost"}, missing)
}

func TestTicketsAndAssignments(t *testing.T) {
	store := NewStore()
	ctx := t.Context()

	admin := seedUser(t, store, "admin@x.com", domain.RoleAdmin)
	u1 := seedUser(t, store, "u1@x.com", domain.RoleUser)
	u2 := seedUser(t, store, "u2@x.com", domain.RoleUser)

	first := seedTicket(t, store, admin.ID, "first")
	second := seedTicket(t, store, admin.ID, "second")

	require.NoError(t, store.Assignments().Add(ctx, first.ID, []string{u1.ID, u2.ID}))
	require.NoError(t, store.Assignments().Add(ctx, second.ID, []string{u2.ID}))

	all, err := store.Tickets().ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "second", all[0].Title, "newest first")

	mine, err := store.Tickets().ListByAssignee(ctx, u1.ID)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.ElementsMatch(t, []string{u1.ID, u2.ID}, mine[0].AssigneeIDs)

	require.NoError(t, store.Assignments().Replace(ctx, first.ID, []string{u2.ID}))
	assigned, err := store.Assignments().IsAssigned(ctx, first.ID, u1.ID)
	require.NoError(t, err)
	assert.False(t, assigned)

	title := "renamed"
	found, err := store.Tickets().UpdateFields(ctx, first.ID, domain.TicketPatch{Title: &title})
	require.NoError(t, err)
	assert.True(t, found)

	found, err = store.Tickets().UpdateFields(ctx, "missing", domain.TicketPatch{Title: &title})
	require.NoError(t, err)
	assert.False(t, found)

	got, err := store.Tickets().GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Title)
	assert.Nil(t, got.Description, "untouched fields stay as they were")
	assert.Equal(t, []string{u2.ID}, got.AssigneeIDs)

	err = store.Assignments().Add(ctx, first.ID, []string{"ghost"})
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestWithinTransactionRollsBack(t *testing.T) {
	store := NewStore()
	admin := seedUser(t, store, "admin@x.com", domain.RoleAdmin)
	boom := errors.New("boom")

	err := store.WithinTransaction(t.Context(), func(ctx context.Context) error {
		ticket := &domain.Ticket{Title: "doomed", Status: domain.TicketStatusPending, CreatedBy: admin.ID}
		if err := store.Tickets().Create(ctx, ticket); err != nil {
			return err
		}
		return store.WithinTransaction(ctx, func(ctx context.Context) error {
			return boom
		})
	})
	require.ErrorIs(t, err, boom)

	all, err := store.Tickets().ListAll(t.Context())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRollbackKeepsWritesOutsideTransaction(t *testing.T) {
	store := NewStore()
	admin := seedUser(t, store, "admin@x.com", domain.RoleAdmin)
	u1 := seedUser(t, store, "u1@x.com", domain.RoleUser)
	existing := seedTicket(t, store, admin.ID, "existing")
	require.NoError(t, store.Assignments().Add(t.Context(), existing.ID, []string{u1.ID}))
	boom := errors.New("boom")

	err := store.WithinTransaction(t.Context(), func(ctx context.Context) error {
		require.NoError(t, store.Tickets().UpdateStatus(ctx, existing.ID, domain.TicketStatusCompleted))
		require.NoError(t, store.Assignments().Replace(ctx, existing.ID, []string{admin.ID}))

		// another request, not part of this transaction
		other := &domain.User{Email: "other@x.com", PasswordHash: "hash", Role: domain.RoleUser}
		require.NoError(t, store.Users().Create(t.Context(), other))

		inTx := &domain.User{Email: "intx@x.com", PasswordHash: "hash", Role: domain.RoleUser}
		require.NoError(t, store.Users().Create(ctx, inTx))
		return boom
	})
	require.ErrorIs(t, err, boom)

	ctx := t.Context()
	_, err = store.Users().GetByEmail(ctx, "other@x.com")
	require.NoError(t, err)

	_, err = store.Users().GetByEmail(ctx, "intx@x.com")
	require.ErrorIs(t, err, repository.ErrNotFound)

	got, err := store.Tickets().GetByID(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusPending, got.Status)
	assert.Equal(t, []string{u1.ID}, got.AssigneeIDs)
}

func TestFailedAddLeavesAssignmentsUntouched(t *testing.T) {
	store := NewStore()
	ctx := t.Context()
	admin := seedUser(t, store, "admin@x.com", domain.RoleAdmin)
	u1 := seedUser(t, store, "u1@x.com", domain.RoleUser)
	ticket := seedTicket(t, store, admin.ID, "t")

	err := store.Assignments().Add(ctx, ticket.ID, []string{u1.ID, "ghost"})
	require.ErrorIs(t, err, repository.ErrNotFound)

	assigned, err := store.Assignments().IsAssigned(ctx, ticket.ID, u1.ID)
	require.NoError(t, err)
	assert.False(t, assigned)
}
