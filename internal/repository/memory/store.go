// Package memory provides a process-local implementation of the repository interfaces,
// used when the service runs without Postgres and by tests.
package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/ticket-tracker/internal/domain"
	"github.com/spec-kit/ticket-tracker/internal/repository"
)

type txKey struct{}

// txLog collects undo steps for the writes of one transaction. Steps run with mu held.
type txLog struct {
	undo []func()
}

type ticketRecord struct {
	ticket domain.Ticket
	seq    uint64
}

type state struct {
	users       map[string]domain.User
	emails      map[string]string
	tickets     map[string]ticketRecord
	assignments map[string]map[string]struct{}
	seq         uint64
}

// Store holds every table in memory.
type Store struct {
	mu   sync.RWMutex
	txMu sync.Mutex
	data state
	now  func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		data: state{
			users:       map[string]domain.User{},
			emails:      map[string]string{},
			tickets:     map[string]ticketRecord{},
			assignments: map[string]map[string]struct{}{},
		},
		now: time.Now,
	}
}

// WithinTransaction serializes transactions and, when fn fails, reverts only the
// writes fn made. Writes from outside the transaction are kept.
func (s *Store) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	log := &txLog{}
	if err := fn(context.WithValue(ctx, txKey{}, log)); err != nil {
		s.mu.Lock()
		for i := len(log.undo) - 1; i >= 0; i-- {
			log.undo[i]()
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

// onRollback registers undo for the write just made. Must be called with mu held.
func onRollback(ctx context.Context, undo func()) {
	if log, ok := ctx.Value(txKey{}).(*txLog); ok {
		log.undo = append(log.undo, undo)
	}
}

// Users returns the user repository view.
func (s *Store) Users() repository.UserRepository { return userStore{s} }

// Tickets returns the ticket repository view.
func (s *Store) Tickets() repository.TicketRepository { return ticketStore{s} }

// Assignments returns the assignment repository view.
func (s *Store) Assignments() repository.AssignmentRepository { return assignmentStore{s} }

type userStore struct{ s *Store }

func (u userStore) Create(ctx context.Context, user *domain.User) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	if _, taken := u.s.data.emails[user.Email]; taken {
		return repository.ErrDuplicateEmail
	}
	user.ID = uuid.NewString()
	user.CreatedAt = u.s.now()
	u.s.data.users[user.ID] = *user
	u.s.data.emails[user.Email] = user.ID
	id, email := user.ID, user.Email
	onRollback(ctx, func() {
		delete(u.s.data.users, id)
		delete(u.s.data.emails, email)
	})
	return nil
}

func (u userStore) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	user, ok := u.s.data.users[u.s.data.emails[email]]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &user, nil
}

func (u userStore) List(_ context.Context) ([]domain.User, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	users := slices.Collect(maps.Values(u.s.data.users))
	sort.Slice(users, func(i, j int) bool { return users[i].Email < users[j].Email })
	return users, nil
}

func (u userStore) MissingIDs(_ context.Context, ids []string) ([]string, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	var missing []string
	for _, id := range ids {
		if _, ok := u.s.data.users[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

type ticketStore struct{ s *Store }

func (t ticketStore) Create(ctx context.Context, ticket *domain.Ticket) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.data.users[ticket.CreatedBy]; !ok {
		return repository.ErrNotFound
	}
	now := t.s.now()
	ticket.ID = uuid.NewString()
	ticket.CreatedAt = now
	ticket.UpdatedAt = now
	t.s.data.seq++
	stored := *ticket
	stored.AssigneeIDs = nil
	t.s.data.tickets[ticket.ID] = ticketRecord{ticket: stored, seq: t.s.data.seq}
	id := ticket.ID
	onRollback(ctx, func() {
		delete(t.s.data.tickets, id)
		delete(t.s.data.assignments, id)
	})
	return nil
}

// view must be called with mu held.
func (t ticketStore) view(rec ticketRecord) domain.Ticket {
	ticket := rec.ticket
	if ticket.Description != nil {
		desc := *ticket.Description
		ticket.Description = &desc
	}
	ticket.AssigneeIDs = slices.Sorted(maps.Keys(t.s.data.assignments[ticket.ID]))
	if ticket.AssigneeIDs == nil {
		ticket.AssigneeIDs = []string{}
	}
	return ticket
}

func (t ticketStore) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	rec, ok := t.s.data.tickets[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	ticket := t.view(rec)
	return &ticket, nil
}

func (t ticketStore) GetStatus(_ context.Context, id string) (domain.TicketStatus, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	rec, ok := t.s.data.tickets[id]
	if !ok {
		return "", repository.ErrNotFound
	}
	return rec.ticket.Status, nil
}

func (t ticketStore) Exists(_ context.Context, id string) (bool, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	_, ok := t.s.data.tickets[id]
	return ok, nil
}

func (t ticketStore) ListAll(_ context.Context) ([]domain.Ticket, error) {
	return t.list(func(string) bool { return true }), nil
}

func (t ticketStore) ListByAssignee(_ context.Context, userID string) ([]domain.Ticket, error) {
	return t.list(func(ticketID string) bool {
		_, ok := t.s.data.assignments[ticketID][userID]
		return ok
	}), nil
}

func (t ticketStore) list(keep func(ticketID string) bool) []domain.Ticket {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	records := make([]ticketRecord, 0, len(t.s.data.tickets))
	for id, rec := range t.s.data.tickets {
		if keep(id) {
			records = append(records, rec)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].seq > records[j].seq })
	result := make([]domain.Ticket, 0, len(records))
	for _, rec := range records {
		result = append(result, t.view(rec))
	}
	return result
}

func (t ticketStore) UpdateFields(ctx context.Context, id string, patch domain.TicketPatch) (bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	rec, ok := t.s.data.tickets[id]
	if !ok {
		return false, nil
	}
	t.restoreOnRollback(ctx, rec)
	if patch.Title != nil {
		rec.ticket.Title = *patch.Title
	}
	if patch.Description != nil {
		desc := *patch.Description
		rec.ticket.Description = &desc
	}
	if patch.Deadline != nil {
		rec.ticket.Deadline = *patch.Deadline
	}
	rec.ticket.UpdatedAt = t.s.now()
	t.s.data.tickets[id] = rec
	return true, nil
}

func (t ticketStore) UpdateStatus(ctx context.Context, id string, status domain.TicketStatus) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	rec, ok := t.s.data.tickets[id]
	if !ok {
		return repository.ErrNotFound
	}
	t.restoreOnRollback(ctx, rec)
	rec.ticket.Status = status
	rec.ticket.UpdatedAt = t.s.now()
	t.s.data.tickets[id] = rec
	return nil
}

// restoreOnRollback must be called with mu held.
func (t ticketStore) restoreOnRollback(ctx context.Context, prev ticketRecord) {
	onRollback(ctx, func() {
		if _, ok := t.s.data.tickets[prev.ticket.ID]; ok {
			t.s.data.tickets[prev.ticket.ID] = prev
		}
	})
}

type assignmentStore struct{ s *Store }

func (a assignmentStore) Add(ctx context.Context, ticketID string, userIDs []string) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	if err := a.check(ticketID, userIDs); err != nil {
		return err
	}
	a.restoreOnRollback(ctx, ticketID)
	set := a.s.data.assignments[ticketID]
	if set == nil {
		set = map[string]struct{}{}
		a.s.data.assignments[ticketID] = set
	}
	for _, userID := range userIDs {
		set[userID] = struct{}{}
	}
	return nil
}

func (a assignmentStore) Replace(ctx context.Context, ticketID string, userIDs []string) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	if err := a.check(ticketID, userIDs); err != nil {
		return err
	}
	a.restoreOnRollback(ctx, ticketID)
	set := make(map[string]struct{}, len(userIDs))
	for _, userID := range userIDs {
		set[userID] = struct{}{}
	}
	a.s.data.assignments[ticketID] = set
	return nil
}

// check must be called with mu held.
func (a assignmentStore) check(ticketID string, userIDs []string) error {
	if _, ok := a.s.data.tickets[ticketID]; !ok {
		return repository.ErrNotFound
	}
	for _, userID := range userIDs {
		if _, ok := a.s.data.users[userID]; !ok {
			return repository.ErrNotFound
		}
	}
	return nil
}

// restoreOnRollback must be called with mu held.
func (a assignmentStore) restoreOnRollback(ctx context.Context, ticketID string) {
	prev, had := a.s.data.assignments[ticketID]
	prev = maps.Clone(prev)
	onRollback(ctx, func() {
		if had {
			a.s.data.assignments[ticketID] = prev
		} else {
			delete(a.s.data.assignments, ticketID)
		}
	})
}

func (a assignmentStore) IsAssigned(_ context.Context, ticketID, userID string) (bool, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	_, ok := a.s.data.assignments[ticketID][userID]
	return ok, nil
}
