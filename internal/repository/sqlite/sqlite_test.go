package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helpdeskhq/ticket-triage/internal/domain"
	"github.com/helpdeskhq/ticket-triage/internal/repository"
)

func newTestStore(t *testing.T) repository.Store {
	t.Helper()
	db, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db.Store()
}

func createUser(t *testing.T, store repository.Store, email string, role domain.Role) *domain.User {
	t.Helper()
	user := &domain.User{Email: email, FullName: email, Role: role}
	require.NoError(t, store.Users.Create(context.Background(), user))
	return user
}

func outboxFor(eventID string) repository.OutboxBuilder {
	return func(ticket *domain.Ticket) (repository.OutboxRecord, error) {
		payload, err := json.Marshal(map[string]string{"ticketId": ticket.ID})
		if err != nil {
			return repository.OutboxRecord{}, err
		}
		return repository.OutboxRecord{ID: eventID, EventType: "ticket/created", AggregateID: ticket.ID, Payload: payload}, nil
	}
}

func createTicket(t *testing.T, store repository.Store, creatorID, eventID string) *domain.Ticket {
	t.Helper()
	ticket := &domain.Ticket{Title: "Printer", Description: "It is on fire", CreatorID: creatorID}
	require.NoError(t, store.Tickets.CreateWithOutbox(context.Background(), ticket, outboxFor(eventID)))
	return ticket
}

func TestUserCreateAndLookup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user := createUser(t, store, " Ada@Example.com ", domain.RoleUser)
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "ada@example.com", user.Email)

	byEmail, err := store.Users.GetByEmail(ctx, "ADA@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byEmail.ID)
	assert.Equal(t, []string{}, byEmail.Skills)
	assert.Nil(t, byEmail.GoogleID)

	_, err = store.Users.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	err = store.Users.Create(ctx, &domain.User{Email: "ada@example.com", Role: domain.RoleUser})
	assert.ErrorIs(t, err, repository.ErrConflict)
}

func TestUserFirstByRoleIsOldest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	createUser(t, store, "user@example.com", domain.RoleUser)
	first := createUser(t, store, "mod1@example.com", domain.RoleModerator)
	createUser(t, store, "mod2@example.com", domain.RoleModerator)

	got, err := store.Users.FirstByRole(ctx, domain.RoleModerator)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	_, err = store.Users.FirstByRole(ctx, domain.RoleAdmin)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestUserPartialUpdate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	user := createUser(t, store, "grace@example.com", domain.RoleUser)

	role := domain.RoleModerator
	updated, err := store.Users.Update(ctx, user.ID, domain.UserUpdate{Role: &role})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleModerator, updated.Role)
	assert.Equal(t, []string{}, updated.Skills)

	updated, err = store.Users.Update(ctx, user.ID, domain.UserUpdate{Skills: []string{"networking", "sql"}})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleModerator, updated.Role)
	assert.Equal(t, []string{"networking", "sql"}, updated.Skills)

	_, err = store.Users.Update(ctx, "missing", domain.UserUpdate{Role: &role})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestUserUpsertLocalKeepsIdentity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := &domain.User{Email: "ops@example.com", FullName: "Ops", PasswordHash: "h1", Role: domain.RoleAdmin}
	require.NoError(t, store.Users.UpsertLocal(ctx, first))

	second := &domain.User{Email: "OPS@example.com", FullName: "Ops Team", PasswordHash: "h2", Role: domain.RoleModerator}
	require.NoError(t, store.Users.UpsertLocal(ctx, second))
	assert.Equal(t, first.ID, second.ID)

	got, err := store.Users.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ops Team", got.FullName)
	assert.Equal(t, "h2", got.PasswordHash)
	assert.Equal(t, domain.RoleModerator, got.Role)
}

func TestTicketCreateWritesOutbox(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	creator := createUser(t, store, "user@example.com", domain.RoleUser)

	ticket := createTicket(t, store, creator.ID, "evt-1")
	assert.NotEmpty(t, ticket.ID)
	assert.Equal(t, domain.TicketStatusCreated, ticket.Status)
	assert.Equal(t, domain.TicketPriorityMedium, ticket.Priority)

	got, err := store.Tickets.GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Nil(t, got.AssigneeID)
	assert.Equal(t, creator.ID, got.CreatorID)

	pending, err := store.Outbox.ListUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "evt-1", pending[0].ID)
	assert.Equal(t, ticket.ID, pending[0].AggregateID)
	assert.JSONEq(t, `{"ticketId":"`+ticket.ID+`"}`, string(pending[0].Payload))

	require.NoError(t, store.Outbox.MarkPublished(ctx, "evt-1", time.Now()))
	assert.ErrorIs(t, store.Outbox.MarkPublished(ctx, "evt-1", time.Now()), repository.ErrNotFound)

	pending, err = store.Outbox.ListUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestOutboxPublishPendingMarksAcceptedPrefix(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	creator := createUser(t, store, "user@example.com", domain.RoleUser)
	createTicket(t, store, creator.ID, "evt-1")
	createTicket(t, store, creator.ID, "evt-2")
	createTicket(t, store, creator.ID, "evt-3")

	queueDown := errors.New("queue down")
	var seen []string
	n, err := store.Outbox.PublishPending(ctx, 10, func(rec repository.OutboxRecord) error {
		seen = append(seen, rec.ID)
		if rec.ID == "evt-2" {
			return queueDown
		}
		return nil
	})
	assert.ErrorIs(t, err, queueDown)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"evt-1", "evt-2"}, seen)

	pending, err := store.Outbox.ListUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "evt-2", pending[0].ID)
	assert.Equal(t, "evt-3", pending[1].ID)

	n, err = store.Outbox.PublishPending(ctx, 10, func(repository.OutboxRecord) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	pending, err = store.Outbox.ListUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestTicketCreateRollsBackWhenOutboxFails(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	creator := createUser(t, store, "user@example.com", domain.RoleUser)

	createTicket(t, store, creator.ID, "evt-dup")
	dup := &domain.Ticket{Title: "Second", Description: "Same event id", CreatorID: creator.ID}
	err := store.Tickets.CreateWithOutbox(ctx, dup, outboxFor("evt-dup"))
	assert.ErrorIs(t, err, repository.ErrConflict)

	tickets, err := store.Tickets.List(ctx, repository.TicketFilter{})
	require.NoError(t, err)
	assert.Len(t, tickets, 1)
}

func TestTicketCreateRejectsUnknownCreator(t *testing.T) {
	store := newTestStore(t)
	ticket := &domain.Ticket{Title: "Orphan", Description: "No creator", CreatorID: "ghost"}
	err := store.Tickets.CreateWithOutbox(context.Background(), ticket, outboxFor("evt-x"))
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestTicketApplyAssignment(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	creator := createUser(t, store, "user@example.com", domain.RoleUser)
	mod := createUser(t, store, "mod@example.com", domain.RoleModerator)
	ticket := createTicket(t, store, creator.ID, "evt-1")

	assignment := domain.TicketAssignment{
		Priority:      domain.TicketPriorityHigh,
		HelpfulNotes:  "Check the fuser",
		RelatedSkills: []string{"hardware"},
		AssigneeID:    mod.ID,
	}
	got, err := store.Tickets.ApplyAssignment(ctx, ticket.ID, assignment)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusAssigned, got.Status)
	assert.Equal(t, domain.TicketPriorityHigh, got.Priority)
	require.NotNil(t, got.AssigneeID)
	assert.Equal(t, mod.ID, *got.AssigneeID)
	assert.Equal(t, []string{"hardware"}, got.RelatedSkills)

	// Re-applying converges on the same row.
	again, err := store.Tickets.ApplyAssignment(ctx, ticket.ID, assignment)
	require.NoError(t, err)
	assert.Equal(t, got.Priority, again.Priority)
	assert.Equal(t, *got.AssigneeID, *again.AssigneeID)

	_, err = store.Tickets.ApplyAssignment(ctx, "missing", assignment)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = store.Tickets.ApplyAssignment(ctx, ticket.ID, domain.TicketAssignment{Priority: "High", AssigneeID: mod.ID})
	assert.ErrorIs(t, err, domain.ErrInvalidPriority)
}

func TestTicketApplyAssignmentStaleState(t *testing.T) {
	db, err := New(":memory:")
	require.NoError(t, err)
	defer db.Close()
	store := db.Store()
	ctx := context.Background()

	creator := createUser(t, store, "user@example.com", domain.RoleUser)
	mod := createUser(t, store, "mod@example.com", domain.RoleModerator)
	ticket := createTicket(t, store, creator.ID, "evt-1")

	_, err = db.conn.Exec(`UPDATE tickets SET status = 'resolved', assignee_id = ? WHERE id = ?`, mod.ID, ticket.ID)
	require.NoError(t, err)

	_, err = store.Tickets.ApplyAssignment(ctx, ticket.ID, domain.TicketAssignment{Priority: domain.TicketPriorityLow, AssigneeID: creator.ID})
	assert.ErrorIs(t, err, repository.ErrStaleState)

	got, err := store.Tickets.GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusResolved, got.Status)
	assert.Equal(t, mod.ID, *got.AssigneeID)
}

func TestTicketListFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	alice := createUser(t, store, "alice@example.com", domain.RoleUser)
	bob := createUser(t, store, "bob@example.com", domain.RoleUser)

	a1 := createTicket(t, store, alice.ID, "evt-a1")
	a2 := createTicket(t, store, alice.ID, "evt-a2")
	createTicket(t, store, bob.ID, "evt-b1")

	mine, err := store.Tickets.List(ctx, repository.TicketFilter{CreatorID: &alice.ID})
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, a2.ID, mine[0].ID)
	assert.Equal(t, a1.ID, mine[1].ID)

	all, err := store.Tickets.List(ctx, repository.TicketFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	paged, err := store.Tickets.List(ctx, repository.TicketFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, paged, 1)

	none, err := store.Tickets.List(ctx, repository.TicketFilter{Statuses: []domain.TicketStatus{domain.TicketStatusAssigned}})
	require.NoError(t, err)
	assert.Empty(t, none)
}
