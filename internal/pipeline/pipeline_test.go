package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helpdeskhq/ticket-triage/internal/domain"
	"github.com/helpdeskhq/ticket-triage/internal/events"
	"github.com/helpdeskhq/ticket-triage/internal/observability"
	"github.com/helpdeskhq/ticket-triage/internal/repository"
	"github.com/helpdeskhq/ticket-triage/internal/repository/sqlite"
	"github.com/helpdeskhq/ticket-triage/internal/triage"
)

type stubAnalyzer struct {
	mu    sync.Mutex
	calls int
	out   *triage.Suggestion
	err   error
}

func (a *stubAnalyzer) Analyze(context.Context, string, string) (*triage.Suggestion, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return a.out, a.err
}

type firstStaff struct {
	users repository.UserRepository
	err   error
}

func (s firstStaff) SelectAssignee(ctx context.Context) (*domain.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	for _, role := range []domain.Role{domain.RoleModerator, domain.RoleAdmin} {
		user, err := s.users.FirstByRole(ctx, role)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}
	return nil, domain.ErrNoAssignee
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (n *recordingNotifier) NotifyTicketAssigned(_ context.Context, _ *domain.Ticket, assignee *domain.User) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, assignee.Email)
	return nil
}

type flakyTickets struct {
	TicketStore
	failApply int
}

func (f *flakyTickets) ApplyAssignment(ctx context.Context, id string, a domain.TicketAssignment) (*domain.Ticket, error) {
	if f.failApply > 0 {
		f.failApply--
		return nil, errors.New("connection reset")
	}
	return f.TicketStore.ApplyAssignment(ctx, id, a)
}

type fixture struct {
	store    repository.Store
	analyzer *stubAnalyzer
	notifier *recordingNotifier
	metrics  *observability.Metrics
	creator  *domain.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := db.Store()

	creator := &domain.User{Email: "user@example.com", Role: domain.RoleUser}
	require.NoError(t, store.Users.Create(context.Background(), creator))

	return &fixture{
		store: store,
		analyzer: &stubAnalyzer{out: &triage.Suggestion{
			Summary:       "Printer jam",
			Priority:      "High",
			HelpfulNotes:  "Open tray 2",
			RelatedSkills: []string{"hardware", " Hardware ", "printers"},
		}},
		notifier: &recordingNotifier{},
		metrics:  observability.NewMetrics(),
		creator:  creator,
	}
}

func (f *fixture) addUser(t *testing.T, email string, role domain.Role) *domain.User {
	t.Helper()
	user := &domain.User{Email: email, Role: role}
	require.NoError(t, f.store.Users.Create(context.Background(), user))
	return user
}

func (f *fixture) pipeline(memo Memo) *Pipeline {
	return New(Dependencies{
		Tickets:  f.store.Tickets,
		Analyzer: f.analyzer,
		Selector: firstStaff{users: f.store.Users},
		Notifier: f.notifier,
		Memo:     memo,
		Config:   Config{AITimeout: time.Second, MailTimeout: time.Second},
		Metrics:  f.metrics,
	})
}

func (f *fixture) newTicket(t *testing.T) (*domain.Ticket, events.Event) {
	t.Helper()
	ticket := &domain.Ticket{Title: "Printer", Description: "Paper jam on floor 3", CreatorID: f.creator.ID}
	var event events.Event
	err := f.store.Tickets.CreateWithOutbox(context.Background(), ticket, func(tk *domain.Ticket) (repository.OutboxRecord, error) {
		var err error
		event, err = events.NewEvent(events.EventTicketCreated, events.Actor{UserID: f.creator.ID}, events.TicketCreatedPayload{
			TicketID:    tk.ID,
			Title:       tk.Title,
			Description: tk.Description,
			CreatedBy:   tk.CreatorID,
		})
		event.TicketID = tk.ID
		return repository.OutboxRecord{ID: event.ID, EventType: string(event.Type), AggregateID: tk.ID, Payload: event.Payload}, err
	})
	require.NoError(t, err)
	return ticket, event
}

func TestRunAssignsModerator(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "admin@example.com", domain.RoleAdmin)
	mod := f.addUser(t, "mod@example.com", domain.RoleModerator)
	f.addUser(t, "mod2@example.com", domain.RoleModerator)
	ticket, event := f.newTicket(t)

	result, err := f.pipeline(NewMemoryMemo(time.Hour)).Run(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, mod.ID, result.AssigneeID)
	assert.Equal(t, domain.TicketPriorityHigh, result.Priority)
	assert.False(t, result.TriageFallback)
	assert.True(t, result.Notified)

	got, err := f.store.Tickets.GetByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusAssigned, got.Status)
	assert.Equal(t, mod.ID, *got.AssigneeID)
	assert.Equal(t, "Open tray 2", got.HelpfulNotes)
	assert.Equal(t, []string{"hardware", "printers"}, got.RelatedSkills)
	assert.Equal(t, []string{"mod@example.com"}, f.notifier.sent)
}

func TestRunFallsBackToAdmin(t *testing.T) {
	f := newFixture(t)
	admin := f.addUser(t, "admin@example.com", domain.RoleAdmin)
	_, event := f.newTicket(t)

	result, err := f.pipeline(nil).Run(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, admin.ID, result.AssigneeID)
}

func TestRunIsIdempotentPerEvent(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "mod@example.com", domain.RoleModerator)
	ticket, event := f.newTicket(t)
	p := f.pipeline(NewMemoryMemo(time.Hour))

	first, err := p.Run(context.Background(), event)
	require.NoError(t, err)
	second, err := p.Run(context.Background(), event)
	require.NoError(t, err)

	assert.Equal(t, first.AssigneeID, second.AssigneeID)
	assert.Equal(t, 1, f.analyzer.calls)
	assert.Len(t, f.notifier.sent, 1)

	got, err := f.store.Tickets.GetByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketPriorityHigh, got.Priority)
}

func TestRunSurvivesAnalyzerFailure(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "mod@example.com", domain.RoleModerator)
	f.analyzer.out, f.analyzer.err = nil, errors.New("model overloaded")
	ticket, event := f.newTicket(t)

	result, err := f.pipeline(nil).Run(context.Background(), event)
	require.NoError(t, err)
	assert.True(t, result.TriageFallback)
	assert.Equal(t, domain.TicketPriorityMedium, result.Priority)

	got, err := f.store.Tickets.GetByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, triage.FallbackNotes, got.HelpfulNotes)
	assert.Empty(t, got.RelatedSkills)
	assert.Equal(t, int64(1), f.metrics.Snapshot().Steps[StepTriage+"|fallback"])
}

func TestRunMissingTicketIsFatal(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "mod@example.com", domain.RoleModerator)
	event, err := events.NewEvent(events.EventTicketCreated, events.Actor{}, events.TicketCreatedPayload{TicketID: "ghost"})
	require.NoError(t, err)

	_, err = f.pipeline(nil).Run(context.Background(), event)
	require.Error(t, err)
	assert.True(t, events.IsPermanent(err))
	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StepFetchTicket, se.Step)
	assert.Zero(t, f.analyzer.calls)
	assert.Empty(t, f.notifier.sent)
}

func TestRunWithoutStaffIsFatal(t *testing.T) {
	f := newFixture(t)
	ticket, event := f.newTicket(t)

	_, err := f.pipeline(nil).Run(context.Background(), event)
	require.Error(t, err)
	assert.True(t, events.IsPermanent(err))
	assert.ErrorIs(t, err, domain.ErrNoAssignee)

	got, err := f.store.Tickets.GetByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusCreated, got.Status)
	assert.Nil(t, got.AssigneeID)
}

func TestRunSelectorOutageIsRetriable(t *testing.T) {
	f := newFixture(t)
	_, event := f.newTicket(t)
	p := f.pipeline(nil)
	p.selector = firstStaff{err: errors.New("dial tcp: refused")}

	_, err := p.Run(context.Background(), event)
	require.Error(t, err)
	assert.False(t, events.IsPermanent(err))
}

func TestRunRetriesStoreFailureAndReusesMemo(t *testing.T) {
	f := newFixture(t)
	mod := f.addUser(t, "mod@example.com", domain.RoleModerator)
	_, event := f.newTicket(t)
	p := f.pipeline(NewMemoryMemo(time.Hour))
	p.tickets = &flakyTickets{TicketStore: f.store.Tickets, failApply: 1}

	_, err := p.Run(context.Background(), event)
	require.Error(t, err)
	assert.False(t, events.IsPermanent(err))
	assert.Empty(t, f.notifier.sent)

	result, err := p.Run(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, mod.ID, result.AssigneeID)
	assert.Equal(t, 1, f.analyzer.calls)
	assert.Len(t, f.notifier.sent, 1)
}

type staleTickets struct {
	TicketStore
	err error
}

func (s staleTickets) ApplyAssignment(context.Context, string, domain.TicketAssignment) (*domain.Ticket, error) {
	return nil, s.err
}

func TestRunUpdateRejectionsAreFatal(t *testing.T) {
	for _, cause := range []error{repository.ErrStaleState, repository.ErrNotFound} {
		t.Run(cause.Error(), func(t *testing.T) {
			f := newFixture(t)
			f.addUser(t, "mod@example.com", domain.RoleModerator)
			_, event := f.newTicket(t)
			p := f.pipeline(nil)
			p.tickets = staleTickets{TicketStore: f.store.Tickets, err: cause}

			_, err := p.Run(context.Background(), event)
			require.Error(t, err)
			assert.True(t, events.IsPermanent(err))
			assert.ErrorIs(t, err, cause)
			assert.Empty(t, f.notifier.sent)
		})
	}
}

func TestRunSwallowsMailFailure(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "mod@example.com", domain.RoleModerator)
	f.notifier.err = errors.New("smtp down")
	ticket, event := f.newTicket(t)

	result, err := f.pipeline(nil).Run(context.Background(), event)
	require.NoError(t, err)
	assert.False(t, result.Notified)

	got, err := f.store.Tickets.GetByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusAssigned, got.Status)
}

func TestRegisterHandlesDispatchedEvent(t *testing.T) {
	f := newFixture(t)
	mod := f.addUser(t, "mod@example.com", domain.RoleModerator)
	ticket, event := f.newTicket(t)

	queue := events.NewMemoryQueue(4)
	dispatcher := events.NewQueueDispatcher(queue)
	f.pipeline(nil).Register(dispatcher)
	require.NoError(t, dispatcher.Publish(context.Background(), event))

	delivery, err := queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.NoError(t, dispatcher.Deliver(context.Background(), delivery))

	got, err := f.store.Tickets.GetByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, mod.ID, *got.AssigneeID)
}

func TestRedisMemoFirstWriteWins(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()
	memo := NewRedisMemo(client, "test", time.Hour)
	ctx := context.Background()

	var got string
	ok, err := memo.Load(ctx, "evt-1", StepTriage, &got)
	require.NoError(t, err)
	assert.False(t, ok)

	won, err := memo.Store(ctx, "evt-1", StepTriage, "first")
	require.NoError(t, err)
	assert.True(t, won)
	won, err = memo.Store(ctx, "evt-1", StepTriage, "second")
	require.NoError(t, err)
	assert.False(t, won)

	ok, err = memo.Load(ctx, "evt-1", StepTriage, &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "first", got)
	assert.True(t, srv.Exists("test:memo:evt-1:triage"))
}

func TestMemoryMemoExpires(t *testing.T) {
	memo := NewMemoryMemo(time.Minute)
	now := time.Now()
	memo.now = func() time.Time { return now }
	won, err := memo.Store(context.Background(), "evt", StepNotify, true)
	require.NoError(t, err)
	assert.True(t, won)
	won, err = memo.Store(context.Background(), "evt", StepNotify, true)
	require.NoError(t, err)
	assert.False(t, won)

	var sent bool
	ok, err := memo.Load(context.Background(), "evt", StepNotify, &sent)
	require.NoError(t, err)
	assert.True(t, ok)

	memo.now = func() time.Time { return now.Add(2 * time.Minute) }
	ok, err = memo.Load(context.Background(), "evt", StepNotify, &sent)
	require.NoError(t, err)
	assert.False(t, ok)

	won, err = memo.Store(context.Background(), "evt", StepNotify, true)
	require.NoError(t, err)
	assert.True(t, won, "an expired entry can be claimed again")
}

// racingAnalyzer lets a concurrent delivery memoize a different triage result while
// this delivery's analysis is still in flight.
type racingAnalyzer struct {
	memo   Memo
	runKey string
	rival  triageOutcome
}

func (a *racingAnalyzer) Analyze(ctx context.Context, _, _ string) (*triage.Suggestion, error) {
	if _, err := a.memo.Store(ctx, a.runKey, StepTriage, a.rival); err != nil {
		return nil, err
	}
	return &triage.Suggestion{Priority: domain.TicketPriorityHigh, HelpfulNotes: "mine"}, nil
}

func TestRunAdoptsConcurrentlyMemoizedTriage(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "mod@example.com", domain.RoleModerator)
	ticket, event := f.newTicket(t)

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()
	memo := NewRedisMemo(client, "test", time.Hour)

	p := f.pipeline(memo)
	p.analyzer = &racingAnalyzer{memo: memo, runKey: event.ID, rival: triageOutcome{
		Suggestion: triage.Suggestion{Priority: domain.TicketPriorityLow, HelpfulNotes: "theirs", RelatedSkills: []string{"printers"}},
	}}

	result, err := p.Run(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketPriorityLow, result.Priority)

	got, err := f.store.Tickets.GetByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketPriorityLow, got.Priority)
	assert.Equal(t, "theirs", got.HelpfulNotes)
	assert.Equal(t, []string{"printers"}, got.RelatedSkills)
}

func TestRunSkipsNotificationClaimedByAnotherDelivery(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "mod@example.com", domain.RoleModerator)
	_, event := f.newTicket(t)
	memo := NewMemoryMemo(time.Hour)

	won, err := memo.Store(context.Background(), event.ID, StepNotify, true)
	require.NoError(t, err)
	require.True(t, won)

	result, err := f.pipeline(memo).Run(context.Background(), event)
	require.NoError(t, err)
	assert.True(t, result.Notified)
	assert.Empty(t, f.notifier.sent)
	assert.Equal(t, int64(1), f.metrics.Snapshot().Steps[StepNotify+"|memo"])
}

func TestRunConcurrentDeliveriesSendOneEmail(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "mod@example.com", domain.RoleModerator)
	_, event := f.newTicket(t)
	p := f.pipeline(NewMemoryMemo(time.Hour))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.Run(context.Background(), event)
		}()
	}
	wg.Wait()

	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	assert.Len(t, f.notifier.sent, 1)
}
