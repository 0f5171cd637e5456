package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spec-kit/ticket-tracker/internal/config"
	"github.com/spec-kit/ticket-tracker/internal/domain"
	"github.com/spec-kit/ticket-tracker/internal/events"
	"github.com/spec-kit/ticket-tracker/internal/observability"
	"github.com/spec-kit/ticket-tracker/internal/repository"
)

// fakeClock advances by step on every read so timestamps are distinct.
type fakeClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) record(_ context.Context, event events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *eventRecorder) types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

// flakyHistory fails every Create while err is set.
type flakyHistory struct {
	repository.TicketHistoryRepository
	mu  sync.Mutex
	err error
}

func (h *flakyHistory) failWith(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.err = err
}

func (h *flakyHistory) Create(ctx context.Context, entry *domain.TicketHistory) error {
	h.mu.Lock()
	err := h.err
	h.mu.Unlock()
	if err != nil {
		return err
	}
	return h.TicketHistoryRepository.Create(ctx, entry)
}

type testEnv struct {
	clock       *fakeClock
	users       repository.UserRepository
	tickets     repository.TicketRepository
	history     *flakyHistory
	logs        *observer.ObservedLogs
	metrics     *observability.Metrics
	recorder    *eventRecorder
	auth        *AuthService
	ticketSvc   *TicketService
	assignments *AssignmentService
	views       *ViewService
}

func testConfig() config.Config {
	return config.Config{
		Auth: config.AuthConfig{
			JWTSecret:             "test-secret",
			AccessTokenTTLMinutes: 15,
			BcryptCost:            4,
			VerifyPassword:        true,
		},
	}
}

func newTestEnv(t *testing.T, policy TicketPolicy) *testEnv {
	t.Helper()
	env := &testEnv{
		clock:    newFakeClock(),
		users:    repository.NewMemoryUserRepository(),
		tickets:  repository.NewMemoryTicketRepository(),
		history:  &flakyHistory{TicketHistoryRepository: repository.NewMemoryTicketHistoryRepository()},
		metrics:  observability.NewMetrics(),
		recorder: &eventRecorder{},
	}
	core, logs := observer.New(zap.WarnLevel)
	env.logs = logs
	logger := zap.New(core)
	dispatcher := events.NewInMemoryDispatcher()
	for _, eventType := range []events.EventType{
		events.EventUserRegistered,
		events.EventTicketCreated,
		events.EventTicketStatusChanged,
		events.EventTicketAssigned,
	} {
		dispatcher.Subscribe(eventType, env.recorder.record)
	}

	env.auth = NewAuthService(testConfig(), AuthDependencies{
		UserRepo:   env.users,
		Dispatcher: dispatcher,
		Clock:      env.clock.Now,
	})
	env.ticketSvc = NewTicketService(TicketDependencies{
		TicketRepo:  env.tickets,
		HistoryRepo: env.history,
		Idempotency: repository.NewMemoryIdempotencyStore(env.clock.Now),
		Dispatcher:  dispatcher,
		Metrics:     env.metrics,
		Logger:      logger,
		Clock:       env.clock.Now,
		Policy:      policy,
	})
	env.assignments = NewAssignmentService(AssignmentDependencies{
		TicketRepo:  env.tickets,
		UserRepo:    env.users,
		HistoryRepo: env.history,
		Dispatcher:  dispatcher,
		Metrics:     env.metrics,
		Logger:      logger,
		Clock:       env.clock.Now,
	})
	env.views = NewViewService(env.tickets, 3)
	return env
}

func (e *testEnv) mustUser(t *testing.T, name, email string, role domain.Role) *domain.User {
	t.Helper()
	user, err := e.auth.CreateUser(context.Background(), CreateUserInput{
		Name:     name,
		Email:    email,
		Password: "secret123",
		Role:     role,
	})
	require.NoError(t, err)
	return user
}

func (e *testEnv) mustTicket(t *testing.T, actor *domain.User, title string, priority domain.TicketPriority) *domain.Ticket {
	t.Helper()
	ticket, err := e.ticketSvc.CreateTicket(context.Background(), actor, TicketCreateInput{
		Title:       title,
		Description: title + " description",
		Priority:    priority,
	})
	require.NoError(t, err)
	return ticket
}
