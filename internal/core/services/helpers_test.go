package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/roykane/flower-shop-sub000/internal/adapters/repository"
	"github.com/roykane/flower-shop-sub000/internal/core/domain"
)

// ============================================================================
// Fake connection
// ============================================================================

// fakeConn records every event it receives
type fakeConn struct {
	id string

	mu     sync.Mutex
	events []domain.OutboundEvent
	closed bool
	full   bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{id: uuid.NewString()}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(event domain.OutboundEvent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.full {
		return false
	}
	c.events = append(c.events, event)
	return true
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// ofType returns the received events of one type in arrival order
func (c *fakeConn) ofType(eventType string) []domain.OutboundEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.OutboundEvent
	for _, e := range c.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (c *fakeConn) count(eventType string) int {
	return len(c.ofType(eventType))
}

func (c *fakeConn) last(t *testing.T, eventType string) domain.OutboundEvent {
	t.Helper()
	events := c.ofType(eventType)
	require.NotEmpty(t, events, "no %q event received", eventType)
	return events[len(events)-1]
}

func (c *fakeConn) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Type)
	}
	return out
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

// ============================================================================
// Mock Repositories
// ============================================================================

// MockAuditRepository mocks ChatAuditRepository interface
type MockAuditRepository struct {
	mock.Mock
}

func (m *MockAuditRepository) SaveLog(ctx context.Context, log *domain.ChatEventLog) error {
	args := m.Called(ctx, log)
	return args.Error(0)
}

func (m *MockAuditRepository) PurgeBefore(ctx context.Context, before time.Time, batch int) (int64, error) {
	args := m.Called(ctx, before, batch)
	return args.Get(0).(int64), args.Error(1)
}

// MockDedupRepository mocks DedupRepository interface
type MockDedupRepository struct {
	mock.Mock
}

func (m *MockDedupRepository) CheckAndMark(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *MockDedupRepository) Forget(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

// MockRateLimiter mocks RateLimiter interface
type MockRateLimiter struct {
	mock.Mock
}

func (m *MockRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Error(1)
}

// MockNotifier mocks StaffNotifier interface
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) NotifyWaitingCustomer(ctx context.Context, alert domain.StaffAlert) error {
	args := m.Called(ctx, alert)
	return args.Error(0)
}

// ============================================================================
// Test Helper Functions
// ============================================================================

const testReplyDelay = 20 * time.Millisecond

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestRouter creates a router on the in-memory store. Options may adjust
// deps and config before construction.
func newTestRouter(t *testing.T, opts ...func(*RouterDeps, *RouterConfig)) (*Router, *repository.MemoryRepository) {
	t.Helper()

	store := repository.NewMemoryRepository()
	deps := RouterDeps{
		Conversations: store,
		Logger:        discardLogger(),
	}
	cfg := RouterConfig{
		AutoReplyDelay: DelayPolicy{Min: testReplyDelay, Max: testReplyDelay},
	}
	for _, opt := range opts {
		opt(&deps, &cfg)
	}

	router := NewRouter(deps, cfg)
	t.Cleanup(router.Shutdown)
	return router, store
}

func customer(sessionID string) domain.Participant {
	return domain.Participant{Kind: domain.ParticipantCustomer, ID: sessionID}
}

func staff(id, name string) domain.Participant {
	return domain.Participant{Kind: domain.ParticipantStaff, ID: id, Name: name, Role: domain.RoleStaff}
}

// connectCustomer connects a customer and returns its connection and conversation
func connectCustomer(t *testing.T, r *Router, store *repository.MemoryRepository, sessionID string) (*fakeConn, *domain.Conversation) {
	t.Helper()
	conn := newFakeConn()
	require.NoError(t, r.Connect(context.Background(), customer(sessionID), conn))
	conv, err := store.GetBySession(context.Background(), sessionID)
	require.NoError(t, err)
	return conn, conv
}

func connectStaff(t *testing.T, r *Router, id, name string) *fakeConn {
	t.Helper()
	conn := newFakeConn()
	require.NoError(t, r.Connect(context.Background(), staff(id, name), conn))
	return conn
}

func messagesBy(conv *domain.Conversation, sender domain.SenderType) []domain.Message {
	var out []domain.Message
	for _, m := range conv.Messages {
		if m.Sender == sender {
			out = append(out, m)
		}
	}
	return out
}

func reload(t *testing.T, store *repository.MemoryRepository, id string) *domain.Conversation {
	t.Helper()
	conv, err := store.GetByID(context.Background(), id)
	require.NoError(t, err)
	return conv
}
