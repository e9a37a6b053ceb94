package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roykane/flower-shop-sub000/internal/adapters/auth"
	"github.com/roykane/flower-shop-sub000/internal/adapters/repository"
	"github.com/roykane/flower-shop-sub000/internal/core/domain"
	"github.com/roykane/flower-shop-sub000/internal/core/services"
)

var testSecret = []byte("dashboard-test-secret")

type fakeAudit struct {
	logs  []*domain.ChatEventLog
	err   error
	limit int
}

func (f *fakeAudit) ListByConversation(_ context.Context, _ string, limit int) ([]*domain.ChatEventLog, error) {
	f.limit = limit
	return f.logs, f.err
}

type testEnv struct {
	mux    *chi.Mux
	router *services.Router
	store  *repository.MemoryRepository
	jwt    *auth.JWTAuthenticator
}

func newTestEnv(t *testing.T, audit AuditReader) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := repository.NewMemoryRepository()

	router := services.NewRouter(services.RouterDeps{
		Conversations: store,
		Logger:        logger,
	}, services.RouterConfig{
		AutoReplyDelay: services.DelayPolicy{Min: time.Hour, Max: time.Hour},
	})
	t.Cleanup(router.Shutdown)

	jwtAuth := auth.NewJWTAuthenticator(testSecret)
	mux := NewRouter(RouterOptions{
		Dashboard: NewDashboardHandler(router, audit, 85, "test"),
		Auth:      jwtAuth,
		Logger:    logger,
	})
	return &testEnv{mux: mux, router: router, store: store, jwt: jwtAuth}
}

func (e *testEnv) token(t *testing.T, role string) string {
	t.Helper()
	token, err := e.jwt.Generate(domain.Identity{UserID: role + "-1", Name: "Lan", Role: role}, time.Hour)
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token, body string) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)

	var resp APIResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

// seedCustomer connects and disconnects a customer so a conversation exists
func (e *testEnv) seedCustomer(t *testing.T, sessionID string) *domain.Conversation {
	t.Helper()
	p := domain.Participant{Kind: domain.ParticipantCustomer, ID: sessionID}
	conn := &nopConn{id: sessionID}
	require.NoError(t, e.router.Connect(context.Background(), p, conn))
	e.router.Disconnect(p, conn)

	conv, err := e.store.GetBySession(context.Background(), sessionID)
	require.NoError(t, err)
	return conv
}

type nopConn struct{ id string }

func (c *nopConn) ID() string                     { return c.id }
func (c *nopConn) Send(domain.OutboundEvent) bool { return true }
func (c *nopConn) Close()                         {}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, resp := env.do(t, http.MethodGet, "/", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Flower shop chat is running", resp.Message)
}

func TestRequireStaff(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name    string
		token   string
		status  int
		message string
	}{
		{name: "missing token", token: "", status: http.StatusUnauthorized, message: "Missing bearer token"},
		{name: "invalid token", token: "garbage", status: http.StatusUnauthorized, message: "Invalid bearer token"},
		{name: "customer token", token: env.token(t, domain.RoleCustomer), status: http.StatusForbidden, message: "Staff access required"},
		{name: "staff token", token: env.token(t, domain.RoleStaff), status: http.StatusOK, message: "Success"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, resp := env.do(t, http.MethodGet, "/api/chat/stats", tt.token, "")
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.status, resp.Code)
			assert.Equal(t, tt.message, resp.Message)
		})
	}
}

func TestGetStats(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedCustomer(t, "sess-1")
	env.seedCustomer(t, "sess-2")

	rec, _ := env.do(t, http.MethodGet, "/api/chat/stats", env.token(t, domain.RoleStaff), "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data domain.Stats `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(2), body.Data.Waiting)
	assert.Equal(t, int64(2), body.Data.Active)
	assert.Equal(t, int64(2), body.Data.TodayNew)
}

func TestListConversations(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedCustomer(t, "sess-1")
	staff := env.token(t, domain.RoleStaff)

	rec, _ := env.do(t, http.MethodGet, "/api/chat/conversations?status=waiting&limit=10", staff, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data domain.ConversationListPayload `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Data.Total)
	assert.Equal(t, "sess-1", body.Data.Conversations[0].SessionID)
	assert.Equal(t, domain.StatusWaiting, body.Data.Conversations[0].EffectiveStatus)

	rec, resp := env.do(t, http.MethodGet, "/api/chat/conversations?limit=abc", staff, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid limit", resp.Message)

	rec, resp = env.do(t, http.MethodGet, "/api/chat/conversations?status=archived", staff, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, domain.ErrInvalidStatus.Error(), resp.Message)
}

func TestGetConversation(t *testing.T) {
	env := newTestEnv(t, nil)
	conv := env.seedCustomer(t, "sess-1")
	staff := env.token(t, domain.RoleStaff)

	rec, _ := env.do(t, http.MethodGet, "/api/chat/conversations/"+conv.ID, staff, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data domain.Conversation `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, conv.ID, body.Data.ID)
	assert.Len(t, body.Data.Messages, 1)

	rec, resp := env.do(t, http.MethodGet, "/api/chat/conversations/missing", staff, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Conversation not found", resp.Message)
}

func TestDeleteConversation_AdminOnly(t *testing.T) {
	env := newTestEnv(t, nil)
	conv := env.seedCustomer(t, "sess-1")

	rec, resp := env.do(t, http.MethodDelete, "/api/chat/conversations/"+conv.ID, env.token(t, domain.RoleStaff), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Admin access required", resp.Message)

	admin := env.token(t, domain.RoleAdmin)
	rec, _ = env.do(t, http.MethodDelete, "/api/chat/conversations/"+conv.ID, admin, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	_, err := env.store.GetByID(context.Background(), conv.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	rec, _ = env.do(t, http.MethodDelete, "/api/chat/conversations/"+conv.ID, admin, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAutoReplySwitch(t *testing.T) {
	env := newTestEnv(t, nil)
	staff := env.token(t, domain.RoleStaff)

	rec, _ := env.do(t, http.MethodPut, "/api/chat/autoreply", staff, `{"enabled":false,"reason":"bảo trì"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	status := env.router.AutoReplySwitch().Status()
	assert.False(t, status.Enabled)
	assert.Equal(t, "bảo trì", status.Reason)
	assert.Equal(t, "staff-1", status.PausedBy)

	rec, _ = env.do(t, http.MethodGet, "/api/chat/autoreply", staff, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data services.SwitchStatus `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Data.Enabled)

	rec, _ = env.do(t, http.MethodPut, "/api/chat/autoreply", staff, `{"enabled":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.router.AutoReplySwitch().Enabled())

	rec, resp := env.do(t, http.MethodPut, "/api/chat/autoreply", staff, `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid request body", resp.Message)
}

func TestGetConversationEvents(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		env := newTestEnv(t, nil)
		rec, resp := env.do(t, http.MethodGet, "/api/chat/conversations/conv-1/events", env.token(t, domain.RoleAdmin), "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "Audit log disabled", resp.Message)
	})

	t.Run("lists with clamped limit", func(t *testing.T) {
		audit := &fakeAudit{logs: []*domain.ChatEventLog{{ID: 1, ConversationID: "conv-1", EventType: "message"}}}
		env := newTestEnv(t, audit)

		rec, _ := env.do(t, http.MethodGet, "/api/chat/conversations/conv-1/events?limit=5000", env.token(t, domain.RoleAdmin), "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 100, audit.limit)

		var body struct {
			Data []domain.ChatEventLog `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Len(t, body.Data, 1)
		assert.Equal(t, "message", body.Data[0].EventType)
	})

	t.Run("store failure", func(t *testing.T) {
		env := newTestEnv(t, &fakeAudit{err: errors.New("db down")})
		rec, resp := env.do(t, http.MethodGet, "/api/chat/conversations/conv-1/events", env.token(t, domain.RoleAdmin), "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "Failed to load events", resp.Message)
	})
}

func TestGetStatus(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, _ := env.do(t, http.MethodGet, "/api/status", env.token(t, domain.RoleStaff), "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data SystemStatusResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Data.Online)
	assert.Equal(t, "test", body.Data.Version)
	assert.True(t, body.Data.AutoReply.Enabled)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodGet, "/", "", "")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, "safe", diskWarningLevel(50, 85))
	assert.Equal(t, "warning", diskWarningLevel(90, 85))
	assert.Equal(t, "critical", diskWarningLevel(95, 85))

	assert.Equal(t, 12.34, roundTo2Decimals(12.3456))

	assert.Equal(t, "2h 5m", formatDuration(2*time.Hour+5*time.Minute))
	assert.Equal(t, "1d 3h 0m", formatDuration(27*time.Hour))
}

func TestWriteDomainError(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{err: domain.ErrNotFound, status: http.StatusNotFound},
		{err: domain.ErrUnauthorized, status: http.StatusUnauthorized},
		{err: domain.ErrForbidden, status: http.StatusForbidden},
		{err: domain.ErrEmptyContent, status: http.StatusBadRequest},
		{err: errors.New("mongo: connection reset"), status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		rec := httptest.NewRecorder()
		writeDomainError(rec, tt.err)
		assert.Equal(t, tt.status, rec.Code, tt.err.Error())
	}

	rec := httptest.NewRecorder()
	writeDomainError(rec, errors.New("secret detail"))
	assert.NotContains(t, rec.Body.String(), "secret detail")
}
