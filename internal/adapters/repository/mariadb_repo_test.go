package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roykane/flower-shop-sub000/internal/core/domain"
)

func newMockDB(t *testing.T) (*MariaDBRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewMariaDBRepository(db), mock
}

func TestMariaDBRepository_EnsureSchema(t *testing.T) {
	repo, mock := newMockDB(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS chat_event_logs").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMariaDBRepository_SaveLog(t *testing.T) {
	repo, mock := newMockDB(t)
	at := time.Date(2024, 5, 10, 9, 30, 0, 0, time.UTC)

	entry := &domain.ChatEventLog{
		ConversationID: "conv-1",
		SessionID:      "sess-1",
		ActorKind:      domain.ParticipantCustomer,
		ActorID:        "sess-1",
		EventType:      "customer:message",
		Status:         "success",
		CreatedAt:      at,
	}

	mock.ExpectExec("INSERT INTO chat_event_logs").
		WithArgs("conv-1", "sess-1", "customer", "sess-1", "customer:message", []byte("{}"), "success", sqlmock.AnyArg(), at).
		WillReturnResult(sqlmock.NewResult(42, 1))

	require.NoError(t, repo.SaveLog(context.Background(), entry))
	assert.Equal(t, int64(42), entry.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMariaDBRepository_SaveLogError(t *testing.T) {
	repo, mock := newMockDB(t)
	mock.ExpectExec("INSERT INTO chat_event_logs").WillReturnError(errors.New("connection refused"))

	err := repo.SaveLog(context.Background(), &domain.ChatEventLog{EventType: "staff:takeOver"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save chat event log")
}

func TestMariaDBRepository_PurgeBefore(t *testing.T) {
	repo, mock := newMockDB(t)
	cutoff := time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`DELETE FROM chat_event_logs WHERE created_at < \? LIMIT \?`).
		WithArgs(cutoff, 1000).
		WillReturnResult(sqlmock.NewResult(0, 640))

	n, err := repo.PurgeBefore(context.Background(), cutoff, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(640), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMariaDBRepository_ListByConversation(t *testing.T) {
	repo, mock := newMockDB(t)
	at := time.Date(2024, 5, 10, 9, 30, 0, 0, time.UTC)
	errText := "conversation not found"

	columns := []string{
		"id", "conversation_id", "session_id", "actor_kind", "actor_id",
		"event_type", "payload_json", "status", "error_log", "created_at",
	}
	mock.ExpectQuery("SELECT (.+) FROM chat_event_logs").
		WithArgs("conv-1", 50).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(int64(2), "conv-1", "", "staff", "staff-1", "staff:close", []byte(`{"conversationId":"conv-1"}`), "error", errText, at).
			AddRow(int64(1), "conv-1", "sess-1", "customer", "sess-1", "customer:message", []byte(`{}`), "success", nil, at))

	logs, err := repo.ListByConversation(context.Background(), "conv-1", 50)
	require.NoError(t, err)
	require.Len(t, logs, 2)

	assert.Equal(t, int64(2), logs[0].ID)
	assert.Equal(t, domain.ParticipantStaff, logs[0].ActorKind)
	require.NotNil(t, logs[0].ErrorLog)
	assert.Equal(t, errText, *logs[0].ErrorLog)
	assert.JSONEq(t, `{"conversationId":"conv-1"}`, string(logs[0].PayloadJSON))

	assert.Nil(t, logs[1].ErrorLog)
	assert.Equal(t, at, logs[1].CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNoopAuditRepository(t *testing.T) {
	var repo NoopAuditRepository
	assert.NoError(t, repo.SaveLog(context.Background(), &domain.ChatEventLog{}))

	n, err := repo.PurgeBefore(context.Background(), time.Now(), 1000)
	assert.NoError(t, err)
	assert.Zero(t, n)
}
