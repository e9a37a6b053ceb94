// Package repository implements data persistence adapters
// Following Hexagonal Architecture: Adapters implement ports defined in core
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/roykane/flower-shop-sub000/internal/core/domain"
	"github.com/roykane/flower-shop-sub000/internal/core/ports"
)

// Ensure MariaDBRepository implements ChatAuditRepository
var _ ports.ChatAuditRepository = (*MariaDBRepository)(nil)

// MariaDBRepository keeps the append-only audit trail of realtime chat events
type MariaDBRepository struct {
	db *sql.DB
}

// NewMariaDBRepository creates a new MariaDB repository instance
func NewMariaDBRepository(db *sql.DB) *MariaDBRepository {
	return &MariaDBRepository{
		db: db,
	}
}

const createChatEventLogs = `
	CREATE TABLE IF NOT EXISTS chat_event_logs (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		conversation_id VARCHAR(64) NOT NULL DEFAULT '',
		session_id VARCHAR(128) NOT NULL DEFAULT '',
		actor_kind VARCHAR(16) NOT NULL,
		actor_id VARCHAR(128) NOT NULL,
		event_type VARCHAR(64) NOT NULL,
		payload_json JSON,
		status VARCHAR(16) NOT NULL,
		error_log TEXT NULL,
		created_at DATETIME(3) NOT NULL,
		INDEX idx_chat_event_logs_created_at (created_at),
		INDEX idx_chat_event_logs_conversation (conversation_id)
	)
`

// EnsureSchema creates the audit table when missing
func (r *MariaDBRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createChatEventLogs); err != nil {
		return fmt.Errorf("create chat_event_logs: %w", err)
	}
	return nil
}

// SaveLog persists one inbound chat event
func (r *MariaDBRepository) SaveLog(ctx context.Context, log *domain.ChatEventLog) error {
	query := `
		INSERT INTO chat_event_logs (
			conversation_id, session_id, actor_kind, actor_id,
			event_type, payload_json, status, error_log, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	payload := log.PayloadJSON
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	result, err := r.db.ExecContext(ctx, query,
		log.ConversationID,
		log.SessionID,
		log.ActorKind,
		log.ActorID,
		log.EventType,
		[]byte(payload),
		log.Status,
		log.ErrorLog,
		log.CreatedAt,
	)
	if err != nil {
		slog.Error("Failed to save chat event log",
			"error", err,
			"event_type", log.EventType,
			"actor_kind", log.ActorKind,
		)
		return fmt.Errorf("save chat event log: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		log.ID = id
	}

	slog.Debug("Chat event log saved",
		"event_type", log.EventType,
		"status", log.Status,
	)

	return nil
}

// PurgeBefore deletes at most batch audit rows older than before
func (r *MariaDBRepository) PurgeBefore(ctx context.Context, before time.Time, batch int) (int64, error) {
	query := `DELETE FROM chat_event_logs WHERE created_at < ? LIMIT ?`

	result, err := r.db.ExecContext(ctx, query, before, batch)
	if err != nil {
		slog.Error("Failed to purge chat event logs",
			"error", err,
			"before", before,
		)
		return 0, fmt.Errorf("purge chat event logs: %w", err)
	}

	rows, _ := result.RowsAffected()
	return rows, nil
}

// ListByConversation returns the newest audit entries of one conversation
func (r *MariaDBRepository) ListByConversation(ctx context.Context, conversationID string, limit int) ([]*domain.ChatEventLog, error) {
	query := `
		SELECT id, conversation_id, session_id, actor_kind, actor_id,
			   event_type, payload_json, status, error_log, created_at
		FROM chat_event_logs
		WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		slog.Error("Failed to list chat event logs",
			"error", err,
			"conversation_id", conversationID,
		)
		return nil, fmt.Errorf("list chat event logs: %w", err)
	}
	defer rows.Close()

	logs := make([]*domain.ChatEventLog, 0)
	for rows.Next() {
		var entry domain.ChatEventLog
		var payload []byte
		err := rows.Scan(
			&entry.ID,
			&entry.ConversationID,
			&entry.SessionID,
			&entry.ActorKind,
			&entry.ActorID,
			&entry.EventType,
			&payload,
			&entry.Status,
			&entry.ErrorLog,
			&entry.CreatedAt,
		)
		if err != nil {
			slog.Error("Failed to scan chat event log row", "error", err)
			continue
		}
		entry.PayloadJSON = payload
		logs = append(logs, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat event logs: %w", err)
	}

	return logs, nil
}

// NoopAuditRepository is used when MariaDB is not configured
type NoopAuditRepository struct{}

var _ ports.ChatAuditRepository = NoopAuditRepository{}

func (NoopAuditRepository) SaveLog(context.Context, *domain.ChatEventLog) error { return nil }

func (NoopAuditRepository) PurgeBefore(context.Context, time.Time, int) (int64, error) {
	return 0, nil
}
