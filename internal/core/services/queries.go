package services

import (
	"context"

	"github.com/roykane/flower-shop-sub000/internal/core/domain"
)

// ListConversations returns list-view snapshots, most recent activity first.
// status may be any reporting status including waiting; empty lists all.
func (r *Router) ListConversations(ctx context.Context, status string, limit int) ([]domain.ConversationSummary, error) {
	parsed, err := domain.ParseListStatus(status)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	filter := domain.FilterForStatus(parsed)
	filter.Limit = limit

	conversations, err := r.conversations.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	summaries := make([]domain.ConversationSummary, 0, len(conversations))
	for _, conv := range conversations {
		summaries = append(summaries, r.summary(conv))
	}
	return summaries, nil
}

// GetConversation returns the full conversation including history
func (r *Router) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	return r.conversations.GetByID(ctx, id)
}

// Stats computes the dashboard rollup on demand
func (r *Router) Stats(ctx context.Context) (domain.Stats, error) {
	return r.stats.Compute(ctx)
}

// DeleteConversation is the administrative hard delete. Pending automated
// replies are cancelled and staff views are told to drop the conversation.
func (r *Router) DeleteConversation(ctx context.Context, id, deletedBy string) error {
	unlock := r.locks.Lock(id)
	defer unlock()

	conv, err := r.conversations.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := r.conversations.Delete(ctx, id); err != nil {
		return err
	}
	r.scheduler.Cancel(id)

	r.logger.Warn("conversation deleted by administrator",
		"conversation_id", id,
		"session_id", conv.SessionID,
		"deleted_by", deletedBy,
	)

	r.broadcastUpdate(conv, "deleted")
	r.pushStats(ctx)
	return nil
}
