package services

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/roykane/flower-shop-sub000/internal/core/domain"
	"github.com/roykane/flower-shop-sub000/internal/core/ports"
	"github.com/roykane/flower-shop-sub000/internal/metrics"
)

const (
	defaultStaffName = "Nhân viên"
	maxTags          = 20
	maxTagLength     = 50
)

func staffName(a *actor) string {
	if a.Name != "" {
		return a.Name
	}
	return defaultStaffName
}

// takeOver assigns ownership and invalidates every pending automated reply
// of the conversation before releasing the lock
func (r *Router) takeOver(ctx context.Context, a *actor, cmd StaffTakeOver) error {
	if cmd.ConversationID == "" {
		return domain.ErrMissingParameter
	}

	unlock := r.locks.Lock(cmd.ConversationID)
	defer unlock()

	updated, err := r.conversations.AssignOwner(ctx, cmd.ConversationID, a.ID, staffName(a), r.now())
	if err != nil {
		return err
	}
	cancelled := r.scheduler.Cancel(cmd.ConversationID)

	r.logger.Info("conversation taken over",
		"conversation_id", updated.ID,
		"staff_id", a.ID,
		"cancelled_replies", cancelled,
	)

	r.sendToCustomer(updated, domain.NewEvent(domain.EventStaffTookOver, domain.TookOverPayload{
		ConversationID: updated.ID,
		StaffName:      staffName(a),
	}))
	r.broadcastUpdate(updated, "takeOver")
	r.pushStats(ctx)
	return nil
}

// staffMessage stores a staff reply and relays it to the customer
func (r *Router) staffMessage(ctx context.Context, a *actor, cmd StaffMessage) error {
	if cmd.ConversationID == "" {
		return domain.ErrMissingParameter
	}
	if _, err := domain.ValidateContent(cmd.Content); err != nil {
		return err
	}

	unlock := r.locks.Lock(cmd.ConversationID)
	defer unlock()

	msg, err := domain.NewMessage(domain.SenderStaff, a.ID, staffName(a), cmd.Content, r.now())
	if err != nil {
		return err
	}

	updated, err := r.conversations.AppendMessage(ctx, cmd.ConversationID, msg, ports.AppendOptions{})
	if err != nil {
		return err
	}
	metrics.MessagesTotal.WithLabelValues(string(domain.SenderStaff)).Inc()

	r.logger.Info("staff message stored",
		"conversation_id", updated.ID,
		"staff_id", a.ID,
		"content_preview", domain.Truncate(msg.Content, 50),
	)

	stored := lastMessage(updated, msg)
	r.sendToCustomer(updated, domain.NewEvent(domain.EventMessage, domain.MessagePayload{
		ConversationID: updated.ID,
		Message:        stored,
	}))
	// Staff broadcast doubles as the sender echo
	r.broadcastNewMessage(updated, stored)
	return nil
}

// staffTyping persists the flag and relays it to the customer
func (r *Router) staffTyping(ctx context.Context, a *actor, cmd StaffTyping) error {
	if cmd.ConversationID == "" {
		return domain.ErrMissingParameter
	}
	conv, err := r.conversations.GetByID(ctx, cmd.ConversationID)
	if err != nil {
		return err
	}
	if err := r.conversations.SetTyping(ctx, conv.ID, domain.ParticipantStaff, cmd.IsTyping); err != nil {
		return err
	}

	r.sendToCustomer(conv, domain.NewEvent(domain.EventStaffTyping, domain.TypingPayload{
		ConversationID: conv.ID,
		IsTyping:       cmd.IsTyping,
	}))
	return nil
}

// release clears ownership regardless of who took over
func (r *Router) release(ctx context.Context, a *actor, cmd StaffRelease) error {
	if cmd.ConversationID == "" {
		return domain.ErrMissingParameter
	}

	unlock := r.locks.Lock(cmd.ConversationID)
	defer unlock()

	updated, err := r.conversations.ReleaseOwner(ctx, cmd.ConversationID)
	if err != nil {
		return err
	}

	r.logger.Info("conversation released to automated replies",
		"conversation_id", updated.ID,
		"staff_id", a.ID,
	)

	r.sendToCustomer(updated, domain.NewEvent(domain.EventReleasedToAutomated, domain.ConversationRefPayload{
		ConversationID: updated.ID,
	}))
	r.broadcastUpdate(updated, "release")
	r.pushStats(ctx)
	return nil
}

// closeConversation moves the conversation to closed or resolved
func (r *Router) closeConversation(ctx context.Context, a *actor, cmd StaffClose) error {
	if cmd.ConversationID == "" {
		return domain.ErrMissingParameter
	}
	status, err := domain.ParseCloseStatus(cmd.TargetStatus)
	if err != nil {
		return err
	}

	unlock := r.locks.Lock(cmd.ConversationID)
	defer unlock()

	updated, err := r.conversations.SetStatus(ctx, cmd.ConversationID, status, r.now())
	if err != nil {
		return err
	}

	r.logger.Info("conversation closed",
		"conversation_id", updated.ID,
		"status", status,
		"staff_id", a.ID,
	)

	r.sendToCustomer(updated, domain.NewEvent(domain.EventConversationClosed, domain.ClosedPayload{
		ConversationID: updated.ID,
		Status:         status,
		Message:        ClosingText,
	}))
	r.broadcastUpdate(updated, "close")
	r.pushStats(ctx)
	return nil
}

// markRead flags all customer messages as read and zeroes the counter
func (r *Router) markRead(ctx context.Context, a *actor, cmd StaffMarkRead) error {
	if cmd.ConversationID == "" {
		return domain.ErrMissingParameter
	}

	unlock := r.locks.Lock(cmd.ConversationID)
	defer unlock()

	updated, err := r.conversations.MarkRead(ctx, cmd.ConversationID, r.now())
	if err != nil {
		return err
	}

	r.logger.Debug("conversation marked read", "conversation_id", updated.ID, "staff_id", a.ID)

	r.broadcastUpdate(updated, "markRead")
	r.pushStats(ctx)
	return nil
}

// listConversations sends the list view to the requesting staff member
func (r *Router) listConversations(ctx context.Context, a *actor, cmd StaffListConversations) error {
	summaries, err := r.ListConversations(ctx, cmd.Status, cmd.Limit)
	if err != nil {
		return err
	}
	a.send(domain.NewEvent(domain.EventConversationList, domain.ConversationListPayload{
		Conversations: summaries,
		Total:         len(summaries),
	}))
	return nil
}

// getStats sends the rollup to the requesting staff member
func (r *Router) getStats(ctx context.Context, a *actor) error {
	stats, err := r.stats.Compute(ctx)
	if err != nil {
		return err
	}
	a.send(domain.NewEvent(domain.EventStats, stats))
	return nil
}

// annotate replaces staff tags and notes
func (r *Router) annotate(ctx context.Context, a *actor, cmd StaffAnnotate) error {
	if cmd.ConversationID == "" {
		return domain.ErrMissingParameter
	}
	tags, err := normalizeTags(cmd.Tags)
	if err != nil {
		return err
	}
	notes := strings.TrimSpace(cmd.Notes)
	if utf8.RuneCountInString(notes) > domain.MaxContentLength {
		return domain.ErrContentTooLong
	}

	unlock := r.locks.Lock(cmd.ConversationID)
	defer unlock()

	updated, err := r.conversations.Annotate(ctx, cmd.ConversationID, tags, notes)
	if err != nil {
		return err
	}

	r.logger.Debug("conversation annotated", "conversation_id", updated.ID, "staff_id", a.ID, "tags", len(tags))
	r.broadcastUpdate(updated, "annotate")
	return nil
}

// normalizeTags trims, lower-cases and de-duplicates tags
func normalizeTags(in []string) ([]string, error) {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, t := range in {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if utf8.RuneCountInString(t) > maxTagLength {
			return nil, domain.ErrContentTooLong
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	if len(out) > maxTags {
		return nil, domain.ErrContentTooLong
	}
	return out, nil
}
