package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/roykane/flower-shop-sub000/internal/core/domain"
	"github.com/roykane/flower-shop-sub000/internal/core/ports"
	"github.com/roykane/flower-shop-sub000/internal/metrics"
)

const defaultCustomerName = "Khách"

// customerMessage stores the message (reopening a closed conversation),
// echoes it, relays it to staff and schedules an automated reply while the
// conversation is unowned
func (r *Router) customerMessage(ctx context.Context, a *actor, cmd CustomerMessage) error {
	name := a.Name
	if cmd.CustomerInfo != nil && cmd.CustomerInfo.Name != "" {
		name = cmd.CustomerInfo.Name
	}
	if name == "" {
		name = defaultCustomerName
	}

	// Validation happens before any mutation
	if _, err := domain.ValidateContent(cmd.Content); err != nil {
		return err
	}
	if err := r.checkRate(ctx, a.ID); err != nil {
		return err
	}

	dedupKey, duplicate := r.markClientMessage(ctx, a.ID, cmd.ClientMessageID)
	if duplicate {
		r.logger.Info("Duplicate message detected, skipping",
			"session_id", a.ID,
			"client_message_id", cmd.ClientMessageID,
		)
		return nil
	}

	conv, err := r.customerConversation(ctx, a)
	if err != nil {
		r.forgetClientMessage(ctx, dedupKey)
		return err
	}

	unlock := r.locks.Lock(conv.ID)
	defer unlock()

	// Stamped under the lock so createdAt follows append order
	msg, err := domain.NewMessage(domain.SenderCustomer, a.ID, name, cmd.Content, r.now())
	if err != nil {
		r.forgetClientMessage(ctx, dedupKey)
		return err
	}

	// Re-read under the lock; the status decides whether this message reopens
	conv, err = r.conversations.GetByID(ctx, conv.ID)
	if err != nil {
		r.forgetClientMessage(ctx, dedupKey)
		return fmt.Errorf("reload conversation: %w", err)
	}
	reopened := conv.Status.IsTerminal()

	var profile *domain.CustomerProfile
	if cmd.CustomerInfo != nil && !cmd.CustomerInfo.IsEmpty() {
		profile = cmd.CustomerInfo
	}

	updated, err := r.conversations.AppendMessage(ctx, conv.ID, msg, ports.AppendOptions{
		Reopen:      reopened,
		CountUnread: true,
		Profile:     profile,
	})
	if err != nil {
		r.forgetClientMessage(ctx, dedupKey)
		return err
	}
	metrics.MessagesTotal.WithLabelValues(string(domain.SenderCustomer)).Inc()

	r.logger.Info("customer message stored",
		"conversation_id", updated.ID,
		"session_id", a.ID,
		"content_preview", domain.Truncate(msg.Content, 50),
		"reopened", reopened,
	)

	stored := lastMessage(updated, msg)
	a.send(domain.NewEvent(domain.EventMessage, domain.MessagePayload{
		ConversationID: updated.ID,
		Message:        stored,
	}))
	r.broadcastNewMessage(updated, stored)
	if reopened {
		r.broadcastUpdate(updated, "reopened")
	}
	r.pushStats(ctx)

	if !updated.IsOwned() {
		r.scheduleAutoReply(updated.ID, msg.Content)
		r.alertIfUnattended(ctx, updated, stored)
	}
	return nil
}

// customerTyping persists the flag and relays it to the owner, or to every
// staff member while unowned
func (r *Router) customerTyping(ctx context.Context, a *actor, cmd CustomerTyping) error {
	conv, err := r.conversations.GetBySession(ctx, a.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := r.conversations.SetTyping(ctx, conv.ID, domain.ParticipantCustomer, cmd.IsTyping); err != nil {
		return err
	}

	event := domain.NewEvent(domain.EventCustomerTyping, domain.TypingPayload{
		ConversationID: conv.ID,
		IsTyping:       cmd.IsTyping,
	})
	if conv.IsOwned() {
		r.registry.SendTo(domain.ParticipantStaff, *conv.OwnerStaffID, event)
	} else {
		r.registry.BroadcastStaff(event)
	}
	return nil
}

// customerRate stores at most one rating per closure cycle
func (r *Router) customerRate(ctx context.Context, a *actor, cmd CustomerRate) error {
	rating, err := domain.NewRating(cmd.Score, cmd.Feedback, 0, r.now())
	if err != nil {
		return err
	}

	conv, err := r.conversations.GetBySession(ctx, a.ID)
	if err != nil {
		return err
	}

	unlock := r.locks.Lock(conv.ID)
	defer unlock()

	updated, err := r.conversations.SetRating(ctx, conv.ID, *rating)
	if err != nil {
		return err
	}

	r.logger.Info("conversation rated",
		"conversation_id", updated.ID,
		"score", rating.Score,
		"cycle", updated.Cycle,
	)

	a.send(domain.NewEvent(domain.EventRated, domain.RatedPayload{
		ConversationID: updated.ID,
		Rating:         *updated.Rating,
	}))
	r.broadcastUpdate(updated, "rated")
	return nil
}

// customerConversation loads the conversation of the acting session,
// recreating it if an administrator deleted it while connected
func (r *Router) customerConversation(ctx context.Context, a *actor) (*domain.Conversation, error) {
	conv, err := r.conversations.GetBySession(ctx, a.ID)
	if errors.Is(err, domain.ErrNotFound) {
		conv, _, err = r.loadOrCreate(ctx, a.Participant)
	}
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// checkRate applies the per-session budget. Limiter outages fail open.
func (r *Router) checkRate(ctx context.Context, sessionID string) error {
	if r.limiter == nil || r.cfg.MessageRateLimit <= 0 {
		return nil
	}
	ok, err := r.limiter.Allow(ctx, sessionID, r.cfg.MessageRateLimit, r.cfg.MessageRateWindow)
	if err != nil {
		r.logger.Warn("Rate limiter unavailable, allowing message", "error", err, "session_id", sessionID)
		return nil
	}
	if !ok {
		return domain.ErrRateLimited
	}
	return nil
}

// markClientMessage returns the dedup key and whether the message was seen
func (r *Router) markClientMessage(ctx context.Context, sessionID, clientMessageID string) (string, bool) {
	if r.dedup == nil || clientMessageID == "" {
		return "", false
	}
	key := "msg:" + sessionID + ":" + clientMessageID
	dup, err := r.dedup.CheckAndMark(ctx, key, r.cfg.DedupTTL)
	if err != nil {
		r.logger.Warn("Dedup check failed, processing message", "error", err, "session_id", sessionID)
		return "", false
	}
	return key, dup
}

// forgetClientMessage lets the client resubmit after a failed write
func (r *Router) forgetClientMessage(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := r.dedup.Forget(context.WithoutCancel(ctx), key); err != nil {
		r.logger.Warn("Failed to clear dedup key", "error", err, "key", key)
	}
}

// lastMessage returns the stored copy of msg (the store may adjust createdAt)
func lastMessage(conv *domain.Conversation, msg domain.Message) domain.Message {
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		if conv.Messages[i].ID == msg.ID {
			return conv.Messages[i]
		}
	}
	return msg
}
