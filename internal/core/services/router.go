// Package services contains core business logic
// Following Hexagonal Architecture: Services orchestrate domain logic using ports
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roykane/flower-shop-sub000/internal/core/domain"
	"github.com/roykane/flower-shop-sub000/internal/core/ports"
	"github.com/roykane/flower-shop-sub000/internal/metrics"
)

// Customer-facing failure acknowledgment. Internal detail never reaches customers.
const genericErrorText = "Xin lỗi, hệ thống đang bận. Vui lòng thử lại sau giây lát."

const (
	defaultListLimit = 100
	maxListLimit     = 500
	opTimeout        = 5 * time.Second
)

// RouterConfig holds the tunables of the event router
type RouterConfig struct {
	AutoReplyDelay    DelayPolicy
	MessageRateLimit  int
	MessageRateWindow time.Duration
	DedupTTL          time.Duration
	AlertCooldown     time.Duration
}

// RouterDeps are the collaborators of the event router. Audit, Dedup,
// Limiter and Notifier are optional.
type RouterDeps struct {
	Conversations ports.ConversationRepository
	Audit         ports.ChatAuditRepository
	Dedup         ports.DedupRepository
	Limiter       ports.RateLimiter
	Notifier      ports.StaffNotifier
	Registry      *ConnectionRegistry
	Responder     *AutoResponder
	Switch        *AutoReplySwitch
	Stats         *StatsAggregator
	Logger        *slog.Logger
}

// Router validates inbound events, applies state transitions through the
// store and fans out outbound events through the registry. It always
// persists before delivering.
type Router struct {
	conversations ports.ConversationRepository
	audit         ports.ChatAuditRepository
	dedup         ports.DedupRepository
	limiter       ports.RateLimiter
	notifier      ports.StaffNotifier
	registry      *ConnectionRegistry
	responder     *AutoResponder
	autoSwitch    *AutoReplySwitch
	stats         *StatsAggregator
	scheduler     *AutoReplyScheduler
	locks         *keyedMutex
	cfg           RouterConfig
	logger        *slog.Logger
	now           func() time.Time

	// background audit and alert writes; none start once closed
	bgMu   sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// actor is the acting side of one inbound event
type actor struct {
	domain.Participant
	conn ports.Connection
}

func (a *actor) send(event domain.OutboundEvent) {
	if a.conn != nil {
		deliver(a.conn, event)
	}
}

// NewRouter creates a new router instance with dependencies injected
func NewRouter(deps RouterDeps, cfg RouterConfig) *Router {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Registry == nil {
		deps.Registry = NewConnectionRegistry(logger)
	}
	if deps.Responder == nil {
		deps.Responder = NewAutoResponder()
	}
	if deps.Switch == nil {
		deps.Switch = NewAutoReplySwitch(true)
	}
	if deps.Stats == nil {
		deps.Stats = NewStatsAggregator(deps.Conversations, time.UTC)
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 24 * time.Hour
	}
	if cfg.AlertCooldown <= 0 {
		cfg.AlertCooldown = 10 * time.Minute
	}

	return &Router{
		conversations: deps.Conversations,
		audit:         deps.Audit,
		dedup:         deps.Dedup,
		limiter:       deps.Limiter,
		notifier:      deps.Notifier,
		registry:      deps.Registry,
		responder:     deps.Responder,
		autoSwitch:    deps.Switch,
		stats:         deps.Stats,
		scheduler:     NewAutoReplyScheduler(cfg.AutoReplyDelay, logger),
		locks:         newKeyedMutex(),
		cfg:           cfg,
		logger:        logger.With("component", "router"),
		now:           time.Now,
	}
}

// Registry exposes the connection registry for transport adapters
func (r *Router) Registry() *ConnectionRegistry { return r.registry }

// AutoReplySwitch exposes the kill switch for the dashboard
func (r *Router) AutoReplySwitch() *AutoReplySwitch { return r.autoSwitch }

// Shutdown cancels pending automated replies and waits for background writes
func (r *Router) Shutdown() {
	r.scheduler.Shutdown()

	r.bgMu.Lock()
	r.closed = true
	r.bgMu.Unlock()
	r.wg.Wait()
}

// goBackground runs fn on its own goroutine tracked by Shutdown. Returns
// false without running fn once the router is shut down.
func (r *Router) goBackground(fn func()) bool {
	r.bgMu.Lock()
	if r.closed {
		r.bgMu.Unlock()
		return false
	}
	r.wg.Add(1)
	r.bgMu.Unlock()

	go func() {
		defer r.wg.Done()
		fn()
	}()
	return true
}

// ============================================================================
// Connection lifecycle
// ============================================================================

// Connect registers a participant and sends the initial state
func (r *Router) Connect(ctx context.Context, p domain.Participant, conn ports.Connection) error {
	if p.Kind == domain.ParticipantStaff {
		return r.connectStaff(ctx, p, conn)
	}
	return r.connectCustomer(ctx, p, conn)
}

// Disconnect removes the participant from the registry. Pending automated
// replies of the conversation keep running.
func (r *Router) Disconnect(p domain.Participant, conn ports.Connection) {
	if !r.registry.Unregister(p.Kind, p.ID, conn) {
		return
	}
	if p.Kind == domain.ParticipantCustomer {
		r.registry.BroadcastStaff(domain.NewEvent(domain.EventCustomerLeft,
			domain.CustomerPresencePayload{SessionID: p.ID}))
	}
	r.logger.Info("participant disconnected", "kind", p.Kind, "id", p.ID)
}

func (r *Router) connectCustomer(ctx context.Context, p domain.Participant, conn ports.Connection) error {
	r.registry.Register(domain.ParticipantCustomer, p.ID, conn)

	conv, created, err := r.loadOrCreate(ctx, p)
	if err != nil {
		r.logger.Error("Failed to load conversation on connect",
			"error", err,
			"session_id", p.ID,
		)
		deliver(conn, domain.NewEvent(domain.EventError, domain.ErrorPayload{Message: genericErrorText}))
		return err
	}

	deliver(conn, domain.NewEvent(domain.EventHistory, domain.HistoryPayload{
		ConversationID: conv.ID,
		Status:         conv.Status,
		Messages:       conv.Messages,
		Rating:         conv.Rating,
	}))
	deliver(conn, domain.NewEvent(domain.EventAgentOnlineStatus, domain.OnlinePayload{Online: r.registry.StaffOnline()}))
	if conv.IsOwned() {
		deliver(conn, domain.NewEvent(domain.EventStaffTookOver, domain.TookOverPayload{
			ConversationID: conv.ID,
			StaffName:      deref(conv.OwnerStaffName),
		}))
	}

	summary := r.summary(conv)
	r.registry.BroadcastStaff(domain.NewEvent(domain.EventCustomerJoined, domain.CustomerPresencePayload{
		SessionID:      p.ID,
		ConversationID: conv.ID,
		Conversation:   &summary,
		Returning:      !created,
	}))
	if created {
		r.pushStats(ctx)
	}

	r.logger.Info("customer connected",
		"session_id", p.ID,
		"conversation_id", conv.ID,
		"new", created,
		"messages", len(conv.Messages),
	)
	return nil
}

func (r *Router) connectStaff(ctx context.Context, p domain.Participant, conn ports.Connection) error {
	r.registry.Register(domain.ParticipantStaff, p.ID, conn)

	a := &actor{Participant: p, conn: conn}
	if err := r.listConversations(ctx, a, StaffListConversations{}); err != nil {
		r.logger.Error("Failed to send conversation list on connect", "error", err, "staff_id", p.ID)
		deliver(conn, domain.NewEvent(domain.EventError, domain.ErrorPayload{
			Message: "failed to load conversations",
			Action:  StaffListConversations{}.Name(),
		}))
		return err
	}
	if err := r.getStats(ctx, a); err != nil {
		r.logger.Error("Failed to send stats on connect", "error", err, "staff_id", p.ID)
	}

	r.logger.Info("staff connected", "staff_id", p.ID, "staff_online", r.registry.StaffCount())
	return nil
}

// loadOrCreate returns the conversation of a customer session, creating it
// with the automated greeting on first contact
func (r *Router) loadOrCreate(ctx context.Context, p domain.Participant) (*domain.Conversation, bool, error) {
	now := r.now()
	greeting, err := domain.NewMessage(domain.SenderAutomated, "", domain.AutomatedDisplayName, GreetingText, now)
	if err != nil {
		return nil, false, err
	}
	seed := domain.NewConversation(p.ID, p.UserID, domain.CustomerProfile{Name: p.Name}, greeting, now)

	conv, created, err := r.conversations.GetOrCreateBySession(ctx, p.ID, seed)
	if err != nil {
		return nil, false, fmt.Errorf("load conversation: %w", err)
	}
	if created {
		metrics.MessagesTotal.WithLabelValues(string(domain.SenderAutomated)).Inc()
	}
	return conv, created, nil
}

// ============================================================================
// Dispatch
// ============================================================================

// Handle runs one inbound command to completion. Failures are reported to
// the originating connection only; a panic never escapes.
func (r *Router) Handle(ctx context.Context, p domain.Participant, conn ports.Connection, cmd Command) {
	a := &actor{Participant: p, conn: conn}

	// ========================================================================
	// CRITICAL: Panic Recovery
	// One broken handler must not take down the connection or other conversations
	// ========================================================================
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("PANIC recovered in event handler",
				"panic", rec,
				"event", cmd.Name(),
				"kind", p.Kind,
				"id", p.ID,
			)
			metrics.EventsTotal.WithLabelValues(cmd.Name(), "panic").Inc()
			err := fmt.Errorf("panic: %v", rec)
			r.reportError(a, cmd, err)
			r.recordEvent(a, cmd, domain.EventStatusFailed, err)
		}
	}()

	// Staff-only commands from customers are dropped without mutation
	if cmd.Audience() != p.Kind {
		r.logger.Warn("Dropping command not permitted for participant",
			"event", cmd.Name(),
			"kind", p.Kind,
			"id", p.ID,
		)
		metrics.EventsTotal.WithLabelValues(cmd.Name(), "rejected").Inc()
		r.recordEvent(a, cmd, domain.EventStatusRejected, domain.ErrForbidden)
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := cmd.apply(opCtx, r, a); err != nil {
		r.reportError(a, cmd, err)
		r.recordEvent(a, cmd, domain.EventStatusFailed, err)
		metrics.EventsTotal.WithLabelValues(cmd.Name(), "error").Inc()
		return
	}

	r.recordEvent(a, cmd, domain.EventStatusProcessed, nil)
	metrics.EventsTotal.WithLabelValues(cmd.Name(), "ok").Inc()
}

// reportError sends the error event. Customers always get the generic text;
// staff get enough context to retry the action.
func (r *Router) reportError(a *actor, cmd Command, err error) {
	if domain.IsClientError(err) {
		r.logger.Warn("Event rejected",
			"error", err,
			"event", cmd.Name(),
			"kind", a.Kind,
			"id", a.ID,
		)
	} else {
		r.logger.Error("Event failed",
			"error", err,
			"event", cmd.Name(),
			"kind", a.Kind,
			"id", a.ID,
			"conversation_id", cmd.ConversationRef(),
		)
	}

	payload := domain.ErrorPayload{Message: genericErrorText}
	if a.Kind == domain.ParticipantStaff {
		payload.Action = cmd.Name()
		payload.ConversationID = cmd.ConversationRef()
		payload.Message = "internal error, please retry"
		if domain.IsClientError(err) {
			payload.Message = err.Error()
		}
	}
	a.send(domain.NewEvent(domain.EventError, payload))
}

// recordEvent appends the audit entry without blocking the handler
func (r *Router) recordEvent(a *actor, cmd Command, status string, cause error) {
	if r.audit == nil {
		return
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		payload = []byte("{}")
	}
	entry := &domain.ChatEventLog{
		ConversationID: cmd.ConversationRef(),
		ActorKind:      a.Kind,
		ActorID:        a.ID,
		EventType:      cmd.Name(),
		PayloadJSON:    payload,
		Status:         status,
		CreatedAt:      r.now(),
	}
	if a.Kind == domain.ParticipantCustomer {
		entry.SessionID = a.ID
	}
	if cause != nil {
		msg := cause.Error()
		entry.ErrorLog = &msg
	}

	started := r.goBackground(func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("PANIC in chat event log save", "panic", rec)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		if err := r.audit.SaveLog(ctx, entry); err != nil {
			r.logger.Error("Failed to save chat event log (async)", "error", err)
		}
	})
	if !started {
		r.logger.Debug("router shut down, chat event log dropped", "event_type", entry.EventType)
	}
}

// ============================================================================
// Fan-out helpers
// ============================================================================

// summary builds the staff snapshot including live presence
func (r *Router) summary(conv *domain.Conversation) domain.ConversationSummary {
	s := conv.Summary()
	_, s.CustomerOnline = r.registry.Resolve(domain.ParticipantCustomer, conv.SessionID)
	return s
}

func (r *Router) broadcastNewMessage(conv *domain.Conversation, msg domain.Message) {
	r.registry.BroadcastStaff(domain.NewEvent(domain.EventNewMessage, domain.NewMessagePayload{
		ConversationID: conv.ID,
		Message:        msg,
		Conversation:   r.summary(conv),
	}))
}

func (r *Router) broadcastUpdate(conv *domain.Conversation, action string) {
	r.registry.BroadcastStaff(domain.NewEvent(domain.EventConversationUpdated, domain.ConversationUpdatedPayload{
		ConversationID: conv.ID,
		Action:         action,
		Conversation:   r.summary(conv),
	}))
}

func (r *Router) sendToCustomer(conv *domain.Conversation, event domain.OutboundEvent) {
	r.registry.SendTo(domain.ParticipantCustomer, conv.SessionID, event)
}

// pushStats recomputes the rollup and pushes it to every staff connection
func (r *Router) pushStats(ctx context.Context) {
	if r.registry.StaffCount() == 0 {
		return
	}
	stats, err := r.stats.Compute(ctx)
	if err != nil {
		r.logger.Error("Failed to compute stats", "error", err)
		return
	}
	r.registry.BroadcastStaff(domain.NewEvent(domain.EventStats, stats))
}

// ============================================================================
// Automated replies
// ============================================================================

func (r *Router) scheduleAutoReply(conversationID, customerText string) {
	r.scheduler.Schedule(conversationID, func(ctx context.Context) {
		r.fireAutoReply(ctx, conversationID, customerText)
	})
}

// fireAutoReply runs when the delay elapses. The token check happens under
// the conversation lock; the conditional append closes the remaining window.
func (r *Router) fireAutoReply(token context.Context, conversationID, customerText string) {
	unlock := r.locks.Lock(conversationID)
	defer unlock()

	if token.Err() != nil {
		metrics.AutoRepliesTotal.WithLabelValues("suppressed").Inc()
		r.logger.Debug("automated reply invalidated by takeover", "conversation_id", conversationID)
		return
	}
	if !r.autoSwitch.Enabled() {
		metrics.AutoRepliesTotal.WithLabelValues("disabled").Inc()
		r.logger.Info("automated reply skipped, replies paused", "conversation_id", conversationID)
		return
	}

	reply, rule := r.responder.Respond(customerText)
	msg, err := domain.NewMessage(domain.SenderAutomated, "", domain.AutomatedDisplayName, reply, r.now())
	if err != nil {
		metrics.AutoRepliesTotal.WithLabelValues("failed").Inc()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	conv, err := r.conversations.AppendIfUnowned(ctx, conversationID, msg)
	switch {
	case errors.Is(err, domain.ErrOwnershipChanged):
		metrics.AutoRepliesTotal.WithLabelValues("suppressed").Inc()
		r.logger.Info("automated reply suppressed, conversation owned", "conversation_id", conversationID)
		return
	case err != nil:
		metrics.AutoRepliesTotal.WithLabelValues("failed").Inc()
		r.logger.Error("Failed to append automated reply",
			"error", err,
			"conversation_id", conversationID,
		)
		return
	}

	metrics.AutoRepliesTotal.WithLabelValues("sent").Inc()
	metrics.MessagesTotal.WithLabelValues(string(domain.SenderAutomated)).Inc()
	r.logger.Info("automated reply sent",
		"conversation_id", conversationID,
		"rule", rule,
	)

	stored := lastMessage(conv, msg)
	r.sendToCustomer(conv, domain.NewEvent(domain.EventMessage, domain.MessagePayload{
		ConversationID: conv.ID,
		Message:        stored,
	}))
	r.broadcastNewMessage(conv, stored)
}

// alertIfUnattended notifies staff outside the realtime channel when a
// customer writes and nobody is online, at most once per cooldown
func (r *Router) alertIfUnattended(ctx context.Context, conv *domain.Conversation, msg domain.Message) {
	if r.notifier == nil || r.registry.StaffOnline() {
		return
	}
	if r.dedup != nil {
		dup, err := r.dedup.CheckAndMark(ctx, "alert:"+conv.ID, r.cfg.AlertCooldown)
		if err != nil {
			r.logger.Warn("Alert cooldown check failed", "error", err, "conversation_id", conv.ID)
			return
		}
		if dup {
			return
		}
	}

	alert := domain.StaffAlert{
		ConversationID: conv.ID,
		SessionID:      conv.SessionID,
		CustomerName:   conv.CustomerDisplayName(),
		Preview:        domain.Truncate(msg.Content, 50),
		CreatedAt:      msg.CreatedAt,
	}

	r.goBackground(func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("PANIC in staff alert", "panic", rec)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := r.notifier.NotifyWaitingCustomer(ctx, alert); err != nil {
			metrics.StaffAlertsTotal.WithLabelValues("failed").Inc()
			r.logger.Error("Failed to send staff alert",
				"error", err,
				"conversation_id", alert.ConversationID,
			)
			return
		}
		metrics.StaffAlertsTotal.WithLabelValues("sent").Inc()
	})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
