// Package ports defines interfaces for dependency inversion
// Following Hexagonal Architecture: Core defines contracts, Adapters implement them
package ports

import (
	"context"
	"time"

	"github.com/roykane/flower-shop-sub000/internal/core/domain"
)

// AppendOptions controls the side effects applied together with a message
// append. All of them land in one atomic store update.
type AppendOptions struct {
	// Reopen moves a closed/resolved conversation back to active and starts
	// a new rating cycle
	Reopen bool
	// CountUnread increments the staff unread counter
	CountUnread bool
	// Profile is merged into the stored customer profile when non-empty
	Profile *domain.CustomerProfile
}

// ConversationRepository is the persistent store of conversations with
// embedded messages. Every mutating method is a single atomic update on one
// record.
type ConversationRepository interface {
	// GetOrCreateBySession returns the conversation for a session, inserting
	// seed when none exists. created reports whether seed was inserted.
	GetOrCreateBySession(ctx context.Context, sessionID string, seed *domain.Conversation) (*domain.Conversation, bool, error)

	// GetBySession returns domain.ErrNotFound when absent
	GetBySession(ctx context.Context, sessionID string) (*domain.Conversation, error)

	// GetByID returns domain.ErrNotFound when absent
	GetByID(ctx context.Context, id string) (*domain.Conversation, error)

	// AppendMessage pushes msg, refreshes activity and preview, and applies opts
	AppendMessage(ctx context.Context, id string, msg domain.Message, opts AppendOptions) (*domain.Conversation, error)

	// AppendIfUnowned appends msg only while no staff owns the conversation.
	// Returns domain.ErrOwnershipChanged when the condition fails.
	AppendIfUnowned(ctx context.Context, id string, msg domain.Message) (*domain.Conversation, error)

	// AssignOwner records staff ownership and forces status active
	AssignOwner(ctx context.Context, id, staffID, staffName string, at time.Time) (*domain.Conversation, error)

	// ReleaseOwner clears ownership regardless of the current owner
	ReleaseOwner(ctx context.Context, id string) (*domain.Conversation, error)

	// SetStatus moves the conversation to a terminal status and clears ownership
	SetStatus(ctx context.Context, id string, status domain.ConversationStatus, at time.Time) (*domain.Conversation, error)

	// MarkRead flags every unread customer message as read and zeroes the counter
	MarkRead(ctx context.Context, id string, at time.Time) (*domain.Conversation, error)

	// SetTyping updates the typing flag of one side
	SetTyping(ctx context.Context, id string, kind domain.ParticipantKind, typing bool) error

	// SetRating stores the rating only if the current cycle has none.
	// Returns domain.ErrAlreadyRated otherwise.
	SetRating(ctx context.Context, id string, rating domain.Rating) (*domain.Conversation, error)

	// Annotate replaces tags and staff notes
	Annotate(ctx context.Context, id string, tags []string, notes string) (*domain.Conversation, error)

	// Delete removes the conversation permanently
	Delete(ctx context.Context, id string) error

	// List returns conversations ordered by most recent activity first
	List(ctx context.Context, filter domain.ConversationFilter) ([]*domain.Conversation, error)

	// Count returns the number of conversations matching filter
	Count(ctx context.Context, filter domain.ConversationFilter) (int64, error)

	// SumUnread totals unreadForStaff across matching conversations
	SumUnread(ctx context.Context, filter domain.ConversationFilter) (int64, error)
}

// ChatAuditRepository handles persistence of realtime event audit logs
type ChatAuditRepository interface {
	// SaveLog persists an inbound event to the audit log
	SaveLog(ctx context.Context, log *domain.ChatEventLog) error

	// PurgeBefore removes at most batch entries older than before
	PurgeBefore(ctx context.Context, before time.Time, batch int) (int64, error)
}

// DedupRepository guards against processing the same client event twice
type DedupRepository interface {
	// CheckAndMark atomically marks key and reports whether it was already marked
	CheckAndMark(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Forget removes a mark so a failed event can be retried
	Forget(ctx context.Context, key string) error
}

// RateLimiter enforces a fixed-window limit per key
type RateLimiter interface {
	// Allow records one hit and reports whether it is within limit
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// StaffNotifier reaches staff outside the realtime channel
type StaffNotifier interface {
	NotifyWaitingCustomer(ctx context.Context, alert domain.StaffAlert) error
}

// Authenticator resolves a bearer credential to an identity
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*domain.Identity, error)
}

// Connection is a live realtime connection handle
type Connection interface {
	// ID is unique per physical connection
	ID() string

	// Send queues an event without blocking. Returns false when the event was
	// dropped because the connection is closed or its buffer is full.
	Send(event domain.OutboundEvent) bool

	// Close terminates the connection
	Close()
}
