package services

import (
	"context"

	"github.com/roykane/flower-shop-sub000/internal/core/domain"
)

// Command is one inbound realtime event with its typed payload. The variant
// set is closed: every variant lives in this file and implements apply.
type Command interface {
	// Name is the wire event name
	Name() string
	// Audience is the participant kind allowed to issue the command
	Audience() domain.ParticipantKind
	// ConversationRef is the target conversation for staff commands
	ConversationRef() string

	apply(ctx context.Context, r *Router, a *actor) error
}

// Customer commands

// CustomerMessage is a chat message typed by the customer
type CustomerMessage struct {
	Content         string                  `json:"content"`
	ClientMessageID string                  `json:"clientMessageId,omitempty"`
	CustomerInfo    *domain.CustomerProfile `json:"customerInfo,omitempty"`
}

// CustomerTyping toggles the customer's typing indicator
type CustomerTyping struct {
	IsTyping bool `json:"isTyping"`
}

// CustomerRate scores the current conversation cycle
type CustomerRate struct {
	Score    int    `json:"score"`
	Feedback string `json:"feedback,omitempty"`
}

func (CustomerMessage) Name() string { return "message" }
func (CustomerTyping) Name() string  { return "typing" }
func (CustomerRate) Name() string    { return "rate" }

func (CustomerMessage) Audience() domain.ParticipantKind { return domain.ParticipantCustomer }
func (CustomerTyping) Audience() domain.ParticipantKind  { return domain.ParticipantCustomer }
func (CustomerRate) Audience() domain.ParticipantKind    { return domain.ParticipantCustomer }

func (CustomerMessage) ConversationRef() string { return "" }
func (CustomerTyping) ConversationRef() string  { return "" }
func (CustomerRate) ConversationRef() string    { return "" }

func (c CustomerMessage) apply(ctx context.Context, r *Router, a *actor) error {
	return r.customerMessage(ctx, a, c)
}

func (c CustomerTyping) apply(ctx context.Context, r *Router, a *actor) error {
	return r.customerTyping(ctx, a, c)
}

func (c CustomerRate) apply(ctx context.Context, r *Router, a *actor) error {
	return r.customerRate(ctx, a, c)
}

// Staff commands

// StaffTakeOver makes the acting staff member the conversation owner
type StaffTakeOver struct {
	ConversationID string `json:"conversationId"`
}

// StaffMessage is a reply typed by staff
type StaffMessage struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
}

// StaffTyping toggles the staff typing indicator
type StaffTyping struct {
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

// StaffRelease hands the conversation back to automated replies
type StaffRelease struct {
	ConversationID string `json:"conversationId"`
}

// StaffClose moves the conversation to closed or resolved
type StaffClose struct {
	ConversationID string `json:"conversationId"`
	TargetStatus   string `json:"targetStatus,omitempty"`
}

// StaffMarkRead clears the unread counter
type StaffMarkRead struct {
	ConversationID string `json:"conversationId"`
}

// StaffListConversations requests the list view
type StaffListConversations struct {
	Status string `json:"status,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// StaffGetStats requests the dashboard rollup
type StaffGetStats struct{}

// StaffAnnotate replaces tags and internal notes
type StaffAnnotate struct {
	ConversationID string   `json:"conversationId"`
	Tags           []string `json:"tags"`
	Notes          string   `json:"notes"`
}

func (StaffTakeOver) Name() string          { return "takeOver" }
func (StaffMessage) Name() string           { return "message" }
func (StaffTyping) Name() string            { return "typing" }
func (StaffRelease) Name() string           { return "release" }
func (StaffClose) Name() string             { return "closeConversation" }
func (StaffMarkRead) Name() string          { return "markRead" }
func (StaffListConversations) Name() string { return "listConversations" }
func (StaffGetStats) Name() string          { return "getStats" }
func (StaffAnnotate) Name() string          { return "annotate" }

func (StaffTakeOver) Audience() domain.ParticipantKind          { return domain.ParticipantStaff }
func (StaffMessage) Audience() domain.ParticipantKind           { return domain.ParticipantStaff }
func (StaffTyping) Audience() domain.ParticipantKind            { return domain.ParticipantStaff }
func (StaffRelease) Audience() domain.ParticipantKind           { return domain.ParticipantStaff }
func (StaffClose) Audience() domain.ParticipantKind             { return domain.ParticipantStaff }
func (StaffMarkRead) Audience() domain.ParticipantKind          { return domain.ParticipantStaff }
func (StaffListConversations) Audience() domain.ParticipantKind { return domain.ParticipantStaff }
func (StaffGetStats) Audience() domain.ParticipantKind          { return domain.ParticipantStaff }
func (StaffAnnotate) Audience() domain.ParticipantKind          { return domain.ParticipantStaff }

func (c StaffTakeOver) ConversationRef() string        { return c.ConversationID }
func (c StaffMessage) ConversationRef() string         { return c.ConversationID }
func (c StaffTyping) ConversationRef() string          { return c.ConversationID }
func (c StaffRelease) ConversationRef() string         { return c.ConversationID }
func (c StaffClose) ConversationRef() string           { return c.ConversationID }
func (c StaffMarkRead) ConversationRef() string        { return c.ConversationID }
func (StaffListConversations) ConversationRef() string { return "" }
func (StaffGetStats) ConversationRef() string          { return "" }
func (c StaffAnnotate) ConversationRef() string        { return c.ConversationID }

func (c StaffTakeOver) apply(ctx context.Context, r *Router, a *actor) error {
	return r.takeOver(ctx, a, c)
}

func (c StaffMessage) apply(ctx context.Context, r *Router, a *actor) error {
	return r.staffMessage(ctx, a, c)
}

func (c StaffTyping) apply(ctx context.Context, r *Router, a *actor) error {
	return r.staffTyping(ctx, a, c)
}

func (c StaffRelease) apply(ctx context.Context, r *Router, a *actor) error {
	return r.release(ctx, a, c)
}

func (c StaffClose) apply(ctx context.Context, r *Router, a *actor) error {
	return r.closeConversation(ctx, a, c)
}

func (c StaffMarkRead) apply(ctx context.Context, r *Router, a *actor) error {
	return r.markRead(ctx, a, c)
}

func (c StaffListConversations) apply(ctx context.Context, r *Router, a *actor) error {
	return r.listConversations(ctx, a, c)
}

func (c StaffGetStats) apply(ctx context.Context, r *Router, a *actor) error {
	return r.getStats(ctx, a)
}

func (c StaffAnnotate) apply(ctx context.Context, r *Router, a *actor) error {
	return r.annotate(ctx, a, c)
}
