package domain

// Outbound event names
const (
	EventMessage             = "message"
	EventNewMessage          = "newMessage"
	EventHistory             = "history"
	EventAgentOnlineStatus   = "agentOnlineStatus"
	EventStaffTookOver       = "staffTookOver"
	EventReleasedToAutomated = "releasedToAutomated"
	EventStaffTyping         = "staffTyping"
	EventCustomerTyping      = "customerTyping"
	EventConversationClosed  = "conversationClosed"
	EventRated               = "rated"
	EventConversationList    = "conversationList"
	EventStats               = "stats"
	EventCustomerJoined      = "customerJoined"
	EventCustomerLeft        = "customerLeft"
	EventConversationUpdated = "conversationUpdated"
	EventError               = "error"
)

// OutboundEvent is a typed server-to-client event. Adapters decide the
// framing on the wire.
type OutboundEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// NewEvent is a small constructor for readability at call sites
func NewEvent(eventType string, data any) OutboundEvent {
	return OutboundEvent{Type: eventType, Data: data}
}

// MessagePayload carries a message and its conversation
type MessagePayload struct {
	ConversationID string  `json:"conversationId"`
	Message        Message `json:"message"`
}

// NewMessagePayload is the staff-side notification of a stored message
type NewMessagePayload struct {
	ConversationID string              `json:"conversationId"`
	Message        Message             `json:"message"`
	Conversation   ConversationSummary `json:"conversation"`
}

// HistoryPayload is the first event a customer receives after connecting
type HistoryPayload struct {
	ConversationID string             `json:"conversationId"`
	Status         ConversationStatus `json:"status"`
	Messages       []Message          `json:"messages"`
	Rating         *Rating            `json:"rating,omitempty"`
}

// OnlinePayload announces whether any staff member is connected
type OnlinePayload struct {
	Online bool `json:"online"`
}

// TookOverPayload tells the customer a human has joined
type TookOverPayload struct {
	ConversationID string `json:"conversationId"`
	StaffName      string `json:"staffName"`
}

// ConversationRefPayload references a conversation with an optional text
type ConversationRefPayload struct {
	ConversationID string `json:"conversationId"`
	Message        string `json:"message,omitempty"`
}

// TypingPayload relays a typing indicator to the counterpart
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

// ClosedPayload tells the customer the conversation was closed by staff
type ClosedPayload struct {
	ConversationID string             `json:"conversationId"`
	Status         ConversationStatus `json:"status"`
	Message        string             `json:"message"`
}

// RatedPayload confirms a stored rating
type RatedPayload struct {
	ConversationID string `json:"conversationId"`
	Rating         Rating `json:"rating"`
}

// ConversationListPayload is the staff list view
type ConversationListPayload struct {
	Conversations []ConversationSummary `json:"conversations"`
	Total         int                   `json:"total"`
}

// CustomerPresencePayload announces a customer joining or leaving
type CustomerPresencePayload struct {
	SessionID      string               `json:"sessionId"`
	ConversationID string               `json:"conversationId,omitempty"`
	Conversation   *ConversationSummary `json:"conversation,omitempty"`
	Returning      bool                 `json:"returning,omitempty"`
}

// ConversationUpdatedPayload is the staff-side delta after a state change
type ConversationUpdatedPayload struct {
	ConversationID string              `json:"conversationId"`
	Action         string              `json:"action"`
	Conversation   ConversationSummary `json:"conversation"`
}

// ErrorPayload is sent to the originating connection on failure
type ErrorPayload struct {
	Message        string `json:"message"`
	Action         string `json:"action,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
}
