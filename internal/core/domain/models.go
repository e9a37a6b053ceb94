// Package domain contains core business entities for the live support chat
// Following Hexagonal Architecture: These models are infrastructure-agnostic
package domain

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// ParticipantKind separates the two connection keyspaces
type ParticipantKind string

const (
	ParticipantCustomer ParticipantKind = "customer"
	ParticipantStaff    ParticipantKind = "staff"
)

// SenderType identifies who authored a message
type SenderType string

const (
	SenderCustomer  SenderType = "customer"
	SenderStaff     SenderType = "staff"
	SenderAutomated SenderType = "automated"
)

// ConversationStatus is the stored lifecycle state of a conversation.
// StatusWaiting is never stored: it is the view of an active conversation
// that no staff member owns.
type ConversationStatus string

const (
	StatusActive   ConversationStatus = "active"
	StatusWaiting  ConversationStatus = "waiting"
	StatusClosed   ConversationStatus = "closed"
	StatusResolved ConversationStatus = "resolved"
)

// IsTerminal reports whether the status is one of the soft terminal states
func (s ConversationStatus) IsTerminal() bool {
	return s == StatusClosed || s == StatusResolved
}

// Content limits
const (
	MaxContentLength  = 2000
	MaxFeedbackLength = 1000
	previewLength     = 50
)

// AutomatedDisplayName is the display name used for automated messages
const AutomatedDisplayName = "Trợ lý tự động"

// CustomerProfile is supplied progressively by the customer
type CustomerProfile struct {
	Name  string `json:"name,omitempty" bson:"name,omitempty"`
	Phone string `json:"phone,omitempty" bson:"phone,omitempty"`
	Email string `json:"email,omitempty" bson:"email,omitempty"`
}

// IsEmpty reports whether no profile field is set
func (p CustomerProfile) IsEmpty() bool {
	return p.Name == "" && p.Phone == "" && p.Email == ""
}

// Merge overlays the non-empty fields of other on top of p
func (p CustomerProfile) Merge(other CustomerProfile) CustomerProfile {
	if other.Name != "" {
		p.Name = other.Name
	}
	if other.Phone != "" {
		p.Phone = other.Phone
	}
	if other.Email != "" {
		p.Email = other.Email
	}
	return p
}

// Message is embedded in a conversation and immutable once created
type Message struct {
	ID                string     `json:"id" bson:"id"`
	Sender            SenderType `json:"sender" bson:"sender"`
	SenderID          string     `json:"senderId,omitempty" bson:"sender_id,omitempty"`
	SenderDisplayName string     `json:"senderDisplayName" bson:"sender_display_name"`
	Content           string     `json:"content" bson:"content"`
	IsRead            bool       `json:"isRead" bson:"is_read"`
	ReadAt            *time.Time `json:"readAt,omitempty" bson:"read_at,omitempty"`
	CreatedAt         time.Time  `json:"createdAt" bson:"created_at"`
}

// NewMessage validates content and builds a message with a time-sortable ID
func NewMessage(sender SenderType, senderID, displayName, content string, now time.Time) (Message, error) {
	content, err := ValidateContent(content)
	if err != nil {
		return Message{}, err
	}

	return Message{
		ID:                ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Sender:            sender,
		SenderID:          senderID,
		SenderDisplayName: displayName,
		Content:           content,
		// Only customer messages take part in unread accounting
		IsRead:    sender != SenderCustomer,
		CreatedAt: now,
	}, nil
}

// ValidateContent trims content and checks it is non-empty and within
// MaxContentLength runes
func ValidateContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return "", ErrContentTooLong
	}
	return content, nil
}

// MessagePreview is the denormalized last-message snippet for list views
type MessagePreview struct {
	Content   string     `json:"content" bson:"content"`
	Sender    SenderType `json:"sender" bson:"sender"`
	CreatedAt time.Time  `json:"createdAt" bson:"created_at"`
}

// PreviewOf builds the list-view snippet for a message
func PreviewOf(msg Message) *MessagePreview {
	return &MessagePreview{
		Content:   Truncate(msg.Content, previewLength),
		Sender:    msg.Sender,
		CreatedAt: msg.CreatedAt,
	}
}

// Truncate shortens s to at most n runes, appending "..." when cut
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}

// Rating is the customer's satisfaction score for one closure cycle
type Rating struct {
	Score    int       `json:"score" bson:"score"`
	Feedback string    `json:"feedback,omitempty" bson:"feedback,omitempty"`
	RatedAt  time.Time `json:"ratedAt" bson:"rated_at"`
	Cycle    int       `json:"cycle" bson:"cycle"`
}

// NewRating validates a score (1-5) and feedback length
func NewRating(score int, feedback string, cycle int, now time.Time) (*Rating, error) {
	if score < 1 || score > 5 {
		return nil, ErrInvalidRating
	}
	feedback = strings.TrimSpace(feedback)
	if utf8.RuneCountInString(feedback) > MaxFeedbackLength {
		return nil, ErrContentTooLong
	}
	return &Rating{Score: score, Feedback: feedback, RatedAt: now, Cycle: cycle}, nil
}

// Conversation is one customer's support session and the single source of
// truth for its ownership and status
type Conversation struct {
	ID                 string             `json:"id" bson:"_id"`
	SessionID          string             `json:"sessionId" bson:"session_id"`
	CustomerUserID     *string            `json:"customerUserId,omitempty" bson:"customer_user_id,omitempty"`
	CustomerProfile    CustomerProfile    `json:"customerProfile" bson:"customer_profile"`
	OwnerStaffID       *string            `json:"ownerStaffId" bson:"owner_staff_id"`
	OwnerStaffName     *string            `json:"ownerStaffName,omitempty" bson:"owner_staff_name"`
	TakenOverAt        *time.Time         `json:"takenOverAt,omitempty" bson:"taken_over_at,omitempty"`
	Status             ConversationStatus `json:"status" bson:"status"`
	Messages           []Message          `json:"messages" bson:"messages"`
	LastActivityAt     time.Time          `json:"lastActivityAt" bson:"last_activity_at"`
	LastMessagePreview *MessagePreview    `json:"lastMessagePreview,omitempty" bson:"last_message_preview,omitempty"`
	UnreadForStaff     int                `json:"unreadForStaff" bson:"unread_for_staff"`
	CustomerTyping     bool               `json:"customerTyping" bson:"customer_typing"`
	StaffTyping        bool               `json:"staffTyping" bson:"staff_typing"`
	Rating             *Rating            `json:"rating,omitempty" bson:"rating,omitempty"`
	Cycle              int                `json:"cycle" bson:"cycle"`
	ClosedAt           *time.Time         `json:"closedAt,omitempty" bson:"closed_at,omitempty"`
	Tags               []string           `json:"tags" bson:"tags"`
	StaffNotes         string             `json:"staffNotes" bson:"staff_notes"`
	CreatedAt          time.Time          `json:"createdAt" bson:"created_at"`
	UpdatedAt          time.Time          `json:"updatedAt" bson:"updated_at"`
}

// NewConversation builds the record for a previously unseen session, seeded
// with the automated greeting
func NewConversation(sessionID string, userID *string, profile CustomerProfile, greeting Message, now time.Time) *Conversation {
	return &Conversation{
		ID:                 uuid.NewString(),
		SessionID:          sessionID,
		CustomerUserID:     userID,
		CustomerProfile:    profile,
		Status:             StatusActive,
		Messages:           []Message{greeting},
		LastActivityAt:     now,
		LastMessagePreview: PreviewOf(greeting),
		Tags:               []string{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// IsOwned reports whether a staff member currently drives the conversation
func (c *Conversation) IsOwned() bool {
	return c.OwnerStaffID != nil && *c.OwnerStaffID != ""
}

// EffectiveStatus returns the reporting status, deriving waiting
func (c *Conversation) EffectiveStatus() ConversationStatus {
	if c.Status == StatusActive && !c.IsOwned() {
		return StatusWaiting
	}
	return c.Status
}

// CanRate returns ErrAlreadyRated when the current cycle already has a rating
func (c *Conversation) CanRate() error {
	if c.Rating != nil && c.Rating.Cycle == c.Cycle {
		return ErrAlreadyRated
	}
	return nil
}

// CustomerDisplayName returns the best known name for the customer
func (c *Conversation) CustomerDisplayName() string {
	if c.CustomerProfile.Name != "" {
		return c.CustomerProfile.Name
	}
	return "Khách " + Truncate(c.SessionID, 8)
}

// Clone returns a deep copy safe to hand out of a store
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.Messages = append([]Message(nil), c.Messages...)
	out.Tags = append([]string(nil), c.Tags...)
	if c.CustomerUserID != nil {
		v := *c.CustomerUserID
		out.CustomerUserID = &v
	}
	if c.OwnerStaffID != nil {
		v := *c.OwnerStaffID
		out.OwnerStaffID = &v
	}
	if c.OwnerStaffName != nil {
		v := *c.OwnerStaffName
		out.OwnerStaffName = &v
	}
	if c.TakenOverAt != nil {
		v := *c.TakenOverAt
		out.TakenOverAt = &v
	}
	if c.ClosedAt != nil {
		v := *c.ClosedAt
		out.ClosedAt = &v
	}
	if c.LastMessagePreview != nil {
		v := *c.LastMessagePreview
		out.LastMessagePreview = &v
	}
	if c.Rating != nil {
		v := *c.Rating
		out.Rating = &v
	}
	for i := range out.Messages {
		if out.Messages[i].ReadAt != nil {
			v := *out.Messages[i].ReadAt
			out.Messages[i].ReadAt = &v
		}
	}
	return &out
}

// ConversationSummary is the list-view snapshot pushed to staff
type ConversationSummary struct {
	ID                 string             `json:"id"`
	SessionID          string             `json:"sessionId"`
	CustomerName       string             `json:"customerName"`
	CustomerProfile    CustomerProfile    `json:"customerProfile"`
	OwnerStaffID       *string            `json:"ownerStaffId"`
	OwnerStaffName     *string            `json:"ownerStaffName,omitempty"`
	Status             ConversationStatus `json:"status"`
	EffectiveStatus    ConversationStatus `json:"effectiveStatus"`
	LastActivityAt     time.Time          `json:"lastActivityAt"`
	LastMessagePreview *MessagePreview    `json:"lastMessagePreview,omitempty"`
	UnreadForStaff     int                `json:"unreadForStaff"`
	CustomerTyping     bool               `json:"customerTyping"`
	StaffTyping        bool               `json:"staffTyping"`
	Rating             *Rating            `json:"rating,omitempty"`
	Tags               []string           `json:"tags"`
	StaffNotes         string             `json:"staffNotes"`
	MessageCount       int                `json:"messageCount"`
	CustomerOnline     bool               `json:"customerOnline"`
	CreatedAt          time.Time          `json:"createdAt"`
}

// Summary builds the list-view snapshot
func (c *Conversation) Summary() ConversationSummary {
	return ConversationSummary{
		ID:                 c.ID,
		SessionID:          c.SessionID,
		CustomerName:       c.CustomerDisplayName(),
		CustomerProfile:    c.CustomerProfile,
		OwnerStaffID:       c.OwnerStaffID,
		OwnerStaffName:     c.OwnerStaffName,
		Status:             c.Status,
		EffectiveStatus:    c.EffectiveStatus(),
		LastActivityAt:     c.LastActivityAt,
		LastMessagePreview: c.LastMessagePreview,
		UnreadForStaff:     c.UnreadForStaff,
		CustomerTyping:     c.CustomerTyping,
		StaffTyping:        c.StaffTyping,
		Rating:             c.Rating,
		Tags:               c.Tags,
		StaffNotes:         c.StaffNotes,
		MessageCount:       len(c.Messages),
		CreatedAt:          c.CreatedAt,
	}
}

// ParseCloseStatus validates the target status of a close request.
// An empty value defaults to closed.
func ParseCloseStatus(s string) (ConversationStatus, error) {
	switch ConversationStatus(s) {
	case "":
		return StatusClosed, nil
	case StatusClosed, StatusResolved:
		return ConversationStatus(s), nil
	default:
		return "", ErrInvalidStatus
	}
}

// ParseListStatus validates a status filter for list views
func ParseListStatus(s string) (ConversationStatus, error) {
	switch ConversationStatus(s) {
	case "", StatusActive, StatusWaiting, StatusClosed, StatusResolved:
		return ConversationStatus(s), nil
	default:
		return "", ErrInvalidStatus
	}
}

// ConversationFilter narrows list, count and sum queries
type ConversationFilter struct {
	Statuses     []ConversationStatus
	Owned        *bool
	CreatedSince *time.Time
	Limit        int
}

// FilterForStatus maps a reporting status (including waiting) onto a
// stored-status filter
func FilterForStatus(status ConversationStatus) ConversationFilter {
	switch status {
	case "":
		return ConversationFilter{}
	case StatusWaiting:
		owned := false
		return ConversationFilter{Statuses: []ConversationStatus{StatusActive}, Owned: &owned}
	default:
		return ConversationFilter{Statuses: []ConversationStatus{status}}
	}
}

// Matches reports whether the conversation satisfies the filter
func (f ConversationFilter) Matches(c *Conversation) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if c.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Owned != nil && c.IsOwned() != *f.Owned {
		return false
	}
	if f.CreatedSince != nil && c.CreatedAt.Before(*f.CreatedSince) {
		return false
	}
	return true
}

// Stats is the dashboard rollup pushed to staff
type Stats struct {
	Active   int64 `json:"active"`
	Waiting  int64 `json:"waiting"`
	TodayNew int64 `json:"todayNew"`
	Unread   int64 `json:"unread"`
}

// Role values issued by the auth collaborator
const (
	RoleAdmin    = "admin"
	RoleStaff    = "staff"
	RoleCustomer = "customer"
)

// Identity is what the auth collaborator resolves a bearer credential to
type Identity struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Role   string `json:"role"`
}

// IsStaff reports whether the identity may act as support staff
func (i *Identity) IsStaff() bool {
	return i != nil && (i.Role == RoleStaff || i.Role == RoleAdmin)
}

// IsAdmin reports whether the identity may perform administrative actions
func (i *Identity) IsAdmin() bool {
	return i != nil && i.Role == RoleAdmin
}

// Participant is the acting side of a live connection
type Participant struct {
	Kind ParticipantKind
	// ID is the session id for customers and the staff identity for staff
	ID     string
	Name   string
	UserID *string
	Role   string
}

// ChatEventLog is the audit trail entry for one inbound realtime event
type ChatEventLog struct {
	ID             int64           `json:"id" db:"id"`
	ConversationID string          `json:"conversation_id" db:"conversation_id"`
	SessionID      string          `json:"session_id" db:"session_id"`
	ActorKind      ParticipantKind `json:"actor_kind" db:"actor_kind"`
	ActorID        string          `json:"actor_id" db:"actor_id"`
	EventType      string          `json:"event_type" db:"event_type"`
	PayloadJSON    json.RawMessage `json:"payload_json" db:"payload_json"`
	Status         string          `json:"status" db:"status"`
	ErrorLog       *string         `json:"error_log,omitempty" db:"error_log"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// ChatEventLog status constants
const (
	EventStatusProcessed = "processed"
	EventStatusFailed    = "failed"
	EventStatusRejected  = "rejected"
)

// StaffAlert is sent over the human-facing channel when a customer is
// waiting and nobody from staff is online
type StaffAlert struct {
	ConversationID string    `json:"conversationId"`
	SessionID      string    `json:"sessionId"`
	CustomerName   string    `json:"customerName"`
	Preview        string    `json:"preview"`
	CreatedAt      time.Time `json:"createdAt"`
}
