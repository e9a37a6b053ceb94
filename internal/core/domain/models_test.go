package domain

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage(t *testing.T) {
	now := time.Now()

	msg, err := NewMessage(SenderCustomer, "sess-1", "Khách", "  Shop ơi  ", now)
	require.NoError(t, err)
	assert.Equal(t, "Shop ơi", msg.Content)
	assert.False(t, msg.IsRead)
	assert.Len(t, msg.ID, 26)
	assert.Equal(t, now, msg.CreatedAt)

	staff, err := NewMessage(SenderStaff, "staff-1", "Lan", "Dạ", now)
	require.NoError(t, err)
	assert.True(t, staff.IsRead)
	assert.NotEqual(t, msg.ID, staff.ID)

	_, err = NewMessage(SenderCustomer, "sess-1", "Khách", " \n\t ", now)
	assert.ErrorIs(t, err, ErrEmptyContent)

	_, err = NewMessage(SenderCustomer, "sess-1", "Khách", strings.Repeat("ơ", MaxContentLength), now)
	assert.NoError(t, err, "limit counts runes, not bytes")

	_, err = NewMessage(SenderCustomer, "sess-1", "Khách", strings.Repeat("a", MaxContentLength+1), now)
	assert.ErrorIs(t, err, ErrContentTooLong)
}

func TestValidateContent(t *testing.T) {
	content, err := ValidateContent("  hoa hồng \n")
	require.NoError(t, err)
	assert.Equal(t, "hoa hồng", content)

	_, err = ValidateContent("")
	assert.ErrorIs(t, err, ErrEmptyContent)

	_, err = ValidateContent(strings.Repeat("a", MaxContentLength+1))
	assert.ErrorIs(t, err, ErrContentTooLong)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hoa", Truncate("hoa", 5))
	assert.Equal(t, "hoa h...", Truncate("hoa hồng", 5))
	assert.Equal(t, "Điện...", Truncate("Điện hoa", 4))
}

func TestNewRating(t *testing.T) {
	now := time.Now()

	for _, score := range []int{0, 6, -1} {
		_, err := NewRating(score, "", 0, now)
		assert.ErrorIs(t, err, ErrInvalidRating, "score %d", score)
	}

	r, err := NewRating(4, "  giao nhanh ", 2, now)
	require.NoError(t, err)
	assert.Equal(t, "giao nhanh", r.Feedback)
	assert.Equal(t, 2, r.Cycle)

	_, err = NewRating(5, strings.Repeat("x", MaxFeedbackLength+1), 0, now)
	assert.ErrorIs(t, err, ErrContentTooLong)
}

func newTestConversation(t *testing.T) *Conversation {
	t.Helper()
	now := time.Now()
	greeting, err := NewMessage(SenderAutomated, "", AutomatedDisplayName, "Xin chào", now)
	require.NoError(t, err)
	return NewConversation("sess-12345678901", nil, CustomerProfile{}, greeting, now)
}

func TestConversation_EffectiveStatus(t *testing.T) {
	c := newTestConversation(t)
	assert.Equal(t, StatusActive, c.Status)
	assert.Equal(t, StatusWaiting, c.EffectiveStatus())

	staffID := "staff-1"
	c.OwnerStaffID = &staffID
	assert.Equal(t, StatusActive, c.EffectiveStatus())

	empty := ""
	c.OwnerStaffID = &empty
	assert.False(t, c.IsOwned())

	c.Status = StatusResolved
	assert.Equal(t, StatusResolved, c.EffectiveStatus())
	assert.True(t, c.Status.IsTerminal())
}

func TestConversation_CanRate(t *testing.T) {
	c := newTestConversation(t)
	assert.NoError(t, c.CanRate())

	c.Rating = &Rating{Score: 5, Cycle: 0}
	assert.ErrorIs(t, c.CanRate(), ErrAlreadyRated)

	c.Cycle = 1
	assert.NoError(t, c.CanRate())
}

func TestConversation_CustomerDisplayName(t *testing.T) {
	c := newTestConversation(t)
	assert.Equal(t, "Khách sess-123...", c.CustomerDisplayName())

	c.CustomerProfile = c.CustomerProfile.Merge(CustomerProfile{Name: "Chị Mai"})
	assert.Equal(t, "Chị Mai", c.CustomerDisplayName())
}

func TestCustomerProfile_Merge(t *testing.T) {
	p := CustomerProfile{Name: "Mai", Phone: "0901"}
	merged := p.Merge(CustomerProfile{Email: "mai@example.vn", Phone: ""})

	assert.Equal(t, CustomerProfile{Name: "Mai", Phone: "0901", Email: "mai@example.vn"}, merged)
	assert.True(t, CustomerProfile{}.IsEmpty())
	assert.False(t, merged.IsEmpty())
}

func TestConversation_CloneIsDeep(t *testing.T) {
	c := newTestConversation(t)
	staffID := "staff-1"
	c.OwnerStaffID = &staffID
	c.Tags = []string{"vip"}
	c.Rating = &Rating{Score: 5}

	clone := c.Clone()
	clone.Messages[0].Content = "changed"
	clone.Tags[0] = "changed"
	*clone.OwnerStaffID = "changed"
	clone.Rating.Score = 1

	assert.Equal(t, "Xin chào", c.Messages[0].Content)
	assert.Equal(t, "vip", c.Tags[0])
	assert.Equal(t, "staff-1", *c.OwnerStaffID)
	assert.Equal(t, 5, c.Rating.Score)

	var nilConv *Conversation
	assert.Nil(t, nilConv.Clone())
}

func TestConversation_Summary(t *testing.T) {
	c := newTestConversation(t)
	s := c.Summary()

	assert.Equal(t, c.ID, s.ID)
	assert.Equal(t, StatusWaiting, s.EffectiveStatus)
	assert.Equal(t, 1, s.MessageCount)
	require.NotNil(t, s.LastMessagePreview)
	assert.Equal(t, SenderAutomated, s.LastMessagePreview.Sender)
}

func TestParseCloseStatus(t *testing.T) {
	s, err := ParseCloseStatus("")
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, s)

	s, err = ParseCloseStatus("resolved")
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, s)

	for _, bad := range []string{"active", "waiting", "deleted"} {
		_, err = ParseCloseStatus(bad)
		assert.ErrorIs(t, err, ErrInvalidStatus, bad)
	}
}

func TestParseListStatus(t *testing.T) {
	for _, ok := range []string{"", "active", "waiting", "closed", "resolved"} {
		_, err := ParseListStatus(ok)
		assert.NoError(t, err, ok)
	}
	_, err := ParseListStatus("archived")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestFilterForStatus(t *testing.T) {
	waiting := newTestConversation(t)

	owned := newTestConversation(t)
	staffID := "staff-1"
	owned.OwnerStaffID = &staffID

	closed := newTestConversation(t)
	closed.Status = StatusClosed

	tests := []struct {
		status ConversationStatus
		want   map[*Conversation]bool
	}{
		{status: "", want: map[*Conversation]bool{waiting: true, owned: true, closed: true}},
		{status: StatusWaiting, want: map[*Conversation]bool{waiting: true, owned: false, closed: false}},
		{status: StatusActive, want: map[*Conversation]bool{waiting: true, owned: true, closed: false}},
		{status: StatusClosed, want: map[*Conversation]bool{waiting: false, owned: false, closed: true}},
	}

	for _, tt := range tests {
		filter := FilterForStatus(tt.status)
		for conv, want := range tt.want {
			assert.Equal(t, want, filter.Matches(conv), "status %q conversation %s", tt.status, conv.EffectiveStatus())
		}
	}
}

func TestConversationFilter_CreatedSince(t *testing.T) {
	c := newTestConversation(t)
	before := c.CreatedAt.Add(-time.Minute)
	after := c.CreatedAt.Add(time.Minute)

	assert.True(t, ConversationFilter{CreatedSince: &before}.Matches(c))
	assert.True(t, ConversationFilter{CreatedSince: &c.CreatedAt}.Matches(c))
	assert.False(t, ConversationFilter{CreatedSince: &after}.Matches(c))
}

func TestIdentityRoles(t *testing.T) {
	var nobody *Identity
	assert.False(t, nobody.IsStaff())
	assert.False(t, nobody.IsAdmin())

	assert.True(t, (&Identity{Role: RoleAdmin}).IsStaff())
	assert.True(t, (&Identity{Role: RoleAdmin}).IsAdmin())
	assert.True(t, (&Identity{Role: RoleStaff}).IsStaff())
	assert.False(t, (&Identity{Role: RoleStaff}).IsAdmin())
	assert.False(t, (&Identity{Role: RoleCustomer}).IsStaff())
}

func TestIsClientError(t *testing.T) {
	assert.True(t, IsClientError(ErrEmptyContent))
	assert.True(t, IsClientError(fmt.Errorf("wrapped: %w", ErrAlreadyRated)))
	assert.True(t, IsClientError(ErrRateLimited))
	assert.False(t, IsClientError(ErrOwnershipChanged))
	assert.False(t, IsClientError(fmt.Errorf("mongo: %s", "timeout")))
}
