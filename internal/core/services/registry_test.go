package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roykane/flower-shop-sub000/internal/core/domain"
)

func TestRegistry_KeyspacesAreSeparate(t *testing.T) {
	reg := NewConnectionRegistry(discardLogger())
	cust := newFakeConn()
	st := newFakeConn()

	reg.Register(domain.ParticipantCustomer, "same-id", cust)
	reg.Register(domain.ParticipantStaff, "same-id", st)

	got, ok := reg.Resolve(domain.ParticipantCustomer, "same-id")
	require.True(t, ok)
	assert.Equal(t, cust.ID(), got.ID())

	got, ok = reg.Resolve(domain.ParticipantStaff, "same-id")
	require.True(t, ok)
	assert.Equal(t, st.ID(), got.ID())

	assert.Equal(t, 1, reg.CustomerCount())
	assert.Equal(t, 1, reg.StaffCount())
}

func TestRegistry_ReplaceAndStaleUnregister(t *testing.T) {
	reg := NewConnectionRegistry(discardLogger())
	old := newFakeConn()
	fresh := newFakeConn()

	reg.Register(domain.ParticipantCustomer, "sess-1", old)
	reg.Register(domain.ParticipantCustomer, "sess-1", fresh)

	assert.False(t, reg.Unregister(domain.ParticipantCustomer, "sess-1", old))
	assert.True(t, reg.SendTo(domain.ParticipantCustomer, "sess-1", domain.NewEvent("ping", nil)))
	assert.Equal(t, 1, fresh.count("ping"))
	assert.Zero(t, old.count("ping"))

	assert.True(t, reg.Unregister(domain.ParticipantCustomer, "sess-1", fresh))
	assert.False(t, reg.SendTo(domain.ParticipantCustomer, "sess-1", domain.NewEvent("ping", nil)))
}

func TestRegistry_StaffPresenceTransitions(t *testing.T) {
	reg := NewConnectionRegistry(discardLogger())
	cust := newFakeConn()
	reg.Register(domain.ParticipantCustomer, "sess-1", cust)

	lan := newFakeConn()
	hoa := newFakeConn()
	reg.Register(domain.ParticipantStaff, "staff-1", lan)
	reg.Register(domain.ParticipantStaff, "staff-2", hoa)

	// Only the 0 -> 1 transition is announced
	require.Equal(t, 1, cust.count(domain.EventAgentOnlineStatus))
	assert.True(t, cust.last(t, domain.EventAgentOnlineStatus).Data.(domain.OnlinePayload).Online)

	reg.Unregister(domain.ParticipantStaff, "staff-1", lan)
	assert.Equal(t, 1, cust.count(domain.EventAgentOnlineStatus))
	assert.True(t, reg.StaffOnline())

	reg.Unregister(domain.ParticipantStaff, "staff-2", hoa)
	require.Equal(t, 2, cust.count(domain.EventAgentOnlineStatus))
	assert.False(t, cust.last(t, domain.EventAgentOnlineStatus).Data.(domain.OnlinePayload).Online)
	assert.False(t, reg.StaffOnline())
}

func TestRegistry_BroadcastSkipsSlowRecipients(t *testing.T) {
	reg := NewConnectionRegistry(discardLogger())
	ok := newFakeConn()
	slow := newFakeConn()
	slow.full = true

	reg.Register(domain.ParticipantStaff, "staff-1", ok)
	reg.Register(domain.ParticipantStaff, "staff-2", slow)

	assert.NotPanics(t, func() {
		reg.BroadcastStaff(domain.NewEvent(domain.EventStats, domain.Stats{}))
	})
	assert.Equal(t, 1, ok.count(domain.EventStats))
	assert.Zero(t, slow.count(domain.EventStats))
}

func TestRegistry_CloseAll(t *testing.T) {
	reg := NewConnectionRegistry(discardLogger())
	a := newFakeConn()
	b := newFakeConn()
	reg.Register(domain.ParticipantCustomer, "sess-1", a)
	reg.Register(domain.ParticipantStaff, "staff-1", b)

	reg.CloseAll()

	assert.True(t, a.isClosed())
	assert.True(t, b.isClosed())
}
