package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roykane/flower-shop-sub000/internal/adapters/repository"
	"github.com/roykane/flower-shop-sub000/internal/core/domain"
	"github.com/roykane/flower-shop-sub000/internal/core/ports"
)

var ict = time.FixedZone("ICT", 7*3600)

func seedConversation(t *testing.T, store *repository.MemoryRepository, sessionID string, createdAt time.Time) *domain.Conversation {
	t.Helper()
	greeting, err := domain.NewMessage(domain.SenderAutomated, "", domain.AutomatedDisplayName, GreetingText, createdAt)
	require.NoError(t, err)
	conv, created, err := store.GetOrCreateBySession(context.Background(), sessionID,
		domain.NewConversation(sessionID, nil, domain.CustomerProfile{}, greeting, createdAt))
	require.NoError(t, err)
	require.True(t, created)
	return conv
}

func TestStartOfDay_UsesLocation(t *testing.T) {
	// 18:00 UTC on May 9 is already May 10 in Vietnam
	now := time.Date(2024, 5, 9, 18, 0, 0, 0, time.UTC)

	assert.True(t, StartOfDay(now, ict).Equal(time.Date(2024, 5, 10, 0, 0, 0, 0, ict)))
	assert.True(t, StartOfDay(now, time.UTC).Equal(time.Date(2024, 5, 9, 0, 0, 0, 0, time.UTC)))
}

func TestStatsAggregator_TodayFollowsConfiguredDay(t *testing.T) {
	store := repository.NewMemoryRepository()
	seedConversation(t, store, "late-yesterday", time.Date(2024, 5, 9, 23, 30, 0, 0, ict))
	seedConversation(t, store, "early-today", time.Date(2024, 5, 10, 0, 30, 0, 0, ict))

	now := func() time.Time { return time.Date(2024, 5, 10, 1, 0, 0, 0, ict) }

	local := NewStatsAggregator(store, ict)
	local.now = now
	stats, err := local.Compute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TodayNew)

	utc := NewStatsAggregator(store, time.UTC)
	utc.now = now
	stats, err = utc.Compute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TodayNew)
}

func TestStatsAggregator_WaitingIsSubsetOfActive(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryRepository()
	now := time.Now()

	owned := seedConversation(t, store, "owned", now)
	seedConversation(t, store, "waiting", now)
	closed := seedConversation(t, store, "closed", now)

	_, err := store.AssignOwner(ctx, owned.ID, "staff-1", "Lan", now)
	require.NoError(t, err)

	msg, err := domain.NewMessage(domain.SenderCustomer, "closed", "Khách", "hello", now)
	require.NoError(t, err)
	_, err = store.AppendMessage(ctx, closed.ID, msg, ports.AppendOptions{CountUnread: true})
	require.NoError(t, err)
	_, err = store.SetStatus(ctx, closed.ID, domain.StatusClosed, now)
	require.NoError(t, err)

	stats, err := NewStatsAggregator(store, time.UTC).Compute(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Active)
	assert.Equal(t, int64(1), stats.Waiting)
	assert.Equal(t, int64(3), stats.TodayNew)
	// Unread of closed conversations is not counted
	assert.Equal(t, int64(0), stats.Unread)
}
