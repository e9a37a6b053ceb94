package services

import (
	"context"
	"fmt"
	"time"

	"github.com/roykane/flower-shop-sub000/internal/core/domain"
	"github.com/roykane/flower-shop-sub000/internal/core/ports"
)

// StatsAggregator computes the dashboard rollup from the store
type StatsAggregator struct {
	conversations ports.ConversationRepository
	location      *time.Location
	now           func() time.Time
}

// NewStatsAggregator creates an aggregator whose "today" follows loc
func NewStatsAggregator(conversations ports.ConversationRepository, loc *time.Location) *StatsAggregator {
	if loc == nil {
		loc = time.UTC
	}
	return &StatsAggregator{
		conversations: conversations,
		location:      loc,
		now:           time.Now,
	}
}

// Compute returns active, waiting, created today and unread totals. Waiting
// is the unowned subset of active; unread covers every active conversation.
func (s *StatsAggregator) Compute(ctx context.Context) (domain.Stats, error) {
	unowned := false
	active := []domain.ConversationStatus{domain.StatusActive}
	since := StartOfDay(s.now(), s.location)

	var stats domain.Stats
	var err error

	if stats.Active, err = s.conversations.Count(ctx, domain.ConversationFilter{Statuses: active}); err != nil {
		return domain.Stats{}, fmt.Errorf("count active: %w", err)
	}
	if stats.Waiting, err = s.conversations.Count(ctx, domain.ConversationFilter{Statuses: active, Owned: &unowned}); err != nil {
		return domain.Stats{}, fmt.Errorf("count waiting: %w", err)
	}
	if stats.TodayNew, err = s.conversations.Count(ctx, domain.ConversationFilter{CreatedSince: &since}); err != nil {
		return domain.Stats{}, fmt.Errorf("count today: %w", err)
	}
	if stats.Unread, err = s.conversations.SumUnread(ctx, domain.ConversationFilter{Statuses: active}); err != nil {
		return domain.Stats{}, fmt.Errorf("sum unread: %w", err)
	}
	return stats, nil
}

// StartOfDay returns midnight of t's calendar day in loc
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
