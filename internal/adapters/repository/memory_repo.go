package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/roykane/flower-shop-sub000/internal/core/domain"
	"github.com/roykane/flower-shop-sub000/internal/core/ports"
)

// Ensure MemoryRepository implements ConversationRepository
var _ ports.ConversationRepository = (*MemoryRepository)(nil)

// MemoryRepository is an in-process conversation store used for local
// development (STORE_DRIVER=memory) and tests. Records are cloned on the way
// in and out so callers never share state with the store.
type MemoryRepository struct {
	mu        sync.Mutex
	byID      map[string]*domain.Conversation
	bySession map[string]string
}

// NewMemoryRepository creates an empty in-memory store
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:      make(map[string]*domain.Conversation),
		bySession: make(map[string]string),
	}
}

func (r *MemoryRepository) GetOrCreateBySession(_ context.Context, sessionID string, seed *domain.Conversation) (*domain.Conversation, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.bySession[sessionID]; ok {
		return r.byID[id].Clone(), false, nil
	}

	conv := seed.Clone()
	conv.SessionID = sessionID
	r.byID[conv.ID] = conv
	r.bySession[sessionID] = conv.ID
	return conv.Clone(), true, nil
}

func (r *MemoryRepository) GetBySession(_ context.Context, sessionID string) (*domain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.bySession[sessionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r.byID[id].Clone(), nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*domain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return conv.Clone(), nil
}

// update runs fn against the stored record under the store lock
func (r *MemoryRepository) update(id string, fn func(c *domain.Conversation) error) (*domain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if err := fn(conv); err != nil {
		return nil, err
	}
	return conv.Clone(), nil
}

func (r *MemoryRepository) AppendMessage(_ context.Context, id string, msg domain.Message, opts ports.AppendOptions) (*domain.Conversation, error) {
	return r.update(id, func(c *domain.Conversation) error {
		if opts.Reopen && c.Status.IsTerminal() {
			reopen(c)
		}
		if opts.Profile != nil {
			c.CustomerProfile = c.CustomerProfile.Merge(*opts.Profile)
		}
		if opts.CountUnread && msg.Sender == domain.SenderCustomer {
			c.UnreadForStaff++
		}
		pushMessage(c, msg)
		return nil
	})
}

func (r *MemoryRepository) AppendIfUnowned(_ context.Context, id string, msg domain.Message) (*domain.Conversation, error) {
	return r.update(id, func(c *domain.Conversation) error {
		if c.IsOwned() {
			return domain.ErrOwnershipChanged
		}
		pushMessage(c, msg)
		return nil
	})
}

func (r *MemoryRepository) AssignOwner(_ context.Context, id, staffID, staffName string, at time.Time) (*domain.Conversation, error) {
	return r.update(id, func(c *domain.Conversation) error {
		if c.Status.IsTerminal() {
			reopen(c)
		}
		c.OwnerStaffID = &staffID
		c.OwnerStaffName = &staffName
		c.TakenOverAt = &at
		c.Status = domain.StatusActive
		c.UpdatedAt = at
		return nil
	})
}

func (r *MemoryRepository) ReleaseOwner(_ context.Context, id string) (*domain.Conversation, error) {
	return r.update(id, func(c *domain.Conversation) error {
		c.OwnerStaffID = nil
		c.OwnerStaffName = nil
		c.TakenOverAt = nil
		c.StaffTyping = false
		c.UpdatedAt = time.Now()
		return nil
	})
}

func (r *MemoryRepository) SetStatus(_ context.Context, id string, status domain.ConversationStatus, at time.Time) (*domain.Conversation, error) {
	return r.update(id, func(c *domain.Conversation) error {
		c.Status = status
		c.OwnerStaffID = nil
		c.OwnerStaffName = nil
		c.TakenOverAt = nil
		c.CustomerTyping = false
		c.StaffTyping = false
		c.ClosedAt = &at
		c.UpdatedAt = at
		return nil
	})
}

func (r *MemoryRepository) MarkRead(_ context.Context, id string, at time.Time) (*domain.Conversation, error) {
	return r.update(id, func(c *domain.Conversation) error {
		for i := range c.Messages {
			m := &c.Messages[i]
			if m.Sender == domain.SenderCustomer && !m.IsRead {
				readAt := at
				m.IsRead = true
				m.ReadAt = &readAt
			}
		}
		c.UnreadForStaff = 0
		c.UpdatedAt = at
		return nil
	})
}

func (r *MemoryRepository) SetTyping(_ context.Context, id string, kind domain.ParticipantKind, typing bool) error {
	_, err := r.update(id, func(c *domain.Conversation) error {
		if kind == domain.ParticipantStaff {
			c.StaffTyping = typing
		} else {
			c.CustomerTyping = typing
		}
		return nil
	})
	return err
}

func (r *MemoryRepository) SetRating(_ context.Context, id string, rating domain.Rating) (*domain.Conversation, error) {
	return r.update(id, func(c *domain.Conversation) error {
		if err := c.CanRate(); err != nil {
			return err
		}
		rating.Cycle = c.Cycle
		c.Rating = &rating
		c.UpdatedAt = rating.RatedAt
		return nil
	})
}

func (r *MemoryRepository) Annotate(_ context.Context, id string, tags []string, notes string) (*domain.Conversation, error) {
	return r.update(id, func(c *domain.Conversation) error {
		c.Tags = append([]string{}, tags...)
		c.StaffNotes = notes
		c.UpdatedAt = time.Now()
		return nil
	})
}

func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	delete(r.bySession, conv.SessionID)
	delete(r.byID, id)
	return nil
}

func (r *MemoryRepository) List(_ context.Context, filter domain.ConversationFilter) ([]*domain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*domain.Conversation, 0, len(r.byID))
	for _, c := range r.byID {
		if filter.Matches(c) {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *MemoryRepository) Count(_ context.Context, filter domain.ConversationFilter) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, c := range r.byID {
		if filter.Matches(c) {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) SumUnread(_ context.Context, filter domain.ConversationFilter) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var sum int64
	for _, c := range r.byID {
		if filter.Matches(c) {
			sum += int64(c.UnreadForStaff)
		}
	}
	return sum, nil
}

// pushMessage appends msg keeping createdAt non-decreasing within the conversation
func pushMessage(c *domain.Conversation, msg domain.Message) {
	if n := len(c.Messages); n > 0 && msg.CreatedAt.Before(c.Messages[n-1].CreatedAt) {
		msg.CreatedAt = c.Messages[n-1].CreatedAt
	}
	c.Messages = append(c.Messages, msg)
	c.LastActivityAt = msg.CreatedAt
	c.LastMessagePreview = domain.PreviewOf(msg)
	c.UpdatedAt = msg.CreatedAt
}

// reopen starts a new cycle on a closed or resolved conversation
func reopen(c *domain.Conversation) {
	c.Status = domain.StatusActive
	c.OwnerStaffID = nil
	c.OwnerStaffName = nil
	c.TakenOverAt = nil
	c.ClosedAt = nil
	c.Cycle++
}
