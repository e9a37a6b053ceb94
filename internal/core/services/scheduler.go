package services

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"
)

// DelayPolicy picks the delay of each automated reply uniformly in [Min, Max]
type DelayPolicy struct {
	Min time.Duration
	Max time.Duration
}

// Next returns the delay for one reply
func (p DelayPolicy) Next() time.Duration {
	if p.Max <= p.Min {
		return p.Min
	}
	return p.Min + rand.N(p.Max-p.Min+1)
}

// ReplyTask runs when its delay elapses. ctx is cancelled if the task was
// invalidated before or while it runs.
type ReplyTask func(ctx context.Context)

// AutoReplyScheduler holds the pending automated replies of every
// conversation. Each pending reply owns a cancellation token registered
// under its conversation so a takeover can invalidate all of them at once.
type AutoReplyScheduler struct {
	delay  DelayPolicy
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]map[uint64]context.CancelFunc
	nextID  uint64
	closed  bool
	wg      sync.WaitGroup
}

// NewAutoReplyScheduler creates a scheduler using delay for every task
func NewAutoReplyScheduler(delay DelayPolicy, logger *slog.Logger) *AutoReplyScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AutoReplyScheduler{
		delay:   delay,
		logger:  logger.With("component", "autoreply_scheduler"),
		pending: make(map[string]map[uint64]context.CancelFunc),
	}
}

// Schedule registers task to run after the policy delay. Returns false when
// the scheduler is shut down.
func (s *AutoReplyScheduler) Schedule(conversationID string, task ReplyTask) bool {
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return false
	}
	s.nextID++
	id := s.nextID
	if s.pending[conversationID] == nil {
		s.pending[conversationID] = make(map[uint64]context.CancelFunc)
	}
	s.pending[conversationID][id] = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	delay := s.delay.Next()
	go func() {
		defer s.wg.Done()
		defer s.forget(conversationID, id)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("PANIC recovered in automated reply",
					"panic", r,
					"conversation_id", conversationID,
				)
			}
		}()

		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			s.logger.Debug("automated reply cancelled before firing", "conversation_id", conversationID)
			return
		case <-timer.C:
		}
		task(ctx)
	}()
	return true
}

// Cancel invalidates every pending reply of a conversation and returns how
// many were cancelled. Tasks must check ctx under the same per-conversation
// lock the caller holds while cancelling.
func (s *AutoReplyScheduler) Cancel(conversationID string) int {
	s.mu.Lock()
	tasks := s.pending[conversationID]
	delete(s.pending, conversationID)
	s.mu.Unlock()

	for _, cancel := range tasks {
		cancel()
	}
	if len(tasks) > 0 {
		s.logger.Debug("pending automated replies cancelled",
			"conversation_id", conversationID,
			"count", len(tasks),
		)
	}
	return len(tasks)
}

// Pending returns the number of replies waiting for a conversation
func (s *AutoReplyScheduler) Pending(conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending[conversationID])
}

// Shutdown cancels everything and waits for running tasks to return
func (s *AutoReplyScheduler) Shutdown() {
	s.mu.Lock()
	s.closed = true
	all := s.pending
	s.pending = make(map[string]map[uint64]context.CancelFunc)
	s.mu.Unlock()

	for _, tasks := range all {
		for _, cancel := range tasks {
			cancel()
		}
	}
	s.wg.Wait()
}

func (s *AutoReplyScheduler) forget(conversationID string, id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks := s.pending[conversationID]
	if tasks == nil {
		return
	}
	delete(tasks, id)
	if len(tasks) == 0 {
		delete(s.pending, conversationID)
	}
}
