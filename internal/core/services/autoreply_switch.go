package services

import (
	"log/slog"
	"sync"
	"time"
)

// AutoReplySwitch is the kill switch for automated replies. While paused,
// scheduled replies are suppressed at fire time.
type AutoReplySwitch struct {
	mu       sync.RWMutex
	paused   bool
	pausedBy string
	pausedAt time.Time
	reason   string
}

// SwitchStatus is the externally visible state of the kill switch
type SwitchStatus struct {
	Enabled  bool       `json:"enabled"`
	Reason   string     `json:"reason,omitempty"`
	PausedBy string     `json:"pausedBy,omitempty"`
	PausedAt *time.Time `json:"pausedAt,omitempty"`
}

// NewAutoReplySwitch creates a switch in the given initial state
func NewAutoReplySwitch(enabled bool) *AutoReplySwitch {
	return &AutoReplySwitch{paused: !enabled}
}

// Enabled returns whether automated replies may be sent
func (s *AutoReplySwitch) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.paused
}

// Pause stops automated replies until Resume is called
func (s *AutoReplySwitch) Pause(reason, pausedBy string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.paused {
		return
	}
	s.paused = true
	s.reason = reason
	s.pausedBy = pausedBy
	s.pausedAt = time.Now()

	slog.Warn("Automated replies paused",
		"reason", reason,
		"paused_by", pausedBy,
	)
}

// Resume re-enables automated replies
func (s *AutoReplySwitch) Resume(resumedBy string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.paused {
		return
	}
	duration := time.Since(s.pausedAt)
	s.paused = false
	s.reason = ""
	s.pausedBy = ""

	slog.Info("Automated replies resumed",
		"resumed_by", resumedBy,
		"paused_for", duration,
	)
}

// Status returns a snapshot of the switch
func (s *AutoReplySwitch) Status() SwitchStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := SwitchStatus{Enabled: !s.paused}
	if s.paused {
		at := s.pausedAt
		status.Reason = s.reason
		status.PausedBy = s.pausedBy
		status.PausedAt = &at
	}
	return status
}
