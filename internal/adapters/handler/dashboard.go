package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/roykane/flower-shop-sub000/internal/core/domain"
	"github.com/roykane/flower-shop-sub000/internal/core/services"
)

// AuditReader lists the recorded inbound events of a conversation
type AuditReader interface {
	ListByConversation(ctx context.Context, conversationID string, limit int) ([]*domain.ChatEventLog, error)
}

// DashboardHandler handles staff dashboard API requests
type DashboardHandler struct {
	router            *services.Router
	audit             AuditReader
	watchdogThreshold float64
	version           string
	startedAt         time.Time
}

// NewDashboardHandler creates a new dashboard handler instance. audit may be
// nil when the audit log is disabled.
func NewDashboardHandler(router *services.Router, audit AuditReader, watchdogThreshold float64, version string) *DashboardHandler {
	return &DashboardHandler{
		router:            router,
		audit:             audit,
		watchdogThreshold: watchdogThreshold,
		version:           version,
		startedAt:         time.Now(),
	}
}

// ============================================================================
// Conversations
// ============================================================================

// GetStats returns the dashboard rollup
// GET /api/chat/stats
func (h *DashboardHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.router.Stats(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, stats)
}

// ListConversations returns list-view snapshots
// GET /api/chat/conversations?status=waiting&limit=50
func (h *DashboardHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	summaries, err := h.router.ListConversations(r.Context(), status, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, domain.ConversationListPayload{
		Conversations: summaries,
		Total:         len(summaries),
	})
}

// GetConversation returns one conversation with its full history
// GET /api/chat/conversations/{id}
func (h *DashboardHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := h.router.GetConversation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, conv)
}

// GetConversationEvents returns the audit trail of a conversation
// GET /api/chat/conversations/{id}/events?limit=100
func (h *DashboardHandler) GetConversationEvents(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusServiceUnavailable, "Audit log disabled")
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	logs, err := h.audit.ListByConversation(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		slog.Error("Failed to list chat event logs", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load events")
		return
	}
	writeSuccess(w, logs)
}

// DeleteConversation hard-deletes a conversation. Admin only.
// DELETE /api/chat/conversations/{id}
func (h *DashboardHandler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	identity := IdentityFrom(r.Context())

	deletedBy := ""
	if identity != nil {
		deletedBy = identity.UserID
	}

	if err := h.router.DeleteConversation(r.Context(), id, deletedBy); err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, map[string]string{"id": id, "status": "deleted"})
}

// ============================================================================
// Automated reply switch
// ============================================================================

// AutoReplyRequest is the body of PUT /api/chat/autoreply
type AutoReplyRequest struct {
	Enabled bool   `json:"enabled"`
	Reason  string `json:"reason"`
}

// GetAutoReply returns the kill switch state
// GET /api/chat/autoreply
func (h *DashboardHandler) GetAutoReply(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, h.router.AutoReplySwitch().Status())
}

// SetAutoReply pauses or resumes all automated replies
// PUT /api/chat/autoreply
func (h *DashboardHandler) SetAutoReply(w http.ResponseWriter, r *http.Request) {
	var req AutoReplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	by := ""
	if identity := IdentityFrom(r.Context()); identity != nil {
		by = identity.UserID
	}

	sw := h.router.AutoReplySwitch()
	if req.Enabled {
		sw.Resume(by)
	} else {
		sw.Pause(req.Reason, by)
	}
	writeSuccess(w, sw.Status())
}

// ============================================================================
// System Health & Metrics
// ============================================================================

// SystemMetricsResponse represents system health data
type SystemMetricsResponse struct {
	CPUPercent        float64 `json:"cpu_percent"`
	RAMUsedGB         float64 `json:"ram_used_gb"`
	RAMTotalGB        float64 `json:"ram_total_gb"`
	RAMPercent        float64 `json:"ram_percent"`
	DiskUsedGB        float64 `json:"disk_used_gb"`
	DiskTotalGB       float64 `json:"disk_total_gb"`
	DiskPercent       float64 `json:"disk_percent"`
	GoroutinesCount   int     `json:"goroutines_count"`
	WatchdogActive    bool    `json:"watchdog_active"`
	WatchdogThreshold float64 `json:"watchdog_threshold"`
	DiskWarningLevel  string  `json:"disk_warning_level"` // "safe" | "warning" | "critical"
}

// GetSystemMetrics returns current system health metrics
// GET /api/system/metrics
func (h *DashboardHandler) GetSystemMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// CPU usage (average over 1 second)
	cpuPercents, err := cpu.PercentWithContext(ctx, time.Second, false)
	var cpuPercent float64
	if err == nil && len(cpuPercents) > 0 {
		cpuPercent = cpuPercents[0]
	}

	memStat, err := mem.VirtualMemoryWithContext(ctx)
	var ramUsedGB, ramTotalGB, ramPercent float64
	if err == nil {
		ramUsedGB = float64(memStat.Used) / 1024 / 1024 / 1024
		ramTotalGB = float64(memStat.Total) / 1024 / 1024 / 1024
		ramPercent = memStat.UsedPercent
	}

	diskStat, err := disk.UsageWithContext(ctx, ".")
	var diskUsedGB, diskTotalGB, diskPercent float64
	if err == nil {
		diskUsedGB = float64(diskStat.Used) / 1024 / 1024 / 1024
		diskTotalGB = float64(diskStat.Total) / 1024 / 1024 / 1024
		diskPercent = diskStat.UsedPercent
	}

	response := SystemMetricsResponse{
		CPUPercent:        roundTo2Decimals(cpuPercent),
		RAMUsedGB:         roundTo2Decimals(ramUsedGB),
		RAMTotalGB:        roundTo2Decimals(ramTotalGB),
		RAMPercent:        roundTo2Decimals(ramPercent),
		DiskUsedGB:        roundTo2Decimals(diskUsedGB),
		DiskTotalGB:       roundTo2Decimals(diskTotalGB),
		DiskPercent:       roundTo2Decimals(diskPercent),
		GoroutinesCount:   runtime.NumGoroutine(),
		WatchdogActive:    diskPercent > h.watchdogThreshold,
		WatchdogThreshold: h.watchdogThreshold,
		DiskWarningLevel:  diskWarningLevel(diskPercent, h.watchdogThreshold),
	}

	slog.Debug("System metrics retrieved",
		"cpu", cpuPercent,
		"disk_percent", diskPercent,
		"watchdog_active", response.WatchdogActive,
	)

	writeSuccess(w, response)
}

// SystemStatusResponse represents overall chat relay status
type SystemStatusResponse struct {
	Online          bool                  `json:"online"`
	Uptime          string                `json:"uptime"`
	Version         string                `json:"version"`
	StaffOnline     int                   `json:"staff_online"`
	CustomersOnline int                   `json:"customers_online"`
	AutoReply       services.SwitchStatus `json:"auto_reply"`
}

// GetStatus returns relay status
// GET /api/status
func (h *DashboardHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	registry := h.router.Registry()
	writeSuccess(w, SystemStatusResponse{
		Online:          true,
		Uptime:          formatDuration(time.Since(h.startedAt)),
		Version:         h.version,
		StaffOnline:     registry.StaffCount(),
		CustomersOnline: registry.CustomerCount(),
		AutoReply:       h.router.AutoReplySwitch().Status(),
	})
}

// Health is the unauthenticated liveness probe
// GET /
func (h *DashboardHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{
		Code:    http.StatusOK,
		Message: "Flower shop chat is running",
		Data:    nil,
	})
}

// ============================================================================
// Helpers
// ============================================================================

func diskWarningLevel(percent, threshold float64) string {
	switch {
	case percent < threshold:
		return "safe"
	case percent < threshold+10:
		return "warning"
	default:
		return "critical"
	}
}

func roundTo2Decimals(val float64) float64 {
	return float64(int(val*100)) / 100
}

func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60

	if hours > 24 {
		days := hours / 24
		hours = hours % 24
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}

	return fmt.Sprintf("%dh %dm", hours, minutes)
}
