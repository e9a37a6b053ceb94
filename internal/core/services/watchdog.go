package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/roykane/flower-shop-sub000/internal/core/ports"
	"github.com/roykane/flower-shop-sub000/internal/metrics"
)

const purgeBatchSize = 1000

// WatchdogConfig controls the audit purge policy
type WatchdogConfig struct {
	Interval      time.Duration
	DiskThreshold float64 // percent
	Retention     time.Duration
	DiskPath      string
	// MaxBatches bounds how many purge batches run per check
	MaxBatches int
}

// Watchdog purges old audit rows when the disk fills up. Conversations are
// never purged.
type Watchdog struct {
	audit     ports.ChatAuditRepository
	cfg       WatchdogConfig
	diskUsage func(path string) (float64, error)
	now       func() time.Time
	logger    *slog.Logger
}

// NewWatchdog creates a watchdog reading disk usage with gopsutil
func NewWatchdog(audit ports.ChatAuditRepository, cfg WatchdogConfig, logger *slog.Logger) *Watchdog {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DiskPath == "" {
		cfg.DiskPath = "/"
	}
	if cfg.MaxBatches <= 0 {
		cfg.MaxBatches = 10
	}
	return &Watchdog{
		audit:     audit,
		cfg:       cfg,
		diskUsage: diskUsedPercent,
		now:       time.Now,
		logger:    logger.With("component", "watchdog"),
	}
}

func diskUsedPercent(path string) (float64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.UsedPercent, nil
}

// Run checks on every interval until ctx is cancelled
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	w.logger.Info("Watchdog started",
		"interval", w.cfg.Interval,
		"disk_threshold", w.cfg.DiskThreshold,
		"retention", w.cfg.Retention,
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Watchdog stopped")
			return
		case <-ticker.C:
			if _, err := w.Check(ctx); err != nil {
				w.logger.Error("Watchdog check failed", "error", err)
			}
		}
	}
}

// Check runs one resource check and returns the number of purged rows
func (w *Watchdog) Check(ctx context.Context) (int64, error) {
	used, err := w.diskUsage(w.cfg.DiskPath)
	if err != nil {
		return 0, fmt.Errorf("read disk usage: %w", err)
	}

	if used < w.cfg.DiskThreshold {
		w.logger.Debug("Disk usage OK, no purge needed", "used_percent", used)
		return 0, nil
	}

	w.logger.Warn("Disk usage above threshold, purging audit log",
		"used_percent", used,
		"threshold", w.cfg.DiskThreshold,
	)

	cutoff := w.now().Add(-w.cfg.Retention)
	var total int64
	for i := 0; i < w.cfg.MaxBatches; i++ {
		n, err := w.audit.PurgeBefore(ctx, cutoff, purgeBatchSize)
		if err != nil {
			return total, fmt.Errorf("purge audit log: %w", err)
		}
		total += n
		if n < purgeBatchSize {
			break
		}
	}

	metrics.AuditPurged.Add(float64(total))
	w.logger.Info("Purged old chat event logs", "rows", total, "before", cutoff)
	return total, nil
}
