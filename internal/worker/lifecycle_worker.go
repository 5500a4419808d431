package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/buttermb/menulink/internal/domain"
	"github.com/buttermb/menulink/pkg/logger"
	"github.com/buttermb/menulink/pkg/redis"
	"github.com/buttermb/menulink/pkg/telemetry"
)

const sweepLockKey = "menulink:sweep:leader"

// DueScanner lists menus whose deactivation time has elapsed
type DueScanner interface {
	ListDueForArchival(ctx context.Context, now time.Time, limit int) ([]*domain.Menu, error)
}

// Archiver is the slice of the lifecycle service the sweep needs
type Archiver interface {
	Archive(ctx context.Context, menuID string, reason domain.ArchiveReason, now time.Time) error
}

// LifecycleWorkerConfig holds lifecycle worker configuration
type LifecycleWorkerConfig struct {
	ScanInterval time.Duration
	BatchSize    int
	LockTTL      time.Duration
}

// DefaultLifecycleWorkerConfig returns default worker configuration
func DefaultLifecycleWorkerConfig() *LifecycleWorkerConfig {
	return &LifecycleWorkerConfig{
		ScanInterval: 30 * time.Second,
		BatchSize:    100,
		LockTTL:      2 * time.Minute,
	}
}

// LifecycleWorkerStats contains worker statistics
type LifecycleWorkerStats struct {
	IsRunning         bool      `json:"is_running"`
	TotalArchived     int64     `json:"total_archived"`
	TotalErrors       int64     `json:"total_errors"`
	LastScanTime      time.Time `json:"last_scan_time"`
	LastArchivedCount int       `json:"last_archived_count"`
}

// LifecycleWorker periodically sweeps menus whose deactivation time has
// elapsed and drives them into the archived state. The sweep is pure
// bookkeeping: the access path already answers gone for expired menus,
// so a delayed scan loses nothing.
type LifecycleWorker struct {
	menus     DueScanner
	lifecycle Archiver
	redis     *redis.Client
	config    *LifecycleWorkerConfig

	instanceID string
	mu         sync.Mutex
	running    bool
	cancel     context.CancelFunc
	done       chan struct{}

	totalArchived     int64
	totalErrors       int64
	lastScanTime      time.Time
	lastArchivedCount int
}

// NewLifecycleWorker creates a new lifecycle worker
func NewLifecycleWorker(menus DueScanner, lifecycle Archiver, redisClient *redis.Client, config *LifecycleWorkerConfig) *LifecycleWorker {
	if config == nil {
		config = DefaultLifecycleWorkerConfig()
	}
	return &LifecycleWorker{
		menus:      menus,
		lifecycle:  lifecycle,
		redis:      redisClient,
		config:     config,
		instanceID: uuid.New().String(),
	}
}

// Start starts the background scan loop. Safe to call once.
func (w *LifecycleWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return errors.New("lifecycle worker already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.running = true

	go w.loop(ctx)

	logger.Info("lifecycle worker started",
		zap.Duration("scan_interval", w.config.ScanInterval),
		zap.Int("batch_size", w.config.BatchSize),
	)
	return nil
}

// Stop stops the scan loop and waits for the in-flight scan to finish
func (w *LifecycleWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	cancel := w.cancel
	done := w.done
	w.mu.Unlock()

	cancel()
	<-done
	logger.Info("lifecycle worker stopped")
}

func (w *LifecycleWorker) loop(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.config.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.scan(ctx)
		}
	}
}

// scan runs one sweep pass. With multiple instances only the leader
// holding the redis lock sweeps; without redis every instance sweeps
// and the conditional archive keeps the result correct anyway.
func (w *LifecycleWorker) scan(ctx context.Context) {
	ctx, span := telemetry.StartSpan(ctx, "lifecycle.sweep")
	defer span.End()

	if w.redis != nil {
		acquired, err := w.redis.AcquireLock(ctx, sweepLockKey, w.instanceID, w.config.LockTTL)
		if err != nil {
			logger.WarnCtx(ctx, "sweep leader lock unavailable, sweeping anyway", zap.Error(err))
		} else if !acquired {
			return
		} else {
			defer func() {
				if err := w.redis.ReleaseLock(ctx, sweepLockKey, w.instanceID); err != nil {
					logger.WarnCtx(ctx, "sweep leader lock release failed", zap.Error(err))
				}
			}()
		}
	}

	archived, errs := w.Tick(ctx, time.Now())

	w.mu.Lock()
	w.totalArchived += int64(archived)
	w.totalErrors += int64(errs)
	w.lastScanTime = time.Now()
	w.lastArchivedCount = archived
	w.mu.Unlock()

	if archived > 0 || errs > 0 {
		logger.InfoCtx(ctx, "lifecycle sweep finished",
			zap.Int("archived", archived),
			zap.Int("errors", errs),
		)
	}
}

// Tick archives one batch of due menus at the given instant. One
// failing menu never blocks the rest of the batch.
func (w *LifecycleWorker) Tick(ctx context.Context, now time.Time) (archived, errs int) {
	due, err := w.menus.ListDueForArchival(ctx, now, w.config.BatchSize)
	if err != nil {
		logger.Error("due menu scan failed", zap.Error(err))
		return 0, 1
	}

	for _, menu := range due {
		if ctx.Err() != nil {
			return archived, errs
		}
		err := w.lifecycle.Archive(ctx, menu.ID, domain.ArchiveReasonScheduled, now)
		switch {
		case err == nil:
			archived++
		case errors.Is(err, domain.ErrSchedulerConflict):
			// another instance got there first; nothing to do
		default:
			errs++
			logger.Error("menu archival failed",
				zap.String("menu_id", menu.ID),
				zap.Error(err),
			)
		}
	}
	return archived, errs
}

// GetStats returns current worker statistics
func (w *LifecycleWorker) GetStats() *LifecycleWorkerStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return &LifecycleWorkerStats{
		IsRunning:         w.running,
		TotalArchived:     w.totalArchived,
		TotalErrors:       w.totalErrors,
		LastScanTime:      w.lastScanTime,
		LastArchivedCount: w.lastArchivedCount,
	}
}
