package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Ning0612/treesync/internal/config"
	"github.com/Ning0612/treesync/internal/domain"
	"github.com/Ning0612/treesync/internal/lock"
	"github.com/Ning0612/treesync/internal/logger"
	"github.com/Ning0612/treesync/internal/metrics"
	"github.com/Ning0612/treesync/internal/progress"
	"github.com/Ning0612/treesync/internal/state"
)

// SyncService runs synchronizations under a per-target lock and records
// them in the run history and metrics file when configured
type SyncService struct {
	config  *config.Config
	history *state.Manager
	log     logger.Logger
}

// NewSyncService creates a new sync service
func NewSyncService(cfg *config.Config, log logger.Logger) (*SyncService, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if log == nil {
		log = &logger.NullLogger{}
	}

	s := &SyncService{config: cfg, log: log}

	if cfg.History.Enabled {
		history, err := state.NewManager(cfg.History.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to open run history: %w", err)
		}
		s.history = history
	}

	return s, nil
}

// Run synchronizes source into target.
// Returns a *lock.LockError when another run holds the target.
func (s *SyncService) Run(ctx context.Context, source, target string, reporter progress.Reporter) (*domain.Outcome, error) {
	runID := uuid.NewString()
	log := s.log.With("run_id", runID)

	fileLock, err := lock.NewFileLock(s.config.LockDir, target)
	if err != nil {
		return nil, fmt.Errorf("failed to create target lock: %w", err)
	}

	log.Debug("Acquiring lock", "target", target, "lock", fileLock.Path())
	if err := fileLock.Acquire(runID); err != nil {
		log.Error("Failed to acquire target lock", "target", target, "error", err)
		return nil, fmt.Errorf("failed to acquire target lock: %w", err)
	}
	defer func() {
		if err := fileLock.Release(); err != nil {
			log.Error("Failed to release target lock", "target", target, "error", err)
		}
	}()

	var collector *metrics.Collector
	if s.config.MetricsFile != "" {
		collector = metrics.New()
		reporter = progress.Multi(reporter, collector)
	}

	outcome, runErr := run(ctx, runID, source, target, s.config.Sync, reporter, s.log)

	if collector != nil {
		if outcome != nil {
			if err := collector.WriteFile(s.config.MetricsFile); err != nil {
				log.Warn("Failed to write metrics", "path", s.config.MetricsFile, "error", err)
			}
		}
	}

	if s.history != nil {
		recorded := outcome
		if recorded == nil {
			recorded = domain.NewOutcome(runID, absPath(source), absPath(target))
			recorded.DryRun = s.config.Sync.DryRun
			recorded.Finish()
		}
		if err := s.history.SaveRun(state.RecordFromOutcome(recorded, runErr)); err != nil {
			log.Warn("Failed to record run history", "error", err)
		}
	}

	return outcome, runErr
}

// History returns the most recent runs, for one target or for all when target is empty
func (s *SyncService) History(target string, limit int) ([]state.RunRecord, error) {
	if s.history == nil {
		return nil, fmt.Errorf("run history is disabled")
	}
	if target == "" {
		return s.history.GetAllHistory(limit)
	}
	return s.history.GetHistory(absPath(target), limit)
}

// LockHolder returns the holder of the target's lock, or nil when it is free
func (s *SyncService) LockHolder(target string) (*lock.LockInfo, error) {
	fileLock, err := lock.NewFileLock(s.config.LockDir, target)
	if err != nil {
		return nil, err
	}
	if !fileLock.IsLocked() {
		return nil, nil
	}
	return fileLock.GetHolder()
}

// Close releases the history database
func (s *SyncService) Close() error {
	if s.history != nil {
		return s.history.Close()
	}
	return nil
}
