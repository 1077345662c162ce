package maintenance

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Config contains maintenance configuration
type Config struct {
	// TempFileMaxAge is how long a partial file may sit untouched before it is removed
	TempFileMaxAge time.Duration

	// RemoveEmptyDirs removes directories left empty under the download root
	RemoveEmptyDirs bool

	// HistoryMaxAge prunes recorded batches older than this; 0 keeps all history
	HistoryMaxAge time.Duration
}

// DefaultConfig returns default maintenance configuration
func DefaultConfig() *Config {
	return &Config{
		TempFileMaxAge:  24 * time.Hour,
		RemoveEmptyDirs: true,
	}
}

// Cleaner is the part of the filesystem the sweep works on
type Cleaner interface {
	CleanOldTempFiles(olderThan time.Duration) (int, error)
	CleanEmptyDirs() error
}

// HistoryPruner deletes old batches from the history journal
type HistoryPruner interface {
	PruneBatches(ctx context.Context, before time.Time) (int, error)
}

// Report counts what a sweep removed
type Report struct {
	TempFiles      int
	PrunedBatches  int
	EmptyDirsError error
}

// Service removes leftovers of interrupted downloads
type Service struct {
	config  *Config
	fs      Cleaner
	history HistoryPruner
	logger  *zap.Logger
	now     func() time.Time
}

// New creates a new maintenance Service. history may be nil.
func New(cfg *Config, fs Cleaner, history HistoryPruner, logger *zap.Logger) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.TempFileMaxAge < 0 {
		cfg.TempFileMaxAge = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		config:  cfg,
		fs:      fs,
		history: history,
		logger:  logger,
		now:     time.Now,
	}
}

// Run performs one sweep. Leftover directories are best effort and only
// reported; failing to clean partial files or history is an error.
func (s *Service) Run(ctx context.Context) (Report, error) {
	var report Report

	removed, err := s.cleanupTempFiles()
	report.TempFiles = removed
	if err != nil {
		return report, err
	}

	if s.config.RemoveEmptyDirs {
		if err := s.fs.CleanEmptyDirs(); err != nil {
			s.logger.Warn("failed to remove empty directories", zap.Error(err))
			report.EmptyDirsError = err
		}
	}

	if s.history != nil && s.config.HistoryMaxAge > 0 {
		pruned, err := s.pruneHistory(ctx)
		report.PrunedBatches = pruned
		if err != nil {
			return report, err
		}
	}
	return report, nil
}

// cleanupTempFiles removes old partial files from the filesystem
func (s *Service) cleanupTempFiles() (int, error) {
	count, err := s.fs.CleanOldTempFiles(s.config.TempFileMaxAge)
	if err != nil {
		s.logger.Error("failed to cleanup old temp files", zap.Error(err))
		return count, fmt.Errorf("failed to clean partial files: %w", err)
	}
	if count > 0 {
		s.logger.Info("cleaned up old temp files", zap.Int("count", count))
	}
	return count, nil
}

// pruneHistory removes batches older than HistoryMaxAge
func (s *Service) pruneHistory(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.config.HistoryMaxAge)
	pruned, err := s.history.PruneBatches(ctx, cutoff)
	if err != nil {
		s.logger.Error("failed to prune history", zap.Error(err))
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	if pruned > 0 {
		s.logger.Info("pruned old batches", zap.Int("count", pruned), zap.Time("before", cutoff))
	}
	return pruned, nil
}
