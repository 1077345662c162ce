package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/vertextoedge/terabox-downloader/internal/domain"
	"github.com/vertextoedge/terabox-downloader/internal/port"
)

// Config contains transfer settings
type Config struct {
	MaxConnections      int
	SplitEnabled        bool
	Split               int
	MinSplitSize        int64 // bytes
	UserAgent           string
	Cookie              string
	StallTimeout        time.Duration
	PollInterval        time.Duration
	RateLimit           int64 // bytes per second for direct transfers, 0 = unlimited
	KeepPartialOnCancel bool
}

// DefaultConfig returns default transfer configuration
func DefaultConfig() *Config {
	return &Config{
		MaxConnections: 16,
		SplitEnabled:   true,
		Split:          16,
		MinSplitSize:   1024 * 1024,
		UserAgent:      "Mozilla/5.0",
		StallTimeout:   30 * time.Second,
		PollInterval:   500 * time.Millisecond,
	}
}

// Observer receives the milestones of one attempt
type Observer interface {
	// Started reports the byte offset the attempt starts from
	Started(offset int64)
	// Progress reports the total bytes present for the file
	Progress(bytesDone int64)
	// Verifying reports that the transfer finished and the size is being checked
	Verifying()
}

// Runner executes one attempt of a transfer session
type Runner struct {
	cfg      *Config
	fs       port.FileSystem
	direct   *DirectFetcher
	external *ExternalFetcher
	logger   *zap.Logger
}

// NewRunner creates a runner. manager may be nil when only direct transfers are used.
func NewRunner(cfg *Config, fs port.FileSystem, manager port.DownloadManager, logger *zap.Logger) *Runner {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.StallTimeout <= 0 {
		cfg.StallTimeout = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Runner{
		cfg:    cfg,
		fs:     fs,
		direct: NewDirectFetcher(cfg, fs, logger),
		logger: logger,
	}
	if manager != nil {
		r.external = NewExternalFetcher(cfg, manager, logger)
	}
	return r
}

// Run transfers the session's file with the given backend and verifies it.
// It reads the session but never mutates it; all state changes go through obs.
func (r *Runner) Run(ctx context.Context, s *domain.TransferSession, backend domain.BackendKind, obs Observer) error {
	desc := s.Descriptor
	target := r.fs.TargetPath(desc.RelativePath)

	if err := ctx.Err(); err != nil {
		return domain.ErrCancelled
	}
	if err := r.fs.EnsureParent(target); err != nil {
		return domain.ClassifyFilesystem(target, err)
	}

	if desc.Size == 0 {
		if err := r.fs.CreateEmpty(target); err != nil {
			return domain.ClassifyFilesystem(target, err)
		}
		obs.Started(0)
		obs.Verifying()
		return nil
	}

	if backend == domain.BackendExternal && r.external == nil {
		backend = domain.BackendDirect
	}
	if err := r.preflight(target, desc.Size, backend); err != nil {
		return err
	}

	r.logger.Debug("transfer attempt",
		zap.String("session_id", s.ID),
		zap.String("path", desc.Path()),
		zap.String("backend", string(backend)),
		zap.Int("attempt", s.AttemptCount),
	)

	var err error
	switch backend {
	case domain.BackendExternal:
		err = r.external.Fetch(ctx, desc, target, obs)
	default:
		err = r.direct.Fetch(ctx, desc, target, obs)
	}
	if err == nil {
		err = r.verify(desc, target, backend, obs)
	}

	if err != nil && (ctx.Err() != nil || domain.IsCancelled(err)) {
		r.discard(target, backend)
		return domain.ErrCancelled
	}
	return err
}

// preflight fails with DiskFull when the remaining bytes do not fit
func (r *Runner) preflight(target string, size int64, backend domain.BackendKind) error {
	usage, err := r.fs.GetDiskUsage()
	if err != nil {
		r.logger.Debug("disk usage unavailable, skipping space check", zap.Error(err))
		return nil
	}

	need := size
	if backend == domain.BackendDirect {
		if have, err := r.fs.Size(r.fs.TempPath(target)); err == nil && have < size {
			need -= have
		}
	}
	if usage.Free < uint64(need) {
		return domain.NewFilesystemError(domain.ErrorKindDiskFull, target,
			fmt.Errorf("need %s, %s free (%.0f%% used)", humanize.IBytes(uint64(need)), humanize.IBytes(usage.Free), usage.UsedPct))
	}
	return nil
}

// verify checks the final size and moves a direct transfer into place
func (r *Runner) verify(desc domain.FileDescriptor, target string, backend domain.BackendKind, obs Observer) error {
	obs.Verifying()

	path := target
	if backend == domain.BackendDirect {
		path = r.fs.TempPath(target)
	}

	size, err := r.fs.Size(path)
	if err != nil {
		return domain.NewTransferError(domain.ErrorKindSizeMismatch, fmt.Errorf("downloaded file missing: %w", err))
	}
	if size != desc.Size {
		// a short direct partial is resumed on the next attempt
		if backend == domain.BackendExternal || size > desc.Size {
			r.fs.Remove(path)
			r.fs.RemovePartial(target)
		}
		return domain.NewTransferError(domain.ErrorKindSizeMismatch,
			fmt.Errorf("got %d bytes, want %d", size, desc.Size))
	}

	if backend == domain.BackendDirect {
		if err := r.fs.Rename(path, target); err != nil {
			return domain.ClassifyFilesystem(target, err)
		}
	}
	return nil
}

// discard removes partial data after a cancellation unless configured to keep it
func (r *Runner) discard(target string, backend domain.BackendKind) {
	if r.cfg.KeepPartialOnCancel {
		return
	}
	if backend == domain.BackendExternal {
		if err := r.fs.Remove(target); err != nil {
			r.logger.Warn("failed to remove partial file", zap.String("path", target), zap.Error(err))
		}
	}
	if err := r.fs.RemovePartial(target); err != nil {
		r.logger.Warn("failed to remove partial file", zap.String("path", target), zap.Error(err))
	}
}
