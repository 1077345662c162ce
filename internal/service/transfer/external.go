package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/terabox-downloader/internal/domain"
	"github.com/vertextoedge/terabox-downloader/internal/port"
)

// ExternalFetcher hands a file to the external download manager and polls it
type ExternalFetcher struct {
	manager      port.DownloadManager
	opts         port.DownloadOptions
	pollInterval time.Duration
	stallTimeout time.Duration
	logger       *zap.Logger
	now          func() time.Time
}

// NewExternalFetcher creates an external fetcher
func NewExternalFetcher(cfg *Config, manager port.DownloadManager, logger *zap.Logger) *ExternalFetcher {
	opts := port.DownloadOptions{
		MaxConnections: cfg.MaxConnections,
		SplitEnabled:   cfg.SplitEnabled,
		Split:          cfg.Split,
		MinSplitSize:   cfg.MinSplitSize,
		UserAgent:      cfg.UserAgent,
	}
	if cfg.Cookie != "" {
		opts.Headers = map[string]string{"Cookie": cfg.Cookie}
	}
	return &ExternalFetcher{
		manager:      manager,
		opts:         opts,
		pollInterval: cfg.PollInterval,
		stallTimeout: cfg.StallTimeout,
		logger:       logger,
		now:          time.Now,
	}
}

// Fetch submits desc and polls until the manager finishes, the transfer
// stalls for longer than the stall timeout, or ctx is cancelled
func (f *ExternalFetcher) Fetch(ctx context.Context, desc domain.FileDescriptor, target string, obs Observer) error {
	h, err := f.manager.Submit(ctx, desc.DownloadURL, target, f.opts)
	if err != nil {
		if ctx.Err() != nil {
			return domain.ErrCancelled
		}
		return err
	}

	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()

	// the manager resumes from its control file, so the offset is only
	// known once the first poll answers
	started := false
	var lastBytes int64
	lastChange := f.now()
	for {
		select {
		case <-ctx.Done():
			f.abandon(h)
			return domain.ErrCancelled
		case <-ticker.C:
		}

		res, err := f.manager.Poll(ctx, h)
		switch {
		case err != nil && ctx.Err() != nil:
			continue
		case err != nil:
			f.logger.Debug("poll failed", zap.String("handle", string(h)), zap.Error(err))
		default:
			switch {
			case !started:
				started = true
				lastBytes = res.BytesDone
				lastChange = f.now()
				obs.Started(res.BytesDone)
			case res.BytesDone > lastBytes:
				lastBytes = res.BytesDone
				lastChange = f.now()
				obs.Progress(res.BytesDone)
			}
			switch res.State {
			case port.TransferWaiting, port.TransferPaused:
				// queued behind other downloads, not stalled
				lastChange = f.now()
			case port.TransferComplete:
				return nil
			case port.TransferFailed:
				if res.Err != nil {
					return res.Err
				}
				return domain.NewTransferError(domain.ErrorKindTransient, errors.New("external transfer failed"))
			case port.TransferRemoved:
				return domain.NewTransferError(domain.ErrorKindTransient, errors.New("external transfer was removed"))
			}
		}

		if idle := f.now().Sub(lastChange); idle >= f.stallTimeout {
			f.abandon(h)
			return domain.NewTransferError(domain.ErrorKindTimeout, fmt.Errorf("no progress for %s", idle.Round(time.Second)))
		}
	}
}

// abandon cancels a transfer after its context is gone
func (f *ExternalFetcher) abandon(h port.TransferHandle) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.manager.Cancel(ctx, h); err != nil {
		f.logger.Warn("failed to cancel external transfer", zap.String("handle", string(h)), zap.Error(err))
	}
}
