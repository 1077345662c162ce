package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/vertextoedge/terabox-downloader/internal/domain"
	"github.com/vertextoedge/terabox-downloader/internal/port"
)

const readBufferSize = 32 * 1024

// DirectFetcher streams a file over HTTP into its partial file,
// resuming with a Range request when a partial already exists
type DirectFetcher struct {
	client       *http.Client
	fs           port.FileSystem
	userAgent    string
	cookie       string
	stallTimeout time.Duration
	limiter      *rate.Limiter
	logger       *zap.Logger
}

// NewDirectFetcher creates a direct fetcher. A positive cfg.RateLimit caps
// the combined throughput of all direct transfers.
func NewDirectFetcher(cfg *Config, fs port.FileSystem, logger *zap.Logger) *DirectFetcher {
	f := &DirectFetcher{
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
				DisableCompression:  true,
			},
		},
		fs:           fs,
		userAgent:    cfg.UserAgent,
		cookie:       cfg.Cookie,
		stallTimeout: cfg.StallTimeout,
		logger:       logger,
	}
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < readBufferSize {
			burst = readBufferSize
		}
		f.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return f
}

// Fetch downloads desc into the partial file of target
func (f *DirectFetcher) Fetch(ctx context.Context, desc domain.FileDescriptor, target string, obs Observer) error {
	part := f.fs.TempPath(target)

	var offset int64
	if n, err := f.fs.Size(part); err == nil {
		offset = n
	}
	if offset > desc.Size {
		f.fs.Remove(part)
		offset = 0
	}
	if offset == desc.Size {
		obs.Started(offset)
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var stalled atomic.Bool
	watchdog := time.AfterFunc(f.stallTimeout, func() {
		stalled.Store(true)
		cancel()
	})
	defer watchdog.Stop()

	resp, err := f.get(ctx, desc.DownloadURL, offset)
	if err != nil {
		return f.transferError(ctx, &stalled, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
	case http.StatusOK:
		if offset > 0 {
			f.logger.Info("server ignored range request, restarting",
				zap.String("path", desc.Path()),
				zap.Int64("offset", offset))
			offset = 0
		}
	case http.StatusRequestedRangeNotSatisfiable:
		f.fs.Remove(part)
		return domain.NewTransferError(domain.ErrorKindSizeMismatch,
			fmt.Errorf("range %d- not satisfiable for %d byte file", offset, desc.Size))
	default:
		return statusError(resp.StatusCode, desc.DownloadURL)
	}

	w, start, err := f.fs.OpenForWrite(part, offset > 0)
	if err != nil {
		return domain.ClassifyFilesystem(part, err)
	}
	obs.Started(start)

	written := start
	buf := make([]byte, readBufferSize)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			// time spent under the bandwidth cap is not a stall
			watchdog.Stop()
			if f.limiter != nil {
				if err := f.limiter.WaitN(ctx, n); err != nil {
					w.Close()
					return f.transferError(ctx, &stalled, err)
				}
			}
			if _, werr := w.Write(buf[:n]); werr != nil {
				w.Close()
				return domain.ClassifyFilesystem(part, werr)
			}
			written += int64(n)
			obs.Progress(written)
			watchdog.Reset(f.stallTimeout)
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			w.Close()
			return f.transferError(ctx, &stalled, rerr)
		}
	}

	if err := w.Close(); err != nil {
		return domain.ClassifyFilesystem(part, err)
	}
	return nil
}

func (f *DirectFetcher) get(ctx context.Context, url string, offset int64) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, domain.NewResolutionError(domain.ErrorKindInvalidURL, url, err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	if f.cookie != "" {
		req.Header.Set("Cookie", f.cookie)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}
	return f.client.Do(req)
}

// transferError maps a read failure, telling a stall apart from a cancellation
func (f *DirectFetcher) transferError(ctx context.Context, stalled *atomic.Bool, err error) error {
	var re *domain.ResolutionError
	if errors.As(err, &re) {
		return err
	}
	if stalled.Load() {
		return domain.NewTransferError(domain.ErrorKindTimeout,
			fmt.Errorf("no data for %s: %w", f.stallTimeout, err))
	}
	if ctx.Err() != nil {
		return domain.ErrCancelled
	}
	return domain.NewTransferError(domain.Classify(err), err)
}

// statusError maps an unexpected HTTP status of a download link
func statusError(code int, url string) error {
	err := fmt.Errorf("download link returned HTTP %d", code)
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden, code == http.StatusGone:
		return domain.NewResolutionError(domain.ErrorKindExpired, url, err)
	case code == http.StatusNotFound:
		return domain.NewResolutionError(domain.ErrorKindNotFound, url, err)
	default:
		return domain.NewTransferError(domain.ErrorKindTransient, err)
	}
}
