package aria2

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/zyxar/argo/rpc"
	"go.uber.org/zap"

	"github.com/vertextoedge/terabox-downloader/internal/domain"
	"github.com/vertextoedge/terabox-downloader/internal/port"
)

// DefaultRPCURL is where aria2c listens with --enable-rpc
const DefaultRPCURL = "http://localhost:6800/jsonrpc"

var errClosed = errors.New("aria2 client is closed")

// Client talks to an aria2 daemon over JSON-RPC
type Client struct {
	endpoint     string
	secret       string
	timeout      time.Duration
	probeTimeout time.Duration
	logger       *zap.Logger

	once   sync.Once
	rpc    rpc.Client
	rpcErr error
}

// Ensure Client implements port.DownloadManager
var _ port.DownloadManager = (*Client)(nil)

// ClientConfig contains optional client configuration
type ClientConfig struct {
	Secret       string
	Timeout      time.Duration // per call, default 10s
	ProbeTimeout time.Duration // default 2s
	Logger       *zap.Logger
}

// NewClient creates a new aria2 RPC client. The connection is set up on first use.
func NewClient(endpoint string, cfg *ClientConfig) *Client {
	if endpoint == "" {
		endpoint = DefaultRPCURL
	}
	c := &Client{
		endpoint:     endpoint,
		timeout:      10 * time.Second,
		probeTimeout: 2 * time.Second,
		logger:       zap.NewNop(),
	}
	if cfg != nil {
		c.secret = cfg.Secret
		if cfg.Timeout > 0 {
			c.timeout = cfg.Timeout
		}
		if cfg.ProbeTimeout > 0 {
			c.probeTimeout = cfg.ProbeTimeout
		}
		if cfg.Logger != nil {
			c.logger = cfg.Logger
		}
	}
	return c
}

func (c *Client) conn() (rpc.Client, error) {
	c.once.Do(func() {
		// the rpc client lives as long as Client, calls are bounded by ctx in do
		c.rpc, c.rpcErr = rpc.New(context.Background(), c.endpoint, c.secret, c.timeout, nil)
		if c.rpcErr != nil {
			c.rpcErr = fmt.Errorf("failed to create aria2 rpc client for %s: %w", c.endpoint, c.rpcErr)
		}
	})
	return c.rpc, c.rpcErr
}

// do runs fn against the daemon and gives up when ctx ends first
func (c *Client) do(ctx context.Context, fn func(rpc.Client) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	client, err := c.conn()
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- fn(client) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases the RPC connection. The client must not be used afterwards.
func (c *Client) Close() error {
	c.once.Do(func() { c.rpcErr = errClosed })
	if c.rpc == nil {
		return nil
	}
	return c.rpc.Close()
}

// GetVersion returns the daemon version
func (c *Client) GetVersion(ctx context.Context) (*Version, error) {
	var info rpc.VersionInfo
	err := c.do(ctx, func(client rpc.Client) (err error) {
		info, err = client.GetVersion()
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Version{Version: info.Version}, nil
}

// IsReachable probes the daemon with aria2.getVersion
func (c *Client) IsReachable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	v, err := c.GetVersion(ctx)
	if err != nil {
		c.logger.Debug("aria2 not reachable", zap.String("endpoint", c.endpoint), zap.Error(err))
		return false
	}
	c.logger.Debug("aria2 reachable", zap.String("version", v.Version))
	return true
}

// Submit adds a download with aria2.addUri
func (c *Client) Submit(ctx context.Context, url, target string, opts port.DownloadOptions) (port.TransferHandle, error) {
	var gid string
	err := c.do(ctx, func(client rpc.Client) (err error) {
		gid, err = client.AddURI([]string{url}, buildOptions(target, opts))
		return err
	})
	if err != nil {
		return "", domain.NewTransferError(domain.ErrorKindTransient, fmt.Errorf("aria2 submit: %w", err))
	}
	c.logger.Debug("aria2 download added", zap.String("gid", gid), zap.String("target", target))
	return port.TransferHandle(gid), nil
}

func buildOptions(target string, opts port.DownloadOptions) map[string]interface{} {
	split := 1
	if opts.SplitEnabled && opts.Split > 0 {
		split = opts.Split
	}
	conns := opts.MaxConnections
	if conns <= 0 {
		conns = 1
	}

	options := map[string]interface{}{
		"dir":                       filepath.Dir(target),
		"out":                       filepath.Base(target),
		"max-connection-per-server": strconv.Itoa(conns),
		"split":                     strconv.Itoa(split),
		"continue":                  "true",
		"allow-overwrite":           "true",
		"auto-file-renaming":        "false",
		"file-allocation":           "none",
	}
	if opts.MinSplitSize > 0 {
		options["min-split-size"] = strconv.FormatInt(opts.MinSplitSize, 10)
	}
	if opts.UserAgent != "" {
		options["user-agent"] = opts.UserAgent
	}
	if len(opts.Headers) > 0 {
		headers := make([]string, 0, len(opts.Headers))
		for k, v := range opts.Headers {
			headers = append(headers, k+": "+v)
		}
		options["header"] = headers
	}
	return options
}

// Poll reads the transfer status with aria2.tellStatus
func (c *Client) Poll(ctx context.Context, h port.TransferHandle) (*port.PollResult, error) {
	var st rpc.StatusInfo
	err := c.do(ctx, func(client rpc.Client) (err error) {
		st, err = client.TellStatus(string(h), statusKeys...)
		return err
	})
	if err != nil {
		return nil, err
	}

	result := &port.PollResult{
		State:      port.TransferState(st.Status),
		BytesDone:  parseInt(st.CompletedLength),
		TotalBytes: parseInt(st.TotalLength),
		Speed:      parseInt(st.DownloadSpeed),
	}

	if result.State == port.TransferFailed {
		code, _ := strconv.Atoi(st.ErrorCode)
		result.Err = (&DownloadError{Code: code, Message: st.ErrorMessage}).classify()
	}
	if result.State.IsFinished() {
		// drop the result from aria2's memory; best effort
		err := c.do(ctx, func(client rpc.Client) error {
			_, err := client.RemoveDownloadResult(string(h))
			return err
		})
		if err != nil {
			c.logger.Debug("failed to remove download result", zap.String("gid", string(h)), zap.Error(err))
		}
	}
	return result, nil
}

// Cancel stops a transfer with aria2.forceRemove
func (c *Client) Cancel(ctx context.Context, h port.TransferHandle) error {
	err := c.do(ctx, func(client rpc.Client) error {
		_, err := client.ForceRemove(string(h))
		return err
	})
	if err != nil {
		return fmt.Errorf("aria2 cancel %s: %w", h, err)
	}
	return nil
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
