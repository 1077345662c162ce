package terabox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/terabox-downloader/internal/domain"
	"github.com/vertextoedge/terabox-downloader/internal/port"
)

// ErrNoEndpoint is returned when no resolver service is configured
var ErrNoEndpoint = errors.New("resolver.endpoint is not configured")

// Config contains resolver client configuration
type Config struct {
	Endpoint      string
	Cookie        string
	UserAgent     string
	Timeout       time.Duration
	NormalizeHost bool
	SelectMirror  bool
	Logger        *zap.Logger
}

// Client resolves share links through a resolver service that speaks the
// listing format decoded by ParseListing
type Client struct {
	endpoint      string
	cookie        string
	userAgent     string
	normalizeHost bool
	selectMirror  bool
	httpClient    *http.Client
	prober        *MirrorProber
	logger        *zap.Logger
}

// Ensure Client implements port.ListingResolver
var _ port.ListingResolver = (*Client)(nil)

// NewClient creates a new resolver client
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
		},
		Timeout: timeout,
	}

	return &Client{
		endpoint:      cfg.Endpoint,
		cookie:        cfg.Cookie,
		userAgent:     cfg.UserAgent,
		normalizeHost: cfg.NormalizeHost,
		selectMirror:  cfg.SelectMirror,
		httpClient:    httpClient,
		prober:        NewMirrorProber(cfg.UserAgent),
		logger:        logger,
	}
}

// List returns the listing tree of a share, narrowed to the path= folder when present
func (c *Client) List(ctx context.Context, shareURL string) ([]domain.RemoteEntry, error) {
	link, err := ParseShareURL(shareURL)
	if err != nil {
		return nil, err
	}
	if c.endpoint == "" {
		return nil, domain.NewResolutionError(domain.ErrorKindInvalidURL, shareURL, ErrNoEndpoint)
	}

	c.logger.Debug("listing share", zap.String("share", link.CanonicalURL()), zap.String("path", link.Path))
	entries, err := c.fetch(ctx, link, shareURL)
	if err != nil {
		return nil, err
	}

	if link.Path != "" {
		narrowed, found := domain.SubTree(entries, link.Path)
		if !found {
			c.logger.Warn("share folder not found, using the full listing", zap.String("path", link.Path))
		}
		entries = narrowed
	}
	return entries, nil
}

// Resolve returns the flat file list of a share
func (c *Client) Resolve(ctx context.Context, shareURL string) ([]domain.FileDescriptor, error) {
	entries, err := c.List(ctx, shareURL)
	if err != nil {
		return nil, err
	}
	c.pickLinks(ctx, entries)

	files := domain.Flatten(entries)
	if len(files) == 0 {
		return nil, domain.NewResolutionError(domain.ErrorKindNotFound, shareURL, errors.New("share contains no files"))
	}
	c.logger.Info("share resolved",
		zap.String("surl", shareURL),
		zap.Int("files", len(files)),
		zap.Int64("total_bytes", domain.TotalSize(files)),
	)
	return files, nil
}

// pickLinks chooses the download URL of every file entry in place
func (c *Client) pickLinks(ctx context.Context, entries []domain.RemoteEntry) {
	for i := range entries {
		e := &entries[i]
		if e.IsDir {
			c.pickLinks(ctx, e.Children)
			continue
		}

		candidates := make([]string, 0, len(e.Links)+1)
		if e.DownloadURL != "" {
			candidates = append(candidates, e.DownloadURL)
		}
		candidates = append(candidates, e.Links...)
		if len(candidates) == 0 {
			continue
		}
		if c.normalizeHost {
			for j, l := range candidates {
				candidates[j] = NormalizeDownloadHost(l)
			}
		}

		e.DownloadURL = candidates[0]
		if c.selectMirror && len(candidates) > 1 {
			e.DownloadURL = c.prober.Fastest(ctx, candidates)
		}
	}
}

func (c *Client) fetch(ctx context.Context, link ShareLink, shareURL string) ([]domain.RemoteEntry, error) {
	endpoint, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid resolver endpoint: %w", err)
	}
	q := endpoint.Query()
	q.Set("surl", link.SURL)
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, domain.ErrCancelled
		}
		return nil, fmt.Errorf("resolver service unavailable: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read resolver response: %w", err)
	}

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("resolver service unavailable: HTTP %d", resp.StatusCode)
	}
	if kind := statusKind(resp.StatusCode); kind != domain.ErrorKindNone {
		return nil, domain.NewResolutionError(kind, shareURL, fmt.Errorf("resolver returned HTTP %d", resp.StatusCode))
	}

	var body listResponse
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("invalid resolver response: %w", err)
	}
	if body.Status != "success" {
		return nil, domain.NewResolutionError(errorKind(body.Error), shareURL, errors.New(body.Message))
	}
	return toRemoteEntries(body.List), nil
}

// statusKind maps resolver HTTP statuses that describe the share itself
func statusKind(code int) domain.ErrorKind {
	switch {
	case code == http.StatusBadRequest:
		return domain.ErrorKindInvalidURL
	case code == http.StatusUnauthorized, code == http.StatusForbidden, code == http.StatusGone:
		return domain.ErrorKindExpired
	case code == http.StatusNotFound:
		return domain.ErrorKindNotFound
	case code == http.StatusTooManyRequests:
		return domain.ErrorKindRateLimited
	default:
		return domain.ErrorKindNone
	}
}

func errorKind(name string) domain.ErrorKind {
	switch k := domain.ErrorKind(name); k {
	case domain.ErrorKindInvalidURL, domain.ErrorKindExpired, domain.ErrorKindNotFound, domain.ErrorKindRateLimited:
		return k
	default:
		return domain.ErrorKindNotFound
	}
}
