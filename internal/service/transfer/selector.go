package transfer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/terabox-downloader/internal/domain"
	"github.com/vertextoedge/terabox-downloader/internal/port"
)

// SelectorConfig contains backend selection settings
type SelectorConfig struct {
	ExternalEnabled bool
	ForceDirect     bool
}

// SelectBackend picks the backend for a file. The external manager is used
// iff it is configured, reachable and not overridden by ForceDirect. Empty
// files never reach a backend and always report Direct.
func SelectBackend(desc domain.FileDescriptor, cfg SelectorConfig, reachable bool) domain.BackendKind {
	if desc.Size == 0 {
		return domain.BackendDirect
	}
	if cfg.ExternalEnabled && reachable && !cfg.ForceDirect {
		return domain.BackendExternal
	}
	return domain.BackendDirect
}

// Selector applies SelectBackend with a cached availability probe
type Selector struct {
	cfg     SelectorConfig
	manager port.DownloadManager
	ttl     time.Duration
	logger  *zap.Logger
	now     func() time.Time

	mu        sync.Mutex
	checkedAt time.Time
	reachable bool
}

// NewSelector creates a selector. manager may be nil when no external
// manager is configured. A ttl of zero probes on every call.
func NewSelector(cfg SelectorConfig, manager port.DownloadManager, ttl time.Duration, logger *zap.Logger) *Selector {
	if manager == nil {
		cfg.ExternalEnabled = false
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{
		cfg:     cfg,
		manager: manager,
		ttl:     ttl,
		logger:  logger,
		now:     time.Now,
	}
}

// Select returns the backend for desc
func (s *Selector) Select(ctx context.Context, desc domain.FileDescriptor) domain.BackendKind {
	if desc.Size == 0 || !s.cfg.ExternalEnabled || s.cfg.ForceDirect {
		return SelectBackend(desc, s.cfg, false)
	}
	return SelectBackend(desc, s.cfg, s.Reachable(ctx))
}

// Reachable returns the cached probe result, probing again once it is older than ttl
func (s *Selector) Reachable(ctx context.Context) bool {
	if s.manager == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if !s.checkedAt.IsZero() && now.Sub(s.checkedAt) < s.ttl {
		return s.reachable
	}

	reachable := s.manager.IsReachable(ctx)
	if reachable != s.reachable || s.checkedAt.IsZero() {
		s.logger.Info("external download manager probed", zap.Bool("reachable", reachable))
	}
	s.reachable = reachable
	s.checkedAt = now
	return reachable
}

// Invalidate forces the next Select to probe again
func (s *Selector) Invalidate() {
	s.mu.Lock()
	s.checkedAt = time.Time{}
	s.mu.Unlock()
}
