package main

import (
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/vertextoedge/terabox-downloader/internal/adapter/aria2"
	"github.com/vertextoedge/terabox-downloader/internal/adapter/filesystem"
	"github.com/vertextoedge/terabox-downloader/internal/adapter/manifest"
	"github.com/vertextoedge/terabox-downloader/internal/adapter/terabox"
	"github.com/vertextoedge/terabox-downloader/internal/config"
	"github.com/vertextoedge/terabox-downloader/internal/port"
	"github.com/vertextoedge/terabox-downloader/internal/service/retry"
	"github.com/vertextoedge/terabox-downloader/internal/service/transfer"
)

// newResolver returns the manifest resolver when a manifest file is given,
// otherwise the resolver service client
func newResolver(cfg *config.Config, manifestPath string, logger *zap.Logger) port.ListingResolver {
	if manifestPath != "" {
		return manifest.New(manifestPath)
	}
	return terabox.NewClient(terabox.Config{
		Endpoint:      cfg.Resolver.Endpoint,
		Cookie:        cfg.Resolver.Cookie,
		UserAgent:     cfg.Download.UserAgent,
		Timeout:       cfg.Resolver.GetTimeout(),
		NormalizeHost: cfg.Resolver.NormalizeHost,
		SelectMirror:  cfg.Resolver.SelectMirror,
		Logger:        logger.Named("resolver"),
	})
}

func newAria2Client(cfg *config.Config, logger *zap.Logger) *aria2.Client {
	return aria2.NewClient(cfg.External.RPCURL, &aria2.ClientConfig{
		Secret:       cfg.External.Secret,
		ProbeTimeout: cfg.External.GetProbeTimeout(),
		Logger:       logger.Named("aria2"),
	})
}

func daemonConfig(cfg *config.Config) aria2.DaemonConfig {
	return aria2.DaemonConfig{
		Binary:         cfg.External.Binary,
		RPCURL:         cfg.External.RPCURL,
		Secret:         cfg.External.Secret,
		MaxConnections: cfg.Download.MaxConnections,
		Split:          cfg.Download.Split,
		MinSplitSize:   cfg.Download.MinSplitSize,
		MaxConcurrent:  cfg.Download.Workers,
	}
}

func transferConfig(cfg *config.Config) *transfer.Config {
	return &transfer.Config{
		MaxConnections:      cfg.Download.MaxConnections,
		SplitEnabled:        cfg.Download.SplitEnabled,
		Split:               cfg.Download.Split,
		MinSplitSize:        cfg.Download.GetMinSplitSize(),
		UserAgent:           cfg.Download.UserAgent,
		Cookie:              cfg.Resolver.Cookie,
		StallTimeout:        cfg.Transfer.GetStallTimeout(),
		PollInterval:        cfg.Transfer.GetPollInterval(),
		RateLimit:           cfg.Download.GetRateLimit(),
		KeepPartialOnCancel: cfg.Download.KeepPartialOnCancel,
	}
}

func retryPolicy(cfg *config.Config) retry.Policy {
	return retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.GetBaseDelay(),
		MaxDelay:    cfg.Retry.GetMaxDelay(),
	}
}

// groupFolderName names the sub-folder of a large batch after the share
// folder, or after the current time when the share has no path
func groupFolderName(shareURL string, now time.Time) string {
	var name string
	if link, err := terabox.ParseShareURL(shareURL); err == nil && link.Path != "" {
		name = sanitizeFolderName(link.FolderName())
	}
	if name == "" {
		name = now.Format("20060102_150405")
	}
	return name
}

// sanitizeFolderName keeps letters, digits, spaces, '-' and '_'
func sanitizeFolderName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// downloadDir returns the directory a batch is written to. Batches with more
// files than threshold go into their own sub-folder; threshold <= 0 disables it.
func downloadDir(root, shareURL string, fileCount, threshold int, now time.Time) string {
	if threshold <= 0 || fileCount <= threshold {
		return filepath.Clean(root)
	}
	return filesystem.UniqueDir(root, groupFolderName(shareURL, now))
}
