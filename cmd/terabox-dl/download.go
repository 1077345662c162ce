package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vertextoedge/terabox-downloader/internal/adapter/aria2"
	"github.com/vertextoedge/terabox-downloader/internal/adapter/filesystem"
	"github.com/vertextoedge/terabox-downloader/internal/adapter/sqlite"
	"github.com/vertextoedge/terabox-downloader/internal/config"
	"github.com/vertextoedge/terabox-downloader/internal/domain"
	"github.com/vertextoedge/terabox-downloader/internal/domain/event"
	"github.com/vertextoedge/terabox-downloader/internal/logger"
	"github.com/vertextoedge/terabox-downloader/internal/metrics"
	"github.com/vertextoedge/terabox-downloader/internal/port"
	"github.com/vertextoedge/terabox-downloader/internal/service/orchestrator"
	"github.com/vertextoedge/terabox-downloader/internal/service/progress"
	"github.com/vertextoedge/terabox-downloader/internal/service/retry"
	"github.com/vertextoedge/terabox-downloader/internal/service/transfer"
)

type downloadOptions struct {
	directory  string
	workers    int
	direct     bool
	manifest   string
	selection  string
	noProgress bool
}

func newDownloadCmd() *cobra.Command {
	var opts downloadOptions
	cmd := &cobra.Command{
		Use:   "download [share-url]",
		Short: "Download every file of a share",
		Long: "Resolve a share URL and download its files, through aria2 when it is reachable\n" +
			"and over plain HTTP otherwise. With --manifest the listing is read from a file.",
		Args: cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var shareURL string
			if len(args) == 1 {
				shareURL = args[0]
			}
			if shareURL == "" && opts.manifest == "" {
				return fmt.Errorf("a share URL or --manifest is required")
			}
			return runDownload(cmd.OutOrStdout(), shareURL, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.directory, "dir", "d", "", "Override download.directory")
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", 0, "Override download.workers")
	cmd.Flags().BoolVar(&opts.direct, "direct", false, "Never use the external download manager")
	cmd.Flags().StringVarP(&opts.manifest, "manifest", "m", "", "Read the share listing from a JSON manifest")
	cmd.Flags().StringVarP(&opts.selection, "select", "s", "", "Only download some files: numbers printed by list (1,3,5-7, 0 for all) or a glob such as '*.mp4'")
	cmd.Flags().BoolVarP(&opts.noProgress, "quiet", "q", false, "Do not render the progress bar")
	return cmd
}

func (o downloadOptions) apply(cfg *config.Config) {
	if o.directory != "" {
		cfg.Download.Directory = o.directory
	}
	if o.workers > 0 {
		cfg.Download.Workers = o.workers
	}
	if o.direct {
		cfg.Download.ForceDirect = true
	}
}

func runDownload(out io.Writer, shareURL string, opts downloadOptions) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()
	opts.apply(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resolver := newResolver(cfg, opts.manifest, log)
	files, err := resolver.Resolve(ctx, shareURL)
	if err != nil {
		return fmt.Errorf("failed to resolve share: %w", err)
	}
	if opts.selection != "" {
		all := len(files)
		if files, err = selectFiles(files, opts.selection); err != nil {
			return err
		}
		log.Info("files selected", zap.String("select", opts.selection), zap.Int("selected", len(files)), zap.Int("listed", all))
	}

	dir := downloadDir(cfg.Download.Directory, shareURL, len(files), cfg.Download.GroupThreshold, time.Now())
	fsManager, err := filesystem.NewManager(dir)
	if err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}

	batch, err := domain.NewBatch(shareURL, files)
	if err != nil {
		return fmt.Errorf("failed to create batch: %w", err)
	}
	log.Info("downloading share",
		zap.String("batch_id", batch.ID),
		zap.Int("files", len(files)),
		zap.String("size", humanize.Bytes(uint64(batch.TotalBytes()))),
		zap.String("directory", dir),
	)

	var manager port.DownloadManager
	if cfg.External.Enabled && !cfg.Download.ForceDirect {
		client := newAria2Client(cfg, log)
		defer client.Close()
		if cfg.External.AutoStart && !client.IsReachable(ctx) {
			daemon, err := aria2.StartDaemon(ctx, daemonConfig(cfg), log.Named("aria2"))
			if err != nil {
				log.Warn("aria2 auto-start failed, falling back to direct downloads", zap.Error(err))
			} else {
				defer daemon.Stop()
			}
		}
		manager = client
	}

	dispatcher := event.NewInMemoryDispatcher(log)
	aggregator := progress.NewAggregator(cfg.Transfer.GetRateWindow())
	dispatcher.Subscribe(aggregator)
	dispatcher.Subscribe(event.NewLoggingHandler(log.Named("events")))
	m := metrics.New()
	dispatcher.Subscribe(m)
	if !opts.noProgress {
		dispatcher.Subscribe(newBarHandler(os.Stdout, batch.TotalBytes(), aggregator))
	}

	controller := retry.NewController(retryPolicy(cfg), dispatcher, cfg.Transfer.GetProgressInterval(), log.Named("retry"))
	selector := transfer.NewSelector(
		transfer.SelectorConfig{ExternalEnabled: cfg.External.Enabled, ForceDirect: cfg.Download.ForceDirect},
		manager,
		cfg.External.GetProbeTTL(),
		log.Named("selector"),
	)
	runner := transfer.NewRunner(transferConfig(cfg), fsManager, manager, log.Named("transfer"))
	orch := orchestrator.New(
		&orchestrator.Config{Workers: cfg.Download.Workers},
		selector,
		runner,
		controller,
		dispatcher,
		log.Named("orchestrator"),
	)

	summary := orch.Run(ctx, batch)
	if !opts.noProgress {
		fmt.Fprintln(out)
	}
	printSummary(out, summary, dir)

	if cfg.Metrics.Textfile != "" {
		if err := m.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			log.Warn("failed to write metrics textfile", zap.String("path", cfg.Metrics.Textfile), zap.Error(err))
		}
	}
	if cfg.History.Enabled {
		recordHistory(cfg, batch, dir, summary, log)
	}

	if !summary.OK() {
		return &batchError{failed: summary.Failed, cancelled: summary.Cancelled}
	}
	return nil
}

// recordHistory stores the finished batch; failures only warn
func recordHistory(cfg *config.Config, batch *domain.DownloadBatch, dir string, summary domain.BatchSummary, log *zap.Logger) {
	store, err := sqlite.Open(cfg.History.GetPath(), cfg.History.BusyTimeoutMs)
	if err != nil {
		log.Warn("failed to open history", zap.Error(err))
		return
	}
	defer store.Close()

	// the batch context may already be cancelled
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.RecordBatch(ctx, batch, dir, summary); err != nil {
		log.Warn("failed to record batch history", zap.String("batch_id", batch.ID), zap.Error(err))
	}
}

func printSummary(w io.Writer, s domain.BatchSummary, dir string) {
	fmt.Fprintf(w, "Downloaded %d/%d files (%s of %s) in %s to %s\n",
		s.Completed, s.TotalFiles,
		humanize.Bytes(uint64(s.BytesDone)), humanize.Bytes(uint64(s.TotalBytes)),
		s.Elapsed.Round(time.Second), dir,
	)
	if s.Cancelled > 0 {
		fmt.Fprintf(w, "Cancelled: %d\n", s.Cancelled)
	}
	if s.Failed > 0 {
		fmt.Fprintf(w, "Failed: %d\n", s.Failed)
		for _, f := range s.Failures {
			fmt.Fprintf(w, "  %s: %s after %d attempt(s): %s\n", f.Path, f.Kind, f.Attempts, f.Message)
		}
	}
}
