package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/vertextoedge/terabox-downloader/internal/adapter/filesystem"
	"github.com/vertextoedge/terabox-downloader/internal/adapter/sqlite"
	"github.com/vertextoedge/terabox-downloader/internal/config"
	"github.com/vertextoedge/terabox-downloader/internal/domain"
	"github.com/vertextoedge/terabox-downloader/internal/logger"
	"github.com/vertextoedge/terabox-downloader/internal/service/maintenance"
)

func newListCmd() *cobra.Command {
	var manifestPath string
	cmd := &cobra.Command{
		Use:   "list [share-url]",
		Short: "Print the files of a share without downloading",
		Args:  cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var shareURL string
			if len(args) == 1 {
				shareURL = args[0]
			}
			if shareURL == "" && manifestPath == "" {
				return fmt.Errorf("a share URL or --manifest is required")
			}

			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			entries, err := newResolver(cfg, manifestPath, log).List(ctx, shareURL)
			if err != nil {
				return fmt.Errorf("failed to list share: %w", err)
			}
			files := domain.Flatten(entries)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', tabwriter.AlignRight)
			for i, f := range files {
				fmt.Fprintf(w, "%d\t%s\t  %s\t\n", i+1, humanize.Bytes(uint64(f.Size)), f.Path())
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d file(s), %s\n", len(files), humanize.Bytes(uint64(domain.TotalSize(files))))
			return nil
		},
	}
	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "Read the share listing from a JSON manifest")
	return cmd
}

func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Check whether the external download manager answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			out := cmd.OutOrStdout()
			if !cfg.External.Enabled {
				fmt.Fprintln(out, "external download manager disabled, direct downloads only")
				return nil
			}

			ctx, cancel := context.WithTimeout(context.Background(), cfg.External.GetProbeTimeout())
			defer cancel()

			client := newAria2Client(cfg, log)
			defer client.Close()
			v, err := client.GetVersion(ctx)
			if err != nil {
				return fmt.Errorf("aria2 at %s is not reachable: %w", cfg.External.RPCURL, err)
			}
			fmt.Fprintf(out, "aria2 %s reachable at %s\n", v.Version, cfg.External.RPCURL)
			return nil
		},
	}
}

func newCleanCmd() *cobra.Command {
	var (
		olderThan  time.Duration
		historyAge time.Duration
	)
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove stale partial files and empty folders from the download directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			fsManager, err := filesystem.NewManager(cfg.Download.Directory)
			if err != nil {
				return fmt.Errorf("failed to open download directory: %w", err)
			}

			var history maintenance.HistoryPruner
			if historyAge > 0 {
				store, err := sqlite.Open(cfg.History.GetPath(), cfg.History.BusyTimeoutMs)
				if err != nil {
					return fmt.Errorf("failed to open history: %w", err)
				}
				defer store.Close()
				history = store
			}

			svc := maintenance.New(&maintenance.Config{
				TempFileMaxAge:  olderThan,
				RemoveEmptyDirs: true,
				HistoryMaxAge:   historyAge,
			}, fsManager, history, log.Named("maintenance"))

			report, err := svc.Run(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "removed %d partial file(s) from %s\n", report.TempFiles, fsManager.RootDir())
			if historyAge > 0 {
				fmt.Fprintf(out, "pruned %d batch(es) from history\n", report.PrunedBatches)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 24*time.Hour, "Only remove partial files not modified for this long")
	cmd.Flags().DurationVar(&historyAge, "history-older-than", 0, "Also prune recorded batches older than this (0 keeps all)")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [batch-id]",
		Short: "Show recorded batches, or the files of one batch",
		Args:  cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			store, err := sqlite.Open(cfg.History.GetPath(), cfg.History.BusyTimeoutMs)
			if err != nil {
				return fmt.Errorf("failed to open history: %w", err)
			}
			defer store.Close()

			ctx := context.Background()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)

			if len(args) == 1 {
				sessions, err := store.ListSessions(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(w, "STATUS\tBACKEND\tATTEMPTS\tSIZE\tPATH\tERROR")
				for _, s := range sessions {
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
						s.Status, s.Backend, s.Attempts, humanize.Bytes(uint64(s.Size)), s.Path, s.Error)
				}
				return w.Flush()
			}

			batches, err := store.ListBatches(ctx, limit)
			if err != nil {
				return err
			}
			if !cfg.History.Enabled && len(batches) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "history is disabled, set history.enabled to record batches")
				return nil
			}
			fmt.Fprintln(w, "ID\tSTARTED\tFILES\tDONE\tFAILED\tCANCELLED\tSIZE\tELAPSED\tSHARE")
			for _, b := range batches {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\t%s\n",
					b.ID, humanize.Time(b.StartedAt), b.TotalFiles, b.Completed, b.Failed, b.Cancelled,
					humanize.Bytes(uint64(b.TotalBytes)), b.Elapsed.Round(time.Second), b.ShareURL)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of batches to show")
	return cmd
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the settings file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a settings file with the default values",
		Args:  cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "settings.json"
			if len(args) == 1 {
				path = args[0]
			}
			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s already exists, use --force to overwrite", path)
				} else if !errors.Is(err, os.ErrNotExist) {
					return err
				}
			}
			if !strings.HasSuffix(path, ".json") && !strings.HasSuffix(path, ".yaml") && !strings.HasSuffix(path, ".yml") {
				return fmt.Errorf("unsupported settings format %q, use .json or .yaml", path)
			}
			if err := config.Default().Save(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")

	cmd.AddCommand(initCmd)
	return cmd
}
