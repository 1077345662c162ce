package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vertextoedge/terabox-downloader/internal/config"
	"github.com/vertextoedge/terabox-downloader/internal/logger"
)

const version = "0.3.0"

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "terabox-dl",
	Short:         "Download TeraBox shares through aria2 or plain HTTP",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (default: settings.{json,yaml})")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newDownloadCmd(),
		newListCmd(),
		newProbeCmd(),
		newCleanCmd(),
		newHistoryCmd(),
		newConfigCmd(),
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

// setup loads the configuration and initializes the logger
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	zapLogger := logger.GetZapLogger()
	zapLogger.Debug("configuration loaded",
		zap.String("version", version),
		zap.String("config", configPath),
		zap.String("directory", cfg.Download.Directory),
	)
	return cfg, zapLogger, nil
}

// batchError is returned when a batch finished with failed or cancelled files
type batchError struct {
	failed    int
	cancelled int
}

func (e *batchError) Error() string {
	if e.cancelled > 0 {
		return fmt.Sprintf("%d file(s) failed, %d cancelled", e.failed, e.cancelled)
	}
	return fmt.Sprintf("%d file(s) failed", e.failed)
}

// exitCode maps an error to the process exit status: 130 when the batch was
// interrupted, 2 when files failed, 1 otherwise
func exitCode(err error) int {
	var be *batchError
	if errors.As(err, &be) {
		if be.cancelled > 0 {
			return 130
		}
		return 2
	}
	return 1
}
