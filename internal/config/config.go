package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g. TERABOX_DOWNLOAD_DIRECTORY
const EnvPrefix = "TERABOX"

// Config represents the entire application configuration
type Config struct {
	Download DownloadConfig `mapstructure:"download"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Transfer TransferConfig `mapstructure:"transfer"`
	External ExternalConfig `mapstructure:"external"`
	Resolver ResolverConfig `mapstructure:"resolver"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	History  HistoryConfig  `mapstructure:"history"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// DownloadConfig contains download settings
type DownloadConfig struct {
	Directory           string `mapstructure:"directory"`
	MaxConnections      int    `mapstructure:"max_connections"`
	SplitEnabled        bool   `mapstructure:"split_enabled"`
	Split               int    `mapstructure:"split"`
	MinSplitSize        string `mapstructure:"min_split_size"`
	UserAgent           string `mapstructure:"user_agent"`
	Workers             int    `mapstructure:"workers"`
	ForceDirect         bool   `mapstructure:"force_direct"`
	KeepPartialOnCancel bool   `mapstructure:"keep_partial_on_cancel"`
	RateLimit           string `mapstructure:"rate_limit"` // bytes per second for direct transfers, "0" = unlimited
	GroupThreshold      int    `mapstructure:"group_threshold"`
}

// RetryConfig contains retry/backoff settings
type RetryConfig struct {
	MaxAttempts int    `mapstructure:"max_attempts"`
	BaseDelay   string `mapstructure:"base_delay"`
	MaxDelay    string `mapstructure:"max_delay"`
}

// TransferConfig contains per-transfer timing settings
type TransferConfig struct {
	StallTimeout     string `mapstructure:"stall_timeout"`
	PollInterval     string `mapstructure:"poll_interval"`
	ProgressInterval string `mapstructure:"progress_interval"`
	RateWindow       string `mapstructure:"rate_window"`
}

// ExternalConfig contains the external download manager (aria2) settings
type ExternalConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	RPCURL       string `mapstructure:"rpc_url"`
	Secret       string `mapstructure:"secret"`
	AutoStart    bool   `mapstructure:"auto_start"`
	Binary       string `mapstructure:"binary"`
	ProbeTimeout string `mapstructure:"probe_timeout"`
	ProbeTTL     string `mapstructure:"probe_ttl"`
}

// ResolverConfig contains share link resolution settings
type ResolverConfig struct {
	Endpoint      string `mapstructure:"endpoint"`
	Cookie        string `mapstructure:"cookie"`
	Timeout       string `mapstructure:"timeout"`
	NormalizeHost bool   `mapstructure:"normalize_host"`
	SelectMirror  bool   `mapstructure:"select_mirror"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// HistoryConfig contains the optional download history journal settings
type HistoryConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Path          string `mapstructure:"path"`
	BusyTimeoutMs int    `mapstructure:"busy_timeout_ms"`
}

// MetricsConfig contains metrics export settings
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"` // node-exporter textfile written after each batch, empty = off
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("download.directory", "downloads")
	v.SetDefault("download.max_connections", 16)
	v.SetDefault("download.split_enabled", true)
	v.SetDefault("download.split", 16)
	v.SetDefault("download.min_split_size", "1M")
	v.SetDefault("download.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("download.workers", 3)
	v.SetDefault("download.force_direct", false)
	v.SetDefault("download.keep_partial_on_cancel", true)
	v.SetDefault("download.rate_limit", "0")
	v.SetDefault("download.group_threshold", 5)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "1s")
	v.SetDefault("retry.max_delay", "30s")
	v.SetDefault("transfer.stall_timeout", "30s")
	v.SetDefault("transfer.poll_interval", "500ms")
	v.SetDefault("transfer.progress_interval", "250ms")
	v.SetDefault("transfer.rate_window", "5s")
	v.SetDefault("external.enabled", true)
	v.SetDefault("external.rpc_url", "http://localhost:6800/jsonrpc")
	v.SetDefault("external.secret", "")
	v.SetDefault("external.auto_start", false)
	v.SetDefault("external.binary", "aria2c")
	v.SetDefault("external.probe_timeout", "2s")
	v.SetDefault("external.probe_ttl", "30s")
	v.SetDefault("resolver.endpoint", "")
	v.SetDefault("resolver.cookie", "")
	v.SetDefault("resolver.timeout", "30s")
	v.SetDefault("resolver.normalize_host", true)
	v.SetDefault("resolver.select_mirror", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("history.enabled", false)
	v.SetDefault("history.path", "")
	v.SetDefault("history.busy_timeout_ms", 5000)
	v.SetDefault("metrics.textfile", "")
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load loads configuration from the specified file path.
// An empty path searches for settings.{json,yaml} in the working directory.
// A missing file is not an error: defaults and environment overrides apply.
func Load(configPath string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := newViper()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("settings")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "terabox-dl"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Default returns the built-in configuration without reading files or the environment
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var config Config
	_ = v.Unmarshal(&config)
	return &config
}

// Save writes the configuration to path; the format follows the file extension
func (c *Config) Save(path string) error {
	v := viper.New()
	for key, value := range c.settings() {
		v.Set(key, value)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (c *Config) settings() map[string]interface{} {
	return map[string]interface{}{
		"download.directory":              c.Download.Directory,
		"download.max_connections":        c.Download.MaxConnections,
		"download.split_enabled":          c.Download.SplitEnabled,
		"download.split":                  c.Download.Split,
		"download.min_split_size":         c.Download.MinSplitSize,
		"download.user_agent":             c.Download.UserAgent,
		"download.workers":                c.Download.Workers,
		"download.force_direct":           c.Download.ForceDirect,
		"download.keep_partial_on_cancel": c.Download.KeepPartialOnCancel,
		"download.rate_limit":             c.Download.RateLimit,
		"download.group_threshold":        c.Download.GroupThreshold,
		"retry.max_attempts":              c.Retry.MaxAttempts,
		"retry.base_delay":                c.Retry.BaseDelay,
		"retry.max_delay":                 c.Retry.MaxDelay,
		"transfer.stall_timeout":          c.Transfer.StallTimeout,
		"transfer.poll_interval":          c.Transfer.PollInterval,
		"transfer.progress_interval":      c.Transfer.ProgressInterval,
		"transfer.rate_window":            c.Transfer.RateWindow,
		"external.enabled":                c.External.Enabled,
		"external.rpc_url":                c.External.RPCURL,
		"external.secret":                 c.External.Secret,
		"external.auto_start":             c.External.AutoStart,
		"external.binary":                 c.External.Binary,
		"external.probe_timeout":          c.External.ProbeTimeout,
		"external.probe_ttl":              c.External.ProbeTTL,
		"resolver.endpoint":               c.Resolver.Endpoint,
		"resolver.cookie":                 c.Resolver.Cookie,
		"resolver.timeout":                c.Resolver.Timeout,
		"resolver.normalize_host":         c.Resolver.NormalizeHost,
		"resolver.select_mirror":          c.Resolver.SelectMirror,
		"logging.level":                   c.Logging.Level,
		"logging.format":                  c.Logging.Format,
		"history.enabled":                 c.History.Enabled,
		"history.path":                    c.History.Path,
		"history.busy_timeout_ms":         c.History.BusyTimeoutMs,
		"metrics.textfile":                c.Metrics.Textfile,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate download config
	if c.Download.Directory == "" {
		return fmt.Errorf("download.directory is required")
	}
	if c.Download.MaxConnections < 1 || c.Download.MaxConnections > 16 {
		return fmt.Errorf("download.max_connections must be between 1 and 16")
	}
	if c.Download.SplitEnabled && c.Download.Split < 1 {
		return fmt.Errorf("download.split must be positive")
	}
	if c.Download.Workers < 1 || c.Download.Workers > 32 {
		return fmt.Errorf("download.workers must be between 1 and 32")
	}
	if c.Download.GroupThreshold < 0 {
		return fmt.Errorf("download.group_threshold cannot be negative")
	}
	minSplit, err := ParseSize(c.Download.MinSplitSize)
	if err != nil {
		return fmt.Errorf("invalid download.min_split_size: %w", err)
	}
	if minSplit < 1<<20 || minSplit > 1<<30 {
		return fmt.Errorf("download.min_split_size must be between 1M and 1024M")
	}
	if _, err := ParseSize(c.Download.RateLimit); err != nil {
		return fmt.Errorf("invalid download.rate_limit: %w", err)
	}

	// Validate retry config
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}

	durations := map[string]string{
		"retry.base_delay":           c.Retry.BaseDelay,
		"retry.max_delay":            c.Retry.MaxDelay,
		"transfer.stall_timeout":     c.Transfer.StallTimeout,
		"transfer.poll_interval":     c.Transfer.PollInterval,
		"transfer.progress_interval": c.Transfer.ProgressInterval,
		"transfer.rate_window":       c.Transfer.RateWindow,
		"external.probe_timeout":     c.External.ProbeTimeout,
		"external.probe_ttl":         c.External.ProbeTTL,
		"resolver.timeout":           c.Resolver.Timeout,
	}
	for key, value := range durations {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		if d < 0 {
			return fmt.Errorf("%s cannot be negative", key)
		}
	}
	if c.Retry.GetMaxDelay() < c.Retry.GetBaseDelay() {
		return fmt.Errorf("retry.max_delay must not be lower than retry.base_delay")
	}

	// Validate external manager config
	if c.External.Enabled {
		u, err := url.Parse(c.External.RPCURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid external.rpc_url: %q", c.External.RPCURL)
		}
		if c.External.AutoStart && c.External.Binary == "" {
			return fmt.Errorf("external.binary is required when external.auto_start is set")
		}
	}

	if c.Resolver.Endpoint != "" {
		if u, err := url.Parse(c.Resolver.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid resolver.endpoint: %q", c.Resolver.Endpoint)
		}
	}

	// Validate logging config
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
		// Valid formats
	default:
		return fmt.Errorf("invalid logging.format: %s", c.Logging.Format)
	}

	return nil
}

// ParseSize parses a human size. Single-letter suffixes follow aria2 and are binary ("1M" = 1 MiB).
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	switch last := s[len(s)-1]; last {
	case 'K', 'k', 'M', 'm', 'G', 'g':
		s += "iB"
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}

// GetMinSplitSize returns the minimum split size in bytes
func (c *DownloadConfig) GetMinSplitSize() int64 {
	n, _ := ParseSize(c.MinSplitSize)
	if n == 0 {
		return 1 << 20
	}
	return n
}

// GetRateLimit returns the direct transfer bandwidth cap in bytes per second, 0 = unlimited
func (c *DownloadConfig) GetRateLimit() int64 {
	n, _ := ParseSize(c.RateLimit)
	return n
}

// GetBaseDelay returns the first retry delay as time.Duration
func (c *RetryConfig) GetBaseDelay() time.Duration {
	d, _ := time.ParseDuration(c.BaseDelay)
	if d == 0 {
		return time.Second
	}
	return d
}

// GetMaxDelay returns the retry delay ceiling as time.Duration
func (c *RetryConfig) GetMaxDelay() time.Duration {
	d, _ := time.ParseDuration(c.MaxDelay)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}

// GetStallTimeout returns the no-progress timeout as time.Duration
func (c *TransferConfig) GetStallTimeout() time.Duration {
	d, _ := time.ParseDuration(c.StallTimeout)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}

// GetPollInterval returns the external manager poll interval as time.Duration
func (c *TransferConfig) GetPollInterval() time.Duration {
	d, _ := time.ParseDuration(c.PollInterval)
	if d == 0 {
		return 500 * time.Millisecond
	}
	return d
}

// GetProgressInterval returns the minimum interval between progress events of one session
func (c *TransferConfig) GetProgressInterval() time.Duration {
	d, _ := time.ParseDuration(c.ProgressInterval)
	return d
}

// GetRateWindow returns the sliding window used for transfer rates
func (c *TransferConfig) GetRateWindow() time.Duration {
	d, _ := time.ParseDuration(c.RateWindow)
	if d == 0 {
		return 5 * time.Second
	}
	return d
}

// GetProbeTimeout returns the availability probe timeout as time.Duration
func (c *ExternalConfig) GetProbeTimeout() time.Duration {
	d, _ := time.ParseDuration(c.ProbeTimeout)
	if d == 0 {
		return 2 * time.Second
	}
	return d
}

// GetProbeTTL returns how long a probe result is reused
func (c *ExternalConfig) GetProbeTTL() time.Duration {
	d, _ := time.ParseDuration(c.ProbeTTL)
	return d
}

// GetTimeout returns the resolver request timeout as time.Duration
func (c *ResolverConfig) GetTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}

// GetPath returns the history database path, defaulting to the user data directory
func (c *HistoryConfig) GetPath() string {
	if c.Path != "" {
		return c.Path
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "terabox-dl", "history.db")
	}
	return "history.db"
}
