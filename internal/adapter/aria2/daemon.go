package aria2

import (
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// DaemonConfig describes how to launch a local aria2c
type DaemonConfig struct {
	Binary         string
	RPCURL         string
	Secret         string
	MaxConnections int
	Split          int
	MinSplitSize   string
	MaxConcurrent  int           // transfers aria2 runs at once, default 5
	StartTimeout   time.Duration // how long to wait for the RPC port, default 5s
}

// Daemon is an aria2c process started by us
type Daemon struct {
	cmd    *exec.Cmd
	logger *zap.Logger
}

// DaemonArgs returns the aria2c command line for cfg
func DaemonArgs(cfg DaemonConfig) ([]string, error) {
	port := 6800
	if cfg.RPCURL != "" {
		u, err := url.Parse(cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("invalid rpc url: %w", err)
		}
		if p := u.Port(); p != "" {
			port, err = strconv.Atoi(p)
			if err != nil {
				return nil, fmt.Errorf("invalid rpc port %q: %w", p, err)
			}
		}
	}

	conns := cfg.MaxConnections
	if conns <= 0 {
		conns = 16
	}
	split := cfg.Split
	if split <= 0 {
		split = 16
	}
	concurrent := cfg.MaxConcurrent
	if concurrent <= 0 {
		concurrent = 5
	}
	minSplit := cfg.MinSplitSize
	if minSplit == "" {
		minSplit = "1M"
	}

	args := []string{
		"--enable-rpc",
		"--rpc-listen-all=false",
		"--rpc-listen-port=" + strconv.Itoa(port),
		"--max-concurrent-downloads=" + strconv.Itoa(concurrent),
		"--max-connection-per-server=" + strconv.Itoa(conns),
		"--split=" + strconv.Itoa(split),
		"--min-split-size=" + minSplit,
		"--file-allocation=none",
		"--continue=true",
		"--async-dns=true",
		"--reuse-uri=true",
		"--enable-http-keep-alive=true",
		"--uri-selector=inorder",
		"--min-tls-version=TLSv1.2",
	}
	if cfg.Secret != "" {
		args = append(args, "--rpc-secret="+cfg.Secret)
	}
	return args, nil
}

// StartDaemon launches aria2c and waits until its RPC interface answers
func StartDaemon(ctx context.Context, cfg DaemonConfig, logger *zap.Logger) (*Daemon, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	binary := cfg.Binary
	if binary == "" {
		binary = "aria2c"
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("aria2c not found: %w", err)
	}

	args, err := DaemonArgs(cfg)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(path, args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start aria2c: %w", err)
	}
	d := &Daemon{cmd: cmd, logger: logger}
	logger.Info("aria2c started", zap.String("binary", path), zap.Int("pid", cmd.Process.Pid))

	timeout := cfg.StartTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := NewClient(cfg.RPCURL, &ClientConfig{Secret: cfg.Secret, ProbeTimeout: 500 * time.Millisecond})
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if client.IsReachable(ctx) {
			return d, nil
		}
		select {
		case <-ctx.Done():
			d.Stop()
			return nil, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}

	d.Stop()
	return nil, fmt.Errorf("aria2c did not answer on %s within %s", cfg.RPCURL, timeout)
}

// Stop terminates the daemon
func (d *Daemon) Stop() {
	if d == nil || d.cmd == nil || d.cmd.Process == nil {
		return
	}
	if err := d.cmd.Process.Kill(); err != nil {
		d.logger.Debug("failed to kill aria2c", zap.Error(err))
	}
	_ = d.cmd.Wait()
	d.logger.Info("aria2c stopped")
}
