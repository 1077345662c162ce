package port

import (
	"context"
)

// TransferState is the state of a transfer inside the external download manager
type TransferState string

// Transfer states
const (
	TransferActive   TransferState = "active"
	TransferWaiting  TransferState = "waiting"
	TransferPaused   TransferState = "paused"
	TransferComplete TransferState = "complete"
	TransferFailed   TransferState = "error"
	TransferRemoved  TransferState = "removed"
)

// IsFinished returns true if the manager will not move more bytes for the transfer
func (s TransferState) IsFinished() bool {
	return s == TransferComplete || s == TransferFailed || s == TransferRemoved
}

// TransferHandle identifies a transfer submitted to the external manager
type TransferHandle string

// DownloadOptions are the per-transfer options passed to the external manager
type DownloadOptions struct {
	MaxConnections int
	SplitEnabled   bool
	Split          int
	MinSplitSize   int64 // bytes
	UserAgent      string
	Headers        map[string]string
}

// PollResult is one status sample of an external transfer
type PollResult struct {
	State      TransferState
	BytesDone  int64
	TotalBytes int64
	Speed      int64 // bytes per second as reported by the manager
	Err        error // set when State is TransferFailed, already classified
}

// DownloadManager is an external multi-connection download manager
type DownloadManager interface {
	// IsReachable probes the manager; it never returns an error
	IsReachable(ctx context.Context) bool

	// Submit hands a URL to the manager, writing to target (absolute path)
	Submit(ctx context.Context, url, target string, opts DownloadOptions) (TransferHandle, error)

	// Poll returns the current status of a transfer
	Poll(ctx context.Context, h TransferHandle) (*PollResult, error)

	// Cancel stops a transfer and forgets it
	Cancel(ctx context.Context, h TransferHandle) error
}
