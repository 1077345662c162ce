package port

import (
	"context"
	"time"

	"github.com/vertextoedge/terabox-downloader/internal/domain"
)

// BatchRecord is a finished batch as stored in the history journal
type BatchRecord struct {
	ID         string
	ShareURL   string
	Directory  string
	TotalFiles int
	Completed  int
	Failed     int
	Cancelled  int
	TotalBytes int64
	BytesDone  int64
	StartedAt  time.Time
	Elapsed    time.Duration
}

// SessionRecord is one file of a recorded batch
type SessionRecord struct {
	BatchID   string
	SessionID string
	Path      string
	Size      int64
	Status    domain.SessionStatus
	Backend   domain.BackendKind
	Attempts  int
	ErrorKind domain.ErrorKind
	Error     string
}

// HistoryRepository stores finished batches. It is used by the command line
// shell only; the transfer core persists nothing besides downloaded files.
type HistoryRepository interface {
	RecordBatch(ctx context.Context, batch *domain.DownloadBatch, directory string, summary domain.BatchSummary) error
	ListBatches(ctx context.Context, limit int) ([]BatchRecord, error)
	ListSessions(ctx context.Context, batchID string) ([]SessionRecord, error)
	PruneBatches(ctx context.Context, before time.Time) (int, error)
	Close() error
}
