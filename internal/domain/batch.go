package domain

import (
	"errors"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DownloadBatch is the set of sessions created from one share URL
type DownloadBatch struct {
	ID        string
	ShareURL  string
	Sessions  []*TransferSession
	StartedAt time.Time
}

// NewBatch creates one pending session per descriptor.
// A file without a download link gets a session that has already failed as
// not found, so the rest of the batch still runs. Paths that collide after
// sanitizing are renamed with a _1, _2 ... suffix so no two sessions write
// the same target.
func NewBatch(shareURL string, files []FileDescriptor) (*DownloadBatch, error) {
	if len(files) == 0 {
		return nil, ErrEmptyBatch
	}

	now := time.Now()
	taken := make(map[string]struct{}, len(files))
	sessions := make([]*TransferSession, 0, len(files))
	for _, f := range files {
		err := f.Validate()
		if err != nil && !errors.Is(err, ErrMissingURL) {
			return nil, err
		}
		s := NewTransferSession(uniquePath(f, taken))
		if err != nil {
			_ = s.Fail(ErrorKindNotFound, ErrMissingURL.Error(), now)
		}
		sessions = append(sessions, s)
	}

	return &DownloadBatch{
		ID:        uuid.NewString(),
		ShareURL:  shareURL,
		Sessions:  sessions,
		StartedAt: now,
	}, nil
}

// uniquePath returns f renamed with the first free _N suffix when its path is
// already taken, and marks the result as taken
func uniquePath(f FileDescriptor, taken map[string]struct{}) FileDescriptor {
	if _, dup := taken[f.Path()]; dup {
		ext := path.Ext(f.Name)
		if ext == f.Name {
			ext = ""
		}
		stem := strings.TrimSuffix(f.Name, ext)
		segments := append([]string(nil), f.RelativePath...)
		for i := 1; ; i++ {
			segments[len(segments)-1] = stem + "_" + strconv.Itoa(i) + ext
			if _, dup := taken[strings.Join(segments, "/")]; !dup {
				break
			}
		}
		f.Name = segments[len(segments)-1]
		f.RelativePath = segments
	}
	taken[f.Path()] = struct{}{}
	return f
}

// Done returns true when every session is terminal
func (b *DownloadBatch) Done() bool {
	for _, s := range b.Sessions {
		if !s.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// TotalBytes returns the expected size of the whole batch
func (b *DownloadBatch) TotalBytes() int64 {
	var total int64
	for _, s := range b.Sessions {
		total += s.Descriptor.Size
	}
	return total
}

// FailureRecord describes one session that did not complete
type FailureRecord struct {
	SessionID string
	Path      string
	Kind      ErrorKind
	Message   string
	Attempts  int
}

// BatchSummary is the final report of a batch
type BatchSummary struct {
	BatchID    string
	TotalFiles int
	Completed  int
	Failed     int
	Cancelled  int
	TotalBytes int64
	BytesDone  int64
	Elapsed    time.Duration
	Failures   []FailureRecord
}

// OK returns true if every file completed
func (s BatchSummary) OK() bool {
	return s.Completed == s.TotalFiles
}

// Summarize builds the batch report. Cancelled sessions are not counted as failed.
func (b *DownloadBatch) Summarize(now time.Time) BatchSummary {
	sum := BatchSummary{
		BatchID:    b.ID,
		TotalFiles: len(b.Sessions),
		Elapsed:    now.Sub(b.StartedAt),
	}
	for _, s := range b.Sessions {
		sum.TotalBytes += s.Descriptor.Size
		sum.BytesDone += s.BytesTransferred

		switch {
		case s.Status == SessionStatusCompleted:
			sum.Completed++
		case s.IsCancelled():
			sum.Cancelled++
		case s.Status == SessionStatusFailed:
			sum.Failed++
			sum.Failures = append(sum.Failures, FailureRecord{
				SessionID: s.ID,
				Path:      s.Descriptor.Path(),
				Kind:      s.LastError,
				Message:   s.LastErrorMessage,
				Attempts:  s.AttemptCount,
			})
		}
	}
	return sum
}
