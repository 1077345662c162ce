package progress

import (
	"sync"
	"time"

	"github.com/vertextoedge/terabox-downloader/internal/domain"
	"github.com/vertextoedge/terabox-downloader/internal/domain/event"
)

// Snapshot is a point-in-time view of a batch
type Snapshot struct {
	TotalFiles int
	Completed  int
	Failed     int
	Cancelled  int
	InProgress int
	Pending    int
	TotalBytes int64
	BytesDone  int64
	Rate       float64 // bytes per second over the rate window
	ETA        time.Duration
}

// Done returns true when no file is pending or in progress
func (s Snapshot) Done() bool {
	return s.TotalFiles > 0 && s.Completed+s.Failed+s.Cancelled == s.TotalFiles
}

// Percent returns the completed share of bytes, 100 for an empty batch
func (s Snapshot) Percent() float64 {
	if s.TotalBytes == 0 {
		if s.Done() || s.TotalFiles == 0 {
			return 100
		}
		return 0
	}
	return float64(s.BytesDone) * 100 / float64(s.TotalBytes)
}

type entry struct {
	size      int64
	bytes     int64
	status    domain.SessionStatus
	cancelled bool
}

type delta struct {
	at    time.Time
	bytes int64
}

// Aggregator folds per-session updates into batch totals.
// It is safe for concurrent use.
type Aggregator struct {
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	deltas  []delta
	started time.Time
}

// Ensure Aggregator implements event.EventHandler
var _ event.EventHandler = (*Aggregator)(nil)

// NewAggregator creates an aggregator computing the rate over window
func NewAggregator(window time.Duration) *Aggregator {
	if window <= 0 {
		window = 5 * time.Second
	}
	return &Aggregator{
		window:  window,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
}

// Track registers a session with its expected size
func (a *Aggregator) Track(sessionID string, size int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started.IsZero() {
		a.started = a.now()
	}
	if _, ok := a.entries[sessionID]; !ok {
		a.entries[sessionID] = &entry{size: size, status: domain.SessionStatusPending}
	}
}

// Record updates the byte count and status of a session.
// Only positive byte deltas feed the rate; a restart lowers the count silently.
func (a *Aggregator) Record(sessionID string, bytesDone int64, status domain.SessionStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	if a.started.IsZero() {
		a.started = now
	}
	e, ok := a.entries[sessionID]
	if !ok {
		e = &entry{size: bytesDone}
		a.entries[sessionID] = e
	}

	if status == domain.SessionStatusCompleted && bytesDone < e.size {
		bytesDone = e.size
	}
	if bytesDone > e.size {
		e.size = bytesDone
	}
	if d := bytesDone - e.bytes; d > 0 {
		a.deltas = append(a.deltas, delta{at: now, bytes: d})
	}
	e.bytes = bytesDone
	if status != "" {
		e.status = status
	}
	if status != domain.SessionStatusFailed {
		e.cancelled = false
	}
	a.prune(now)
}

// MarkCancelled flags a failed session as cancelled
func (a *Aggregator) MarkCancelled(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if e, ok := a.entries[sessionID]; ok {
		e.status = domain.SessionStatusFailed
		e.cancelled = true
	}
}

// Reset forgets every session. A new batch starts from a clean slate.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = make(map[string]*entry)
	a.deltas = nil
	a.started = time.Time{}
}

// Snapshot returns the current totals
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	a.prune(now)

	var snap Snapshot
	for _, e := range a.entries {
		snap.TotalFiles++
		snap.TotalBytes += e.size
		snap.BytesDone += e.bytes
		switch {
		case e.status == domain.SessionStatusCompleted:
			snap.Completed++
		case e.cancelled:
			snap.Cancelled++
		case e.status == domain.SessionStatusFailed:
			snap.Failed++
		case e.status.IsActive():
			snap.InProgress++
		default:
			snap.Pending++
		}
	}

	var windowBytes int64
	for _, d := range a.deltas {
		windowBytes += d.bytes
	}
	span := a.window
	if elapsed := now.Sub(a.started); elapsed < span {
		span = elapsed
	}
	if span > 0 && windowBytes > 0 {
		snap.Rate = float64(windowBytes) / span.Seconds()
	}
	if remaining := snap.TotalBytes - snap.BytesDone; snap.Rate > 0 && remaining > 0 {
		snap.ETA = time.Duration(float64(remaining) / snap.Rate * float64(time.Second))
	}
	return snap
}

// prune drops deltas older than the window. Callers hold a.mu.
func (a *Aggregator) prune(now time.Time) {
	cut := now.Add(-a.window)
	i := 0
	for i < len(a.deltas) && !a.deltas[i].at.After(cut) {
		i++
	}
	if i > 0 {
		a.deltas = append(a.deltas[:0], a.deltas[i:]...)
	}
}

// Handle folds dispatcher events into the aggregate
func (a *Aggregator) Handle(ev event.DomainEvent) error {
	switch e := ev.(type) {
	case event.BatchStarted:
		a.Reset()
		for i, id := range e.SessionIDs {
			a.Track(id, e.Sizes[i])
		}
	case event.SessionProgressed:
		a.Record(e.SessionID, e.BytesDone, e.Status)
	case event.SessionStatusChanged:
		a.Record(e.SessionID, e.BytesDone, e.To)
		if e.ErrorKind == domain.ErrorKindCancelled && e.To == domain.SessionStatusFailed {
			a.MarkCancelled(e.SessionID)
		}
	}
	return nil
}

// HandledEvents returns the events the aggregator subscribes to
func (a *Aggregator) HandledEvents() []string {
	return []string{
		event.NameBatchStarted,
		event.NameSessionProgressed,
		event.NameSessionStatusChanged,
	}
}
