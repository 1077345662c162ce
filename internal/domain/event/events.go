package event

import (
	"time"

	"github.com/vertextoedge/terabox-downloader/internal/domain"
)

// Event names
const (
	NameSessionStatusChanged = "session.status_changed"
	NameSessionProgressed    = "session.progressed"
	NameBatchStarted         = "batch.started"
	NameBatchCompleted       = "batch.completed"
)

// DomainEvent is the interface for all domain events
type DomainEvent interface {
	// EventName returns the name of the event
	EventName() string
	// OccurredAt returns when the event occurred
	OccurredAt() time.Time
}

// BaseEvent provides common fields for all events
type BaseEvent struct {
	Timestamp time.Time
}

// OccurredAt returns when the event occurred
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// SessionStatusChanged is raised on every session state transition
type SessionStatusChanged struct {
	BaseEvent
	SessionID string
	Path      string
	Size      int64
	Backend   domain.BackendKind
	From      domain.SessionStatus
	To        domain.SessionStatus
	Attempt   int
	BytesDone int64
	ErrorKind domain.ErrorKind
	Error     string
	RetryIn   time.Duration // set when the session was rescheduled
	Duration  time.Duration // time since the session first started, set on terminal states
}

// EventName returns the event name
func (e SessionStatusChanged) EventName() string {
	return NameSessionStatusChanged
}

// NewSessionStatusChanged creates a status event from the session's current state
func NewSessionStatusChanged(s *domain.TransferSession, from domain.SessionStatus) SessionStatusChanged {
	now := time.Now()
	e := SessionStatusChanged{
		BaseEvent: BaseEvent{Timestamp: now},
		SessionID: s.ID,
		Path:      s.Descriptor.Path(),
		Size:      s.Descriptor.Size,
		Backend:   s.Backend,
		From:      from,
		To:        s.Status,
		Attempt:   s.AttemptCount,
		BytesDone: s.BytesTransferred,
		ErrorKind: s.LastError,
		Error:     s.LastErrorMessage,
	}
	if s.NextAttemptAt != nil && s.Status == domain.SessionStatusPending {
		e.RetryIn = s.NextAttemptAt.Sub(now)
	}
	if s.Status.IsTerminal() && s.StartedAt != nil {
		e.Duration = now.Sub(*s.StartedAt)
	}
	return e
}

// SessionProgressed is raised while bytes are moving for a session
type SessionProgressed struct {
	BaseEvent
	SessionID  string
	Status     domain.SessionStatus
	BytesDone  int64
	TotalBytes int64
	Rate       float64 // bytes per second since the previous sample of this session, 0 on the first
}

// EventName returns the event name
func (e SessionProgressed) EventName() string {
	return NameSessionProgressed
}

// NewSessionProgressed creates a new SessionProgressed event
func NewSessionProgressed(s *domain.TransferSession, rate float64) SessionProgressed {
	return SessionProgressed{
		BaseEvent:  BaseEvent{Timestamp: time.Now()},
		SessionID:  s.ID,
		Status:     s.Status,
		BytesDone:  s.BytesTransferred,
		TotalBytes: s.Descriptor.Size,
		Rate:       rate,
	}
}

// BatchStarted is raised once the sessions of a batch exist
type BatchStarted struct {
	BaseEvent
	BatchID    string
	ShareURL   string
	TotalFiles int
	TotalBytes int64
	SessionIDs []string
	Sizes      []int64
}

// EventName returns the event name
func (e BatchStarted) EventName() string {
	return NameBatchStarted
}

// NewBatchStarted creates a new BatchStarted event
func NewBatchStarted(b *domain.DownloadBatch) BatchStarted {
	e := BatchStarted{
		BaseEvent:  BaseEvent{Timestamp: time.Now()},
		BatchID:    b.ID,
		ShareURL:   b.ShareURL,
		TotalFiles: len(b.Sessions),
		TotalBytes: b.TotalBytes(),
		SessionIDs: make([]string, len(b.Sessions)),
		Sizes:      make([]int64, len(b.Sessions)),
	}
	for i, s := range b.Sessions {
		e.SessionIDs[i] = s.ID
		e.Sizes[i] = s.Descriptor.Size
	}
	return e
}

// BatchCompleted is raised when every session of a batch is terminal
type BatchCompleted struct {
	BaseEvent
	Summary domain.BatchSummary
}

// EventName returns the event name
func (e BatchCompleted) EventName() string {
	return NameBatchCompleted
}

// NewBatchCompleted creates a new BatchCompleted event
func NewBatchCompleted(summary domain.BatchSummary) BatchCompleted {
	return BatchCompleted{
		BaseEvent: BaseEvent{Timestamp: time.Now()},
		Summary:   summary,
	}
}
