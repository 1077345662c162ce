package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a transfer session
type SessionStatus string

// Session status constants
const (
	SessionStatusPending    SessionStatus = "pending"
	SessionStatusInProgress SessionStatus = "in_progress"
	SessionStatusVerifying  SessionStatus = "verifying"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusFailed     SessionStatus = "failed"
)

// IsTerminal returns true once the session will not change again
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusFailed
}

// IsActive returns true while bytes may be moving
func (s SessionStatus) IsActive() bool {
	return s == SessionStatusInProgress || s == SessionStatusVerifying
}

// BackendKind selects how a file is transferred
type BackendKind string

// Backend kinds
const (
	BackendExternal BackendKind = "external"
	BackendDirect   BackendKind = "direct"
)

// TransferSession tracks the download of a single file across attempts.
// A session is owned by one worker at a time; it is not safe for concurrent mutation.
type TransferSession struct {
	ID               string
	Descriptor       FileDescriptor
	Status           SessionStatus
	Backend          BackendKind
	BytesTransferred int64
	AttemptCount     int

	LastError        ErrorKind
	LastErrorMessage string
	NextAttemptAt    *time.Time

	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// NewTransferSession creates a pending session for a descriptor
func NewTransferSession(desc FileDescriptor) *TransferSession {
	return &TransferSession{
		ID:         uuid.NewString(),
		Descriptor: desc,
		Status:     SessionStatusPending,
		CreatedAt:  time.Now(),
	}
}

func (s *TransferSession) transitionError(to SessionStatus) error {
	return fmt.Errorf("%w: %s -> %s (%s)", ErrInvalidStateTransition, s.Status, to, s.Descriptor.Path())
}

// Start begins a new attempt on the given backend
func (s *TransferSession) Start(backend BackendKind, now time.Time) error {
	if s.Status != SessionStatusPending {
		return s.transitionError(SessionStatusInProgress)
	}
	s.Status = SessionStatusInProgress
	s.Backend = backend
	s.AttemptCount++
	s.NextAttemptAt = nil
	if s.StartedAt == nil {
		s.StartedAt = &now
	}
	return nil
}

// Restart sets the byte count at the beginning of an attempt.
// It is the only way BytesTransferred may go down (a resume that the server refused).
func (s *TransferSession) Restart(offset int64) {
	s.BytesTransferred = s.clamp(offset)
}

// RecordProgress updates the byte count.
// Within an attempt the count never decreases; it returns false if nothing changed.
func (s *TransferSession) RecordProgress(bytes int64) bool {
	if s.Status != SessionStatusInProgress {
		return false
	}
	bytes = s.clamp(bytes)
	if bytes <= s.BytesTransferred {
		return false
	}
	s.BytesTransferred = bytes
	return true
}

func (s *TransferSession) clamp(n int64) int64 {
	if n < 0 {
		return 0
	}
	if n > s.Descriptor.Size {
		return s.Descriptor.Size
	}
	return n
}

// BeginVerify moves the session into size verification
func (s *TransferSession) BeginVerify() error {
	if s.Status != SessionStatusInProgress {
		return s.transitionError(SessionStatusVerifying)
	}
	s.Status = SessionStatusVerifying
	return nil
}

// Complete marks the file as fully transferred and verified
func (s *TransferSession) Complete(now time.Time) error {
	if s.Status != SessionStatusVerifying {
		return s.transitionError(SessionStatusCompleted)
	}
	s.Status = SessionStatusCompleted
	s.BytesTransferred = s.Descriptor.Size
	s.LastError = ErrorKindNone
	s.LastErrorMessage = ""
	s.FinishedAt = &now
	return nil
}

// ScheduleRetry records a recoverable failure and returns the session to pending
func (s *TransferSession) ScheduleRetry(kind ErrorKind, msg string, at time.Time) error {
	if !s.Status.IsActive() {
		return s.transitionError(SessionStatusPending)
	}
	s.Status = SessionStatusPending
	s.LastError = kind
	s.LastErrorMessage = msg
	s.NextAttemptAt = &at
	return nil
}

// Fail ends the session with an error
func (s *TransferSession) Fail(kind ErrorKind, msg string, now time.Time) error {
	if s.Status.IsTerminal() {
		return s.transitionError(SessionStatusFailed)
	}
	s.Status = SessionStatusFailed
	s.LastError = kind
	s.LastErrorMessage = msg
	s.NextAttemptAt = nil
	s.FinishedAt = &now
	return nil
}

// Cancel ends a non-terminal session as cancelled.
// Sessions that never started keep AttemptCount at zero.
func (s *TransferSession) Cancel(now time.Time) error {
	return s.Fail(ErrorKindCancelled, ErrCancelled.Error(), now)
}

// CanRetry returns true if another attempt is allowed
func (s *TransferSession) CanRetry(maxAttempts int) bool {
	return s.AttemptCount < maxAttempts
}

// IsCancelled returns true if the session ended by cancellation
func (s *TransferSession) IsCancelled() bool {
	return s.Status == SessionStatusFailed && s.LastError == ErrorKindCancelled
}
