package domain

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"syscall"
)

// Common domain errors
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")

	// Cancellation is terminal but is not reported as a failure
	ErrCancelled = errors.New("transfer cancelled")

	// Batch and session errors
	ErrEmptyBatch             = errors.New("batch has no files")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrNegativeSize           = errors.New("file size cannot be negative")
	ErrEmptyPath              = errors.New("relative path cannot be empty")
	ErrMissingURL             = errors.New("download url is required")
)

// ErrorKind names a failure class carried on a session once it stops
type ErrorKind string

// Error kinds, grouped by the layer that produces them
const (
	ErrorKindNone ErrorKind = ""

	// Resolution layer (fatal)
	ErrorKindInvalidURL  ErrorKind = "invalid_url"
	ErrorKindExpired     ErrorKind = "expired"
	ErrorKindNotFound    ErrorKind = "not_found"
	ErrorKindRateLimited ErrorKind = "rate_limited"

	// Transfer layer (recoverable)
	ErrorKindTimeout         ErrorKind = "timeout"
	ErrorKindConnectionReset ErrorKind = "connection_reset"
	ErrorKindSizeMismatch    ErrorKind = "size_mismatch"
	ErrorKindTransient       ErrorKind = "transient"

	// Filesystem layer (fatal)
	ErrorKindPermissionDenied ErrorKind = "permission_denied"
	ErrorKindDiskFull         ErrorKind = "disk_full"

	ErrorKindCancelled ErrorKind = "cancelled"
)

// String returns the kind name
func (k ErrorKind) String() string {
	if k == ErrorKindNone {
		return "none"
	}
	return string(k)
}

// Recoverable reports whether a failure of this kind may be retried
func (k ErrorKind) Recoverable() bool {
	switch k {
	case ErrorKindTimeout, ErrorKindConnectionReset, ErrorKindSizeMismatch, ErrorKindTransient:
		return true
	default:
		return false
	}
}

// ResolutionError is returned when a share link cannot be turned into files.
// The link itself is bad, so it is never retried.
type ResolutionError struct {
	Kind ErrorKind
	URL  string
	Err  error
}

// Error returns the error message
func (e *ResolutionError) Error() string {
	msg := "resolve " + e.Kind.String()
	if e.URL != "" {
		msg += " (" + e.URL + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error
func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// NewResolutionError creates a new resolution error
func NewResolutionError(kind ErrorKind, url string, err error) *ResolutionError {
	return &ResolutionError{Kind: kind, URL: url, Err: err}
}

// TransferError represents a recoverable failure of one transfer attempt
type TransferError struct {
	Kind ErrorKind
	Err  error
}

// Error returns the error message
func (e *TransferError) Error() string {
	if e.Err != nil {
		return "transfer " + e.Kind.String() + ": " + e.Err.Error()
	}
	return "transfer " + e.Kind.String()
}

// Unwrap returns the underlying error
func (e *TransferError) Unwrap() error {
	return e.Err
}

// NewTransferError creates a new transfer error
func NewTransferError(kind ErrorKind, err error) *TransferError {
	return &TransferError{Kind: kind, Err: err}
}

// FilesystemError represents a local write failure. It aborts the session immediately.
type FilesystemError struct {
	Kind ErrorKind
	Path string
	Err  error
}

// Error returns the error message
func (e *FilesystemError) Error() string {
	msg := "filesystem " + e.Kind.String()
	if e.Path != "" {
		msg += " (" + e.Path + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error
func (e *FilesystemError) Unwrap() error {
	return e.Err
}

// NewFilesystemError creates a new filesystem error
func NewFilesystemError(kind ErrorKind, path string, err error) *FilesystemError {
	return &FilesystemError{Kind: kind, Path: path, Err: err}
}

// KindOf returns the error kind carried by err.
// Errors that are not part of the taxonomy are classified with Classify.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ErrorKindNone
	}
	if errors.Is(err, ErrCancelled) {
		return ErrorKindCancelled
	}

	var re *ResolutionError
	if errors.As(err, &re) {
		return re.Kind
	}
	var fe *FilesystemError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	var te *TransferError
	if errors.As(err, &te) {
		return te.Kind
	}

	return Classify(err)
}

// IsRecoverable returns true if the error should trigger another attempt
func IsRecoverable(err error) bool {
	return err != nil && KindOf(err).Recoverable()
}

// IsFatal returns true if the error ends the session without retry.
// Cancellation is terminal but not fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	kind := KindOf(err)
	return kind != ErrorKindCancelled && !kind.Recoverable()
}

// IsCancelled returns true if the error represents a cancellation
func IsCancelled(err error) bool {
	return KindOf(err) == ErrorKindCancelled
}

// Classify maps a raw Go error into the taxonomy.
// Unknown errors are treated as transient so they get a bounded number of retries.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return ErrorKindNone
	case errors.Is(err, context.Canceled), errors.Is(err, ErrCancelled):
		return ErrorKindCancelled
	case errors.Is(err, syscall.ENOSPC):
		return ErrorKindDiskFull
	case errors.Is(err, os.ErrPermission), errors.Is(err, syscall.EACCES),
		errors.Is(err, syscall.EPERM), errors.Is(err, syscall.EROFS):
		return ErrorKindPermissionDenied
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return ErrorKindTimeout
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE), errors.Is(err, io.ErrUnexpectedEOF):
		return ErrorKindConnectionReset
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorKindTimeout
	}

	return ErrorKindTransient
}

// ClassifyFilesystem wraps a local I/O error as a FilesystemError when it is fatal,
// and as a TransferError otherwise.
func ClassifyFilesystem(path string, err error) error {
	if err == nil {
		return nil
	}
	switch kind := Classify(err); kind {
	case ErrorKindDiskFull, ErrorKindPermissionDenied:
		return NewFilesystemError(kind, path, err)
	case ErrorKindCancelled:
		return ErrCancelled
	default:
		return NewTransferError(kind, err)
	}
}
