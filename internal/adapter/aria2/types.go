package aria2

import (
	"fmt"

	"github.com/vertextoedge/terabox-downloader/internal/domain"
)

// statusKeys limits aria2.tellStatus to the fields Poll reads
var statusKeys = []string{
	"gid", "status", "totalLength", "completedLength", "downloadSpeed", "errorCode", "errorMessage",
}

// Version is the aria2.getVersion result
type Version struct {
	Version string
}

// DownloadError is a failed download as reported by aria2 (its exit status codes)
type DownloadError struct {
	Code    int
	Message string
}

// Error returns the error message
func (e *DownloadError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("aria2 download error %d", e.Code)
	}
	return fmt.Sprintf("aria2 download error %d: %s", e.Code, e.Message)
}

// Kind maps aria2 exit status codes into the error taxonomy
func (e *DownloadError) Kind() domain.ErrorKind {
	switch e.Code {
	case 2, 5: // timeout, too slow
		return domain.ErrorKindTimeout
	case 3, 4: // resource not found
		return domain.ErrorKindNotFound
	case 6: // network problem
		return domain.ErrorKindConnectionReset
	case 9: // not enough disk space
		return domain.ErrorKindDiskFull
	case 15, 16, 18: // cannot open, create or mkdir
		return domain.ErrorKindPermissionDenied
	case 24: // HTTP authorization failed
		return domain.ErrorKindExpired
	default:
		return domain.ErrorKindTransient
	}
}

// classify wraps a DownloadError into the matching taxonomy error
func (e *DownloadError) classify() error {
	switch kind := e.Kind(); kind {
	case domain.ErrorKindNotFound, domain.ErrorKindExpired:
		return domain.NewResolutionError(kind, "", e)
	case domain.ErrorKindDiskFull, domain.ErrorKindPermissionDenied:
		return domain.NewFilesystemError(kind, "", e)
	default:
		return domain.NewTransferError(kind, e)
	}
}
