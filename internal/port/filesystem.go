package port

import (
	"io"
	"time"
)

// DiskUsage represents disk usage statistics
type DiskUsage struct {
	Total   uint64  // Total disk space in bytes
	Used    uint64  // Used disk space in bytes
	Free    uint64  // Free disk space in bytes
	UsedPct float64 // Used percentage (0-100)
}

// FileSystem defines the local filesystem operations of a transfer
type FileSystem interface {
	// RootDir returns the download root directory
	RootDir() string

	// TargetPath returns the final local path for a relative path
	TargetPath(relativePath []string) string

	// TempPath returns the partial file path used while a direct transfer runs
	TempPath(target string) string

	// EnsureParent creates the parent directories of path
	EnsureParent(path string) error

	// OpenForWrite opens path for writing. With resume set, an existing file
	// is appended to and its size is returned as the starting offset.
	OpenForWrite(path string, resume bool) (io.WriteCloser, int64, error)

	// CreateEmpty creates (or truncates) an empty file
	CreateEmpty(path string) error

	// Size returns the size of a file, or an error wrapping os.ErrNotExist
	Size(path string) (int64, error)

	// Rename moves a file into place
	Rename(from, to string) error

	// Remove deletes a file; a missing file is not an error
	Remove(path string) error

	// RemovePartial deletes the partial and resume-control files of a target
	RemovePartial(target string) error

	// GetDiskUsage returns disk usage statistics for the root directory
	GetDiskUsage() (*DiskUsage, error)

	// CleanOldTempFiles removes partial files older than the specified duration
	// Returns the number of files deleted
	CleanOldTempFiles(olderThan time.Duration) (int, error)
}
