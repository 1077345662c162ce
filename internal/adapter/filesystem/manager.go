package filesystem

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/vertextoedge/terabox-downloader/internal/port"
)

// PartialSuffix marks files that are still being written by a direct transfer
const PartialSuffix = ".part"

// aria2 keeps its resume state next to the target
const aria2ControlSuffix = ".aria2"

// Manager handles local filesystem operations under a download root
type Manager struct {
	rootDir    string
	bufferSize int
}

// Ensure Manager implements port.FileSystem
var _ port.FileSystem = (*Manager)(nil)

// NewManager creates a new filesystem manager
func NewManager(rootDir string) (*Manager, error) {
	return NewManagerWithBufferSize(rootDir, 1024*1024) // 1MB default
}

// NewManagerWithBufferSize creates a new filesystem manager with custom write buffer size
func NewManagerWithBufferSize(rootDir string, bufferSize int) (*Manager, error) {
	abs, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve download dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create download dir: %w", err)
	}

	if bufferSize <= 0 {
		bufferSize = 1024 * 1024
	}

	return &Manager{
		rootDir:    abs,
		bufferSize: bufferSize,
	}, nil
}

// RootDir returns the download root directory
func (m *Manager) RootDir() string {
	return m.rootDir
}

// TargetPath returns the local path for a relative path, always below the root
func (m *Manager) TargetPath(relativePath []string) string {
	parts := make([]string, 0, len(relativePath)+1)
	parts = append(parts, m.rootDir)
	for _, p := range relativePath {
		if p == "" || p == "." || p == ".." {
			continue
		}
		parts = append(parts, p)
	}
	return filepath.Join(parts...)
}

// TempPath returns the partial file path for a target
func (m *Manager) TempPath(target string) string {
	return target + PartialSuffix
}

// EnsureParent ensures the directory for a file path exists
func (m *Manager) EnsureParent(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0755)
}

// OpenForWrite opens a file for writing, appending to it when resume is set
func (m *Manager) OpenForWrite(path string, resume bool) (io.WriteCloser, int64, error) {
	if err := m.EnsureParent(path); err != nil {
		return nil, 0, fmt.Errorf("failed to create parent dir: %w", err)
	}

	var f *os.File
	var existingSize int64
	var err error

	if resume {
		if info, statErr := os.Stat(path); statErr == nil {
			existingSize = info.Size()
			f, err = os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				return nil, 0, fmt.Errorf("failed to open partial file for resume: %w", err)
			}
		}
	}
	if f == nil {
		existingSize = 0
		f, err = os.Create(path)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to create partial file: %w", err)
		}
	}

	return &bufferedFile{f: f, w: bufio.NewWriterSize(f, m.bufferSize)}, existingSize, nil
}

// CreateEmpty creates an empty file, truncating any existing one
func (m *Manager) CreateEmpty(path string) error {
	if err := m.EnsureParent(path); err != nil {
		return fmt.Errorf("failed to create parent dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	return f.Close()
}

// Size returns the size of a file
func (m *Manager) Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Rename moves a file into place
func (m *Manager) Rename(from, to string) error {
	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("failed to rename partial file: %w", err)
	}
	return nil
}

// Remove deletes a file
func (m *Manager) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// RemovePartial deletes the .part file and the aria2 control file of a target
func (m *Manager) RemovePartial(target string) error {
	if err := m.Remove(m.TempPath(target)); err != nil {
		return err
	}
	return m.Remove(target + aria2ControlSuffix)
}

// CleanOldTempFiles removes partial and aria2 control files older than the specified duration
func (m *Manager) CleanOldTempFiles(olderThan time.Duration) (int, error) {
	count := 0
	threshold := time.Now().Add(-olderThan)

	err := filepath.Walk(m.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		switch filepath.Ext(path) {
		case PartialSuffix, aria2ControlSuffix:
			if info.ModTime().Before(threshold) {
				if removeErr := os.Remove(path); removeErr == nil {
					count++
				}
			}
		}
		return nil
	})
	return count, err
}

// CleanEmptyDirs removes empty directories under root
func (m *Manager) CleanEmptyDirs() error {
	var dirs []string
	err := filepath.Walk(m.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() && path != m.rootDir {
			dirs = append(dirs, path)
		}
		return nil
	})
	if err != nil {
		return err
	}
	// deepest first so parents become empty
	for i := len(dirs) - 1; i >= 0; i-- {
		os.Remove(dirs[i]) // Will only succeed if empty
	}
	return nil
}

// UniqueDir returns parent/name, suffixed with _1, _2 ... when it already exists
func UniqueDir(parent, name string) string {
	candidate := filepath.Join(parent, name)
	for i := 1; ; i++ {
		if _, err := os.Stat(candidate); errors.Is(err, os.ErrNotExist) {
			return candidate
		}
		candidate = filepath.Join(parent, name+"_"+strconv.Itoa(i))
	}
}

type bufferedFile struct {
	f *os.File
	w *bufio.Writer
}

func (b *bufferedFile) Write(p []byte) (int, error) {
	return b.w.Write(p)
}

func (b *bufferedFile) Close() error {
	flushErr := b.w.Flush()
	closeErr := b.f.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
