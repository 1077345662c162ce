package domain

import (
	"fmt"
	"strings"
)

// FileDescriptor describes one downloadable remote file.
// It is immutable once the resolver has produced it.
type FileDescriptor struct {
	Name         string
	Size         int64
	RemoteID     string
	DownloadURL  string
	RelativePath []string // directory segments followed by Name
}

// Path returns the slash-joined relative path of the file
func (d FileDescriptor) Path() string {
	return strings.Join(d.RelativePath, "/")
}

// Dir returns the directory segments without the file name
func (d FileDescriptor) Dir() []string {
	if len(d.RelativePath) <= 1 {
		return nil
	}
	return d.RelativePath[:len(d.RelativePath)-1]
}

// Validate checks the descriptor invariants
func (d FileDescriptor) Validate() error {
	if d.Size < 0 {
		return fmt.Errorf("%s: %w", d.Path(), ErrNegativeSize)
	}
	if len(d.RelativePath) == 0 || d.Name == "" {
		return ErrEmptyPath
	}
	if d.Size > 0 && d.DownloadURL == "" {
		return fmt.Errorf("%s: %w", d.Path(), ErrMissingURL)
	}
	return nil
}

// RemoteEntry is one node of a nested share listing
type RemoteEntry struct {
	Name        string
	IsDir       bool
	Size        int64
	RemoteID    string
	DownloadURL string
	Links       []string // alternative download links, fastest is picked by the resolver
	Children    []RemoteEntry
}

// Flatten converts a listing tree into file descriptors.
// Directory names become RelativePath segments; empty directories produce nothing.
func Flatten(entries []RemoteEntry) []FileDescriptor {
	var out []FileDescriptor
	flattenInto(&out, nil, entries)
	return out
}

func flattenInto(out *[]FileDescriptor, parent []string, entries []RemoteEntry) {
	for _, e := range entries {
		name := SanitizeSegment(e.Name)
		if name == "" {
			continue
		}
		segments := make([]string, len(parent), len(parent)+1)
		copy(segments, parent)
		segments = append(segments, name)

		if e.IsDir {
			flattenInto(out, segments, e.Children)
			continue
		}

		*out = append(*out, FileDescriptor{
			Name:         name,
			Size:         e.Size,
			RemoteID:     e.RemoteID,
			DownloadURL:  e.DownloadURL,
			RelativePath: segments,
		})
	}
}

// SanitizeSegment makes a remote name safe to use as a single path segment
func SanitizeSegment(name string) string {
	name = strings.TrimSpace(name)
	if name == "." || name == ".." {
		return ""
	}
	return strings.NewReplacer("/", "_", "\\", "_", "\x00", "").Replace(name)
}

// SubTree returns the children of the directory at path, matched case-insensitively.
// The full listing is returned, with found set to false, when the path does not exist.
func SubTree(entries []RemoteEntry, path string) ([]RemoteEntry, bool) {
	var parts []string
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return entries, true
	}

	current := entries
	for _, part := range parts {
		found := false
		for _, e := range current {
			if e.IsDir && strings.EqualFold(e.Name, part) {
				current = e.Children
				found = true
				break
			}
		}
		if !found {
			return entries, false
		}
	}
	return current, true
}

// TotalSize sums the sizes of the given descriptors
func TotalSize(files []FileDescriptor) int64 {
	var total int64
	for _, f := range files {
		total += f.Size
	}
	return total
}
