package manifest

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/vertextoedge/terabox-downloader/internal/adapter/terabox"
	"github.com/vertextoedge/terabox-downloader/internal/domain"
	"github.com/vertextoedge/terabox-downloader/internal/port"
)

// Resolver serves a listing saved as a JSON file in the resolver service format.
// The share URL argument only selects a sub-folder through its path= parameter.
type Resolver struct {
	path string
}

// Ensure Resolver implements port.ListingResolver
var _ port.ListingResolver = (*Resolver)(nil)

// New creates a manifest resolver for the given file
func New(path string) *Resolver {
	return &Resolver{path: path}
}

// List returns the listing tree from the manifest
func (r *Resolver) List(ctx context.Context, shareURL string) ([]domain.RemoteEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.ErrCancelled
	}

	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.NewResolutionError(domain.ErrorKindNotFound, r.path, err)
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	entries, err := terabox.ParseListing(data)
	if err != nil {
		return nil, domain.NewResolutionError(domain.ErrorKindInvalidURL, r.path, fmt.Errorf("invalid manifest: %w", err))
	}

	if shareURL != "" {
		if link, err := terabox.ParseShareURL(shareURL); err == nil && link.Path != "" {
			entries, _ = domain.SubTree(entries, link.Path)
		}
	}
	return entries, nil
}

// Resolve returns the flat file list from the manifest
func (r *Resolver) Resolve(ctx context.Context, shareURL string) ([]domain.FileDescriptor, error) {
	entries, err := r.List(ctx, shareURL)
	if err != nil {
		return nil, err
	}
	files := domain.Flatten(entries)
	if len(files) == 0 {
		return nil, domain.NewResolutionError(domain.ErrorKindNotFound, r.path, errors.New("manifest contains no files"))
	}
	return files, nil
}
