package port

import (
	"context"

	"github.com/vertextoedge/terabox-downloader/internal/domain"
)

// Resolver turns a share URL into a flat list of downloadable files.
// Failures are *domain.ResolutionError values and are never retried.
type Resolver interface {
	Resolve(ctx context.Context, shareURL string) ([]domain.FileDescriptor, error)
}

// ListingResolver is implemented by resolvers that can return the nested tree
type ListingResolver interface {
	Resolver
	List(ctx context.Context, shareURL string) ([]domain.RemoteEntry, error)
}
