package pv

import (
	"context"
	"io"

	"pv-go/internal/model"
)

// Account is one external blob-storage account.
// Implementations that talk to remote services retry transient failures
// internally and surface exhausted retries as *TransientBackendError.
type Account interface {
	// ID returns the account identifier recorded on media items.
	ID() model.AccountID

	// UsageAndLimit returns bytes in use and the byte limit of the account.
	UsageAndLimit(ctx context.Context) (usage int64, limit int64, err error)

	// Upload stores size bytes read from content and returns the new blob ID.
	// An upload either completes or fails; partial blobs are never visible.
	Upload(ctx context.Context, content io.ReaderAt, size int64, fileName string) (string, error)

	// Download writes the content of a blob to w.
	Download(ctx context.Context, blobID string, w io.Writer) error

	// ListBlobIDs returns every blob that is not inside a container.
	ListBlobIDs(ctx context.Context) ([]string, error)

	// GetOrCreateContainer returns the ID of the named container, creating it
	// if it does not exist.
	GetOrCreateContainer(ctx context.Context, name string) (string, error)

	// MoveToContainer moves blobs into a container. Callers must not pass more
	// than MaxBatchSize IDs per call.
	MoveToContainer(ctx context.Context, blobIDs []string, containerID string) error

	// MaxBatchSize is the per-call item ceiling of MoveToContainer.
	MaxBatchSize() int

	// ValidateSetup verifies that the account is reachable and configured.
	ValidateSetup(ctx context.Context) error
}
