package pv

import (
	"context"

	"pv-go/internal/model"
)

// ShardReader is the read surface of one metadata shard.
// Lookups by local ID return *NotFoundError when the record is absent.
type ShardReader interface {
	GetAlbum(ctx context.Context, localID string) (*model.Album, error)
	FindChildAlbums(ctx context.Context, parent model.EntityID) ([]*model.Album, error)
	ListAlbums(ctx context.Context) ([]*model.Album, error)

	GetMediaItem(ctx context.Context, localID string) (*model.MediaItem, error)
	FindMediaItemsInAlbum(ctx context.Context, album model.EntityID) ([]*model.MediaItem, error)
	ListMediaItems(ctx context.Context) ([]*model.MediaItem, error)
}

// ShardWriter is the mutation surface of one metadata shard. Batch methods
// return the number of records actually affected.
type ShardWriter interface {
	CreateAlbum(ctx context.Context, album model.NewAlbum) (*model.Album, error)
	UpdateAlbums(ctx context.Context, updates []model.AlbumUpdate) (int, error)
	DeleteAlbums(ctx context.Context, localIDs []string) (int, error)

	CreateMediaItem(ctx context.Context, item model.NewMediaItem) (*model.MediaItem, error)
	UpdateMediaItems(ctx context.Context, updates []model.MediaItemUpdate) (int, error)
	DeleteMediaItems(ctx context.Context, localIDs []string) (int, error)
}

// Session groups mutations on a single shard. Exactly one of Commit or Abort
// must be called.
type Session interface {
	ShardWriter
	Commit() error
	Abort() error
}

// Shard is one metadata backend instance.
type Shard interface {
	ShardReader

	// ID returns the identifier stamped on every entity this shard creates.
	ID() model.ShardID

	// FreeSpace returns the remaining capacity in bytes at the time of the call.
	FreeSpace(ctx context.Context) (int64, error)

	// StartSession opens a mutation session. The caller must not read from the
	// same shard while the session is open.
	StartSession(ctx context.Context) (Session, error)

	Close() error
}
