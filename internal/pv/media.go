package pv

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"pv-go/internal/model"
)

// MediaItemRepository presents the media items of every shard as one repository.
type MediaItemRepository struct {
	fed    *Federation
	logger Logger
}

func NewMediaItemRepository(fed *Federation, logger Logger) *MediaItemRepository {
	return &MediaItemRepository{fed: fed, logger: logger}
}

func (r *MediaItemRepository) Get(ctx context.Context, id model.EntityID) (*model.MediaItem, error) {
	s, err := r.fed.Shard(id)
	if err != nil {
		return nil, err
	}
	return s.GetMediaItem(ctx, id.Local)
}

func (r *MediaItemRepository) All(ctx context.Context) ([]*model.MediaItem, error) {
	return fanOut(ctx, r.fed.Shards(), func(ctx context.Context, s Shard) ([]*model.MediaItem, error) {
		items, err := s.ListMediaItems(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing media items on shard %q: %w", s.ID(), err)
		}
		return items, nil
	})
}

// FindInAlbum returns the media items of album, from every shard.
func (r *MediaItemRepository) FindInAlbum(ctx context.Context, album model.EntityID) ([]*model.MediaItem, error) {
	return fanOut(ctx, r.fed.Shards(), func(ctx context.Context, s Shard) ([]*model.MediaItem, error) {
		items, err := s.FindMediaItemsInAlbum(ctx, album)
		if err != nil {
			return nil, fmt.Errorf("finding media items of %s on shard %q: %w", album, s.ID(), err)
		}
		return items, nil
	})
}

// Create stores a new media item on the shard with the most free space.
func (r *MediaItemRepository) Create(ctx context.Context, item model.NewMediaItem) (*model.MediaItem, error) {
	s, err := selectShard(ctx, r.fed)
	if err != nil {
		return nil, err
	}

	var created *model.MediaItem
	err = InSession(ctx, s, func(w ShardWriter) error {
		created, err = w.CreateMediaItem(ctx, item)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating media item %q: %w", item.FileName, err)
	}

	r.logger.Debug("media item created", "id", created.ID.String(), "file", item.FileName)
	return created, nil
}

func (r *MediaItemRepository) Update(ctx context.Context, update model.MediaItemUpdate) error {
	if _, err := r.Get(ctx, update.ID); err != nil {
		return err
	}
	_, err := r.UpdateMany(ctx, []model.MediaItemUpdate{update})
	return err
}

func (r *MediaItemRepository) UpdateMany(ctx context.Context, updates []model.MediaItemUpdate) (int, error) {
	return writePartitioned(ctx, r.fed, "update media items", updates,
		func(u model.MediaItemUpdate) model.EntityID { return u.ID },
		func(ctx context.Context, w ShardWriter, part []model.MediaItemUpdate) (int, error) {
			return w.UpdateMediaItems(ctx, part)
		})
}

func (r *MediaItemRepository) Delete(ctx context.Context, id model.EntityID) error {
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	_, err := r.DeleteMany(ctx, []model.EntityID{id})
	return err
}

func (r *MediaItemRepository) DeleteMany(ctx context.Context, ids []model.EntityID) (int, error) {
	return writePartitioned(ctx, r.fed, "delete media items", lo.Uniq(ids), identity,
		func(ctx context.Context, w ShardWriter, part []model.EntityID) (int, error) {
			return w.DeleteMediaItems(ctx, localIDs(part))
		})
}
