package pv

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"pv-go/internal/model"
)

// AlbumRepository presents the albums of every shard as one repository.
type AlbumRepository struct {
	fed    *Federation
	logger Logger
}

func NewAlbumRepository(fed *Federation, logger Logger) *AlbumRepository {
	return &AlbumRepository{fed: fed, logger: logger}
}

// Get routes the lookup to the shard named by id.
func (r *AlbumRepository) Get(ctx context.Context, id model.EntityID) (*model.Album, error) {
	s, err := r.fed.Shard(id)
	if err != nil {
		return nil, err
	}
	return s.GetAlbum(ctx, id.Local)
}

// All returns the albums of every shard.
func (r *AlbumRepository) All(ctx context.Context) ([]*model.Album, error) {
	return fanOut(ctx, r.fed.Shards(), func(ctx context.Context, s Shard) ([]*model.Album, error) {
		albums, err := s.ListAlbums(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing albums on shard %q: %w", s.ID(), err)
		}
		return albums, nil
	})
}

// FindChildren returns the albums whose parent is parent, from every shard.
func (r *AlbumRepository) FindChildren(ctx context.Context, parent model.EntityID) ([]*model.Album, error) {
	return fanOut(ctx, r.fed.Shards(), func(ctx context.Context, s Shard) ([]*model.Album, error) {
		albums, err := s.FindChildAlbums(ctx, parent)
		if err != nil {
			return nil, fmt.Errorf("finding children of %s on shard %q: %w", parent, s.ID(), err)
		}
		return albums, nil
	})
}

// Create stores a new album on the shard with the most free space.
func (r *AlbumRepository) Create(ctx context.Context, name string, parent *model.EntityID) (*model.Album, error) {
	s, err := selectShard(ctx, r.fed)
	if err != nil {
		return nil, err
	}

	var album *model.Album
	err = InSession(ctx, s, func(w ShardWriter) error {
		album, err = w.CreateAlbum(ctx, model.NewAlbum{Name: name, ParentID: parent})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating album %q: %w", name, err)
	}

	r.logger.Debug("album created", "id", album.ID.String(), "name", name)
	return album, nil
}

// Update applies one album update on its shard. An unknown id is a
// *NotFoundError.
func (r *AlbumRepository) Update(ctx context.Context, update model.AlbumUpdate) error {
	if _, err := r.Get(ctx, update.ID); err != nil {
		return err
	}
	_, err := r.UpdateMany(ctx, []model.AlbumUpdate{update})
	return err
}

// UpdateMany partitions updates by shard and applies each partition.
func (r *AlbumRepository) UpdateMany(ctx context.Context, updates []model.AlbumUpdate) (int, error) {
	return writePartitioned(ctx, r.fed, "update albums", updates,
		func(u model.AlbumUpdate) model.EntityID { return u.ID },
		func(ctx context.Context, w ShardWriter, part []model.AlbumUpdate) (int, error) {
			return w.UpdateAlbums(ctx, part)
		})
}

// Delete removes one album from its shard. An unknown id is a
// *NotFoundError.
func (r *AlbumRepository) Delete(ctx context.Context, id model.EntityID) error {
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	_, err := r.DeleteMany(ctx, []model.EntityID{id})
	return err
}

// DeleteMany partitions ids by shard and deletes each partition. Duplicate
// ids count once.
func (r *AlbumRepository) DeleteMany(ctx context.Context, ids []model.EntityID) (int, error) {
	return writePartitioned(ctx, r.fed, "delete albums", lo.Uniq(ids), identity,
		func(ctx context.Context, w ShardWriter, part []model.EntityID) (int, error) {
			return w.DeleteAlbums(ctx, localIDs(part))
		})
}
