package pv

import (
	"context"
	"errors"
	"fmt"

	"pv-go/internal/model"
)

// Pruner deletes empty leaf albums and collapses their emptied ancestors.
type Pruner struct {
	fed    *Federation
	albums *AlbumRepository
	media  *MediaItemRepository
	logger Logger
}

func NewPruner(fed *Federation, albums *AlbumRepository, media *MediaItemRepository, logger Logger) *Pruner {
	return &Pruner{fed: fed, albums: albums, media: media, logger: logger}
}

// Prune deletes start if it has no child albums and no media items, then
// repeats with its parent. It stops at the first non-empty album or at the
// root album, which is never deleted. Starting from an album that no longer
// exists deletes nothing. Returns the number of albums deleted.
func (p *Pruner) Prune(ctx context.Context, start model.EntityID) (int, error) {
	root := p.fed.RootAlbumID()
	visited := make(map[model.EntityID]bool)
	deleted := 0

	id := start
	for id != root && !visited[id] {
		visited[id] = true

		album, err := p.albums.Get(ctx, id)
		if err != nil {
			var nf *NotFoundError
			if errors.As(err, &nf) {
				return deleted, nil
			}
			return deleted, fmt.Errorf("loading album %s: %w", id, err)
		}

		empty, err := p.isEmpty(ctx, id)
		if err != nil {
			return deleted, err
		}
		if !empty {
			break
		}

		if err := p.albums.Delete(ctx, id); err != nil {
			return deleted, fmt.Errorf("deleting empty album %s: %w", id, err)
		}
		deleted++
		p.logger.Info("empty album pruned", "id", id.String(), "name", album.Name)

		if album.ParentID == nil {
			break
		}
		id = *album.ParentID
	}

	return deleted, nil
}

func (p *Pruner) isEmpty(ctx context.Context, id model.EntityID) (bool, error) {
	children, err := p.albums.FindChildren(ctx, id)
	if err != nil {
		return false, fmt.Errorf("finding children of %s: %w", id, err)
	}
	if len(children) > 0 {
		return false, nil
	}

	items, err := p.media.FindInAlbum(ctx, id)
	if err != nil {
		return false, fmt.Errorf("finding media items of %s: %w", id, err)
	}
	return len(items) == 0, nil
}
