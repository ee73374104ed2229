package pv

import (
	"context"
	"fmt"
	"slices"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"pv-go/internal/model"
)

// DefaultQuarantineContainer is the account container unreachable blobs are
// moved into.
const DefaultQuarantineContainer = "pv-quarantine"

// SweepResult reports what one sweep removed.
type SweepResult struct {
	NumAlbumsDeleted     int
	NumMediaItemsDeleted int
	NumBlobsQuarantined  int
	NumAlbumsPruned      int
}

// Sweeper is a mark-and-sweep collector over albums, media items and blobs.
type Sweeper struct {
	fed        *Federation
	albums     *AlbumRepository
	media      *MediaItemRepository
	pruner     *Pruner
	logger     Logger
	quarantine string
}

func NewSweeper(fed *Federation, albums *AlbumRepository, media *MediaItemRepository, pruner *Pruner,
	logger Logger, quarantine string) *Sweeper {
	if quarantine == "" {
		quarantine = DefaultQuarantineContainer
	}
	return &Sweeper{fed: fed, albums: albums, media: media, pruner: pruner, logger: logger, quarantine: quarantine}
}

// inventory is the full enumeration the sweep marks against.
type inventory struct {
	albums []*model.Album
	items  map[model.EntityID]*model.MediaItem
	blobs  []model.BlobRef
}

// reachability is the reachable part of the inventory.
type reachability struct {
	albums map[model.EntityID]bool
	items  map[model.EntityID]bool
	blobs  map[model.BlobRef]bool
	// order lists reachable albums breadth first.
	order []model.EntityID
	// lost holds reachable albums that had a media item dropped.
	lost map[model.EntityID]bool
}

// Sweep deletes albums and media items unreachable from the root album,
// quarantines blobs no kept media item references, and prunes albums left
// empty. Any failure aborts the sweep; running it again picks up where the
// failed run left off.
func (s *Sweeper) Sweep(ctx context.Context) (*SweepResult, error) {
	inv, err := s.enumerate(ctx)
	if err != nil {
		return nil, err
	}

	m, err := s.mark(ctx, inv)
	if err != nil {
		return nil, err
	}

	result := &SweepResult{}

	var deadItems []model.EntityID
	for id := range inv.items {
		if !m.items[id] {
			deadItems = append(deadItems, id)
		}
	}
	if len(deadItems) > 0 {
		n, err := s.media.DeleteMany(ctx, deadItems)
		result.NumMediaItemsDeleted = n
		if err != nil {
			return result, fmt.Errorf("deleting unreachable media items: %w", err)
		}
	}

	deadAlbums := lo.FilterMap(inv.albums, func(a *model.Album, _ int) (model.EntityID, bool) {
		return a.ID, !m.albums[a.ID]
	})
	if len(deadAlbums) > 0 {
		n, err := s.albums.DeleteMany(ctx, deadAlbums)
		result.NumAlbumsDeleted = n
		if err != nil {
			return result, fmt.Errorf("deleting unreachable albums: %w", err)
		}
	}

	deadBlobs := lo.Filter(inv.blobs, func(b model.BlobRef, _ int) bool { return !m.blobs[b] })
	n, err := s.quarantineBlobs(ctx, deadBlobs)
	result.NumBlobsQuarantined = n
	if err != nil {
		return result, err
	}

	// Reverse breadth-first order visits deeper albums first.
	for _, id := range slices.Backward(m.order) {
		if !m.lost[id] {
			continue
		}
		n, err := s.pruner.Prune(ctx, id)
		result.NumAlbumsPruned += n
		if err != nil {
			return result, fmt.Errorf("pruning %s: %w", id, err)
		}
	}

	s.logger.Info("sweep complete",
		"albums_deleted", result.NumAlbumsDeleted,
		"media_deleted", result.NumMediaItemsDeleted,
		"blobs_quarantined", result.NumBlobsQuarantined,
		"albums_pruned", result.NumAlbumsPruned,
	)
	return result, nil
}

// enumerate runs the three full scans concurrently.
func (s *Sweeper) enumerate(ctx context.Context) (*inventory, error) {
	inv := &inventory{}
	var items []*model.MediaItem

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		inv.albums, err = s.albums.All(gctx)
		return err
	})
	g.Go(func() (err error) {
		items, err = s.media.All(gctx)
		return err
	})
	g.Go(func() (err error) {
		inv.blobs, err = fanOut(gctx, s.fed.Accounts(), func(ctx context.Context, a Account) ([]model.BlobRef, error) {
			ids, err := a.ListBlobIDs(ctx)
			if err != nil {
				return nil, fmt.Errorf("listing blobs of account %q: %w", a.ID(), err)
			}
			return lo.Map(ids, func(id string, _ int) model.BlobRef {
				return model.BlobRef{Account: a.ID(), BlobID: id}
			}), nil
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("enumerating federation: %w", err)
	}

	inv.items = lo.KeyBy(items, func(m *model.MediaItem) model.EntityID { return m.ID })
	return inv, nil
}

// mark walks the album tree from the root, querying children and media items
// live, and keeps every media item that is enumerated and whose blob exists.
func (s *Sweeper) mark(ctx context.Context, inv *inventory) (*reachability, error) {
	root := s.fed.RootAlbumID()
	if _, err := s.albums.Get(ctx, root); err != nil {
		return nil, &ConsistencyViolation{Reason: fmt.Sprintf("root album unavailable: %v", err), AlbumID: root}
	}

	blobExists := make(map[model.BlobRef]bool, len(inv.blobs))
	for _, b := range inv.blobs {
		blobExists[b] = true
	}

	m := &reachability{
		albums: map[model.EntityID]bool{root: true},
		items:  make(map[model.EntityID]bool),
		blobs:  make(map[model.BlobRef]bool),
		lost:   make(map[model.EntityID]bool),
	}

	queue := []model.EntityID{root}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		m.order = append(m.order, id)

		items, err := s.media.FindInAlbum(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			if _, ok := inv.items[item.ID]; ok && blobExists[item.BlobRef()] {
				m.items[item.ID] = true
				m.blobs[item.BlobRef()] = true
				continue
			}
			m.lost[id] = true
			s.logger.Warn("dropping media item", "id", item.ID.String(), "album", id.String(), "blob", item.BlobRef().String())
		}

		children, err := s.albums.FindChildren(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, c := range children {
			if m.albums[c.ID] {
				return nil, &ConsistencyViolation{Reason: "album reached twice, parent chain has a cycle", AlbumID: c.ID}
			}
			m.albums[c.ID] = true
			queue = append(queue, c.ID)
		}
	}

	return m, nil
}

// quarantineBlobs moves blobs into each account's quarantine container,
// creating it on first use and batching moves by the account's limit.
func (s *Sweeper) quarantineBlobs(ctx context.Context, blobs []model.BlobRef) (int, error) {
	moved := 0
	byAccount := lo.GroupBy(blobs, func(b model.BlobRef) model.AccountID { return b.Account })

	for _, account := range s.fed.Accounts() {
		refs := byAccount[account.ID()]
		if len(refs) == 0 {
			continue
		}

		container, err := account.GetOrCreateContainer(ctx, s.quarantine)
		if err != nil {
			return moved, fmt.Errorf("opening quarantine on account %q: %w", account.ID(), err)
		}

		ids := lo.Map(refs, func(b model.BlobRef, _ int) string { return b.BlobID })
		for _, batch := range lo.Chunk(ids, max(account.MaxBatchSize(), 1)) {
			if err := account.MoveToContainer(ctx, batch, container); err != nil {
				return moved, fmt.Errorf("quarantining blobs on account %q: %w", account.ID(), err)
			}
			moved += len(batch)
		}
		s.logger.Info("blobs quarantined", "account", string(account.ID()), "count", len(ids))
	}

	return moved, nil
}
