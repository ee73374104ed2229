package pv

import (
	"context"
	"errors"
	"fmt"
	"io"

	"pv-go/internal/model"
)

// RootAlbumName is the name given to the album created by InitRoot.
const RootAlbumName = "root"

// ServiceOptions tunes the engines a PVService builds.
type ServiceOptions struct {
	UploadConcurrency   int
	QuarantineContainer string
}

// PVService is the orchestration layer the CLI talks to. It owns the
// repositories and engines built over one federation.
type PVService struct {
	fed     *Federation
	albums  *AlbumRepository
	media   *MediaItemRepository
	pruner  *Pruner
	backup  *BackupEngine
	sweeper *Sweeper
	logger  Logger
}

func NewPVService(fed *Federation, content ContentSource, logger Logger, opts ServiceOptions) *PVService {
	albums := NewAlbumRepository(fed, logger)
	media := NewMediaItemRepository(fed, logger)
	pruner := NewPruner(fed, albums, media, logger)
	return &PVService{
		fed:     fed,
		albums:  albums,
		media:   media,
		pruner:  pruner,
		backup:  NewBackupEngine(fed, albums, media, pruner, content, logger, opts.UploadConcurrency),
		sweeper: NewSweeper(fed, albums, media, pruner, logger, opts.QuarantineContainer),
		logger:  logger,
	}
}

func (s *PVService) Albums() *AlbumRepository    { return s.albums }
func (s *PVService) Media() *MediaItemRepository { return s.media }

// InitRoot creates a parentless root album. It refuses to run when the
// federation already names a root that exists.
func (s *PVService) InitRoot(ctx context.Context) (*model.Album, error) {
	if root := s.fed.RootAlbumID(); !root.IsZero() {
		if _, err := s.albums.Get(ctx, root); err == nil {
			return nil, fmt.Errorf("root album %s already exists", root)
		}
	}
	album, err := s.albums.Create(ctx, RootAlbumName, nil)
	if err != nil {
		return nil, fmt.Errorf("creating root album: %w", err)
	}
	s.logger.Info("root album created", "id", album.ID.String())
	return album, nil
}

// ShardStatus reports one shard's free space.
type ShardStatus struct {
	ID        model.ShardID
	FreeSpace int64
}

// AccountStatus reports one account's usage.
type AccountStatus struct {
	ID    model.AccountID
	Usage int64
	Limit int64
}

// Status is a point-in-time view of the federation's capacity.
type Status struct {
	RootAlbumID model.EntityID
	Shards      []ShardStatus
	Accounts    []AccountStatus
}

// Status queries every shard and account concurrently.
func (s *PVService) Status(ctx context.Context) (*Status, error) {
	shards, err := fanOutEach(ctx, s.fed.Shards(), func(ctx context.Context, sh Shard) (ShardStatus, error) {
		free, err := sh.FreeSpace(ctx)
		if err != nil {
			return ShardStatus{}, fmt.Errorf("querying free space of shard %q: %w", sh.ID(), err)
		}
		return ShardStatus{ID: sh.ID(), FreeSpace: free}, nil
	})
	if err != nil {
		return nil, err
	}

	accounts, err := fanOutEach(ctx, s.fed.Accounts(), func(ctx context.Context, a Account) (AccountStatus, error) {
		usage, limit, err := a.UsageAndLimit(ctx)
		if err != nil {
			return AccountStatus{}, fmt.Errorf("querying usage of account %q: %w", a.ID(), err)
		}
		return AccountStatus{ID: a.ID(), Usage: usage, Limit: limit}, nil
	})
	if err != nil {
		return nil, err
	}

	return &Status{RootAlbumID: s.fed.RootAlbumID(), Shards: shards, Accounts: accounts}, nil
}

// Backup indexes the remote tree, drains source against it and applies the
// resulting diffs.
func (s *PVService) Backup(ctx context.Context, source DiffSource) (*BackupResult, error) {
	index, err := BuildTreeIndex(ctx, s.albums, s.media, s.fed.RootAlbumID())
	if err != nil {
		return nil, fmt.Errorf("indexing remote tree: %w", err)
	}

	var diffs []model.Diff
	for d, err := range source.Diffs(ctx, index) {
		if err != nil {
			return nil, fmt.Errorf("scanning: %w", err)
		}
		diffs = append(diffs, d)
	}

	s.logger.Info("diffs collected", "count", len(diffs))
	if len(diffs) == 0 {
		return &BackupResult{}, nil
	}
	return s.backup.Backup(ctx, diffs)
}

// ApplyDiffs hands diffs straight to the backup engine.
func (s *PVService) ApplyDiffs(ctx context.Context, diffs []model.Diff) (*BackupResult, error) {
	return s.backup.Backup(ctx, diffs)
}

func (s *PVService) Sweep(ctx context.Context) (*SweepResult, error) {
	return s.sweeper.Sweep(ctx)
}

func (s *PVService) Prune(ctx context.Context, start model.EntityID) (int, error) {
	return s.pruner.Prune(ctx, start)
}

// ListAlbums returns the children of parent, or of the root album when parent
// is nil.
func (s *PVService) ListAlbums(ctx context.Context, parent *model.EntityID) ([]*model.Album, error) {
	id := s.fed.RootAlbumID()
	if parent != nil {
		id = *parent
	}
	if _, err := s.albums.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.albums.FindChildren(ctx, id)
}

// CreateAlbum creates an album under parent, or under the root album when
// parent is nil.
func (s *PVService) CreateAlbum(ctx context.Context, name string, parent *model.EntityID) (*model.Album, error) {
	if name == "" {
		return nil, errors.New("album name must not be empty")
	}
	id := s.fed.RootAlbumID()
	if parent != nil {
		id = *parent
	}
	if _, err := s.albums.Get(ctx, id); err != nil {
		return nil, fmt.Errorf("loading parent album: %w", err)
	}
	return s.albums.Create(ctx, name, &id)
}

func (s *PVService) RenameAlbum(ctx context.Context, id model.EntityID, name string) error {
	if name == "" {
		return errors.New("album name must not be empty")
	}
	return s.albums.Update(ctx, model.AlbumUpdate{ID: id, Name: &name})
}

// MoveAlbum reparents id under parent. Moving the root album or moving an
// album beneath itself is rejected.
func (s *PVService) MoveAlbum(ctx context.Context, id, parent model.EntityID) error {
	if id == s.fed.RootAlbumID() {
		return errors.New("the root album cannot be moved")
	}

	album, err := s.albums.Get(ctx, id)
	if err != nil {
		return err
	}

	// Walk up from the new parent; meeting id means parent is a descendant.
	seen := make(map[model.EntityID]bool)
	for cur := &parent; cur != nil && !seen[*cur]; {
		if *cur == id {
			return fmt.Errorf("cannot move album %s beneath itself", id)
		}
		seen[*cur] = true
		a, err := s.albums.Get(ctx, *cur)
		if err != nil {
			return fmt.Errorf("loading ancestor %s: %w", *cur, err)
		}
		cur = a.ParentID
	}

	if err := s.albums.Update(ctx, model.AlbumUpdate{ID: id, ParentID: &parent}); err != nil {
		return err
	}
	if album.ParentID != nil {
		if _, err := s.pruner.Prune(ctx, *album.ParentID); err != nil {
			return fmt.Errorf("pruning old parent: %w", err)
		}
	}
	return nil
}

// DeleteAlbum removes an empty album and prunes its emptied ancestors.
// Returns the number of albums deleted.
func (s *PVService) DeleteAlbum(ctx context.Context, id model.EntityID) (int, error) {
	if id == s.fed.RootAlbumID() {
		return 0, errors.New("the root album cannot be deleted")
	}
	if _, err := s.albums.Get(ctx, id); err != nil {
		return 0, err
	}
	empty, err := s.pruner.isEmpty(ctx, id)
	if err != nil {
		return 0, err
	}
	if !empty {
		return 0, fmt.Errorf("album %s is not empty", id)
	}
	return s.pruner.Prune(ctx, id)
}

func (s *PVService) ListMedia(ctx context.Context, album model.EntityID) ([]*model.MediaItem, error) {
	if _, err := s.albums.Get(ctx, album); err != nil {
		return nil, err
	}
	return s.media.FindInAlbum(ctx, album)
}

// MoveMedia moves a media item into another album and prunes the album it
// left.
func (s *PVService) MoveMedia(ctx context.Context, id, album model.EntityID) error {
	item, err := s.media.Get(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.albums.Get(ctx, album); err != nil {
		return fmt.Errorf("loading target album: %w", err)
	}
	if err := s.media.Update(ctx, model.MediaItemUpdate{ID: id, AlbumID: &album}); err != nil {
		return err
	}
	_, err = s.pruner.Prune(ctx, item.AlbumID)
	return err
}

// DeleteMedia removes a media item's metadata and prunes its album. The blob
// stays in its account until the next sweep quarantines it.
func (s *PVService) DeleteMedia(ctx context.Context, id model.EntityID) (int, error) {
	item, err := s.media.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	if err := s.media.Delete(ctx, id); err != nil {
		return 0, err
	}
	return s.pruner.Prune(ctx, item.AlbumID)
}

// FetchMedia writes the content of a media item to w.
func (s *PVService) FetchMedia(ctx context.Context, id model.EntityID, w io.Writer) (*model.MediaItem, error) {
	item, err := s.media.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	account, err := s.fed.Account(item.ExternalAccountID)
	if err != nil {
		return nil, err
	}
	if err := account.Download(ctx, item.ExternalBlobID, w); err != nil {
		return nil, fmt.Errorf("downloading %s: %w", item.BlobRef(), err)
	}
	return item, nil
}
