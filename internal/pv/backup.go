package pv

import (
	"context"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"

	"pv-go/internal/model"
)

// DefaultUploadConcurrency bounds the number of simultaneous uploads.
const DefaultUploadConcurrency = 4

// BackupResult reports what one backup changed.
type BackupResult struct {
	NumAlbumsCreated     int
	NumAlbumsDeleted     int
	NumMediaItemsAdded   int
	NumMediaItemsDeleted int
	NumUploadFailures    int
}

// BackupEngine applies a batch of diffs to the album tree, the blob accounts
// and the media item metadata.
type BackupEngine struct {
	fed               *Federation
	albums            *AlbumRepository
	media             *MediaItemRepository
	pruner            *Pruner
	content           ContentSource
	logger            Logger
	uploadConcurrency int
}

func NewBackupEngine(fed *Federation, albums *AlbumRepository, media *MediaItemRepository, pruner *Pruner,
	content ContentSource, logger Logger, uploadConcurrency int) *BackupEngine {
	if uploadConcurrency <= 0 {
		uploadConcurrency = DefaultUploadConcurrency
	}
	return &BackupEngine{
		fed:               fed,
		albums:            albums,
		media:             media,
		pruner:            pruner,
		content:           content,
		logger:            logger,
		uploadConcurrency: uploadConcurrency,
	}
}

// pendingAddition is a "+" diff together with the tree node it belongs to.
type pendingAddition struct {
	diff model.Diff
	node *diffTreeNode
}

// Backup applies diffs. Albums created along the way are not rolled back if a
// later step fails; the consistency sweep repairs whatever is left behind.
//
// A failed upload only drops that diff: the remaining diffs are applied and the
// result is returned together with an *UploadError describing each failure.
// When the "+" half of a changed file fails to upload, its "-" half in the same
// album is skipped so the previous version stays reachable until the next run.
// Any other error aborts the backup.
func (e *BackupEngine) Backup(ctx context.Context, diffs []model.Diff) (*BackupResult, error) {
	result := &BackupResult{}

	tree, err := buildDiffTree(diffs)
	if err != nil {
		return result, err
	}

	if err := e.attach(ctx, tree, result); err != nil {
		return result, err
	}

	var additions []pendingAddition
	var addDiffs []model.Diff
	for _, d := range diffs {
		if d.Modifier != model.ModifierAdd {
			continue
		}
		additions = append(additions, pendingAddition{diff: d, node: tree.lookup(d.AlbumPathSegments())})
		addDiffs = append(addDiffs, d)
	}

	assignments, err := PlaceDiffs(ctx, e.fed.Accounts(), addDiffs)
	if err != nil {
		return result, fmt.Errorf("placing new content: %w", err)
	}

	blobIDs, failures := e.upload(ctx, assignments)
	result.NumUploadFailures = len(failures)

	created := make(map[model.EntityID]bool)
	keep := make(map[*diffTreeNode]map[string]bool)
	for i, add := range additions {
		if blobIDs[i] == "" {
			if keep[add.node] == nil {
				keep[add.node] = make(map[string]bool)
			}
			keep[add.node][add.diff.FileName] = true
			continue
		}
		item, err := e.media.Create(ctx, newMediaItem(add.diff, assignments[i].AccountID, blobIDs[i], add.node.album.ID))
		if err != nil {
			return result, fmt.Errorf("recording %s: %w", add.diff.FilePath, err)
		}
		created[item.ID] = true
		result.NumMediaItemsAdded++
	}

	marked, touched, err := e.markRemovals(ctx, tree, created, keep)
	if err != nil {
		return result, err
	}

	if len(marked) > 0 {
		n, err := e.media.DeleteMany(ctx, marked)
		result.NumMediaItemsDeleted = n
		if err != nil {
			return result, fmt.Errorf("deleting removed media items: %w", err)
		}
	}

	// Deepest albums first so a collapsing branch is walked once.
	slices.Reverse(touched)
	for _, node := range touched {
		n, err := e.pruner.Prune(ctx, node.album.ID)
		result.NumAlbumsDeleted += n
		if err != nil {
			return result, fmt.Errorf("pruning %q: %w", node.path(), err)
		}
	}

	e.logger.Info("backup complete",
		"albums_created", result.NumAlbumsCreated,
		"albums_deleted", result.NumAlbumsDeleted,
		"media_added", result.NumMediaItemsAdded,
		"media_deleted", result.NumMediaItemsDeleted,
		"upload_failures", result.NumUploadFailures,
	)

	if len(failures) > 0 {
		return result, &UploadError{Failures: failures}
	}
	return result, nil
}

// attach unifies the tree with the real album tree, breadth first from the
// root album. Missing albums are created for branches that hold additions.
func (e *BackupEngine) attach(ctx context.Context, tree *diffTreeNode, result *BackupResult) error {
	root, err := e.albums.Get(ctx, e.fed.RootAlbumID())
	if err != nil {
		return fmt.Errorf("loading root album: %w", err)
	}
	tree.album = root

	for _, node := range tree.bfs() {
		if node.album == nil || len(node.children) == 0 {
			continue
		}

		existing, err := e.albums.FindChildren(ctx, node.album.ID)
		if err != nil {
			return fmt.Errorf("finding children of %q: %w", node.path(), err)
		}
		byName := make(map[string]*model.Album, len(existing))
		for _, a := range existing {
			if _, ok := byName[a.Name]; !ok {
				byName[a.Name] = a
			}
		}

		for _, c := range node.children {
			if a, ok := byName[c.name]; ok {
				c.album = a
				continue
			}
			if !c.hasAdditions() {
				continue
			}
			parent := node.album.ID
			a, err := e.albums.Create(ctx, c.name, &parent)
			if err != nil {
				return fmt.Errorf("creating album %q: %w", c.path(), err)
			}
			c.album = a
			result.NumAlbumsCreated++
		}
	}
	return nil
}

// upload sends every assignment to its account with bounded concurrency.
// blobIDs[i] is empty when assignment i failed.
func (e *BackupEngine) upload(ctx context.Context, assignments []model.PlacementAssignment) ([]string, []DiffFailure) {
	blobIDs := make([]string, len(assignments))
	errs := make([]error, len(assignments))

	var g errgroup.Group
	g.SetLimit(e.uploadConcurrency)
	for i, a := range assignments {
		g.Go(func() error {
			blobIDs[i], errs[i] = e.uploadOne(ctx, a)
			return nil
		})
	}
	_ = g.Wait()

	var failures []DiffFailure
	for i, err := range errs {
		if err != nil {
			blobIDs[i] = ""
			failures = append(failures, DiffFailure{Diff: assignments[i].Diff, Err: err})
			e.logger.Error("upload failed", "path", assignments[i].Diff.FilePath, "account", string(assignments[i].AccountID), "error", err)
		}
	}
	return blobIDs, failures
}

func (e *BackupEngine) uploadOne(ctx context.Context, a model.PlacementAssignment) (string, error) {
	account, err := e.fed.Account(a.AccountID)
	if err != nil {
		return "", err
	}

	content, err := e.content.Open(a.Diff.FilePath)
	if err != nil {
		return "", fmt.Errorf("opening content: %w", err)
	}
	defer content.Close()

	blobID, err := account.Upload(ctx, content, a.Diff.Size, a.Diff.FileName)
	if err != nil {
		return "", fmt.Errorf("uploading to account %q: %w", a.AccountID, err)
	}

	e.logger.Debug("content uploaded", "path", a.Diff.FilePath, "account", string(a.AccountID), "blob", blobID)
	return blobID, nil
}

// markRemovals walks the attached tree and collects the existing media items
// named by "-" diffs. Items created by this backup are never marked, nor are
// names in keep for their node. It also returns, in breadth-first order, the
// nodes that lost items.
func (e *BackupEngine) markRemovals(ctx context.Context, tree *diffTreeNode, created map[model.EntityID]bool,
	keep map[*diffTreeNode]map[string]bool) ([]model.EntityID, []*diffTreeNode, error) {
	var marked []model.EntityID
	var touched []*diffTreeNode

	for _, node := range tree.bfs() {
		if node.album == nil || len(node.removals) == 0 {
			continue
		}

		names := make(map[string]bool, len(node.removals))
		for _, d := range node.removals {
			if !keep[node][d.FileName] {
				names[d.FileName] = true
			}
		}
		if len(names) == 0 {
			continue
		}

		items, err := e.media.FindInAlbum(ctx, node.album.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("finding media items of %q: %w", node.path(), err)
		}

		lost := false
		for _, item := range items {
			if names[item.FileName] && !created[item.ID] {
				marked = append(marked, item.ID)
				lost = true
			}
		}
		if lost {
			touched = append(touched, node)
		}
	}

	return marked, touched, nil
}

func newMediaItem(d model.Diff, account model.AccountID, blobID string, album model.EntityID) model.NewMediaItem {
	return model.NewMediaItem{
		FileName:          d.FileName,
		ContentHash:       d.Hash,
		Location:          d.Location,
		ExternalAccountID: account,
		ExternalBlobID:    blobID,
		AlbumID:           album,
		Width:             d.Width,
		Height:            d.Height,
		DateTaken:         d.DateTaken,
		MimeType:          d.MimeType,
	}
}
