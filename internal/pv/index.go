package pv

import (
	"context"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"

	"pv-go/internal/model"
)

// TreeIndex is a snapshot of the remote tree keyed by album path. The root
// album has path "".
type TreeIndex struct {
	albums map[string]*model.Album
	files  map[string]map[string]string
}

func NewTreeIndex() *TreeIndex {
	return &TreeIndex{
		albums: make(map[string]*model.Album),
		files:  make(map[string]map[string]string),
	}
}

// BuildTreeIndex walks the album tree breadth first from root. Albums that
// share a name under one parent collapse onto the first one found.
func BuildTreeIndex(ctx context.Context, albums *AlbumRepository, media *MediaItemRepository, root model.EntityID) (*TreeIndex, error) {
	var allAlbums []*model.Album
	var allItems []*model.MediaItem

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		allAlbums, err = albums.All(gctx)
		return err
	})
	g.Go(func() (err error) {
		allItems, err = media.All(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("enumerating remote tree: %w", err)
	}

	children := make(map[model.EntityID][]*model.Album)
	var rootAlbum *model.Album
	for _, a := range allAlbums {
		if a.ID == root {
			rootAlbum = a
		}
		if a.ParentID != nil {
			children[*a.ParentID] = append(children[*a.ParentID], a)
		}
	}
	if rootAlbum == nil {
		return nil, &NotFoundError{Kind: "album", ID: root}
	}

	items := make(map[model.EntityID][]*model.MediaItem)
	for _, m := range allItems {
		items[m.AlbumID] = append(items[m.AlbumID], m)
	}

	idx := NewTreeIndex()
	type entry struct {
		path  string
		album *model.Album
	}
	visited := map[model.EntityID]bool{root: true}
	idx.albums[""] = rootAlbum
	queue := []entry{{"", rootAlbum}}
	for len(queue) > 0 {
		e := queue[0]
		queue = queue[1:]

		for _, m := range items[e.album.ID] {
			idx.Add(e.path, m.FileName, m.ContentHash)
		}

		for _, c := range children[e.album.ID] {
			if visited[c.ID] {
				continue
			}
			visited[c.ID] = true
			p := joinAlbumPath(e.path, c.Name)
			if _, ok := idx.albums[p]; ok {
				continue
			}
			idx.albums[p] = c
			queue = append(queue, entry{p, c})
		}
	}

	return idx, nil
}

// Add records a file under an album path.
func (t *TreeIndex) Add(albumPath, fileName, hash string) {
	files, ok := t.files[albumPath]
	if !ok {
		files = make(map[string]string)
		t.files[albumPath] = files
	}
	files[fileName] = hash
}

// Album returns the album at path.
func (t *TreeIndex) Album(path string) (*model.Album, bool) {
	if t == nil {
		return nil, false
	}
	a, ok := t.albums[path]
	return a, ok
}

// Lookup returns the content hash of fileName under albumPath.
func (t *TreeIndex) Lookup(albumPath, fileName string) (string, bool) {
	if t == nil {
		return "", false
	}
	hash, ok := t.files[albumPath][fileName]
	return hash, ok
}

// Files returns the file names under albumPath, sorted.
func (t *TreeIndex) Files(albumPath string) []string {
	if t == nil {
		return nil
	}
	names := make([]string, 0, len(t.files[albumPath]))
	for name := range t.files[albumPath] {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Paths returns every album path that holds files, sorted.
func (t *TreeIndex) Paths() []string {
	if t == nil {
		return nil
	}
	paths := make([]string, 0, len(t.files))
	for p := range t.files {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	return paths
}

func joinAlbumPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}
