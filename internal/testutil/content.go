package testutil

import (
	"bytes"
	"fmt"
	"path"
	"sync"
	"time"

	"pv-go/internal/model"
	"pv-go/internal/pv"
)

// LocalRoot prefixes the FilePath of diffs built by MemoryContentSource.
const LocalRoot = "/local"

// MemoryContentSource holds local file content in memory keyed by path.
type MemoryContentSource struct {
	mu    sync.RWMutex
	files map[string][]byte
}

var _ pv.ContentSource = (*MemoryContentSource)(nil)

func NewMemoryContentSource() *MemoryContentSource {
	return &MemoryContentSource{files: make(map[string][]byte)}
}

// AddFile stores data and returns the "+" diff describing it.
func (m *MemoryContentSource) AddFile(albumPath, fileName string, data []byte) model.Diff {
	p := path.Join(LocalRoot, albumPath, fileName)

	m.mu.Lock()
	m.files[p] = data
	m.mu.Unlock()

	return model.Diff{
		Modifier:  model.ModifierAdd,
		FilePath:  p,
		AlbumPath: albumPath,
		FileName:  fileName,
		Size:      int64(len(data)),
		Hash:      SHA256Hex(data),
		DateTaken: time.Date(2023, 6, 1, 9, 0, 0, 0, time.UTC),
		MimeType:  "image/jpeg",
	}
}

func (m *MemoryContentSource) Open(p string) (pv.Content, error) {
	m.mu.RLock()
	data, ok := m.files[p]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("file not found: %s", p)
	}
	return memContent{bytes.NewReader(data)}, nil
}

type memContent struct {
	*bytes.Reader
}

func (memContent) Close() error { return nil }

// Removal returns the "-" diff for a file.
func Removal(albumPath, fileName string) model.Diff {
	return model.Diff{Modifier: model.ModifierRemove, AlbumPath: albumPath, FileName: fileName}
}
