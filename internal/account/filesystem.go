package account

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"pv-go/internal/model"
	"pv-go/internal/pv"
)

// tmpPrefix marks in-flight uploads; such files are never listed.
const tmpPrefix = ".tmp-"

// FileSystemAccount stores blobs as files in a directory structure:
//
//	<root>/
//	  blobs/
//	    <id>
//	  containers/
//	    <name>/
//	      <id>
type FileSystemAccount struct {
	id            model.AccountID
	root          string
	blobDir       string
	containersDir string
	limit         int64
	batchSize     int
	idgen         pv.IDGenerator
}

var _ pv.Account = (*FileSystemAccount)(nil)

// NewFileSystemAccount creates an account rooted at root, creating the
// directory structure if needed. idgen may be nil to use random UUIDs.
func NewFileSystemAccount(id model.AccountID, root string, limit int64, batchSize int, idgen pv.IDGenerator) (*FileSystemAccount, error) {
	if idgen == nil {
		idgen = pv.UUIDGenerator{}
	}
	a := &FileSystemAccount{
		id:            id,
		root:          root,
		blobDir:       filepath.Join(root, blobsDir),
		containersDir: filepath.Join(root, containersDir),
		limit:         limit,
		batchSize:     max(batchSize, 1),
		idgen:         idgen,
	}

	for _, dir := range []string{a.blobDir, a.containersDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create account directory: %w", err)
		}
	}
	return a, nil
}

func (a *FileSystemAccount) ID() model.AccountID { return a.id }

func (a *FileSystemAccount) MaxBatchSize() int { return a.batchSize }

// UsageAndLimit sums the size of every file under the root, containers
// included.
func (a *FileSystemAccount) UsageAndLimit(ctx context.Context) (int64, int64, error) {
	var usage int64
	err := filepath.WalkDir(a.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			usage += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("measuring account usage: %w", err)
	}
	return usage, a.limit, nil
}

// Upload writes the content to a temp file and renames it into place.
func (a *FileSystemAccount) Upload(ctx context.Context, content io.ReaderAt, size int64, fileName string) (string, error) {
	id := a.idgen.New()
	if err := validateBlobID(id); err != nil {
		return "", err
	}
	if err := a.writeFile(filepath.Join(a.blobDir, id), io.NewSectionReader(content, 0, size), size); err != nil {
		return "", err
	}
	return id, nil
}

func (a *FileSystemAccount) Download(ctx context.Context, blobID string, w io.Writer) error {
	if err := validateBlobID(blobID); err != nil {
		return err
	}
	f, err := os.Open(filepath.Join(a.blobDir, blobID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("blob not found: %s", blobID)
		}
		return fmt.Errorf("failed to open blob: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read blob: %w", err)
	}
	return nil
}

// ListBlobIDs returns the top-level blobs, sorted.
func (a *FileSystemAccount) ListBlobIDs(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(a.blobDir)
	if err != nil {
		return nil, fmt.Errorf("listing blobs: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), tmpPrefix) {
			continue
		}
		ids = append(ids, e.Name())
	}
	slices.Sort(ids)
	return ids, nil
}

func (a *FileSystemAccount) GetOrCreateContainer(ctx context.Context, name string) (string, error) {
	if err := validateContainerName(name); err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Join(a.containersDir, name), 0755); err != nil {
		return "", fmt.Errorf("creating container %q: %w", name, err)
	}
	return name, nil
}

// MoveToContainer renames each blob into the container directory. Blobs moved
// before a failure stay moved.
func (a *FileSystemAccount) MoveToContainer(ctx context.Context, blobIDs []string, containerID string) error {
	if len(blobIDs) > a.batchSize {
		return fmt.Errorf("batch of %d exceeds limit of %d", len(blobIDs), a.batchSize)
	}
	if err := validateContainerName(containerID); err != nil {
		return err
	}
	dest := filepath.Join(a.containersDir, containerID)
	if info, err := os.Stat(dest); err != nil || !info.IsDir() {
		return fmt.Errorf("container not found: %s", containerID)
	}

	for _, id := range blobIDs {
		if err := validateBlobID(id); err != nil {
			return err
		}
		if err := os.Rename(filepath.Join(a.blobDir, id), filepath.Join(dest, id)); err != nil {
			return fmt.Errorf("moving blob %s: %w", id, err)
		}
	}
	return nil
}

// ValidateSetup verifies that the account directories are accessible.
func (a *FileSystemAccount) ValidateSetup(ctx context.Context) error {
	for _, dir := range []string{a.root, a.blobDir, a.containersDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("account directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("account path is not a directory: %s", dir)
		}
	}
	return nil
}

// writeFile copies r to destPath through a temp file in the same directory.
func (a *FileSystemAccount) writeFile(destPath string, r io.Reader, expectedSize int64) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), tmpPrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	success = true
	return nil
}
