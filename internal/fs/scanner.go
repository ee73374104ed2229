package fs

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path"
	"path/filepath"

	"github.com/minio/sha256-simd"

	"pv-go/internal/model"
	"pv-go/internal/pv"
)

// errStopWalk ends a walk early when the consumer stops iterating.
var errStopWalk = errors.New("stop walk")

// Scanner compares a local directory tree with the remote album tree.
// Each directory below the root maps to an album path; the root itself is
// the root album.
type Scanner struct {
	root   string
	ignore *IgnoreMatcher
	logger pv.Logger
}

var _ pv.DiffSource = (*Scanner)(nil)

// NewScanner resolves root and loads its ignore file on top of patterns.
func NewScanner(root string, patterns []string, logger pv.Logger) (*Scanner, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving absolute path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", abs)
	}

	filePatterns, err := ParseIgnoreFile(filepath.Join(abs, IgnoreFileName))
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = pv.NewNopLogger()
	}
	return &Scanner{
		root:   abs,
		ignore: NewIgnoreMatcher(append(append([]string(nil), patterns...), filePatterns...)),
		logger: logger,
	}, nil
}

// Root returns the absolute scan root.
func (s *Scanner) Root() string { return s.root }

// Diffs walks the root in lexical order. A new file yields "+", a file whose
// hash differs from the remote one yields "-" then "+", and once the walk
// finishes every remote file with no local counterpart yields "-". Ignored
// paths produce no diffs in either direction.
func (s *Scanner) Diffs(ctx context.Context, remote *pv.TreeIndex) iter.Seq2[model.Diff, error] {
	return func(yield func(model.Diff, error) bool) {
		seen := make(map[string]map[string]bool)

		err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}

			rel, err := filepath.Rel(s.root, p)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)
			if rel == "." {
				return nil
			}
			if s.ignore.Match(rel) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() || !d.Type().IsRegular() {
				return nil
			}

			albumPath, name := path.Split(rel)
			albumPath = path.Clean("/" + albumPath)[1:]
			if seen[albumPath] == nil {
				seen[albumPath] = make(map[string]bool)
			}
			seen[albumPath][name] = true

			diff, err := s.describe(p, d, albumPath, name)
			if err != nil {
				return err
			}

			remoteHash, exists := remote.Lookup(albumPath, name)
			switch {
			case !exists:
				s.logger.Debug("new file", "path", rel)
			case remoteHash != diff.Hash:
				s.logger.Debug("changed file", "path", rel)
				if !yield(removal(albumPath, name), nil) {
					return errStopWalk
				}
			default:
				return nil
			}
			if !yield(diff, nil) {
				return errStopWalk
			}
			return nil
		})
		if errors.Is(err, errStopWalk) {
			return
		}
		if err != nil {
			yield(model.Diff{}, fmt.Errorf("scanning %s: %w", s.root, err))
			return
		}

		for _, albumPath := range remote.Paths() {
			for _, name := range remote.Files(albumPath) {
				if seen[albumPath][name] || s.ignore.Match(path.Join(albumPath, name)) {
					continue
				}
				s.logger.Debug("missing file", "path", path.Join(albumPath, name))
				if !yield(removal(albumPath, name), nil) {
					return
				}
			}
		}
	}
}

// describe hashes the file and extracts its metadata in one open.
func (s *Scanner) describe(p string, d fs.DirEntry, albumPath, name string) (model.Diff, error) {
	info, err := d.Info()
	if err != nil {
		return model.Diff{}, fmt.Errorf("stat %s: %w", p, err)
	}

	f, err := os.Open(p)
	if err != nil {
		return model.Diff{}, fmt.Errorf("opening %s: %w", p, err)
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return model.Diff{}, fmt.Errorf("hashing %s: %w", p, err)
	}

	md, err := ExtractMetadata(name, info.ModTime(), f)
	if err != nil {
		return model.Diff{}, err
	}

	return model.Diff{
		Modifier:  model.ModifierAdd,
		FilePath:  p,
		AlbumPath: albumPath,
		FileName:  name,
		Size:      size,
		Hash:      hex.EncodeToString(h.Sum(nil)),
		Width:     md.Width,
		Height:    md.Height,
		DateTaken: md.DateTaken,
		MimeType:  md.MimeType,
	}, nil
}

func removal(albumPath, name string) model.Diff {
	return model.Diff{Modifier: model.ModifierRemove, AlbumPath: albumPath, FileName: name}
}
