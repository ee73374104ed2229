package fs

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"
)

// IgnoreFileName is the per-root ignore file. It is itself never backed up.
const IgnoreFileName = ".pvignore"

// ignorePattern is one glob and the part of a path it is matched against.
type ignorePattern struct {
	glob     string
	anchored bool // contains '/': match the whole relative path, else the basename
}

// IgnoreMatcher decides which files under a scan root are skipped.
// A pattern without '/' matches any path segment, so "cache" skips every
// directory or file named cache. A pattern with '/' matches a relative path
// from the root, and also skips everything below that path.
type IgnoreMatcher struct {
	patterns []ignorePattern
}

// NewIgnoreMatcher parses raw patterns. Blank lines and '#' comments are
// dropped, as are patterns that are not valid globs.
func NewIgnoreMatcher(raw []string) *IgnoreMatcher {
	m := &IgnoreMatcher{}
	for _, p := range append([]string{IgnoreFileName}, raw...) {
		p = strings.TrimSpace(p)
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}
		p = strings.Trim(p, "/")
		if _, err := path.Match(p, ""); err != nil {
			continue
		}
		m.patterns = append(m.patterns, ignorePattern{glob: p, anchored: strings.Contains(p, "/")})
	}
	return m
}

// Match reports whether the slash-separated relative path, or any directory
// above it, is ignored.
func (m *IgnoreMatcher) Match(rel string) bool {
	if m == nil || rel == "" {
		return false
	}
	segments := strings.Split(rel, "/")
	for i := range segments {
		prefix := strings.Join(segments[:i+1], "/")
		if m.matchOne(prefix, segments[i]) {
			return true
		}
	}
	return false
}

func (m *IgnoreMatcher) matchOne(rel, base string) bool {
	for _, p := range m.patterns {
		subject := base
		if p.anchored {
			subject = rel
		}
		if ok, _ := path.Match(p.glob, subject); ok {
			return true
		}
	}
	return false
}

// ParseIgnoreFile reads patterns one per line. A missing file yields no
// patterns and no error.
func ParseIgnoreFile(name string) ([]string, error) {
	f, err := os.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var patterns []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		patterns = append(patterns, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return patterns, nil
}
