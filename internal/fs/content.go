package fs

import (
	"fmt"
	"os"

	"pv-go/internal/pv"
)

// OSContentSource opens local files for upload.
type OSContentSource struct{}

var _ pv.ContentSource = OSContentSource{}

// Open refuses anything but a regular file, since the scan may be stale by
// the time content is read.
func (OSContentSource) Open(path string) (pv.Content, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return f, nil
}
