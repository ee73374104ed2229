package account

import (
	"fmt"
	"strings"
)

// Blob layout shared by the filesystem and S3 accounts:
//
//	blobs/<id>                   top-level blobs
//	containers/<name>/<id>       blobs moved into a container
const (
	blobsDir      = "blobs"
	containersDir = "containers"
)

// validateContainerName rejects names that cannot be used as a single path
// segment or object key segment.
func validateContainerName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid container name %q", name)
	}
	return nil
}

// validateBlobID rejects IDs that would escape their directory.
func validateBlobID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("invalid blob id %q", id)
	}
	return nil
}
