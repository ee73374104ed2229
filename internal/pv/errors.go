package pv

import (
	"fmt"
	"strings"

	"pv-go/internal/model"
)

// NotFoundError reports an id that its shard does not hold.
type NotFoundError struct {
	Kind string // "album" or "media item"
	ID   model.EntityID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// CrossShardMismatchError reports an id whose shard is not registered.
type CrossShardMismatchError struct {
	ID model.EntityID
}

func (e *CrossShardMismatchError) Error() string {
	return fmt.Sprintf("shard %q of id %s is not registered", e.ID.Shard, e.ID)
}

// PartialWriteError reports a batch operation whose affected count on one
// shard differs from the requested count. Partitions already applied on
// other shards are not rolled back.
type PartialWriteError struct {
	Op        string
	Shard     model.ShardID
	Requested int
	Affected  int
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("%s on shard %q affected %d of %d records", e.Op, e.Shard, e.Affected, e.Requested)
}

// CapacityExhaustedError reports that placement could not fit a diff on any
// account. No assignment from the batch is returned.
type CapacityExhaustedError struct {
	FilePath string
	Size     int64
	Accounts int
}

func (e *CapacityExhaustedError) Error() string {
	return fmt.Sprintf("no account among %d can fit %s (%d bytes)", e.Accounts, e.FilePath, e.Size)
}

// TransientBackendError is a retryable backend failure that exhausted the
// retries of the adapter layer.
type TransientBackendError struct {
	Backend string
	Op      string
	Err     error
}

func (e *TransientBackendError) Error() string {
	return fmt.Sprintf("transient failure on %s during %s: %v", e.Backend, e.Op, e.Err)
}

func (e *TransientBackendError) Unwrap() error { return e.Err }

// ConsistencyViolation reports a structural problem the sweep cannot repair.
type ConsistencyViolation struct {
	Reason  string
	AlbumID model.EntityID
}

func (e *ConsistencyViolation) Error() string {
	return fmt.Sprintf("consistency violation at album %s: %s", e.AlbumID, e.Reason)
}

// DiffFailure is one diff whose upload failed.
type DiffFailure struct {
	Diff model.Diff
	Err  error
}

// UploadError lists the diffs whose uploads failed during a backup. The rest
// of the batch was applied.
type UploadError struct {
	Failures []DiffFailure
}

func (e *UploadError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = fmt.Sprintf("%s: %v", f.Diff.FilePath, f.Err)
	}
	return fmt.Sprintf("%d upload(s) failed: %s", len(e.Failures), strings.Join(parts, "; "))
}

func (e *UploadError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}
