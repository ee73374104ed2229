package pv

import (
	"context"
	"io"
	"iter"

	"pv-go/internal/model"
)

// DiffSource produces the differences between local content and the remote
// tree. Each call to Diffs starts a fresh scan; a scan cannot be resumed.
type DiffSource interface {
	Diffs(ctx context.Context, remote *TreeIndex) iter.Seq2[model.Diff, error]
}

// Content is a readable, randomly addressable piece of local content.
type Content interface {
	io.ReaderAt
	io.Closer
}

// ContentSource opens the local content a diff refers to.
type ContentSource interface {
	Open(path string) (Content, error)
}
